package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-tavern/voiceagent/internal/observability"
)

// chunkSender 发送 user_audio_chunk 的一端，由 Channel 实现
type chunkSender interface {
	SendAudioChunk(encoded string) error
}

// AudioEncoder 将麦克风采集的音频块编码后发往通道。
// 通道未打开时直接丢弃，不做缓冲。
type AudioEncoder struct {
	sender  chunkSender
	mic     Microphone
	lease   *MicrophoneLease
	owner   string
	opts    CaptureOptions
	onLevel func(float64)
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	stream  CaptureStream
	release func()
	done    chan struct{}
}

// NewAudioEncoder 创建编码器，owner 用于标识麦克风租约持有者
func NewAudioEncoder(sender chunkSender, mic Microphone, lease *MicrophoneLease, owner string, opts CaptureOptions, logger zerolog.Logger, metrics *observability.Metrics) *AudioEncoder {
	return &AudioEncoder{
		sender:  sender,
		mic:     mic,
		lease:   lease,
		owner:   owner,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// OnLevel 设置音量回调，需在 Start 之前调用
func (e *AudioEncoder) OnLevel(fn func(float64)) {
	e.onLevel = fn
}

// Start 获取麦克风并开始推流，重复调用为空操作
func (e *AudioEncoder) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stream != nil {
		return nil
	}

	stream, release, err := openCapture(ctx, e.lease, e.mic, e.owner, e.opts)
	if err != nil {
		return err
	}

	e.stream = stream
	e.release = release
	e.done = make(chan struct{})
	go e.pump(stream, e.done)
	return nil
}

func (e *AudioEncoder) pump(stream CaptureStream, done chan struct{}) {
	defer close(done)

	for block := range stream.Frames() {
		if len(block) == 0 {
			continue
		}
		if e.onLevel != nil {
			e.onLevel(RMSLevel(block))
		}

		err := e.sender.SendAudioChunk(base64.StdEncoding.EncodeToString(block))
		switch {
		case err == nil:
			e.metrics.AudioChunk("outbound", "sent")
		case errors.Is(err, ErrChannelNotOpen):
			e.metrics.AudioChunk("outbound", "dropped")
		default:
			e.metrics.AudioChunk("outbound", "error")
			e.logger.Debug().Err(err).Msg("audio chunk not sent")
		}
	}
}

// Stop 关闭采集流并释放麦克风，可重复调用
func (e *AudioEncoder) Stop() {
	e.mu.Lock()
	stream, release, done := e.stream, e.release, e.done
	e.stream, e.release, e.done = nil, nil, nil
	e.mu.Unlock()

	if stream == nil {
		return
	}

	if err := stream.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("close capture stream")
	}
	<-done
	release()
}

// Active 是否正在采集
func (e *AudioEncoder) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream != nil
}
