//go:build cgo

package audio

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
)

// oto 每个进程只允许一个 Context，输出格式在创建时固定
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

// OtoSpeaker 通过系统声卡播放 PCM16
type OtoSpeaker struct {
	sampleRate int
	channels   int
	logger     zerolog.Logger
}

// NewOtoSpeaker 初始化输出设备并等待就绪
func NewOtoSpeaker(sampleRate, channels int, logger zerolog.Logger) (*OtoSpeaker, error) {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	if channels <= 0 {
		channels = 1
	}

	otoOnce.Do(func() {
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
			// 约 100ms 缓冲
			BufferSize: 100 * time.Millisecond,
		})
		if otoErr == nil {
			<-ready
		}
	})
	if otoErr != nil {
		return nil, fmt.Errorf("init speaker: %w", otoErr)
	}

	return &OtoSpeaker{
		sampleRate: sampleRate,
		channels:   channels,
		logger:     logger.With().Str("component", "speaker").Logger(),
	}, nil
}

// Play 阻塞直到片段播完；ctx 取消时立即停止并丢弃设备缓冲
func (s *OtoSpeaker) Play(ctx context.Context, item model.PlaybackItem) error {
	pcm := Convert(item, s.sampleRate, s.channels)
	if len(pcm) == 0 {
		return nil
	}

	player := otoCtx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
			if err := player.Err(); err != nil {
				return fmt.Errorf("speaker: %w", err)
			}
			if !player.IsPlaying() {
				return nil
			}
		}
	}
}
