//go:build cgo

package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-tavern/voiceagent/internal/service/voice"
)

const frameBuffer = 32

// MalgoMicrophone 基于 miniaudio 的麦克风采集。ctx 只约束设备初始化，流的生命周期由 Close 控制。
type MalgoMicrophone struct {
	logger zerolog.Logger

	mu      sync.Mutex
	context *malgo.AllocatedContext
}

// NewMalgoMicrophone 创建麦克风，音频上下文在首次 Open 时初始化
func NewMalgoMicrophone(logger zerolog.Logger) *MalgoMicrophone {
	return &MalgoMicrophone{logger: logger.With().Str("component", "microphone").Logger()}
}

func (m *MalgoMicrophone) ensureContext() (*malgo.AllocatedContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.context != nil {
		return m.context, nil
	}

	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime
	ctx, err := malgo.InitContext(nil, cfg, func(message string) {
		m.logger.Debug().Str("backend", message).Msg("miniaudio")
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	m.context = ctx
	return ctx, nil
}

// Open 打开采集设备，按 BlockMillis 切块输出 PCM16
func (m *MalgoMicrophone) Open(ctx context.Context, opts voice.CaptureOptions) (voice.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = voice.DefaultSampleRate
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	if opts.BlockMillis <= 0 {
		opts.BlockMillis = 100
	}

	audioCtx, err := m.ensureContext()
	if err != nil {
		return nil, err
	}

	stream := &captureStream{
		frames:    make(chan []byte, frameBuffer),
		blockSize: opts.SampleRate * opts.Channels * 2 * opts.BlockMillis / 1000,
		logger:    m.logger,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(opts.Channels)
	deviceConfig.SampleRate = uint32(opts.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	device, err := malgo.InitDevice(audioCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			stream.write(input)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start capture device: %w", err)
	}
	stream.device = device

	// miniaudio 不提供回声消除与降噪，这两项提示在本地采集时忽略
	m.logger.Debug().
		Int("sample_rate", opts.SampleRate).
		Int("block_ms", opts.BlockMillis).
		Bool("echo_cancellation", opts.EchoCancellation).
		Bool("noise_suppression", opts.NoiseSuppression).
		Msg("capture started")
	return stream, nil
}

// Close 释放音频上下文
func (m *MalgoMicrophone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.context == nil {
		return nil
	}
	err := m.context.Uninit()
	m.context.Free()
	m.context = nil
	return err
}

type captureStream struct {
	device    *malgo.Device
	frames    chan []byte
	blockSize int
	logger    zerolog.Logger

	mu      sync.Mutex
	pending []byte
	closed  bool
	dropped int
}

// write 在音频线程调用，凑满一块后非阻塞投递
func (s *captureStream) write(input []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.pending = append(s.pending, input...)
	for len(s.pending) >= s.blockSize {
		block := make([]byte, s.blockSize)
		copy(block, s.pending[:s.blockSize])
		s.pending = s.pending[s.blockSize:]

		select {
		case s.frames <- block:
		default:
			s.dropped++
		}
	}
}

func (s *captureStream) Frames() <-chan []byte {
	return s.frames
}

func (s *captureStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dropped := s.dropped
	s.mu.Unlock()

	if s.device != nil {
		if err := s.device.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("stop capture device")
		}
		s.device.Uninit()
	}
	close(s.frames)

	if dropped > 0 {
		s.logger.Warn().Int("dropped_blocks", dropped).Msg("capture consumer too slow")
	}
	return nil
}
