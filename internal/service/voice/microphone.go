package voice

import (
	"context"
	"fmt"
	"sync"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
)

// CaptureOptions 采集参数
type CaptureOptions struct {
	SampleRate  int
	Channels    int
	BlockMillis int
	// 以下为设备提示，设备不支持时忽略
	EchoCancellation bool
	NoiseSuppression bool
}

// DefaultCaptureOptions 16kHz 单声道 16bit，每块 100ms
func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{SampleRate: DefaultSampleRate, Channels: 1, BlockMillis: 100}
}

// CaptureStream 一次打开的采集流。Frames 在 Close 之后关闭。
type CaptureStream interface {
	Frames() <-chan []byte
	Close() error
}

// Microphone 采集设备
type Microphone interface {
	Open(ctx context.Context, opts CaptureOptions) (CaptureStream, error)
}

// Speaker 播放设备。Play 阻塞到播放结束，ctx 取消时应尽快返回。
type Speaker interface {
	Play(ctx context.Context, item model.PlaybackItem) error
}

// MicrophoneLease 麦克风独占租约，同一时刻只有一个持有者
type MicrophoneLease struct {
	mu    sync.Mutex
	owner string
}

// NewMicrophoneLease 创建租约
func NewMicrophoneLease() *MicrophoneLease {
	return &MicrophoneLease{}
}

// Acquire 获取租约，已被占用时返回 ErrMicrophoneBusy。
// 返回的 release 可重复调用。
func (l *MicrophoneLease) Acquire(owner string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner != "" {
		return nil, fmt.Errorf("%w: held by %s", ErrMicrophoneBusy, l.owner)
	}
	l.owner = owner

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.owner == owner {
				l.owner = ""
			}
			l.mu.Unlock()
		})
	}, nil
}

// Owner 当前持有者，空字符串表示空闲
func (l *MicrophoneLease) Owner() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

// openCapture 在持有租约的前提下打开采集流，失败时释放租约。
func openCapture(ctx context.Context, lease *MicrophoneLease, mic Microphone, owner string, opts CaptureOptions) (CaptureStream, func(), error) {
	if mic == nil {
		return nil, nil, fmt.Errorf("%w: no microphone configured", ErrAudioCapture)
	}

	release := func() {}
	if lease != nil {
		r, err := lease.Acquire(owner)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrAudioCapture, err)
		}
		release = r
	}

	stream, err := mic.Open(ctx, opts)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("%w: %v", ErrAudioCapture, err)
	}
	return stream, release, nil
}
