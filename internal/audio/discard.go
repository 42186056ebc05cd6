package audio

import (
	"context"
	"time"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
)

// DiscardSpeaker 不输出声音，只按片段时长阻塞。无声卡的服务器上用它保持播放节奏。
type DiscardSpeaker struct{}

// Play 等待片段时长或 ctx 取消
func (DiscardSpeaker) Play(ctx context.Context, item model.PlaybackItem) error {
	d := time.Duration(item.DurationMs()) * time.Millisecond
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
