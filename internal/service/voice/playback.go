package voice

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/observability"
)

// PlaybackQueue 单消费者 FIFO 播放队列，同一时刻最多一个片段在播放。
// 只有队首片段会被解码并播放，因此实际播放顺序与入队顺序一致。
type PlaybackQueue struct {
	speaker Speaker
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	items   []model.AudioSegment
	format  AudioFormat
	playing bool
	cancel  context.CancelFunc
	closed  bool
	idle    chan struct{}

	// onStart 每个片段开始播放前调用
	onStart func(model.AudioSegment)
	// onDrained 队列播放完毕且没有待播放片段时调用
	onDrained func()
}

// NewPlaybackQueue 创建播放队列
func NewPlaybackQueue(speaker Speaker, logger zerolog.Logger, metrics *observability.Metrics) *PlaybackQueue {
	q := &PlaybackQueue{
		speaker: speaker,
		logger:  logger,
		metrics: metrics,
		format:  DefaultOutputFormat,
		idle:    make(chan struct{}),
	}
	close(q.idle)
	return q
}

// SetFormat 设置入站音频格式，对之后开始解码的片段生效
func (q *PlaybackQueue) SetFormat(format AudioFormat) {
	q.mu.Lock()
	q.format = format
	q.mu.Unlock()
}

// Enqueue 追加片段并触发消费
func (q *PlaybackQueue) Enqueue(seg model.AudioSegment) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, seg)
	q.mu.Unlock()

	q.drain()
}

// drain 可重入：队列非空且当前未播放时取出队首开始播放。
func (q *PlaybackQueue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.playing || len(q.items) == 0 || q.closed {
		return
	}

	seg := q.items[0]
	q.items[0] = model.AudioSegment{}
	q.items = q.items[1:]

	ctx, cancel := context.WithCancel(context.Background())
	q.playing = true
	q.cancel = cancel
	q.idle = make(chan struct{})
	format := q.format
	idle := q.idle
	onStart := q.onStart

	go q.play(ctx, seg, format, idle, onStart)
}

func (q *PlaybackQueue) play(ctx context.Context, seg model.AudioSegment, format AudioFormat, idle chan struct{}, onStart func(model.AudioSegment)) {
	result := q.render(ctx, seg, format, onStart)
	q.metrics.Playback(result)

	q.mu.Lock()
	q.playing = false
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	close(idle)
	drained := len(q.items) == 0
	onDrained := q.onDrained
	q.mu.Unlock()

	if drained {
		if onDrained != nil {
			onDrained()
		}
		return
	}
	q.drain()
}

func (q *PlaybackQueue) render(ctx context.Context, seg model.AudioSegment, format AudioFormat, onStart func(model.AudioSegment)) string {
	if ctx.Err() != nil {
		return "cancelled"
	}

	item, err := DecodeSegment(seg, format)
	if err != nil {
		q.logger.Warn().Err(err).Msg("skip undecodable audio segment")
		return "error"
	}

	if onStart != nil {
		onStart(seg)
	}
	if q.speaker == nil {
		return "ok"
	}

	if err := q.speaker.Play(ctx, item); err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return "cancelled"
		}
		q.logger.Warn().Err(err).Int("duration_ms", item.DurationMs()).Msg("playback failed")
		return "error"
	}
	return "ok"
}

// Clear 丢弃所有未播放片段，并取消正在播放的片段。
func (q *PlaybackQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := len(q.items)
	q.items = nil
	if q.cancel != nil {
		q.cancel()
	}
	return dropped
}

// Close 清空队列并拒绝之后的入队
func (q *PlaybackQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.Clear()
}

// Len 未播放片段数
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Playing 是否有片段正在播放
func (q *PlaybackQueue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Idle 返回在当前播放结束时关闭的通道，未在播放时立即可读
func (q *PlaybackQueue) Idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}
