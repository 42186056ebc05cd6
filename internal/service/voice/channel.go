package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/observability"
)

// ChannelOptions 双工连接参数
type ChannelOptions struct {
	HandshakeTimeout time.Duration // 握手超时
	WriteTimeout     time.Duration // 单次写超时
	MaxDialAttempts  int           // 最大拨号次数
	DialBackoff      time.Duration // 线性退避基数
	Dialer           *websocket.Dialer
}

// DefaultChannelOptions 默认连接参数
func DefaultChannelOptions() ChannelOptions {
	return ChannelOptions{
		HandshakeTimeout: 15 * time.Second,
		WriteTimeout:     5 * time.Second,
		MaxDialAttempts:  3,
		DialBackoff:      time.Second,
	}
}

// ChannelHooks 连接事件回调
type ChannelHooks struct {
	// OnFrame 在读循环 goroutine 上按到达顺序调用
	OnFrame func(data []byte)
	// OnClose 连接关闭后调用一次，err 为 nil 表示正常关闭
	OnClose func(err error)
	// OnError 传输错误
	OnError func(err error)
}

const closeWait = 2 * time.Second

// Channel 与远端智能体之间的 WebSocket 双工连接，不自动重连。
type Channel struct {
	opts    ChannelOptions
	hooks   ChannelHooks
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	state  model.ChannelState
	conn   *websocket.Conn
	timers map[*time.Timer]struct{}
	done   chan struct{}

	writeMu sync.Mutex
}

// NewChannel 创建处于 closed 状态的连接
func NewChannel(opts ChannelOptions, hooks ChannelHooks, logger zerolog.Logger, metrics *observability.Metrics) *Channel {
	if opts.MaxDialAttempts < 1 {
		opts.MaxDialAttempts = 1
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Channel{
		opts:    opts,
		hooks:   hooks,
		logger:  logger,
		metrics: metrics,
		state:   model.ChannelClosed,
		timers:  make(map[*time.Timer]struct{}),
	}
}

// State 当前连接状态
func (c *Channel) State() model.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open 建立连接，成功后立即发送 conversation_initiation_client_data。
// 多次拨号均失败时进入 errored 并返回 ErrConnection。
func (c *Channel) Open(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.state != model.ChannelClosed {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: channel is %s", ErrConnection, state)
	}
	c.state = model.ChannelOpening
	c.mu.Unlock()

	conn, err := c.dialWithRetry(ctx, url)
	if err != nil {
		c.mu.Lock()
		if c.state == model.ChannelOpening {
			c.state = model.ChannelErrored
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.state != model.ChannelOpening {
		c.mu.Unlock()
		conn.Close()
		return ErrChannelNotOpen
	}
	c.state = model.ChannelOpen
	c.conn = conn
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.logger.Info().Msg("channel open")

	if err := c.Send(newInitiationMessage()); err != nil {
		c.logger.Error().Err(err).Msg("send initiation failed")
		c.mu.Lock()
		c.state = model.ChannelErrored
		c.conn = nil
		close(c.done)
		c.mu.Unlock()
		conn.Close()
		return err
	}

	go c.readLoop(conn)
	return nil
}

// dialWithRetry 线性退避重试拨号
func (c *Channel) dialWithRetry(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := c.opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	}

	var lastErr error
	for i := 0; i < c.opts.MaxDialAttempts; i++ {
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		c.logger.Warn().Err(err).Int("attempt", i+1).Msg("dial failed")

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnection, ctx.Err())
		}
		if i == c.opts.MaxDialAttempts-1 {
			break
		}

		retryDelay := time.Duration(i+1) * c.opts.DialBackoff
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrConnection, ctx.Err())
		case <-time.After(retryDelay):
		}
	}

	return nil, fmt.Errorf("%w: failed to connect after %d attempts: %v", ErrConnection, c.opts.MaxDialAttempts, lastErr)
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.readLoopDone(conn, err)
			return
		}
		c.deliver(data)
	}
}

// deliver 调用帧处理函数，处理函数的 panic 不会终止读循环
func (c *Channel) deliver(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("frame handler panicked")
		}
	}()
	if c.hooks.OnFrame != nil {
		c.hooks.OnFrame(data)
	}
}

// readLoopDone 收尾：决定终态、停止定时器并触发关闭回调
func (c *Channel) readLoopDone(conn *websocket.Conn, readErr error) {
	c.mu.Lock()
	local := c.state == model.ChannelClosing
	var closeErr error
	switch {
	case local:
		c.state = model.ChannelClosed
	case websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.state = model.ChannelClosed
	default:
		c.state = model.ChannelErrored
		closeErr = fmt.Errorf("%w: %v", ErrConnection, readErr)
	}
	c.stopTimersLocked()
	c.conn = nil
	done := c.done
	c.mu.Unlock()

	conn.Close()

	if local {
		c.logger.Info().Msg("channel closed")
	} else if closeErr != nil {
		c.logger.Warn().Err(readErr).Msg("channel transport error")
		if c.hooks.OnError != nil {
			c.hooks.OnError(closeErr)
		}
	} else {
		c.logger.Info().Msg("channel closed by remote")
	}

	if c.hooks.OnClose != nil {
		c.hooks.OnClose(closeErr)
	}
	if done != nil {
		close(done)
	}
}

// Close 主动关闭连接并等待读循环退出。非 open 状态下为空操作。
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == model.ChannelOpening {
		// 拨号中被关闭，Open 完成握手后会自行断开
		c.state = model.ChannelClosed
		c.mu.Unlock()
		return nil
	}
	if c.state != model.ChannelOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = model.ChannelClosing
	c.stopTimersLocked()
	conn := c.conn
	done := c.done
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	conn.Close()

	select {
	case <-done:
	case <-time.After(closeWait):
		c.logger.Warn().Msg("timed out waiting for read loop")
	}

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("%w: close: %v", ErrConnection, err)
	}
	return nil
}

// Done 读循环退出后关闭；连接从未打开时返回 nil
func (c *Channel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Send 序列化写入一条 JSON 消息，连接未打开时返回 ErrChannelNotOpen。
func (c *Channel) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.state != model.ChannelOpen || c.conn == nil {
		c.mu.Unlock()
		return ErrChannelNotOpen
	}
	conn := c.conn
	c.mu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return fmt.Errorf("%w: set write deadline: %v", ErrConnection, err)
	}
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("%w: write: %v", ErrConnection, err)
	}
	return nil
}

// SendAudioChunk 发送一块 base64 编码的麦克风音频
func (c *Channel) SendAudioChunk(encoded string) error {
	return c.Send(userAudioChunkMessage{UserAudioChunk: encoded})
}

// SendUserMessage 以文本形式发送一条用户消息
func (c *Channel) SendUserMessage(text string) error {
	return c.Send(textMessage{Type: TypeUserMessage, Text: text})
}

// SendContextualUpdate 发送不触发回复的上下文信息
func (c *Channel) SendContextualUpdate(text string) error {
	return c.Send(textMessage{Type: TypeContextualUpdate, Text: text})
}

// SchedulePong 延迟 delay 后回复 pong。触发时连接已不再 open 则丢弃。
func (c *Channel) SchedulePong(eventID int, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != model.ChannelOpen {
		c.metrics.Pong("dropped")
		return
	}

	// 持锁创建，回调先取锁，因此回调总能看到已登记的 timer
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.timers, timer)
		open := c.state == model.ChannelOpen
		c.mu.Unlock()

		if !open {
			c.metrics.Pong("dropped")
			return
		}
		if err := c.Send(newPongMessage(eventID)); err != nil {
			c.metrics.Pong("dropped")
			c.logger.Debug().Err(err).Int("event_id", eventID).Msg("pong not sent")
			return
		}
		c.metrics.Pong("sent")
	})
	c.timers[timer] = struct{}{}
}

func (c *Channel) stopTimersLocked() {
	for t := range c.timers {
		if t.Stop() {
			c.metrics.Pong("dropped")
		}
		delete(c.timers, t)
	}
}
