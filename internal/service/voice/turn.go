package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/observability"
)

// TurnOptions 回合制模式参数
type TurnOptions struct {
	AgentID      string
	AgentName    string
	MaxRecording time.Duration // 单次录音上限
	MinWAVBytes  int           // 低于该长度的录音不发送
	// RelistenDelay 回复播放结束到重新录音的间隔，避免录到自己的尾音
	RelistenDelay time.Duration
	ErrorBackoff  time.Duration
	Capture       CaptureOptions
}

// DefaultTurnOptions 默认参数
func DefaultTurnOptions() TurnOptions {
	capture := DefaultCaptureOptions()
	capture.EchoCancellation = true
	capture.NoiseSuppression = true
	return TurnOptions{
		MaxRecording:  10 * time.Second,
		MinWAVBytes:   1000,
		RelistenDelay: 800 * time.Millisecond,
		ErrorBackoff:  1500 * time.Millisecond,
		Capture:       capture,
	}
}

// TurnDeps 回合制控制器依赖
type TurnDeps struct {
	Endpoint   TurnEndpoint
	Fetcher    AudioFetcher
	Microphone Microphone
	Lease      *MicrophoneLease
	Speaker    Speaker
	CallLog    CallLogger
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
	Callbacks  Callbacks
}

type turnEventKind int

const (
	evStopRecording turnEventKind = iota
	evRecordTimeout
	evCaptureEnded
	evReply
	evPlaybackDone
	evRelisten
	evInterrupt
	evHangup
)

type turnEvent struct {
	kind  turnEventKind
	gen   uint64
	reply *model.VoiceChatResponse
	err   error
}

// TurnController 回合制对话状态机：录音 → 发送 → 等待回复 → 播放 → 重新录音。
// 状态只在 dispatcher goroutine 中修改；定时器与异步结果携带 generation，
// 过期事件直接丢弃。
type TurnController struct {
	ID string

	opts      TurnOptions
	deps      TurnDeps
	callbacks Callbacks
	logger    zerolog.Logger

	events chan turnEvent
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	started    atomic.Bool
	hangupOnce sync.Once

	mu        sync.RWMutex
	state     model.TurnState
	exchanges int
	callLogID string

	// 以下字段仅由 dispatcher 访问
	gen        uint64
	rec        *recording
	opCancel   context.CancelFunc
	delayTimer *time.Timer

	transcript *Transcript
}

// NewTurnController 创建控制器，初始状态 idle
func NewTurnController(deps TurnDeps, opts TurnOptions) *TurnController {
	defaults := DefaultTurnOptions()
	if opts.MaxRecording <= 0 {
		opts.MaxRecording = defaults.MaxRecording
	}
	if opts.MinWAVBytes <= 0 {
		opts.MinWAVBytes = defaults.MinWAVBytes
	}
	if opts.RelistenDelay < 0 {
		opts.RelistenDelay = defaults.RelistenDelay
	}
	if opts.ErrorBackoff < 0 {
		opts.ErrorBackoff = defaults.ErrorBackoff
	}
	if opts.Capture.SampleRate <= 0 {
		opts.Capture = defaults.Capture
	}

	id := uuid.NewString()
	return &TurnController{
		ID:         id,
		opts:       opts,
		deps:       deps,
		callbacks:  deps.Callbacks,
		logger:     deps.Logger.With().Str("turn_controller", id).Logger(),
		events:     make(chan turnEvent, 16),
		done:       make(chan struct{}),
		state:      model.TurnIdle,
		transcript: NewTranscript(),
	}
}

// Start 写入通话记录并开始第一次录音。麦克风不可用时返回 ErrAudioCapture。
func (c *TurnController) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("turn controller already started")
	}

	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if c.deps.CallLog != nil {
		id, err := c.deps.CallLog.Start(ctx, model.CallLogEntry{
			AgentID:   c.opts.AgentID,
			AgentName: c.opts.AgentName,
			Mode:      model.ModeTurn,
			Status:    model.CallStarted,
		})
		if err != nil {
			c.logger.Warn().Err(err).Msg("call log start failed")
		} else {
			c.mu.Lock()
			c.callLogID = id
			c.mu.Unlock()
		}
	}

	if err := c.beginListening(); err != nil {
		c.callbacks.err(err)
		c.updateCallLog(model.StatusUpdate(model.CallFailed).WithError(err.Error()))
		c.cancel()
		close(c.done)
		return err
	}

	go c.loop()
	return nil
}

// StopRecording 手动结束当前录音
func (c *TurnController) StopRecording() {
	c.post(turnEvent{kind: evStopRecording})
}

// Interrupt 放弃当前处理或播放，立即重新录音
func (c *TurnController) Interrupt() {
	c.post(turnEvent{kind: evInterrupt})
}

// Hangup 结束对话并等待控制器退出，可重复调用
func (c *TurnController) Hangup() {
	if !c.started.Load() {
		return
	}
	c.hangupOnce.Do(func() {
		c.post(turnEvent{kind: evHangup})
	})
	<-c.done
}

// Done 控制器退出后关闭
func (c *TurnController) Done() <-chan struct{} {
	return c.done
}

// State 当前轮次状态
func (c *TurnController) State() model.TurnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Exchanges 已完成的对话轮数
func (c *TurnController) Exchanges() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exchanges
}

// CallLogID 关联的通话记录
func (c *TurnController) CallLogID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callLogID
}

func (c *TurnController) Transcript() *Transcript {
	return c.transcript
}

func (c *TurnController) post(ev turnEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *TurnController) loop() {
	defer close(c.done)
	for ev := range c.events {
		if c.handle(ev) {
			return
		}
	}
}

// handle 处理单个事件，返回 true 表示控制器结束
func (c *TurnController) handle(ev turnEvent) bool {
	var err error

	switch ev.kind {
	case evStopRecording:
		if c.rec != nil && c.State() == model.TurnListening {
			err = c.finishRecording()
		}

	case evRecordTimeout:
		if c.rec != nil && ev.gen == c.gen {
			c.logger.Debug().Dur("max", c.opts.MaxRecording).Msg("recording ceiling reached")
			err = c.finishRecording()
		}

	case evCaptureEnded:
		if c.rec != nil && ev.gen == c.gen {
			c.rec.stop()
			c.rec = nil
			err = fmt.Errorf("%w: capture stream ended unexpectedly", ErrAudioCapture)
		}

	case evReply:
		if ev.gen == c.gen {
			c.onReply(ev)
		}

	case evPlaybackDone:
		if ev.gen == c.gen && c.State() == model.TurnSpeaking {
			c.scheduleRelisten(c.opts.RelistenDelay)
		}

	case evRelisten:
		if ev.gen == c.gen {
			err = c.beginListening()
		}

	case evInterrupt:
		err = c.interrupt()

	case evHangup:
		c.shutdown(model.StatusUpdate(model.CallCompleted))
		return true
	}

	if err != nil {
		c.logger.Error().Err(err).Msg("turn controller stopped")
		c.callbacks.err(err)
		c.shutdown(model.StatusUpdate(model.CallFailed).WithError(err.Error()))
		return true
	}
	return false
}

// beginListening 打开麦克风进入 listening。上一段录音未释放时不会开始新录音。
func (c *TurnController) beginListening() error {
	if c.rec != nil {
		return nil
	}
	if c.State() == model.TurnProcessing {
		return nil
	}

	c.cancelOp()
	c.stopDelay()

	stream, release, err := openCapture(c.ctx, c.deps.Lease, c.deps.Microphone, "turn:"+c.ID, c.opts.Capture)
	if err != nil {
		return err
	}

	c.gen++
	gen := c.gen
	rec := &recording{gen: gen, stream: stream, release: release, done: make(chan struct{})}
	c.rec = rec

	go rec.pump(c.callbacks.audioLevel, func() {
		go c.post(turnEvent{kind: evCaptureEnded, gen: gen})
	})
	rec.timer = time.AfterFunc(c.opts.MaxRecording, func() {
		c.post(turnEvent{kind: evRecordTimeout, gen: gen})
	})

	c.setState(model.TurnListening)
	return nil
}

// finishRecording listening → processing；录音过短时直接重新录音。
func (c *TurnController) finishRecording() error {
	rec := c.rec
	c.rec = nil
	pcm := rec.stop()

	wav := BuildWAVFromPCM(pcm, c.opts.Capture.SampleRate)
	if len(wav) < c.opts.MinWAVBytes {
		tooShort := fmt.Errorf("%w: %d bytes", ErrAudioTooShort, len(wav))
		c.logger.Info().Err(tooShort).Msg("discard recording")
		c.deps.Metrics.Turn("too_short")
		c.updateCallLog(model.CallLogUpdate{}.WithError(tooShort.Error()).WithExchangeCount(c.Exchanges()))
		return c.beginListening()
	}

	if c.deps.Endpoint == nil {
		return fmt.Errorf("%w: no endpoint configured", ErrTurnEndpoint)
	}

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(c.ctx)
	c.opCancel = cancel
	c.setState(model.TurnProcessing)

	req := model.VoiceChatRequest{
		Audio:               base64.StdEncoding.EncodeToString(wav),
		ConversationHistory: c.transcript.History(),
		CallLogID:           c.CallLogID(),
	}
	endpoint := c.deps.Endpoint
	go func() {
		reply, err := endpoint.VoiceChat(ctx, req)
		c.post(turnEvent{kind: evReply, gen: gen, reply: reply, err: err})
	}()
	return nil
}

// onReply processing → speaking，失败时退避后重新录音
func (c *TurnController) onReply(ev turnEvent) {
	c.cancelOp()

	if ev.err == nil && ev.reply == nil {
		ev.err = fmt.Errorf("%w: empty reply", ErrTurnEndpoint)
	}
	if ev.err != nil {
		c.logger.Warn().Err(ev.err).Msg("turn failed")
		c.deps.Metrics.Turn("error")
		c.updateCallLog(model.CallLogUpdate{}.WithError(ev.err.Error()).WithExchangeCount(c.Exchanges()))
		c.setState(model.TurnInterrupted)
		c.scheduleRelisten(c.opts.ErrorBackoff)
		return
	}

	reply := ev.reply
	c.mu.Lock()
	c.exchanges++
	exchanges := c.exchanges
	c.mu.Unlock()

	if reply.Transcription != "" {
		c.transcript.AddUser(reply.Transcription)
		c.callbacks.userTranscript(reply.Transcription)
	}
	if reply.Response != "" {
		c.transcript.AddAgent(reply.Response)
		c.callbacks.agentResponse(reply.Response)
	}
	c.updateCallLog(model.CallLogUpdate{}.WithTranscript(reply.Transcription, reply.Response).WithExchangeCount(exchanges))
	c.deps.Metrics.Turn("ok")

	c.gen++
	c.setState(model.TurnSpeaking)

	if reply.AudioURL == "" {
		c.scheduleRelisten(c.opts.RelistenDelay)
		return
	}

	gen := c.gen
	ctx, cancel := context.WithCancel(c.ctx)
	c.opCancel = cancel
	go func() {
		c.playReply(ctx, reply.AudioURL)
		c.post(turnEvent{kind: evPlaybackDone, gen: gen})
	}()
}

// playReply 获取并播放回复音频，错误只记录
func (c *TurnController) playReply(ctx context.Context, ref string) {
	if c.deps.Fetcher == nil || c.deps.Speaker == nil {
		return
	}

	data, err := c.deps.Fetcher.FetchAudio(ctx, ref)
	if err != nil {
		c.logger.Warn().Err(err).Msg("fetch reply audio")
		c.deps.Metrics.Playback("error")
		return
	}

	item, err := DecodeContainer(data)
	if err != nil {
		// 无容器头时按原始 PCM16 单声道处理
		if len(data) < 2 {
			c.logger.Warn().Err(err).Msg("decode reply audio")
			c.deps.Metrics.Playback("error")
			return
		}
		item = model.PlaybackItem{PCM: data[:len(data)&^1], SampleRate: c.opts.Capture.SampleRate, Channels: 1}
	}

	if err := c.deps.Speaker.Play(ctx, item); err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			c.deps.Metrics.Playback("cancelled")
			return
		}
		c.logger.Warn().Err(err).Msg("play reply audio")
		c.deps.Metrics.Playback("error")
		return
	}
	c.deps.Metrics.Playback("ok")
}

func (c *TurnController) interrupt() error {
	c.gen++
	c.cancelOp()
	c.stopDelay()
	if c.rec != nil {
		c.rec.stop()
		c.rec = nil
	}
	c.deps.Metrics.Turn("interrupted")
	c.setState(model.TurnInterrupted)
	return c.beginListening()
}

func (c *TurnController) shutdown(update model.CallLogUpdate) {
	c.gen++
	c.cancelOp()
	c.stopDelay()
	if c.rec != nil {
		c.rec.stop()
		c.rec = nil
	}
	c.setState(model.TurnIdle)
	c.updateCallLog(update.WithExchangeCount(c.Exchanges()))
	c.cancel()
}

func (c *TurnController) scheduleRelisten(delay time.Duration) {
	c.stopDelay()
	gen := c.gen
	c.delayTimer = time.AfterFunc(delay, func() {
		c.post(turnEvent{kind: evRelisten, gen: gen})
	})
}

func (c *TurnController) stopDelay() {
	if c.delayTimer != nil {
		c.delayTimer.Stop()
		c.delayTimer = nil
	}
}

func (c *TurnController) cancelOp() {
	if c.opCancel != nil {
		c.opCancel()
		c.opCancel = nil
	}
}

func (c *TurnController) setState(s model.TurnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.logger.Debug().Str("state", string(s)).Msg("turn state")
	c.callbacks.turnState(s)
}

func (c *TurnController) updateCallLog(update model.CallLogUpdate) {
	id := c.CallLogID()
	if c.deps.CallLog == nil || id == "" {
		return
	}
	if err := c.deps.CallLog.Update(context.Background(), id, update); err != nil {
		c.logger.Warn().Err(err).Msg("call log update failed")
	}
}

// recording 一次录音，持有采集流与麦克风租约
type recording struct {
	gen     uint64
	stream  CaptureStream
	release func()
	timer   *time.Timer
	done    chan struct{}

	stopping atomic.Bool
	mu       sync.Mutex
	buf      bytes.Buffer
}

func (r *recording) pump(onLevel func(float64), onEnded func()) {
	defer close(r.done)

	for frame := range r.stream.Frames() {
		r.mu.Lock()
		r.buf.Write(frame)
		r.mu.Unlock()
		onLevel(RMSLevel(frame))
	}

	if !r.stopping.Load() {
		onEnded()
	}
}

// stop 关闭采集流，等待读取结束后才释放租约
func (r *recording) stop() []byte {
	r.stopping.Store(true)
	if r.timer != nil {
		r.timer.Stop()
	}
	_ = r.stream.Close()
	<-r.done
	r.release()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Bytes()
}
