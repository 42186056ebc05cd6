package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/observability"
)

// SessionDeps 流式会话依赖
type SessionDeps struct {
	Broker     CredentialBroker
	Microphone Microphone
	Lease      *MicrophoneLease
	Speaker    Speaker
	CallLog    CallLogger
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
}

// SessionOptions 流式会话参数
type SessionOptions struct {
	AgentID   string
	AgentName string
	Channel   ChannelOptions
	Capture   CaptureOptions
	Callbacks Callbacks
}

// Session 一次流式语音对话，独占一个 Channel 与一个编码器。
type Session struct {
	ID        string
	AgentID   string
	CreatedAt time.Time

	callbacks Callbacks
	callLog   CallLogger
	metrics   *observability.Metrics
	logger    zerolog.Logger

	channel    *Channel
	encoder    *AudioEncoder
	queue      *PlaybackQueue
	router     *Router
	transcript *Transcript

	mu             sync.RWMutex
	state          model.SessionState
	turnState      model.TurnState
	conversationID string
	callLogID      string

	finishOnce sync.Once
	done       chan struct{}
}

// StartConversation 申请凭证、打开连接并开始推流。
// 凭证或麦克风失败时不返回 Session，错误同时经 OnError 上报。
func StartConversation(ctx context.Context, deps SessionDeps, opts SessionOptions) (*Session, error) {
	agentID := strings.TrimSpace(opts.AgentID)
	if agentID == "" {
		err := fmt.Errorf("%w: agent id is required", ErrCredential)
		opts.Callbacks.err(err)
		return nil, err
	}
	if deps.Broker == nil {
		err := fmt.Errorf("%w: no credential broker configured", ErrCredential)
		opts.Callbacks.err(err)
		return nil, err
	}

	signedURL, err := deps.Broker.SignedURL(ctx, agentID)
	if err != nil {
		deps.Logger.Warn().Err(err).Str("agent_id", agentID).Msg("credential negotiation failed")
		opts.Callbacks.err(err)
		return nil, err
	}

	s := newSession(deps, opts, agentID)
	s.startCallLog(ctx, opts.AgentName)
	s.metrics.SessionStarted()
	s.callbacks.status(model.SessionStarting)

	if err := s.channel.Open(ctx, signedURL); err != nil {
		s.callbacks.err(err)
		s.finish(err)
		return nil, err
	}

	if err := s.encoder.Start(ctx); err != nil {
		s.callbacks.err(err)
		s.abort(err)
		return nil, err
	}

	s.setState(model.SessionActive)
	s.logger.Info().Str("agent_id", agentID).Msg("session active")
	return s, nil
}

func newSession(deps SessionDeps, opts SessionOptions, agentID string) *Session {
	id := uuid.NewString()
	logger := deps.Logger.With().Str("session_id", id).Logger()

	capture := opts.Capture
	if capture.SampleRate <= 0 {
		capture = DefaultCaptureOptions()
	}

	s := &Session{
		ID:         id,
		AgentID:    agentID,
		CreatedAt:  time.Now(),
		callbacks:  opts.Callbacks,
		callLog:    deps.CallLog,
		metrics:    deps.Metrics,
		logger:     logger,
		transcript: NewTranscript(),
		state:      model.SessionStarting,
		turnState:  model.TurnIdle,
		done:       make(chan struct{}),
	}

	s.queue = NewPlaybackQueue(deps.Speaker, logger.With().Str("component", "playback").Logger(), deps.Metrics)
	s.queue.onDrained = s.playbackDrained

	s.router = NewRouter(Handlers{
		OnPing:                    s.handlePing,
		OnUserTranscript:          s.handleUserTranscript,
		OnAgentResponse:           s.handleAgentResponse,
		OnAgentResponseCorrection: s.handleCorrection,
		OnAudio:                   s.handleAudio,
		OnInterruption:            s.handleInterruption,
		OnMetadata:                s.handleMetadata,
	}, logger.With().Str("component", "router").Logger())

	s.channel = NewChannel(opts.Channel, ChannelHooks{
		OnFrame: func(data []byte) { _ = s.router.HandleFrame(data) },
		OnClose: s.finish,
		OnError: s.callbacks.err,
	}, logger.With().Str("component", "channel").Logger(), deps.Metrics)

	s.encoder = NewAudioEncoder(s.channel, deps.Microphone, deps.Lease, "session:"+id, capture,
		logger.With().Str("component", "encoder").Logger(), deps.Metrics)
	s.encoder.OnLevel(s.callbacks.audioLevel)

	return s
}

// Stop 同步停止采集、清空播放队列并关闭连接，可重复调用。
func (s *Session) Stop() {
	s.encoder.Stop()
	s.queue.Clear()
	if err := s.channel.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("close channel")
	}
	s.finish(nil)
}

// abort 建立阶段失败时关闭连接，通话记录标记为 failed
func (s *Session) abort(cause error) {
	s.encoder.Stop()
	s.queue.Clear()
	s.finish(cause)
	_ = s.channel.Close()
}

// finish 会话终结，只执行一次。cause 非 nil 时标记 failed。
func (s *Session) finish(cause error) {
	s.finishOnce.Do(func() {
		s.encoder.Stop()
		s.queue.Close()

		final := model.SessionClosed
		update := model.StatusUpdate(model.CallCompleted)
		if cause != nil {
			final = model.SessionFailed
			update = model.StatusUpdate(model.CallFailed).WithError(cause.Error())
		}
		s.updateCallLog(update.WithExchangeCount(s.transcript.AgentTurns()))

		s.setTurnState(model.TurnIdle)
		s.setState(final)
		s.metrics.SessionEnded(string(final))
		s.logger.Info().Str("state", string(final)).Msg("session ended")
		close(s.done)
	})
}

// Done 会话结束后关闭
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State 当前会话状态
func (s *Session) State() model.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// TurnState 由通道事件推断出的轮次状态
func (s *Session) TurnState() model.TurnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turnState
}

// ConversationID 远端分配的会话 ID，分配后不再改变
func (s *Session) ConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationID
}

// CallLogID 关联的通话记录 ID
func (s *Session) CallLogID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callLogID
}

// Transcript 会话转写记录
func (s *Session) Transcript() *Transcript {
	return s.transcript
}

// ChannelState 底层连接状态
func (s *Session) ChannelState() model.ChannelState {
	return s.channel.State()
}

// SendUserMessage 在语音之外发送一条文本消息
func (s *Session) SendUserMessage(text string) error {
	if err := s.ensureActive(); err != nil {
		return err
	}
	return s.channel.SendUserMessage(text)
}

// SendContextualUpdate 发送上下文信息
func (s *Session) SendContextualUpdate(text string) error {
	if err := s.ensureActive(); err != nil {
		return err
	}
	return s.channel.SendContextualUpdate(text)
}

func (s *Session) ensureActive() error {
	if st := s.State(); st == model.SessionClosed || st == model.SessionFailed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) handlePing(e PingEvent) {
	s.channel.SchedulePong(e.EventID, time.Duration(e.DelayMs)*time.Millisecond)
}

func (s *Session) handleUserTranscript(e UserTranscriptEvent) {
	s.transcript.AddUser(e.Text)
	s.setTurnState(model.TurnProcessing)
	s.callbacks.userTranscript(e.Text)
}

func (s *Session) handleAgentResponse(e AgentResponseEvent) {
	s.transcript.AddAgent(e.Text)
	s.callbacks.agentResponse(e.Text)
	s.updateCallLog(model.CallLogUpdate{}.WithExchangeCount(s.transcript.AgentTurns()))
}

func (s *Session) handleCorrection(e AgentResponseCorrectionEvent) {
	if !s.transcript.CorrectAgent(e.Corrected) {
		s.logger.Debug().Msg("correction without prior agent response")
	}
	s.callbacks.agentCorrection(e.Original, e.Corrected)
}

func (s *Session) handleAudio(e AudioEvent) {
	s.metrics.AudioChunk("inbound", "received")
	s.setTurnState(model.TurnSpeaking)
	s.queue.Enqueue(model.AudioSegment{Payload: e.Payload, Direction: model.Inbound})
}

func (s *Session) handleInterruption(e InterruptionEvent) {
	dropped := s.queue.Clear()
	s.logger.Debug().Int("event_id", e.EventID).Int("dropped", dropped).Msg("interrupted")
	s.setTurnState(model.TurnInterrupted)
	// 没有在播片段时不会再触发 onDrained，直接回到 listening
	if !s.queue.Playing() {
		s.playbackDrained()
	}
}

func (s *Session) handleMetadata(e ConversationMetadataEvent) {
	s.mu.Lock()
	assigned := false
	if s.conversationID == "" && e.ConversationID != "" {
		s.conversationID = e.ConversationID
		assigned = true
	}
	s.mu.Unlock()

	if e.OutputFormat != "" {
		if format, err := ParseAudioFormat(e.OutputFormat); err == nil {
			s.queue.SetFormat(format)
		} else {
			s.logger.Warn().Err(err).Msg("unsupported output audio format")
		}
	}

	if assigned {
		s.logger.Info().Str("conversation_id", e.ConversationID).Msg("conversation assigned")
		s.callbacks.conversationID(e.ConversationID)
	} else if e.ConversationID != s.ConversationID() {
		s.logger.Warn().Str("conversation_id", e.ConversationID).Msg("ignore conversation id reassignment")
	}
}

func (s *Session) playbackDrained() {
	s.mu.Lock()
	changed := s.turnState == model.TurnSpeaking || s.turnState == model.TurnInterrupted
	if changed {
		s.turnState = model.TurnListening
	}
	s.mu.Unlock()
	if changed {
		s.callbacks.turnState(model.TurnListening)
	}
}

func (s *Session) setState(state model.SessionState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()
	s.callbacks.status(state)
}

func (s *Session) setTurnState(state model.TurnState) {
	s.mu.Lock()
	if s.turnState == state {
		s.mu.Unlock()
		return
	}
	s.turnState = state
	s.mu.Unlock()
	s.callbacks.turnState(state)
}

func (s *Session) startCallLog(ctx context.Context, agentName string) {
	if s.callLog == nil {
		return
	}
	id, err := s.callLog.Start(ctx, model.CallLogEntry{
		AgentID:   s.AgentID,
		AgentName: agentName,
		Mode:      model.ModeStream,
		Status:    model.CallStarted,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("call log start failed")
		return
	}
	s.mu.Lock()
	s.callLogID = id
	s.mu.Unlock()
}

func (s *Session) updateCallLog(update model.CallLogUpdate) {
	id := s.CallLogID()
	if s.callLog == nil || id == "" {
		return
	}
	if err := s.callLog.Update(context.Background(), id, update); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Msg("call log update failed")
	}
}
