package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/observability"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/service/voice"
)

var (
	ErrAgentRequired = errors.New("agent id is required")
	ErrInvalidMode   = errors.New("invalid conversation mode")
	ErrNotFound      = errors.New("conversation not found")
	ErrWrongMode     = errors.New("operation not supported in this mode")
)

// Deps 对话所需的外部依赖
type Deps struct {
	Broker     voice.CredentialBroker
	Endpoint   voice.TurnEndpoint
	Fetcher    voice.AudioFetcher
	Microphone voice.Microphone
	Speaker    voice.Speaker
	CallLog    voice.CallLogger
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
}

// Settings 新对话使用的参数
type Settings struct {
	Channel voice.ChannelOptions
	Capture voice.CaptureOptions
	Turn    voice.TurnOptions
}

// StartRequest 发起对话的参数
type StartRequest struct {
	AgentID   string
	AgentName string
	Mode      model.Mode
}

// Info 对话概要
type Info struct {
	ID             string             `json:"id"`
	AgentID        string             `json:"agentId"`
	AgentName      string             `json:"agentName,omitempty"`
	Mode           model.Mode         `json:"mode"`
	TurnState      model.TurnState    `json:"turnState"`
	CallLogID      string             `json:"callLogId,omitempty"`
	ConversationID string             `json:"remoteConversationId,omitempty"`
	Status         model.SessionState `json:"status,omitempty"`
	StartedAt      time.Time          `json:"startedAt"`
}

// Conversation 一个进行中的对话，流式模式持有 Session，回合制模式持有 TurnController
type Conversation struct {
	ID        string
	AgentID   string
	AgentName string
	Mode      model.Mode
	StartedAt time.Time

	session *voice.Session
	turn    *voice.TurnController
}

// Info 返回当前概要
func (c *Conversation) Info() Info {
	info := Info{
		ID:        c.ID,
		AgentID:   c.AgentID,
		AgentName: c.AgentName,
		Mode:      c.Mode,
		StartedAt: c.StartedAt,
	}
	switch {
	case c.session != nil:
		info.TurnState = c.session.TurnState()
		info.CallLogID = c.session.CallLogID()
		info.ConversationID = c.session.ConversationID()
		info.Status = c.session.State()
	case c.turn != nil:
		info.TurnState = c.turn.State()
		info.CallLogID = c.turn.CallLogID()
		info.Status = model.SessionActive
		if c.turn.State() == model.TurnIdle {
			info.Status = model.SessionClosed
		}
	}
	return info
}

func (c *Conversation) done() <-chan struct{} {
	if c.session != nil {
		return c.session.Done()
	}
	return c.turn.Done()
}

func (c *Conversation) stop() {
	if c.session != nil {
		c.session.Stop()
		return
	}
	c.turn.Hangup()
}

// Manager 管理进程内所有对话。所有对话共享同一个麦克风租约。
type Manager struct {
	deps     Deps
	settings Settings
	lease    *voice.MicrophoneLease
	hub      *Hub
	logger   zerolog.Logger

	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// NewManager 创建对话管理器
func NewManager(deps Deps, settings Settings) *Manager {
	return &Manager{
		deps:          deps,
		settings:      settings,
		lease:         voice.NewMicrophoneLease(),
		hub:           NewHub(),
		logger:        deps.Logger.With().Str("component", "conversation").Logger(),
		conversations: make(map[string]*Conversation),
	}
}

// Hub 事件中心
func (m *Manager) Hub() *Hub {
	return m.hub
}

// Start 发起对话
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Conversation, error) {
	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" {
		return nil, ErrAgentRequired
	}
	mode, ok := model.ParseMode(string(req.Mode))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}

	conv := &Conversation{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		AgentName: req.AgentName,
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	}
	callbacks := m.callbacks(conv.ID)

	switch mode {
	case model.ModeTurn:
		opts := m.settings.Turn
		opts.AgentID = agentID
		opts.AgentName = req.AgentName
		ctrl := voice.NewTurnController(voice.TurnDeps{
			Endpoint:   m.deps.Endpoint,
			Fetcher:    m.deps.Fetcher,
			Microphone: m.deps.Microphone,
			Lease:      m.lease,
			Speaker:    m.deps.Speaker,
			CallLog:    m.deps.CallLog,
			Metrics:    m.deps.Metrics,
			Logger:     m.deps.Logger,
			Callbacks:  callbacks,
		}, opts)
		if err := ctrl.Start(ctx); err != nil {
			return nil, err
		}
		conv.turn = ctrl

	default:
		session, err := voice.StartConversation(ctx, voice.SessionDeps{
			Broker:     m.deps.Broker,
			Microphone: m.deps.Microphone,
			Lease:      m.lease,
			Speaker:    m.deps.Speaker,
			CallLog:    m.deps.CallLog,
			Metrics:    m.deps.Metrics,
			Logger:     m.deps.Logger,
		}, voice.SessionOptions{
			AgentID:   agentID,
			AgentName: req.AgentName,
			Channel:   m.settings.Channel,
			Capture:   m.settings.Capture,
			Callbacks: callbacks,
		})
		if err != nil {
			return nil, err
		}
		conv.session = session
	}

	m.mu.Lock()
	m.conversations[conv.ID] = conv
	m.mu.Unlock()

	go m.watch(conv)

	m.logger.Info().Str("conversation", conv.ID).Str("agent_id", agentID).Str("mode", string(mode)).Msg("conversation started")
	return conv, nil
}

// watch 对话结束后移出注册表并关闭订阅
func (m *Manager) watch(conv *Conversation) {
	<-conv.done()

	m.mu.Lock()
	delete(m.conversations, conv.ID)
	m.mu.Unlock()

	m.hub.Publish(Event{Type: EventEnded, ConversationID: conv.ID})
	m.hub.Close(conv.ID)
	m.logger.Info().Str("conversation", conv.ID).Msg("conversation ended")
}

func (m *Manager) callbacks(id string) voice.Callbacks {
	publish := func(typ string, data any) {
		m.hub.Publish(Event{Type: typ, ConversationID: id, Data: data})
	}
	return voice.Callbacks{
		OnStatus:         func(s model.SessionState) { publish(EventStatus, s) },
		OnConversationID: func(remote string) { publish(EventConversationID, remote) },
		OnUserTranscript: func(text string) { publish(EventUserTranscript, text) },
		OnAgentResponse:  func(text string) { publish(EventAgentResponse, text) },
		OnAgentResponseCorrection: func(original, corrected string) {
			publish(EventAgentCorrection, map[string]string{"original": original, "corrected": corrected})
		},
		OnAudioLevel: func(level float64) { publish(EventAudioLevel, level) },
		OnTurnState:  func(s model.TurnState) { publish(EventTurnState, s) },
		OnError: func(err error) {
			m.logger.Warn().Err(err).Str("conversation", id).Msg("conversation error")
			publish(EventError, err.Error())
		},
	}
}

// Get 查询对话
func (m *Manager) Get(id string) (*Conversation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[id]
	return conv, ok
}

// List 按开始时间排序的对话概要
func (m *Manager) List() []Info {
	m.mu.RLock()
	convs := make([]*Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		convs = append(convs, c)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(convs))
	for _, c := range convs {
		infos = append(infos, c.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.Before(infos[j].StartedAt) })
	return infos
}

// Stop 同步结束对话
func (m *Manager) Stop(id string) error {
	conv, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	conv.stop()
	<-conv.done()
	return nil
}

// StopRecording 回合制模式下手动结束录音
func (m *Manager) StopRecording(id string) error {
	conv, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	if conv.turn == nil {
		return ErrWrongMode
	}
	conv.turn.StopRecording()
	return nil
}

// Interrupt 回合制模式下打断当前回复
func (m *Manager) Interrupt(id string) error {
	conv, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	if conv.turn == nil {
		return ErrWrongMode
	}
	conv.turn.Interrupt()
	return nil
}

// SendMessage 流式模式下发送文本，contextual 为 true 时只更新上下文
func (m *Manager) SendMessage(id, text string, contextual bool) error {
	conv, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	if conv.session == nil {
		return ErrWrongMode
	}
	if contextual {
		return conv.session.SendContextualUpdate(text)
	}
	return conv.session.SendUserMessage(text)
}

// StopAll 结束所有对话
func (m *Manager) StopAll() {
	m.mu.RLock()
	convs := make([]*Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		convs = append(convs, c)
	}
	m.mu.RUnlock()

	for _, c := range convs {
		c.stop()
	}
}
