package conversation

import (
	"sync"
	"time"
)

// 事件类型
const (
	EventStatus          = "status"
	EventTurnState       = "turn_state"
	EventConversationID  = "conversation_id"
	EventUserTranscript  = "user_transcript"
	EventAgentResponse   = "agent_response"
	EventAgentCorrection = "agent_response_correction"
	EventAudioLevel      = "audio_level"
	EventError           = "error"
	EventEnded           = "ended"
)

// Event 推送给订阅者的对话事件
type Event struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId"`
	Data           any       `json:"data,omitempty"`
	At             time.Time `json:"at"`
}

const subscriberBuffer = 64

// Hub 按对话 ID 分发事件。订阅者消费过慢时丢弃新事件，不阻塞语音链路。
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[chan Event]struct{}
}

// NewHub 创建事件中心
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[chan Event]struct{})}
}

// Subscribe 订阅对话事件，返回的 cancel 可重复调用
func (h *Hub) Subscribe(conversationID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	subs, ok := h.topics[conversationID]
	if !ok {
		subs = make(map[chan Event]struct{})
		h.topics[conversationID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.topics[conversationID]; ok {
				if _, ok := subs[ch]; ok {
					delete(subs, ch)
					close(ch)
				}
				if len(subs) == 0 {
					delete(h.topics, conversationID)
				}
			}
		})
	}
	return ch, cancel
}

// Publish 非阻塞发布
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.topics[ev.ConversationID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close 关闭某个对话的所有订阅
func (h *Hub) Close(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.topics[conversationID] {
		close(ch)
	}
	delete(h.topics, conversationID)
}

// Subscribers 当前订阅数
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[conversationID])
}
