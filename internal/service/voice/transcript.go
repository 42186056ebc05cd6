package voice

import (
	"sync"
	"time"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TranscriptEntry 对话记录中的一条
type TranscriptEntry struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Transcript 运行中的对话文本，线程安全
type Transcript struct {
	mu      sync.RWMutex
	entries []TranscriptEntry
}

// NewTranscript 创建空记录
func NewTranscript() *Transcript {
	return &Transcript{}
}

func (t *Transcript) AddUser(text string) {
	t.add(RoleUser, text)
}

func (t *Transcript) AddAgent(text string) {
	t.add(RoleAssistant, text)
}

func (t *Transcript) add(role, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, TranscriptEntry{Role: role, Text: text, At: time.Now()})
}

// CorrectAgent 用修正文本替换最近一条智能体回复，没有回复时返回 false
func (t *Transcript) CorrectAgent(corrected string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Role == RoleAssistant {
			t.entries[i].Text = corrected
			return true
		}
	}
	return false
}

// Entries 返回副本
func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// History 转换为回合制请求所需的历史
func (t *Transcript) History() []model.HistoryMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	history := make([]model.HistoryMessage, 0, len(t.entries))
	for _, e := range t.entries {
		history = append(history, model.HistoryMessage{Role: e.Role, Content: e.Text})
	}
	return history
}

// AgentTurns 智能体回复条数
func (t *Transcript) AgentTurns() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, e := range t.entries {
		if e.Role == RoleAssistant {
			n++
		}
	}
	return n
}
