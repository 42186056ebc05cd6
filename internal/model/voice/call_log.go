package voice

import "time"

// CallStatus 通话记录状态
type CallStatus string

const (
	CallStarted   CallStatus = "started"
	CallCompleted CallStatus = "completed"
	CallFailed    CallStatus = "failed"
)

// CallLogEntry 一次对话的通话记录
type CallLogEntry struct {
	ID            string     `json:"id"`
	AgentID       string     `json:"agentId"`
	AgentName     string     `json:"agentName,omitempty"`
	Mode          Mode       `json:"mode"`
	Status        CallStatus `json:"status"`
	ExchangeCount int        `json:"exchangeCount"`
	Transcription string     `json:"transcription,omitempty"`
	Response      string     `json:"response,omitempty"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
}

// CallLogUpdate 部分更新，nil 字段保持原值
type CallLogUpdate struct {
	Status        *CallStatus
	ExchangeCount *int
	Transcription *string
	Response      *string
	Error         *string
}

// StatusUpdate 构造只修改状态的更新
func StatusUpdate(status CallStatus) CallLogUpdate {
	return CallLogUpdate{Status: &status}
}

// WithError 附加错误描述
func (u CallLogUpdate) WithError(msg string) CallLogUpdate {
	u.Error = &msg
	return u
}

// WithExchangeCount 附加对话轮数
func (u CallLogUpdate) WithExchangeCount(n int) CallLogUpdate {
	u.ExchangeCount = &n
	return u
}

// WithTranscript 附加用户转写与智能体回复
func (u CallLogUpdate) WithTranscript(transcription, response string) CallLogUpdate {
	u.Transcription = &transcription
	u.Response = &response
	return u
}
