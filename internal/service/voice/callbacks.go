package voice

import (
	"context"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
)

// Callbacks 面向 UI 层的回调，均为可选。
// 所有可被用户感知的错误都只通过 OnError 上报。
type Callbacks struct {
	OnStatus                  func(model.SessionState)
	OnConversationID          func(string)
	OnUserTranscript          func(string)
	OnAgentResponse           func(string)
	OnAgentResponseCorrection func(original, corrected string)
	OnAudioLevel              func(float64)
	OnTurnState               func(model.TurnState)
	OnError                   func(error)
}

func (c Callbacks) status(s model.SessionState) {
	if c.OnStatus != nil {
		c.OnStatus(s)
	}
}

func (c Callbacks) conversationID(id string) {
	if c.OnConversationID != nil {
		c.OnConversationID(id)
	}
}

func (c Callbacks) userTranscript(text string) {
	if c.OnUserTranscript != nil {
		c.OnUserTranscript(text)
	}
}

func (c Callbacks) agentResponse(text string) {
	if c.OnAgentResponse != nil {
		c.OnAgentResponse(text)
	}
}

func (c Callbacks) agentCorrection(original, corrected string) {
	if c.OnAgentResponseCorrection != nil {
		c.OnAgentResponseCorrection(original, corrected)
	}
}

func (c Callbacks) audioLevel(level float64) {
	if c.OnAudioLevel != nil {
		c.OnAudioLevel(level)
	}
}

func (c Callbacks) turnState(s model.TurnState) {
	if c.OnTurnState != nil {
		c.OnTurnState(s)
	}
}

func (c Callbacks) err(err error) {
	if c.OnError != nil && err != nil {
		c.OnError(err)
	}
}

// CallLogger 通话记录写入端
type CallLogger interface {
	Start(ctx context.Context, entry model.CallLogEntry) (string, error)
	Update(ctx context.Context, id string, update model.CallLogUpdate) error
}
