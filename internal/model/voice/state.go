package voice

// SessionState 会话生命周期状态
type SessionState string

const (
	SessionStarting SessionState = "starting"
	SessionActive   SessionState = "active"
	SessionClosed   SessionState = "closed"
	SessionFailed   SessionState = "failed"
)

// ChannelState 双工连接状态
type ChannelState string

const (
	ChannelClosed  ChannelState = "closed"
	ChannelOpening ChannelState = "opening"
	ChannelOpen    ChannelState = "open"
	ChannelClosing ChannelState = "closing"
	// ChannelErrored 为吸收态，只能从 opening/open 进入
	ChannelErrored ChannelState = "errored"
)

// TurnState 轮次状态
type TurnState string

const (
	TurnIdle        TurnState = "idle"
	TurnListening   TurnState = "listening"
	TurnProcessing  TurnState = "processing"
	TurnSpeaking    TurnState = "speaking"
	TurnInterrupted TurnState = "interrupted"
)

// Mode 会话驱动方式
type Mode string

const (
	ModeStream Mode = "stream"
	ModeTurn   Mode = "turn"
)

// ParseMode 解析模式字符串，空值返回 ModeStream。
func ParseMode(raw string) (Mode, bool) {
	switch Mode(raw) {
	case "", ModeStream:
		return ModeStream, true
	case ModeTurn:
		return ModeTurn, true
	default:
		return "", false
	}
}
