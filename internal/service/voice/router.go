package voice

import (
	"errors"

	"github.com/rs/zerolog"
)

// Handlers 每种入站事件对应的处理函数，未设置的事件被忽略
type Handlers struct {
	OnPing                    func(PingEvent)
	OnUserTranscript          func(UserTranscriptEvent)
	OnAgentResponse           func(AgentResponseEvent)
	OnAgentResponseCorrection func(AgentResponseCorrectionEvent)
	OnAudio                   func(AudioEvent)
	OnInterruption            func(InterruptionEvent)
	OnMetadata                func(ConversationMetadataEvent)
}

// Router 入站事件路由器。所有回调都在通道读循环的 goroutine 上同步执行。
type Router struct {
	handlers Handlers
	logger   zerolog.Logger
}

// NewRouter 创建路由器
func NewRouter(handlers Handlers, logger zerolog.Logger) *Router {
	return &Router{handlers: handlers, logger: logger}
}

// HandleFrame 解码并分发一帧原始数据。格式错误只记录日志，返回 ErrProtocol。
func (r *Router) HandleFrame(data []byte) error {
	evt, err := DecodeEvent(data)
	if err != nil {
		r.logger.Warn().Err(err).Int("bytes", len(data)).Msg("skip malformed frame")
		return err
	}
	if evt == nil {
		r.logger.Debug().Msg("ignore unknown frame type")
		return nil
	}
	r.Dispatch(evt)
	return nil
}

// Dispatch 按事件类型路由
func (r *Router) Dispatch(evt Event) {
	h := r.handlers
	switch e := evt.(type) {
	case PingEvent:
		if h.OnPing != nil {
			h.OnPing(e)
		}
	case UserTranscriptEvent:
		if h.OnUserTranscript != nil {
			h.OnUserTranscript(e)
		}
	case AgentResponseEvent:
		if h.OnAgentResponse != nil {
			h.OnAgentResponse(e)
		}
	case AgentResponseCorrectionEvent:
		if h.OnAgentResponseCorrection != nil {
			h.OnAgentResponseCorrection(e)
		}
	case AudioEvent:
		if h.OnAudio != nil {
			h.OnAudio(e)
		}
	case InterruptionEvent:
		if h.OnInterruption != nil {
			h.OnInterruption(e)
		}
	case ConversationMetadataEvent:
		if h.OnMetadata != nil {
			h.OnMetadata(e)
		}
	}
}

// IsProtocolError 判断错误是否为可跳过的协议错误
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrProtocol)
}
