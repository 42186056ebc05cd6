package voice

import (
	"encoding/json"
	"fmt"
	"strings"
)

// 入站帧类型
const (
	TypePing                    = "ping"
	TypeUserTranscript          = "user_transcript"
	TypeAgentResponse           = "agent_response"
	TypeAgentResponseCorrection = "agent_response_correction"
	TypeAudio                   = "audio"
	TypeInterruption            = "interruption"
	TypeConversationMetadata    = "conversation_initiation_metadata"
)

// 出站帧类型
const (
	TypeConversationInitiation = "conversation_initiation_client_data"
	TypePong                   = "pong"
	TypeUserAudioChunk         = "user_audio_chunk"
	TypeUserMessage            = "user_message"
	TypeContextualUpdate       = "contextual_update"
)

// Event 入站事件。只有本包内的类型实现该接口。
type Event interface {
	Type() string
	sealed()
}

type PingEvent struct {
	EventID int
	// DelayMs 为服务端要求的回复延迟（毫秒），缺省为 0
	DelayMs int
}

type UserTranscriptEvent struct {
	Text string
}

type AgentResponseEvent struct {
	Text string
}

type AgentResponseCorrectionEvent struct {
	Original  string
	Corrected string
}

type AudioEvent struct {
	EventID int
	Payload string
}

type InterruptionEvent struct {
	EventID int
}

// ConversationMetadataEvent 服务端在握手后下发的会话信息
type ConversationMetadataEvent struct {
	ConversationID string
	OutputFormat   string
	InputFormat    string
}

func (PingEvent) Type() string                    { return TypePing }
func (UserTranscriptEvent) Type() string          { return TypeUserTranscript }
func (AgentResponseEvent) Type() string           { return TypeAgentResponse }
func (AgentResponseCorrectionEvent) Type() string { return TypeAgentResponseCorrection }
func (AudioEvent) Type() string                   { return TypeAudio }
func (InterruptionEvent) Type() string            { return TypeInterruption }
func (ConversationMetadataEvent) Type() string    { return TypeConversationMetadata }

func (PingEvent) sealed()                    {}
func (UserTranscriptEvent) sealed()          {}
func (AgentResponseEvent) sealed()           {}
func (AgentResponseCorrectionEvent) sealed() {}
func (AudioEvent) sealed()                   {}
func (InterruptionEvent) sealed()            {}
func (ConversationMetadataEvent) sealed()    {}

type inboundFrame struct {
	Type string `json:"type"`

	PingEvent *struct {
		EventID int  `json:"event_id"`
		PingMs  *int `json:"ping_ms"`
	} `json:"ping_event,omitempty"`

	UserTranscriptionEvent *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	AgentResponseEvent *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	AgentResponseCorrectionEvent *struct {
		OriginalAgentResponse  string `json:"original_agent_response"`
		CorrectedAgentResponse string `json:"corrected_agent_response"`
	} `json:"agent_response_correction_event,omitempty"`

	AudioEvent *struct {
		AudioBase64 string `json:"audio_base_64"`
		EventID     int    `json:"event_id"`
	} `json:"audio_event,omitempty"`

	InterruptionEvent *struct {
		EventID int `json:"event_id"`
	} `json:"interruption_event,omitempty"`

	ConversationInitiationMetadataEvent *struct {
		ConversationID         string `json:"conversation_id"`
		AgentOutputAudioFormat string `json:"agent_output_audio_format"`
		UserInputAudioFormat   string `json:"user_input_audio_format"`
	} `json:"conversation_initiation_metadata_event,omitempty"`
}

// DecodeEvent 解析入站帧。未知类型返回 (nil, nil)，格式错误返回 ErrProtocol。
func DecodeEvent(data []byte) (Event, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: invalid json frame: %v", ErrProtocol, err)
	}

	typ := strings.TrimSpace(frame.Type)
	if typ == "" {
		return nil, fmt.Errorf("%w: missing type", ErrProtocol)
	}

	switch typ {
	case TypePing:
		if frame.PingEvent == nil {
			return nil, fmt.Errorf("%w: ping without ping_event", ErrProtocol)
		}
		evt := PingEvent{EventID: frame.PingEvent.EventID}
		if frame.PingEvent.PingMs != nil && *frame.PingEvent.PingMs > 0 {
			evt.DelayMs = *frame.PingEvent.PingMs
		}
		return evt, nil

	case TypeUserTranscript:
		if frame.UserTranscriptionEvent == nil {
			return nil, fmt.Errorf("%w: user_transcript without user_transcription_event", ErrProtocol)
		}
		return UserTranscriptEvent{Text: frame.UserTranscriptionEvent.UserTranscript}, nil

	case TypeAgentResponse:
		if frame.AgentResponseEvent == nil {
			return nil, fmt.Errorf("%w: agent_response without agent_response_event", ErrProtocol)
		}
		return AgentResponseEvent{Text: frame.AgentResponseEvent.AgentResponse}, nil

	case TypeAgentResponseCorrection:
		if frame.AgentResponseCorrectionEvent == nil {
			return nil, fmt.Errorf("%w: agent_response_correction without payload", ErrProtocol)
		}
		return AgentResponseCorrectionEvent{
			Original:  frame.AgentResponseCorrectionEvent.OriginalAgentResponse,
			Corrected: frame.AgentResponseCorrectionEvent.CorrectedAgentResponse,
		}, nil

	case TypeAudio:
		if frame.AudioEvent == nil || frame.AudioEvent.AudioBase64 == "" {
			return nil, fmt.Errorf("%w: audio without audio_base_64", ErrProtocol)
		}
		return AudioEvent{EventID: frame.AudioEvent.EventID, Payload: frame.AudioEvent.AudioBase64}, nil

	case TypeInterruption:
		evt := InterruptionEvent{}
		if frame.InterruptionEvent != nil {
			evt.EventID = frame.InterruptionEvent.EventID
		}
		return evt, nil

	case TypeConversationMetadata:
		if frame.ConversationInitiationMetadataEvent == nil {
			return nil, fmt.Errorf("%w: metadata without payload", ErrProtocol)
		}
		meta := frame.ConversationInitiationMetadataEvent
		return ConversationMetadataEvent{
			ConversationID: meta.ConversationID,
			OutputFormat:   meta.AgentOutputAudioFormat,
			InputFormat:    meta.UserInputAudioFormat,
		}, nil

	default:
		return nil, nil
	}
}

type initiationMessage struct {
	Type string `json:"type"`
}

type pongMessage struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

// userAudioChunkMessage 与服务端约定一致，不携带 type 字段
type userAudioChunkMessage struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func newInitiationMessage() initiationMessage {
	return initiationMessage{Type: TypeConversationInitiation}
}

func newPongMessage(eventID int) pongMessage {
	return pongMessage{Type: TypePong, EventID: eventID}
}
