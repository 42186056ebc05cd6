package voice

// HistoryMessage 回合制模式下随请求携带的对话历史
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// VoiceChatRequest POST .../voice-chat 请求体
type VoiceChatRequest struct {
	Audio               string           `json:"audio"`
	ConversationHistory []HistoryMessage `json:"conversation_history"`
	CallLogID           string           `json:"call_log_id,omitempty"`
}

// VoiceChatResponse POST .../voice-chat 响应体
type VoiceChatResponse struct {
	Transcription string `json:"transcription"`
	Response      string `json:"response"`
	AudioURL      string `json:"audio_url,omitempty"`
}

// SignedURLResponse GET .../signed-url 响应体
type SignedURLResponse struct {
	SignedURL string `json:"signed_url"`
}
