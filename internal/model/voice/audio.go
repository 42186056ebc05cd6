package voice

// Direction 音频段方向
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// AudioSegment 一段待消费的音频，payload 为 base64 编码
type AudioSegment struct {
	Payload   string    `json:"payload"`
	Direction Direction `json:"direction"`
}

// PlaybackItem 解码后可直接播放的 PCM16 数据
type PlaybackItem struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// DurationMs 返回播放时长（毫秒）
func (p PlaybackItem) DurationMs() int {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	return len(p.PCM) * 1000 / (p.SampleRate * p.Channels * 2)
}
