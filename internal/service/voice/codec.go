package voice

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hajimehoshi/go-mp3"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
)

// AudioFormat 入站音频格式，例如 pcm_16000、ulaw_8000
type AudioFormat struct {
	Encoding   string
	SampleRate int
}

// DefaultOutputFormat 服务端默认输出格式
var DefaultOutputFormat = AudioFormat{Encoding: "pcm", SampleRate: DefaultSampleRate}

// ParseAudioFormat 解析 "<encoding>_<rate>" 格式描述。
func ParseAudioFormat(raw string) (AudioFormat, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	idx := strings.LastIndex(raw, "_")
	if idx <= 0 {
		return AudioFormat{}, fmt.Errorf("invalid audio format %q", raw)
	}

	rate, err := strconv.Atoi(raw[idx+1:])
	if err != nil || rate <= 0 {
		return AudioFormat{}, fmt.Errorf("invalid sample rate in audio format %q", raw)
	}

	encoding := raw[:idx]
	switch encoding {
	case "pcm", "ulaw":
	default:
		return AudioFormat{}, fmt.Errorf("unsupported audio encoding %q", encoding)
	}
	return AudioFormat{Encoding: encoding, SampleRate: rate}, nil
}

// DecodeSegment 将入站 base64 音频段解码为可播放数据。
func DecodeSegment(seg model.AudioSegment, format AudioFormat) (model.PlaybackItem, error) {
	raw, err := base64.StdEncoding.DecodeString(seg.Payload)
	if err != nil {
		return model.PlaybackItem{}, fmt.Errorf("%w: invalid base64 audio: %v", ErrPlayback, err)
	}
	if len(raw) == 0 {
		return model.PlaybackItem{}, fmt.Errorf("%w: empty audio segment", ErrPlayback)
	}

	if format.SampleRate <= 0 {
		format = DefaultOutputFormat
	}

	switch format.Encoding {
	case "ulaw":
		return model.PlaybackItem{PCM: decodeULaw(raw), SampleRate: format.SampleRate, Channels: 1}, nil
	default:
		if len(raw)%2 == 1 {
			raw = raw[:len(raw)-1]
		}
		return model.PlaybackItem{PCM: raw, SampleRate: format.SampleRate, Channels: 1}, nil
	}
}

// DecodeContainer 识别 WAV / MP3 容器并解码为 PCM16。
func DecodeContainer(data []byte) (model.PlaybackItem, error) {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF":
		info, err := ParseWAV(data)
		if err != nil {
			return model.PlaybackItem{}, fmt.Errorf("%w: %v", ErrPlayback, err)
		}
		if info.AudioFormat != 1 || info.BitsPerSample != 16 {
			return model.PlaybackItem{}, fmt.Errorf("%w: unsupported wav format %d/%dbit", ErrPlayback, info.AudioFormat, info.BitsPerSample)
		}
		return model.PlaybackItem{PCM: info.Data, SampleRate: info.SampleRate, Channels: info.Channels}, nil

	case looksLikeMP3(data):
		dec, err := mp3.NewDecoder(bytes.NewReader(data))
		if err != nil {
			return model.PlaybackItem{}, fmt.Errorf("%w: mp3 decoder: %v", ErrPlayback, err)
		}
		pcm, err := io.ReadAll(dec)
		if err != nil {
			return model.PlaybackItem{}, fmt.Errorf("%w: mp3 decode: %v", ErrPlayback, err)
		}
		// go-mp3 固定输出 16bit 双声道
		return model.PlaybackItem{PCM: pcm, SampleRate: dec.SampleRate(), Channels: 2}, nil

	default:
		return model.PlaybackItem{}, fmt.Errorf("%w: unrecognized audio container", ErrPlayback)
	}
}

// DecodeDataURL 解析 data:audio/...;base64, 形式的音频地址。
func DecodeDataURL(raw string) ([]byte, error) {
	if !strings.HasPrefix(raw, "data:") {
		return nil, fmt.Errorf("not a data url")
	}
	comma := strings.Index(raw, ",")
	if comma < 0 {
		return nil, fmt.Errorf("malformed data url")
	}
	meta := raw[len("data:"):comma]
	if !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("data url must be base64 encoded")
	}
	return base64.StdEncoding.DecodeString(raw[comma+1:])
}

func looksLikeMP3(data []byte) bool {
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return true
	}
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// decodeULaw G.711 μ-law 转 PCM16
func decodeULaw(in []byte) []byte {
	out := make([]byte, len(in)*2)
	for i, b := range in {
		u := ^b
		sign := u & 0x80
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0F
		sample := ((int16(mantissa) << 3) + 0x84) << exponent
		sample -= 0x84
		if sign != 0 {
			sample = -sample
		}
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}
