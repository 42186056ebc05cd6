package conversation

import (
	"github.com/zhouzirui/z-tavern/voiceagent/internal/config"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/service/voice"
)

// SettingsFromConfig 由配置生成对话参数，未配置的项保留默认值
func SettingsFromConfig(cfg *config.Config) Settings {
	capture := voice.DefaultCaptureOptions()
	if cfg.Audio.SampleRate > 0 {
		capture.SampleRate = cfg.Audio.SampleRate
	}
	if cfg.Audio.BlockMillis > 0 {
		capture.BlockMillis = cfg.Audio.BlockMillis
	}

	channel := voice.DefaultChannelOptions()
	if cfg.Channel.HandshakeTimeout > 0 {
		channel.HandshakeTimeout = cfg.Channel.HandshakeTimeout
	}
	if cfg.Channel.WriteTimeout > 0 {
		channel.WriteTimeout = cfg.Channel.WriteTimeout
	}
	if cfg.Channel.MaxDialAttempts > 0 {
		channel.MaxDialAttempts = cfg.Channel.MaxDialAttempts
	}
	channel.DialBackoff = cfg.Channel.DialBackoff

	turn := voice.DefaultTurnOptions()
	turn.Capture.SampleRate = capture.SampleRate
	turn.Capture.BlockMillis = capture.BlockMillis
	if cfg.Turn.MaxRecording > 0 {
		turn.MaxRecording = cfg.Turn.MaxRecording
	}
	turn.MinWAVBytes = cfg.Turn.MinWAVBytes
	turn.RelistenDelay = cfg.Turn.RelistenDelay
	turn.ErrorBackoff = cfg.Turn.ErrorBackoff

	return Settings{Channel: channel, Capture: capture, Turn: turn}
}
