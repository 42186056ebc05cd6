package audio

import (
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-tavern/voiceagent/internal/config"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/service/voice"
)

// Devices 进程使用的采集与播放设备
type Devices struct {
	Microphone voice.Microphone
	Speaker    voice.Speaker
	close      func() error
}

// Close 释放设备
func (d *Devices) Close() error {
	if d.close == nil {
		return nil
	}
	return d.close()
}

// OpenDevices 按配置打开本地声卡。扬声器不可用时退化为 DiscardSpeaker；
// 关闭本地设备时没有麦克风，只能使用不需要采集的功能。
func OpenDevices(cfg config.AudioConfig, logger zerolog.Logger) *Devices {
	if !cfg.LocalDevices {
		logger.Info().Msg("local audio devices disabled")
		return &Devices{Speaker: DiscardSpeaker{}}
	}

	mic := NewMalgoMicrophone(logger)
	devices := &Devices{Microphone: mic, close: mic.Close}

	speaker, err := NewOtoSpeaker(cfg.OutputRate, 1, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("speaker unavailable, playback will be silent")
		devices.Speaker = DiscardSpeaker{}
		return devices
	}
	devices.Speaker = speaker
	return devices
}
