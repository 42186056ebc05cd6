package voice

import "errors"

// 错误分类。调用方通过 errors.Is 判断，具体原因以 %w 包装在后。
var (
	// ErrCredential 凭证代理不可达或拒绝签发
	ErrCredential = errors.New("credential error")
	// ErrConnection 双工连接建立或传输失败
	ErrConnection = errors.New("connection error")
	// ErrProtocol 入站帧格式错误，仅记录不中断
	ErrProtocol = errors.New("protocol error")
	// ErrAudioCapture 麦克风权限被拒绝或设备故障
	ErrAudioCapture = errors.New("audio capture error")
	// ErrAudioTooShort 录音封装后小于最小有效长度
	ErrAudioTooShort = errors.New("audio too short")
	// ErrPlayback 单个片段解码或播放失败
	ErrPlayback = errors.New("playback error")
	// ErrTurnEndpoint 回合制接口请求失败
	ErrTurnEndpoint = errors.New("turn endpoint error")

	ErrChannelNotOpen = errors.New("channel not open")
	ErrMicrophoneBusy = errors.New("microphone already in use")
	ErrSessionClosed  = errors.New("session closed")
)
