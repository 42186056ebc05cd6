package audio

import "errors"

// ErrUnavailable 当前构建不支持本地音频设备
var ErrUnavailable = errors.New("audio device unavailable in this build")
