//go:build !cgo

package audio

import (
	"context"

	"github.com/rs/zerolog"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/service/voice"
)

// MalgoMicrophone 在无 cgo 的构建中不可用
type MalgoMicrophone struct{}

func NewMalgoMicrophone(zerolog.Logger) *MalgoMicrophone { return &MalgoMicrophone{} }

func (*MalgoMicrophone) Open(context.Context, voice.CaptureOptions) (voice.CaptureStream, error) {
	return nil, ErrUnavailable
}

func (*MalgoMicrophone) Close() error { return nil }

// OtoSpeaker 在无 cgo 的构建中不可用
type OtoSpeaker struct{}

func NewOtoSpeaker(int, int, zerolog.Logger) (*OtoSpeaker, error) { return nil, ErrUnavailable }

func (*OtoSpeaker) Play(context.Context, model.PlaybackItem) error { return ErrUnavailable }
