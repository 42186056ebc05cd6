package main

import (
	"fmt"
	"io"
	"sync"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/service/voice"
)

// printer 把对话事件写到终端
type printer struct {
	mu        sync.Mutex
	out       io.Writer
	showLevel bool
}

func (p *printer) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) callbacks() voice.Callbacks {
	return voice.Callbacks{
		OnStatus:         func(s model.SessionState) { p.line("[status] %s", s) },
		OnConversationID: func(id string) { p.line("[conversation] %s", id) },
		OnUserTranscript: func(text string) { p.line("you:   %s", text) },
		OnAgentResponse:  func(text string) { p.line("agent: %s", text) },
		OnAgentResponseCorrection: func(_, corrected string) {
			p.line("agent (corrected): %s", corrected)
		},
		OnAudioLevel: func(level float64) {
			if p.showLevel {
				p.line("[level] %.3f", level)
			}
		},
		OnTurnState: func(s model.TurnState) { p.line("[turn] %s", s) },
		OnError:     func(err error) { p.line("[error] %v", err) },
	}
}
