package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-tavern/voiceagent/internal/observability"
)

type recordingSender struct {
	mu   sync.Mutex
	open bool
	sent []string
}

func (s *recordingSender) SendAudioChunk(encoded string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrChannelNotOpen
	}
	s.sent = append(s.sent, encoded)
	return nil
}

func (s *recordingSender) setOpen(open bool) {
	s.mu.Lock()
	s.open = open
	s.mu.Unlock()
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestAudioEncoderDropsWhileChannelClosed(t *testing.T) {
	sender := &recordingSender{open: true}
	mic := newFakeMic()
	lease := NewMicrophoneLease()
	metrics := observability.NewMetrics("test")

	enc := NewAudioEncoder(sender, mic, lease, "session:test", DefaultCaptureOptions(), zerolog.New(io.Discard), metrics)
	var levels int
	var levelMu sync.Mutex
	enc.OnLevel(func(float64) {
		levelMu.Lock()
		levels++
		levelMu.Unlock()
	})

	if err := enc.Start(context.Background()); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	stream := mic.next(t)

	stream.push([]byte{1, 0, 2, 0})
	waitFor(t, time.Second, func() bool { return sender.count() == 1 }, "first chunk")

	sender.setOpen(false)
	stream.push([]byte{3, 0})
	stream.push([]byte{4, 0})
	waitFor(t, time.Second, func() bool {
		return testutil.ToFloat64(metrics.AudioChunksTotal.WithLabelValues("outbound", "dropped")) == 2
	}, "dropped chunks")

	sender.setOpen(true)
	stream.push([]byte{5, 0})
	waitFor(t, time.Second, func() bool { return sender.count() == 2 }, "chunk after reopen")

	sender.mu.Lock()
	first, _ := base64.StdEncoding.DecodeString(sender.sent[0])
	second, _ := base64.StdEncoding.DecodeString(sender.sent[1])
	sender.mu.Unlock()
	if len(first) != 4 || second[0] != 5 {
		t.Fatalf("dropped blocks must not be buffered, got %v then %v", first, second)
	}

	enc.Stop()
	if !stream.isClosed() {
		t.Fatal("capture stream not closed")
	}
	if lease.Owner() != "" {
		t.Fatalf("lease still held by %q", lease.Owner())
	}
	levelMu.Lock()
	defer levelMu.Unlock()
	if levels != 4 {
		t.Fatalf("expected a level per block, got %d", levels)
	}
}

func TestAudioEncoderStartFailsWhenMicrophoneBusy(t *testing.T) {
	lease := NewMicrophoneLease()
	release, _ := lease.Acquire("turn:other")
	defer release()

	enc := NewAudioEncoder(&recordingSender{}, newFakeMic(), lease, "session:test", DefaultCaptureOptions(), zerolog.New(io.Discard), nil)
	err := enc.Start(context.Background())
	if !errors.Is(err, ErrAudioCapture) || !errors.Is(err, ErrMicrophoneBusy) {
		t.Fatalf("expected capture error wrapping busy, got %v", err)
	}
	enc.Stop()
}
