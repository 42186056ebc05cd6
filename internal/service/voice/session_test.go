package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/observability"
)

type sessionFixture struct {
	srv     *wsServer
	mic     *fakeMic
	lease   *MicrophoneLease
	speaker *fakeSpeaker
	calls   *fakeCallLog
	metrics *observability.Metrics

	mu       sync.Mutex
	errs     []error
	statuses []model.SessionState
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	return &sessionFixture{
		srv:     newWSServer(t),
		mic:     newFakeMic(),
		lease:   NewMicrophoneLease(),
		speaker: &fakeSpeaker{},
		calls:   newFakeCallLog(),
		metrics: observability.NewMetrics("test"),
	}
}

func (f *sessionFixture) deps(broker CredentialBroker) SessionDeps {
	return SessionDeps{
		Broker:     broker,
		Microphone: f.mic,
		Lease:      f.lease,
		Speaker:    f.speaker,
		CallLog:    f.calls,
		Metrics:    f.metrics,
		Logger:     zerolog.New(io.Discard),
	}
}

func (f *sessionFixture) options() SessionOptions {
	opts := SessionOptions{AgentID: "agent-1", AgentName: "Ada", Channel: testChannelOptions()}
	opts.Callbacks = Callbacks{
		OnError: func(err error) {
			f.mu.Lock()
			f.errs = append(f.errs, err)
			f.mu.Unlock()
		},
		OnStatus: func(s model.SessionState) {
			f.mu.Lock()
			f.statuses = append(f.statuses, s)
			f.mu.Unlock()
		},
	}
	return opts
}

func (f *sessionFixture) start(t *testing.T) (*Session, *websocket.Conn) {
	t.Helper()
	s, err := StartConversation(context.Background(), f.deps(staticBroker{url: f.srv.url()}), f.options())
	if err != nil {
		t.Fatalf("StartConversation err: %v", err)
	}
	t.Cleanup(s.Stop)
	conn := f.srv.accept(t)
	if msg := readFrame(t, conn, time.Second); msg["type"] != TypeConversationInitiation {
		t.Fatalf("expected initiation, got %v", msg)
	}
	return s, conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func audioFrame(pcm string) string {
	return `{"type":"audio","audio_event":{"audio_base_64":"` + base64.StdEncoding.EncodeToString([]byte(pcm)) + `"}}`
}

func TestSessionPlaysAudioInOrder(t *testing.T) {
	f := newSessionFixture(t)
	s, conn := f.start(t)

	if s.State() != model.SessionActive {
		t.Fatalf("expected active session, got %s", s.State())
	}

	for _, pcm := range []string{"aa", "bb", "cc"} {
		sendJSON(t, conn, audioFrame(pcm))
	}

	waitFor(t, 2*time.Second, func() bool { return len(f.speaker.playedStrings()) == 3 }, "three segments")
	got := f.speaker.playedStrings()
	for i, want := range []string{"aa", "bb", "cc"} {
		if got[i] != want {
			t.Fatalf("playback order %v", got)
		}
	}
	waitFor(t, time.Second, func() bool { return s.TurnState() == model.TurnListening }, "listening after playback")
}

func TestSessionInterruptionClearsQueue(t *testing.T) {
	f := newSessionFixture(t)
	f.speaker.gate = make(chan struct{})
	s, conn := f.start(t)

	sendJSON(t, conn, audioFrame("aa"))
	sendJSON(t, conn, audioFrame("bb"))
	waitFor(t, 2*time.Second, func() bool { return f.speaker.startedCount() == 1 }, "first segment")
	waitFor(t, time.Second, func() bool { return s.queue.Len() == 1 }, "second segment queued")

	sendJSON(t, conn, `{"type":"interruption","interruption_event":{"event_id":2}}`)
	waitFor(t, time.Second, func() bool { return s.queue.Len() == 0 && !s.queue.Playing() }, "queue cleared")

	close(f.speaker.gate)
	time.Sleep(30 * time.Millisecond)
	if started := f.speaker.startedStrings(); len(started) != 1 {
		t.Fatalf("no segment after the interrupted one may play, got %v", started)
	}
}

func TestSessionInterruptionWithoutPlaybackReturnsToListening(t *testing.T) {
	f := newSessionFixture(t)
	s, conn := f.start(t)

	sendJSON(t, conn, `{"type":"user_transcript","user_transcription_event":{"user_transcript":"wait"}}`)
	waitFor(t, time.Second, func() bool { return s.TurnState() == model.TurnProcessing }, "processing after transcript")

	sendJSON(t, conn, `{"type":"interruption","interruption_event":{"event_id":3}}`)
	waitFor(t, time.Second, func() bool { return s.TurnState() == model.TurnListening }, "listening after idle interruption")
}

func TestSessionTranscriptAndCorrection(t *testing.T) {
	f := newSessionFixture(t)
	s, conn := f.start(t)

	sendJSON(t, conn, `{"type":"conversation_initiation_metadata","conversation_initiation_metadata_event":{"conversation_id":"conv_1","agent_output_audio_format":"pcm_22050"}}`)
	sendJSON(t, conn, `{"type":"user_transcript","user_transcription_event":{"user_transcript":"tell me a story"}}`)
	sendJSON(t, conn, `{"type":"agent_response","agent_response_event":{"agent_response":"Once upon a time there was"}}`)
	sendJSON(t, conn, `{"type":"agent_response_correction","agent_response_correction_event":{"original_agent_response":"Once upon a time there was","corrected_agent_response":"Once upon a time"}}`)
	sendJSON(t, conn, `{"type":"conversation_initiation_metadata","conversation_initiation_metadata_event":{"conversation_id":"conv_2"}}`)
	sendJSON(t, conn, `{"type":"ping","ping_event":{"event_id":5,"ping_ms":0}}`)

	pong := readFrame(t, conn, time.Second)
	if pong["type"] != TypePong || pong["event_id"] != float64(5) {
		t.Fatalf("unexpected pong %v", pong)
	}

	entries := s.Transcript().Entries()
	if len(entries) != 2 || entries[1].Text != "Once upon a time" {
		t.Fatalf("unexpected transcript %+v", entries)
	}
	if s.ConversationID() != "conv_1" {
		t.Fatalf("conversation id must not change once assigned, got %s", s.ConversationID())
	}
}

func TestSessionStreamsMicrophoneAudio(t *testing.T) {
	f := newSessionFixture(t)
	s, conn := f.start(t)

	stream := f.mic.next(t)
	stream.push([]byte{1, 2, 3, 4})

	msg := readFrame(t, conn, time.Second)
	if msg["user_audio_chunk"] != base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}) {
		t.Fatalf("unexpected chunk %v", msg)
	}

	if err := s.SendUserMessage("hello"); err != nil {
		t.Fatalf("SendUserMessage err: %v", err)
	}
	msg = readFrame(t, conn, time.Second)
	if msg["type"] != TypeUserMessage || msg["text"] != "hello" {
		t.Fatalf("unexpected message %v", msg)
	}
}

func TestSessionStopTearsDown(t *testing.T) {
	f := newSessionFixture(t)
	s, conn := f.start(t)
	stream := f.mic.next(t)

	s.Stop()

	if s.State() != model.SessionClosed {
		t.Fatalf("expected closed, got %s", s.State())
	}
	if !stream.isClosed() || f.lease.Owner() != "" {
		t.Fatal("capture must be released on stop")
	}
	if s.ChannelState() != model.ChannelClosed {
		t.Fatalf("expected closed channel, got %s", s.ChannelState())
	}
	if entry := f.calls.get(s.CallLogID()); entry.Status != model.CallCompleted || entry.Mode != model.ModeStream {
		t.Fatalf("unexpected call log %+v", entry)
	}
	if err := s.SendUserMessage("late"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close frame, got %v", err)
	}

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestSessionRemoteErrorMarksFailed(t *testing.T) {
	f := newSessionFixture(t)
	s, conn := f.start(t)
	conn.Close()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	if s.State() != model.SessionFailed {
		t.Fatalf("expected failed, got %s", s.State())
	}
	if entry := f.calls.get(s.CallLogID()); entry.Status != model.CallFailed {
		t.Fatalf("expected failed call log, got %s", entry.Status)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) != 1 || !errors.Is(f.errs[0], ErrConnection) {
		t.Fatalf("expected one connection error, got %v", f.errs)
	}
}

func TestStartConversationCredentialFailure(t *testing.T) {
	f := newSessionFixture(t)
	broker := staticBroker{err: fmt.Errorf("%w: broker down", ErrCredential)}

	s, err := StartConversation(context.Background(), f.deps(broker), f.options())
	if s != nil || !errors.Is(err, ErrCredential) {
		t.Fatalf("expected no session and ErrCredential, got %v %v", s, err)
	}
	if f.mic.count() != 0 {
		t.Fatal("microphone must not be opened without a credential")
	}
	f.mu.Lock()
	reported := len(f.errs)
	f.mu.Unlock()
	if reported != 1 {
		t.Fatalf("credential failure must reach OnError once, got %d", reported)
	}

	opts := f.options()
	opts.AgentID = ""
	if _, err := StartConversation(context.Background(), f.deps(staticBroker{url: f.srv.url()}), opts); !errors.Is(err, ErrCredential) {
		t.Fatalf("expected ErrCredential for missing agent, got %v", err)
	}
	f.mu.Lock()
	reported = len(f.errs)
	f.mu.Unlock()
	if reported != 2 {
		t.Fatalf("missing agent must reach OnError, got %d errors", reported)
	}
}

func TestStartConversationCaptureFailureClosesChannel(t *testing.T) {
	f := newSessionFixture(t)
	f.mic.err = errors.New("permission denied")

	s, err := StartConversation(context.Background(), f.deps(staticBroker{url: f.srv.url()}), f.options())
	if s != nil || !errors.Is(err, ErrAudioCapture) {
		t.Fatalf("expected ErrAudioCapture, got %v %v", s, err)
	}

	conn := f.srv.accept(t)
	readFrame(t, conn, time.Second)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("channel should be closed after capture failure")
	}

	f.calls.mu.Lock()
	defer f.calls.mu.Unlock()
	for _, e := range f.calls.entries {
		if e.Status != model.CallFailed {
			t.Fatalf("expected failed call log, got %s", e.Status)
		}
	}
}
