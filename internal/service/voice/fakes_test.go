package voice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

type fakeStream struct {
	mu     sync.Mutex
	frames chan []byte
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan []byte, 64)}
}

func (s *fakeStream) Frames() <-chan []byte { return s.frames }

func (s *fakeStream) push(b []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames <- b
	return true
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeMic struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
	opts    []CaptureOptions
	opened  chan *fakeStream
}

func newFakeMic() *fakeMic {
	return &fakeMic{opened: make(chan *fakeStream, 16)}
}

func (m *fakeMic) Open(ctx context.Context, opts CaptureOptions) (CaptureStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	st := newFakeStream()
	m.streams = append(m.streams, st)
	m.opts = append(m.opts, opts)
	select {
	case m.opened <- st:
	default:
	}
	return st, nil
}

func (m *fakeMic) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

func (m *fakeMic) next(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case st := <-m.opened:
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("microphone was not opened")
		return nil
	}
}

// fakeSpeaker 记录开始与完成的片段；gate 非 nil 时每次播放等待放行
type fakeSpeaker struct {
	mu      sync.Mutex
	gate    chan struct{}
	started [][]byte
	played  [][]byte
}

func (s *fakeSpeaker) Play(ctx context.Context, item model.PlaybackItem) error {
	s.mu.Lock()
	s.started = append(s.started, item.PCM)
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	s.played = append(s.played, item.PCM)
	s.mu.Unlock()
	return nil
}

func (s *fakeSpeaker) startedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.started)
}

func (s *fakeSpeaker) playedStrings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.played))
	for i, p := range s.played {
		out[i] = string(p)
	}
	return out
}

func (s *fakeSpeaker) startedStrings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.started))
	for i, p := range s.started {
		out[i] = string(p)
	}
	return out
}

type fakeCallLog struct {
	mu      sync.Mutex
	entries map[string]*model.CallLogEntry
	seq     int
}

func newFakeCallLog() *fakeCallLog {
	return &fakeCallLog{entries: make(map[string]*model.CallLogEntry)}
}

func (l *fakeCallLog) Start(ctx context.Context, entry model.CallLogEntry) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	entry.ID = fmt.Sprintf("log-%d", l.seq)
	l.entries[entry.ID] = &entry
	return entry.ID, nil
}

func (l *fakeCallLog) Update(ctx context.Context, id string, u model.CallLogUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return errors.New("not found")
	}
	if u.Status != nil {
		e.Status = *u.Status
	}
	if u.ExchangeCount != nil {
		e.ExchangeCount = *u.ExchangeCount
	}
	if u.Transcription != nil {
		e.Transcription = *u.Transcription
	}
	if u.Response != nil {
		e.Response = *u.Response
	}
	if u.Error != nil {
		e.Error = *u.Error
	}
	return nil
}

func (l *fakeCallLog) get(id string) model.CallLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[id]; ok {
		return *e
	}
	return model.CallLogEntry{}
}

// wsServer 测试用的远端，每个连接交给 handle 处理
type wsServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no websocket connection")
		return nil
	}
}

// readFrame 读取下一条 JSON 帧
func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return msg
}

type staticBroker struct {
	url string
	err error
}

func (b staticBroker) SignedURL(ctx context.Context, agentID string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return b.url, nil
}
