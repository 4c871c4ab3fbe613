package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/neurolens/neurolens/internal/model"
)

// fakeClient is a scriptable Client for session tests.
type fakeClient struct {
	connectErr error
	sendErr    func(call int) error // nil = always succeed

	mu        sync.Mutex
	connected bool
	sendCalls int
	sent      [][]byte

	messages chan TimestampedMessage
	errors   chan error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		messages: make(chan TimestampedMessage, 16),
		errors:   make(chan error, 1),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErr != nil {
		if err := f.sendErr(f.sendCalls); err != nil {
			return err
		}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeClient) Messages() <-chan TimestampedMessage { return f.messages }
func (f *fakeClient) Errors() <-chan error                { return f.errors }

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) sentFrames(t *testing.T) []model.Frame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	frames := make([]model.Frame, 0, len(f.sent))
	for _, data := range f.sent {
		frame, err := DecodeFrame(data)
		if err != nil {
			t.Fatalf("sent payload does not decode: %v", err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func (f *fakeClient) deliver(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	f.messages <- TimestampedMessage{Data: data, ReceivedAt: time.Now()}
}

// recorder collects handler events in arrival order.
type recorder struct {
	mu     sync.Mutex
	events []string
	errs   []error
	frames []model.ProcessedFrame
}

func (r *recorder) OnFrame(f model.ProcessedFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "frame")
	r.frames = append(r.frames, f)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "error")
	r.errs = append(r.errs, err)
}

func (r *recorder) OnStateChange(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("connected=%v", connected))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func (r *recorder) lastErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[len(r.errs)-1]
}

// waitFor polls until the condition holds or the test deadline expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testSessionConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.ReconnectBase = time.Millisecond
	cfg.MaxAttempts = 3
	cfg.QueueCapacity = 16
	cfg.ResponseTimeout = 50 * time.Millisecond
	return cfg
}

// newTestSession wires a session to a sequence of fake clients. When
// the factory runs out of scripted clients, the last one is reused.
func newTestSession(cfg SessionConfig, rec *recorder, clients ...*fakeClient) *Session {
	s := NewSession(cfg, rec, slog.Default())
	var mu sync.Mutex
	i := 0
	s.newClient = func(ClientConfig, *slog.Logger) Client {
		mu.Lock()
		defer mu.Unlock()
		cl := clients[i]
		if i < len(clients)-1 {
			i++
		}
		return cl
	}
	return s
}

func TestSessionFlushesQueueInOrder(t *testing.T) {
	rec := &recorder{}
	cl := newFakeClient()
	s := newTestSession(testSessionConfig(), rec, cl)
	defer s.Close()

	// Enqueue while disconnected.
	for ts := int64(1); ts <= 4; ts++ {
		if err := s.SendFrame(frameAt(ts)); err != nil {
			t.Fatalf("SendFrame failed: %v", err)
		}
	}
	if got := s.Stats().QueuedFrames; got != 4 {
		t.Fatalf("QueuedFrames = %d, want 4", got)
	}

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, "queue drain", func() bool { return s.Stats().QueuedFrames == 0 })

	frames := cl.sentFrames(t)
	if len(frames) != 4 {
		t.Fatalf("sent %d frames, want 4", len(frames))
	}
	for i, want := range []int64{1, 2, 3, 4} {
		if frames[i].Timestamp != want {
			t.Errorf("frame %d timestamp = %d, want %d", i, frames[i].Timestamp, want)
		}
	}
}

func TestSessionFlushFailureRequeuesAtFront(t *testing.T) {
	rec := &recorder{}
	cl := newFakeClient()
	// Second send fails; the rest would succeed.
	cl.sendErr = func(call int) error {
		if call == 2 {
			return errors.New("write: broken pipe")
		}
		return nil
	}

	s := newTestSession(testSessionConfig(), rec, cl)
	defer s.Close()

	for ts := int64(1); ts <= 3; ts++ {
		s.SendFrame(frameAt(ts))
	}
	s.Connect(context.Background())

	waitFor(t, "flush to stop", func() bool { return s.Stats().SentFrames == 1 })

	// Frame 2 failed mid-flush and must be back at the head, frame 3 behind it.
	snap := s.queue.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("queue length after failed flush = %d, want 2", len(snap))
	}
	if snap[0].Timestamp != 2 || snap[1].Timestamp != 3 {
		t.Errorf("queue order = [%d, %d], want [2, 3]", snap[0].Timestamp, snap[1].Timestamp)
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1600 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := backoffDelay(base, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%v, %d) = %v, want %v", base, tt.attempt, got, tt.want)
		}
	}
}

func TestSessionTerminalAfterMaxAttempts(t *testing.T) {
	rec := &recorder{}
	cl := newFakeClient()
	cl.connectErr = errors.New("dial tcp: connection refused")

	cfg := testSessionConfig()
	cfg.MaxAttempts = 2
	s := newTestSession(cfg, rec, cl)
	defer s.Close()

	s.SendFrame(frameAt(1))
	s.Connect(context.Background())

	waitFor(t, "terminal error", func() bool {
		return errors.Is(rec.lastErr(), ErrRetriesExhausted)
	})

	// Initial failure + 2 retries + terminal = 4 errors, no more.
	if got := rec.errorCount(); got != 4 {
		t.Errorf("error count = %d, want 4", got)
	}
	if got := s.State(); got != StateFailed {
		t.Errorf("State = %v, want %v", got, StateFailed)
	}
	if got := s.Stats().QueuedFrames; got != 0 {
		t.Errorf("QueuedFrames after teardown = %d, want 0", got)
	}

	// No further retry is scheduled.
	before := rec.errorCount()
	time.Sleep(20 * time.Millisecond)
	if got := rec.errorCount(); got != before {
		t.Errorf("errors kept arriving after terminal: %d -> %d", before, got)
	}
}

func TestSessionMalformedInboundReportedOnce(t *testing.T) {
	rec := &recorder{}
	cl := newFakeClient()
	s := newTestSession(testSessionConfig(), rec, cl)
	defer s.Close()

	s.Connect(context.Background())
	waitFor(t, "open", func() bool { return s.State() == StateOpen })

	cl.messages <- TimestampedMessage{Data: []byte("not json{{"), ReceivedAt: time.Now()}

	waitFor(t, "parse error", func() bool { return rec.errorCount() == 1 })

	var pe *ParseError
	if !errors.As(rec.lastErr(), &pe) {
		t.Errorf("expected ParseError, got %T", rec.lastErr())
	}

	// Connection stays up and keeps delivering frames.
	if s.State() != StateOpen {
		t.Errorf("State = %v, want %v", s.State(), StateOpen)
	}
	cl.deliver(t, model.ProcessedFrame{FrameID: "after-garbage"})
	waitFor(t, "frame after garbage", func() bool { return s.Stats().FramesReceived == 1 })

	if got := rec.errorCount(); got != 1 {
		t.Errorf("error count = %d, want exactly 1", got)
	}
}

func TestSessionServerErrorPayload(t *testing.T) {
	rec := &recorder{}
	cl := newFakeClient()
	s := newTestSession(testSessionConfig(), rec, cl)
	defer s.Close()

	s.Connect(context.Background())
	waitFor(t, "open", func() bool { return s.State() == StateOpen })

	cl.deliver(t, map[string]string{"error": "Error processing video frame: decode failed"})
	waitFor(t, "server error", func() bool { return rec.errorCount() == 1 })

	var se *ServerError
	if !errors.As(rec.lastErr(), &se) {
		t.Fatalf("expected ServerError, got %T", rec.lastErr())
	}
	if s.State() != StateOpen {
		t.Error("server error must not close the connection")
	}
}

func TestSessionCloseClearsQueue(t *testing.T) {
	rec := &recorder{}
	cl := newFakeClient()
	s := newTestSession(testSessionConfig(), rec, cl)

	s.SendFrame(frameAt(1))
	s.SendFrame(frameAt(2))

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if got := s.Stats().QueuedFrames; got != 0 {
		t.Fatalf("QueuedFrames after Close = %d, want 0", got)
	}

	// A send after Close queues fresh rather than going out.
	s.SendFrame(frameAt(3))
	if got := s.Stats().QueuedFrames; got != 1 {
		t.Errorf("QueuedFrames = %d, want 1", got)
	}
	if got := s.Stats().SentFrames; got != 0 {
		t.Errorf("SentFrames = %d, want 0", got)
	}
}

func TestSessionRecoveryScenario(t *testing.T) {
	// Endpoint unreachable for the first two attempts, up on the third.
	rec := &recorder{}
	bad := newFakeClient()
	bad.connectErr = errors.New("dial tcp: connection refused")
	bad2 := newFakeClient()
	bad2.connectErr = errors.New("dial tcp: connection refused")
	good := newFakeClient()

	cfg := testSessionConfig()
	s := newTestSession(cfg, rec, bad, bad2, good)
	defer s.Close()

	s.SendFrame(frameAt(1))
	s.SendFrame(frameAt(2))

	s.Connect(context.Background())
	waitFor(t, "open", func() bool { return s.State() == StateOpen })
	waitFor(t, "queue drain", func() bool { return s.Stats().QueuedFrames == 0 })

	events := rec.snapshot()
	want := []string{"error", "error", "connected=true"}
	if len(events) < len(want) {
		t.Fatalf("events = %v, want prefix %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, events[i], want[i])
		}
	}

	frames := good.sentFrames(t)
	if len(frames) != 2 || frames[0].Timestamp != 1 || frames[1].Timestamp != 2 {
		t.Errorf("flushed frames out of order: %+v", frames)
	}
}

func TestSessionConnectWhileConnecting(t *testing.T) {
	rec := &recorder{}
	cl := newFakeClient()
	cl.connectErr = errors.New("dial tcp: connection refused")

	cfg := testSessionConfig()
	cfg.ReconnectBase = time.Hour // park the session in connecting
	s := newTestSession(cfg, rec, cl)
	defer s.Close()

	s.Connect(context.Background())
	waitFor(t, "connecting", func() bool { return s.State() == StateConnecting })

	errsBefore := rec.errorCount()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("reentrant Connect failed: %v", err)
	}
	if got := rec.errorCount(); got != errsBefore {
		t.Errorf("reentrant Connect dialed again: errors %d -> %d", errsBefore, got)
	}
}

func TestSessionReconnectsAfterDrop(t *testing.T) {
	rec := &recorder{}
	first := newFakeClient()
	second := newFakeClient()

	s := newTestSession(testSessionConfig(), rec, first, second)
	defer s.Close()

	s.Connect(context.Background())
	waitFor(t, "open", func() bool { return s.State() == StateOpen })

	first.errors <- ErrStaleConnection

	waitFor(t, "reopen", func() bool {
		return s.State() == StateOpen && second.IsConnected()
	})

	events := rec.snapshot()
	want := []string{"connected=true", "connected=false", "connected=true"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, events[i], want[i])
		}
	}

	// Attempt counter reset on the successful reopen.
	if got := s.Stats().State; got != StateOpen {
		t.Errorf("State = %v, want open", got)
	}
}

func TestSessionSendFrameAwait(t *testing.T) {
	rec := &recorder{}
	cl := newFakeClient()
	s := newTestSession(testSessionConfig(), rec, cl)
	defer s.Close()

	s.Connect(context.Background())
	waitFor(t, "open", func() bool { return s.State() == StateOpen })

	// Reply arrives after the send.
	go func() {
		waitFor(t, "send", func() bool { return len(cl.sentFrames(t)) == 1 })
		cl.deliver(t, model.ProcessedFrame{FrameID: "reply-1"})
	}()

	pf, err := s.SendFrameAwait(context.Background(), frameAt(1))
	if err != nil {
		t.Fatalf("SendFrameAwait failed: %v", err)
	}
	if pf == nil || pf.FrameID != "reply-1" {
		t.Fatalf("reply = %+v, want frame reply-1", pf)
	}
}

func TestSessionSendFrameAwaitTimeout(t *testing.T) {
	rec := &recorder{}
	cl := newFakeClient()
	s := newTestSession(testSessionConfig(), rec, cl)
	defer s.Close()

	s.Connect(context.Background())
	waitFor(t, "open", func() bool { return s.State() == StateOpen })

	pf, err := s.SendFrameAwait(context.Background(), frameAt(1))
	if err != nil {
		t.Fatalf("SendFrameAwait returned error on timeout: %v", err)
	}
	if pf != nil {
		t.Fatalf("reply = %+v, want nil on timeout", pf)
	}
}
