package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/neurolens/neurolens/internal/model"
)

// Handler receives session events. It is registered once at
// construction; there is no mutable callback set.
type Handler interface {
	// OnFrame is called for each processed frame from the gateway.
	OnFrame(frame model.ProcessedFrame)

	// OnError is called for connection errors, parse errors, server
	// error reports, and the terminal ErrRetriesExhausted.
	OnError(err error)

	// OnStateChange is called when the connection opens or drops.
	OnStateChange(connected bool)
}

// HandlerFuncs is a function adapter for Handler. Nil fields are no-ops.
type HandlerFuncs struct {
	Frame       func(model.ProcessedFrame)
	Error       func(error)
	StateChange func(bool)
}

func (h HandlerFuncs) OnFrame(f model.ProcessedFrame) {
	if h.Frame != nil {
		h.Frame(f)
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

func (h HandlerFuncs) OnStateChange(connected bool) {
	if h.StateChange != nil {
		h.StateChange(connected)
	}
}

// Session owns one WebSocket connection to the gateway. It reconnects
// with exponential backoff up to a bounded attempt count and queues
// outbound frames while the socket is unavailable, flushing them in
// FIFO order once it reopens.
//
// Lifecycle: idle -> connecting -> open -> (closed -> connecting)* ->
// idle after Close, or failed once reconnect attempts are exhausted.
type Session struct {
	cfg     SessionConfig
	handler Handler
	logger  *slog.Logger

	// Client factory, replaced in tests
	newClient func(ClientConfig, *slog.Logger) Client

	queue *frameQueue

	// Serializes queue flushes so FIFO order holds under concurrent sends
	flushMu sync.Mutex

	mu       sync.Mutex
	state    State
	client   Client
	ctx      context.Context
	done     chan struct{}
	timer    *time.Timer
	attempts int
	gen      int // connection generation, invalidates stale timers and read loops

	// One-shot reply correlation for SendFrameAwait
	waiter chan model.ProcessedFrame

	// Counters
	sent        int64
	received    int64
	parseErrors int64
	reconnects  int64
}

// NewSession creates a session. The handler is bound for the lifetime
// of the session.
func NewSession(cfg SessionConfig, handler Handler, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}

	return &Session{
		cfg:       cfg,
		handler:   handler,
		logger:    logger,
		newClient: NewClient,
		queue:     newFrameQueue(cfg.QueueCapacity),
		state:     StateIdle,
	}
}

// Connect opens the socket. It is a no-op while a connection attempt is
// in flight or the session is already open. Dial errors do not fail the
// call; they are reported through the handler and enter the reconnect
// path.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateOpen {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.attempts = 0
	s.gen++
	gen := s.gen
	s.ctx = ctx
	if s.done == nil {
		s.done = make(chan struct{})
	}
	s.mu.Unlock()

	s.dial(gen)
	return nil
}

// Close tears the session down: the socket is closed, pending reconnect
// timers are cancelled, and the queue and counters are cleared.
// Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	cl := s.client
	s.client = nil
	done := s.done
	s.done = nil
	s.state = StateIdle
	s.attempts = 0
	s.waiter = nil
	s.mu.Unlock()

	if done != nil {
		close(done)
	}
	if cl != nil {
		cl.Close()
	}
	s.queue.Clear()
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		State:          s.state,
		QueuedFrames:   s.queue.Len(),
		DroppedFrames:  s.queue.Dropped(),
		SentFrames:     s.sent,
		FramesReceived: s.received,
		ParseErrors:    s.parseErrors,
		Reconnects:     s.reconnects,
	}
}

// SendFrame sends a frame if the socket is open; otherwise the frame is
// queued for the next flush. A direct send failure requeues the frame
// at the front so no capture is lost across the reconnect.
func (s *Session) SendFrame(f model.Frame) error {
	s.mu.Lock()
	cl := s.client
	open := s.state == StateOpen
	s.mu.Unlock()

	if !open || cl == nil {
		s.queue.Push(f)
		s.flush()
		return nil
	}

	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}

	if err := cl.Send(data); err != nil {
		s.queue.PushFront(f)
		return err
	}

	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	return nil
}

// SendFrameAwait sends a frame and waits for the next processed frame
// from the gateway. A timeout is not an error: it returns (nil, nil) so
// callers fall back to the regular OnFrame delivery.
func (s *Session) SendFrameAwait(ctx context.Context, f model.Frame) (*model.ProcessedFrame, error) {
	ch := make(chan model.ProcessedFrame, 1)

	s.mu.Lock()
	s.waiter = ch
	s.mu.Unlock()

	clear := func() {
		s.mu.Lock()
		if s.waiter == ch {
			s.waiter = nil
		}
		s.mu.Unlock()
	}

	if err := s.SendFrame(f); err != nil {
		clear()
		return nil, err
	}

	select {
	case pf := <-ch:
		return &pf, nil
	case <-time.After(s.cfg.ResponseTimeout):
		clear()
		return nil, nil
	case <-ctx.Done():
		clear()
		return nil, ctx.Err()
	}
}

// backoffDelay returns the wait before reconnect attempt n (1-based):
// base * 2^(n-1).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// dial makes one connection attempt for the given generation.
func (s *Session) dial(gen int) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	cl := s.newClient(ClientConfig{
		URL:          s.cfg.URL,
		PingInterval: s.cfg.PingInterval,
		PingTimeout:  s.cfg.PingTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BufferSize:   64,
	}, s.logger)

	if err := cl.Connect(ctx); err != nil {
		s.handler.OnError(err)
		s.scheduleReconnect(gen)
		return
	}

	s.onOpen(cl, gen)
}

// onOpen installs the connected client, resets the attempt counter, and
// flushes queued frames.
func (s *Session) onOpen(cl Client, gen int) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		cl.Close()
		return
	}
	s.client = cl
	s.state = StateOpen
	s.attempts = 0
	done := s.done
	s.mu.Unlock()

	s.logger.Info("session connected", "url", s.cfg.URL)
	s.handler.OnStateChange(true)

	go s.readLoop(cl, gen, done)
	s.flush()
}

// readLoop consumes one client's messages until the connection drops or
// the session closes.
func (s *Session) readLoop(cl Client, gen int, done chan struct{}) {
	for {
		select {
		case <-done:
			return

		case err := <-cl.Errors():
			s.onDrop(cl, gen, err)
			return

		case msg, ok := <-cl.Messages():
			if !ok {
				return
			}
			s.handleMessage(msg.Data)
		}
	}
}

// onDrop handles a lost connection: the disconnected state is reported
// and the reconnect policy starts.
func (s *Session) onDrop(cl Client, gen int, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.client = nil
	s.state = StateClosed
	s.mu.Unlock()

	cl.Close()

	s.logger.Warn("connection dropped", "error", err)
	s.handler.OnStateChange(false)
	s.scheduleReconnect(gen)
}

// scheduleReconnect arms the backoff timer for the next attempt, or
// reports the terminal error once attempts are exhausted.
func (s *Session) scheduleReconnect(gen int) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	if s.attempts >= s.cfg.MaxAttempts {
		s.state = StateFailed
		s.client = nil
		s.timer = nil
		s.mu.Unlock()

		s.queue.Clear()
		s.logger.Error("reconnect attempts exhausted", "attempts", s.cfg.MaxAttempts)
		s.handler.OnError(ErrRetriesExhausted)
		return
	}

	s.attempts++
	s.reconnects++
	attempt := s.attempts
	delay := backoffDelay(s.cfg.ReconnectBase, attempt)
	s.state = StateConnecting
	s.timer = time.AfterFunc(delay, func() {
		s.dial(gen)
	})
	s.mu.Unlock()

	s.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

// flush drains the queue in FIFO order. The first send failure stops
// the flush and restores the in-flight frame to the head of the queue.
func (s *Session) flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	for {
		s.mu.Lock()
		cl := s.client
		open := s.state == StateOpen
		s.mu.Unlock()

		if !open || cl == nil {
			return
		}

		f, ok := s.queue.Pop()
		if !ok {
			return
		}

		data, err := EncodeFrame(f)
		if err != nil {
			s.logger.Warn("dropping unencodable frame", "error", err)
			continue
		}

		if err := cl.Send(data); err != nil {
			s.queue.PushFront(f)
			s.logger.Warn("flush interrupted", "error", err, "queued", s.queue.Len())
			return
		}

		s.mu.Lock()
		s.sent++
		s.mu.Unlock()
	}
}

// handleMessage parses one inbound payload. Malformed payloads are
// reported without closing the connection.
func (s *Session) handleMessage(data []byte) {
	var sm serverMessage
	if err := json.Unmarshal(data, &sm); err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		s.handler.OnError(&ParseError{Err: err})
		return
	}

	if sm.Error != "" {
		s.handler.OnError(&ServerError{Message: sm.Error})
		return
	}

	s.mu.Lock()
	s.received++
	w := s.waiter
	s.waiter = nil
	s.mu.Unlock()

	if w != nil {
		select {
		case w <- sm.ProcessedFrame:
		default:
		}
	}

	s.handler.OnFrame(sm.ProcessedFrame)
}
