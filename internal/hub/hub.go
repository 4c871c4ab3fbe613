package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/neurolens/neurolens/internal/model"
	"github.com/neurolens/neurolens/internal/settings"
)

const welcomeText = "Connected to NeuroLens. Ready to assist you!"

// connection is one registered client socket. gorilla/websocket allows
// a single concurrent writer, so all writes go through writeMu.
type connection struct {
	id      string
	ws      *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
}

func (c *connection) writeJSON(v any, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.ws.WriteJSON(v)
}

// Hub owns the client registry and dispatches inbound envelopes to the
// configured processors.
type Hub struct {
	frames   FrameProcessor
	audio    AudioProcessor
	queries  QueryProcessor
	settings *settings.Store
	recorder Recorder
	logger   *slog.Logger

	writeTimeout time.Duration

	mu     sync.RWMutex
	conns  map[string]*connection
	closed bool
	wg     sync.WaitGroup

	framesIn      atomic.Uint64
	audioIn       atomic.Uint64
	messagesIn    atomic.Uint64
	settingsIn    atomic.Uint64
	errorsOut     atomic.Uint64
	unknownTypes  atomic.Uint64
	parseFailures atomic.Uint64
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithWriteTimeout bounds each outbound socket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) { h.writeTimeout = d }
}

// WithRecorder registers a sink for every outbound ProcessedFrame.
func WithRecorder(r Recorder) Option {
	return func(h *Hub) { h.recorder = r }
}

// NewHub creates a hub dispatching to the given processors. Any
// processor may be nil; envelopes of that type then get an error reply.
func NewHub(frames FrameProcessor, audio AudioProcessor, queries QueryProcessor, store *settings.Store, opts ...Option) *Hub {
	h := &Hub{
		frames:       frames,
		audio:        audio,
		queries:      queries,
		settings:     store,
		logger:       slog.Default(),
		writeTimeout: 5 * time.Second,
		conns:        make(map[string]*connection),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "hub")
	return h
}

// HandleConn registers the socket, sends the welcome caption, and runs
// the read loop until the client disconnects or ctx is canceled. It
// blocks; callers run it from the HTTP handler goroutine.
func (h *Hub) HandleConn(ctx context.Context, ws *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	conn := &connection{
		id:     uuid.New().String(),
		ws:     ws,
		cancel: cancel,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		ws.Close()
		return
	}
	h.conns[conn.id] = conn
	h.mu.Unlock()

	logger := h.logger.With("client_id", conn.id)
	logger.Info("client connected")

	welcome := &model.ProcessedFrame{
		Captions: []model.Caption{{
			ID:        uuid.New().String(),
			Text:      welcomeText,
			Type:      model.CaptionVisual,
			Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
			Priority:  model.PriorityHigh,
		}},
	}
	if err := conn.writeJSON(welcome, h.writeTimeout); err != nil {
		logger.Warn("welcome send failed", "error", err)
	}

	defer func() {
		h.unregister(conn.id)
		logger.Info("client disconnected")
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("read error", "error", err)
			}
			return
		}
		select {
		case <-connCtx.Done():
			return
		default:
		}
		h.dispatch(connCtx, conn, logger, raw)
	}
}

// dispatch decodes one envelope and hands it to the matching
// processor. Processing runs in its own goroutine so a slow frame does
// not stall the read loop.
func (h *Hub) dispatch(ctx context.Context, conn *connection, logger *slog.Logger, raw []byte) {
	var env clientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.parseFailures.Add(1)
		logger.Error("invalid envelope json", "error", err)
		return
	}

	switch env.Type {
	case "frame":
		h.framesIn.Add(1)
		video, err := base64.StdEncoding.DecodeString(env.Data.Video)
		if err != nil {
			h.replyError(conn, logger, "invalid base64 video payload")
			return
		}
		h.spawn(func() { h.runFrame(ctx, conn, logger, video) })

	case "audio":
		h.audioIn.Add(1)
		audio, err := base64.StdEncoding.DecodeString(env.Data.Audio)
		if err != nil {
			h.replyError(conn, logger, "invalid base64 audio payload")
			return
		}
		h.spawn(func() { h.runAudio(ctx, conn, logger, audio) })

	case "message":
		h.messagesIn.Add(1)
		if env.Content == "" {
			return
		}
		h.spawn(func() { h.runQuery(ctx, conn, logger, env.Content) })

	case "settings":
		h.settingsIn.Add(1)
		if env.Settings == nil {
			h.replyError(conn, logger, "settings payload missing")
			return
		}
		if err := h.settings.Update(*env.Settings); err != nil {
			h.replyError(conn, logger, err.Error())
			return
		}
		logger.Info("settings updated")

	default:
		h.unknownTypes.Add(1)
		logger.Warn("unknown envelope type", "type", env.Type)
	}
}

func (h *Hub) spawn(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

func (h *Hub) runFrame(ctx context.Context, conn *connection, logger *slog.Logger, video []byte) {
	if h.frames == nil {
		h.replyError(conn, logger, "frame processing unavailable")
		return
	}
	frame, err := h.frames.ProcessFrame(ctx, video)
	if err != nil {
		logger.Error("frame processing failed", "error", err)
		h.replyError(conn, logger, "Error processing video frame: "+err.Error())
		return
	}
	h.deliver(conn, logger, frame)
}

func (h *Hub) runAudio(ctx context.Context, conn *connection, logger *slog.Logger, audio []byte) {
	if h.audio == nil {
		h.replyError(conn, logger, "audio processing unavailable")
		return
	}
	frame, err := h.audio.ProcessAudio(ctx, audio)
	if err != nil {
		logger.Error("audio processing failed", "error", err)
		h.replyError(conn, logger, "Error processing audio: "+err.Error())
		return
	}
	if frame == nil {
		// Nothing transcribed; stay silent.
		return
	}
	h.deliver(conn, logger, frame)
}

func (h *Hub) runQuery(ctx context.Context, conn *connection, logger *slog.Logger, query string) {
	if h.queries == nil {
		h.replyError(conn, logger, "message processing unavailable")
		return
	}
	frame, err := h.queries.ProcessQuery(ctx, query)
	if err != nil {
		logger.Error("message processing failed", "error", err)
		h.replyError(conn, logger, "Error handling user message: "+err.Error())
		return
	}
	h.deliver(conn, logger, frame)
}

func (h *Hub) deliver(conn *connection, logger *slog.Logger, frame *model.ProcessedFrame) {
	if h.recorder != nil {
		h.recorder.Record(conn.id, frame)
	}
	if err := conn.writeJSON(frame, h.writeTimeout); err != nil {
		logger.Warn("send failed", "error", err)
	}
}

func (h *Hub) replyError(conn *connection, logger *slog.Logger, msg string) {
	h.errorsOut.Add(1)
	if err := conn.writeJSON(errorReply{Error: msg}, h.writeTimeout); err != nil {
		logger.Warn("error reply send failed", "error", err)
	}
}

// SendTo sends v to one client.
func (h *Hub) SendTo(id string, v any) error {
	h.mu.RLock()
	closed := h.closed
	conn, ok := h.conns[id]
	h.mu.RUnlock()
	if closed {
		return ErrHubClosed
	}
	if !ok {
		return ErrUnknownClient
	}
	return conn.writeJSON(v, h.writeTimeout)
}

// Broadcast sends v to every client, dropping connections whose write
// fails.
func (h *Hub) Broadcast(v any) {
	h.mu.RLock()
	conns := make([]*connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.writeJSON(v, h.writeTimeout); err != nil {
			h.logger.Warn("broadcast failed, dropping client", "client_id", conn.id, "error", err)
			h.unregister(conn.id)
		}
	}
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	conn, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
	}
	h.mu.Unlock()
	if ok {
		conn.cancel()
		conn.ws.Close()
	}
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	connections := len(h.conns)
	h.mu.RUnlock()
	return Stats{
		Connections:   connections,
		FramesIn:      h.framesIn.Load(),
		AudioIn:       h.audioIn.Load(),
		MessagesIn:    h.messagesIn.Load(),
		SettingsIn:    h.settingsIn.Load(),
		Errors:        h.errorsOut.Load(),
		UnknownTypes:  h.unknownTypes.Load(),
		ParseFailures: h.parseFailures.Load(),
	}
}

// Close disconnects all clients and waits for in-flight processing.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]*connection)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.cancel()
		conn.ws.Close()
	}
	h.wg.Wait()
}
