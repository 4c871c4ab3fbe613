package stream

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/neurolens/neurolens/internal/model"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no traffic)")
	ErrGatewayClosed    = errors.New("gateway closed the connection")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

// ServerError is a processing error reported by the gateway inside an
// otherwise healthy connection.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

// ParseError wraps a malformed inbound payload. The connection stays up.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "parse frame: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// TimestampedMessage wraps raw message data with a receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// State is the session lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed" // transient, between drop and redial
	StateFailed     State = "failed" // reconnect attempts exhausted
)

// -----------------------------------------------------------------------------
// Wire types
// -----------------------------------------------------------------------------

// Envelope is the client-to-server message wrapper.
type Envelope struct {
	Type string       `json:"type"` // "frame" or "audio"
	Data FramePayload `json:"data"`
}

// FramePayload carries one capture unit with binary parts as base64.
type FramePayload struct {
	Video     string `json:"video,omitempty"`
	Audio     string `json:"audio"`
	Timestamp int64  `json:"timestamp"`
}

// EncodeFrame builds the wire envelope for a frame. Frames without
// video are sent as audio-only messages.
func EncodeFrame(f model.Frame) ([]byte, error) {
	env := Envelope{
		Type: "frame",
		Data: FramePayload{
			Audio:     base64.StdEncoding.EncodeToString(f.Audio),
			Timestamp: f.Timestamp,
		},
	}
	if len(f.Video) > 0 {
		env.Data.Video = base64.StdEncoding.EncodeToString(f.Video)
	} else {
		env.Type = "audio"
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// DecodeFrame reverses EncodeFrame. Used by the gateway and in tests.
func DecodeFrame(data []byte) (model.Frame, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.Frame{}, fmt.Errorf("decode envelope: %w", err)
	}

	var f model.Frame
	f.Timestamp = env.Data.Timestamp

	if env.Data.Video != "" {
		video, err := base64.StdEncoding.DecodeString(env.Data.Video)
		if err != nil {
			return model.Frame{}, fmt.Errorf("decode video: %w", err)
		}
		f.Video = video
	}
	if env.Data.Audio != "" {
		audio, err := base64.StdEncoding.DecodeString(env.Data.Audio)
		if err != nil {
			return model.Frame{}, fmt.Errorf("decode audio: %w", err)
		}
		f.Audio = audio
	}

	return f, nil
}

// serverMessage is the inbound union: either a processed frame or an
// error report from the gateway.
type serverMessage struct {
	Error string `json:"error"`
	model.ProcessedFrame
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// ClientConfig configures a single WebSocket client.
type ClientConfig struct {
	URL          string        // WebSocket URL (e.g., ws://localhost:8000/ws)
	PingInterval time.Duration // How often to send keepalive pings
	PingTimeout  time.Duration // Max time without ping/pong before the connection is stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:          "ws://localhost:8000/ws",
		PingInterval: 30 * time.Second,
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   64,
	}
}

// SessionConfig configures a Session.
type SessionConfig struct {
	URL             string        // WebSocket URL
	ReconnectBase   time.Duration // Delay before reconnect attempt 1; attempt n waits base * 2^(n-1)
	MaxAttempts     int           // Reconnect attempts before giving up
	QueueCapacity   int           // Outbound frame queue bound (oldest dropped on overflow)
	ResponseTimeout time.Duration // How long SendFrameAwait waits for a reply
	PingInterval    time.Duration
	PingTimeout     time.Duration
	WriteTimeout    time.Duration
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		URL:             "ws://localhost:8000/ws",
		ReconnectBase:   time.Second,
		MaxAttempts:     5,
		QueueCapacity:   256,
		ResponseTimeout: 5 * time.Second,
		PingInterval:    30 * time.Second,
		PingTimeout:     60 * time.Second,
		WriteTimeout:    5 * time.Second,
	}
}

// Stats is a point-in-time snapshot of session counters.
type Stats struct {
	State          State
	QueuedFrames   int
	DroppedFrames  int64
	SentFrames     int64
	FramesReceived int64
	ParseErrors    int64
	Reconnects     int64
}
