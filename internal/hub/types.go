package hub

import (
	"context"
	"errors"

	"github.com/neurolens/neurolens/internal/model"
)

// Sentinel errors for registry operations.
var (
	ErrUnknownClient = errors.New("hub: unknown client id")
	ErrHubClosed     = errors.New("hub: closed")
)

// clientEnvelope is the JSON envelope clients send over the socket.
type clientEnvelope struct {
	Type    string       `json:"type"`
	Content string       `json:"content,omitempty"` // for type "message"
	Data    framePayload `json:"data"`              // for types "frame" and "audio"

	// for type "settings"
	Settings *model.UserSettings `json:"settings,omitempty"`
}

// framePayload carries base64-encoded media plus the client capture
// time in milliseconds.
type framePayload struct {
	Video     string `json:"video,omitempty"`
	Audio     string `json:"audio,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// errorReply is sent to a client when processing its message failed.
// The connection stays open.
type errorReply struct {
	Error string `json:"error"`
}

// FrameProcessor turns one captured image into a ProcessedFrame.
type FrameProcessor interface {
	ProcessFrame(ctx context.Context, image []byte) (*model.ProcessedFrame, error)
}

// AudioProcessor handles a spoken utterance.
type AudioProcessor interface {
	ProcessAudio(ctx context.Context, audio []byte) (*model.ProcessedFrame, error)
}

// QueryProcessor handles a typed user message.
type QueryProcessor interface {
	ProcessQuery(ctx context.Context, query string) (*model.ProcessedFrame, error)
}

// Responder answers a question directly, returning both the spoken
// answer and the frame payload carrying it.
type Responder interface {
	Ask(ctx context.Context, question string) (string, *model.ProcessedFrame, error)
}

// Speech converts answer text into playable audio.
type Speech interface {
	Synthesize(ctx context.Context, text string, voice model.VoiceSettings) ([]byte, error)
}

// Describer produces a scene description for a single image.
type Describer interface {
	DescribeScene(ctx context.Context, image []byte) (string, error)
}

// Recorder receives every ProcessedFrame the hub sends out, for
// archival. Implementations must not block.
type Recorder interface {
	Record(clientID string, frame *model.ProcessedFrame)
}

// Stats is a point-in-time snapshot of hub activity.
type Stats struct {
	Connections   int
	FramesIn      uint64
	AudioIn       uint64
	MessagesIn    uint64
	Errors        uint64
	SettingsIn    uint64
	UnknownTypes  uint64
	ParseFailures uint64
}
