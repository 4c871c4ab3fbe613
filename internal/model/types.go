package model

// CaptionPriority ranks how urgently a caption should be surfaced.
type CaptionPriority string

const (
	PriorityLow    CaptionPriority = "low"
	PriorityMedium CaptionPriority = "medium"
	PriorityHigh   CaptionPriority = "high"
)

// CaptionType distinguishes captions derived from the video feed from
// captions derived from transcribed audio.
type CaptionType string

const (
	CaptionVisual CaptionType = "visual"
	CaptionAudio  CaptionType = "audio"
)

// Caption is a timestamped, prioritized text annotation describing a
// detection or transcription event.
type Caption struct {
	ID        string          `json:"id"`
	Text      string          `json:"text"`
	Type      CaptionType     `json:"type"`
	Timestamp float64         `json:"timestamp"` // seconds since epoch
	Priority  CaptionPriority `json:"priority"`
}

// VoiceFeedback is a spoken announcement the client should play.
type VoiceFeedback struct {
	Text      string          `json:"text"`
	Priority  CaptionPriority `json:"priority"`
	Timestamp float64         `json:"timestamp"` // seconds since epoch
}

// DetectedObject is a single object detection with spatial hints for
// the user.
type DetectedObject struct {
	Name       string    `json:"name"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`                // [x1, y1, x2, y2] in pixels
	Distance   float64   `json:"distance,omitempty"`  // estimated meters
	Direction  string    `json:"direction,omitempty"` // "left", "center", "right"
}

// DetectedText is a piece of text read from the scene, flagged when it
// looks like payment-card or otherwise sensitive content.
type DetectedText struct {
	Text         string    `json:"text"`
	Confidence   float64   `json:"confidence"`
	BBox         []float64 `json:"bbox"` // [x1, y1, x2, y2] in pixels
	IsCardNumber bool      `json:"is_card_number"`
	IsSensitive  bool      `json:"is_sensitive"`
}

// ObjectSummary is the reduced object view sent to the UI.
type ObjectSummary struct {
	Name      string  `json:"name"`
	Distance  float64 `json:"distance"`
	Direction string  `json:"direction"`
}

// ProcessedFrame is the server's response to one captured frame.
type ProcessedFrame struct {
	Captions        []Caption        `json:"captions"`
	VoiceFeedback   *VoiceFeedback   `json:"voiceFeedback"`
	Objects         []ObjectSummary  `json:"objects"`
	RawDescription  string           `json:"raw_description,omitempty"`
	DetectedTexts   []DetectedText   `json:"detected_texts,omitempty"`
	DetectedObjects []DetectedObject `json:"detected_objects,omitempty"`
	FrameID         string           `json:"frame_id,omitempty"`
}

// Frame is one webcam capture unit queued for processing.
type Frame struct {
	Video     []byte // encoded image bytes, may be empty for audio-only
	Audio     []byte // encoded audio bytes
	Timestamp int64  // client capture time (ms since epoch)
}

// IsAudioOnly reports whether the frame carries no video payload.
func (f Frame) IsAudioOnly() bool {
	return len(f.Video) == 0 && len(f.Audio) > 0
}

// -----------------------------------------------------------------------------
// Settings
// -----------------------------------------------------------------------------

// WebcamSettings controls the capture and detection pipeline.
type WebcamSettings struct {
	Enabled         bool    `json:"enabled" yaml:"enabled"`
	DetectionRange  string  `json:"detection_range" yaml:"detection_range"`   // "short", "medium", "long"
	UpdateFrequency string  `json:"update_frequency" yaml:"update_frequency"` // "high", "medium", "low"
	Sensitivity     float64 `json:"sensitivity" yaml:"sensitivity"`           // 0.0 - 1.0
}

// VoiceSettings controls spoken feedback.
type VoiceSettings struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	Volume     float64 `json:"volume" yaml:"volume"`           // 0.0 - 1.0
	VoiceStyle string  `json:"voice_style" yaml:"voice_style"` // "natural", "clear", "detailed"
	SpeechRate float64 `json:"speech_rate" yaml:"speech_rate"` // 0.5 - 2.0
}

// UserSettings is the full per-user configuration surface.
type UserSettings struct {
	Webcam                    WebcamSettings `json:"webcam" yaml:"webcam"`
	Voice                     VoiceSettings  `json:"voice" yaml:"voice"`
	HighContrastMode          bool           `json:"high_contrast_mode" yaml:"high_contrast_mode"`
	ScreenReaderOptimizations bool           `json:"screen_reader_optimizations" yaml:"screen_reader_optimizations"`
}

// DefaultUserSettings returns the settings applied before a client
// pushes its own.
func DefaultUserSettings() UserSettings {
	return UserSettings{
		Webcam: WebcamSettings{
			Enabled:         true,
			DetectionRange:  "medium",
			UpdateFrequency: "medium",
			Sensitivity:     0.5,
		},
		Voice: VoiceSettings{
			Enabled:    true,
			Volume:     0.8,
			VoiceStyle: "natural",
			SpeechRate: 1.0,
		},
	}
}

// -----------------------------------------------------------------------------
// Conversation
// -----------------------------------------------------------------------------

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one entry in the conversation history.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp float64     `json:"timestamp"` // seconds since epoch
}

// ConversationContext is the assistant's view of recent state: what was
// said, what is visible, and the latest scene description.
type ConversationContext struct {
	Messages         []Message        `json:"messages"`
	DetectedObjects  []DetectedObject `json:"detected_objects"`
	DetectedTexts    []DetectedText   `json:"detected_texts"`
	SceneDescription string           `json:"current_scene_description,omitempty"`
	LastProcessedAt  float64          `json:"last_processed_timestamp,omitempty"`
}
