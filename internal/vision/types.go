package vision

import "github.com/neurolens/neurolens/internal/model"

// DescribeRequest for POST /v1/describe
type DescribeRequest struct {
	Image string `json:"image"` // base64-encoded JPEG
}

// DescribeResponse from POST /v1/describe
type DescribeResponse struct {
	Description string `json:"description"`
}

// AnalyzeRequest for POST /v1/analyze
type AnalyzeRequest struct {
	Image               string  `json:"image"` // base64-encoded JPEG
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
	OCR                 bool    `json:"ocr"`
}

// AnalyzeResponse from POST /v1/analyze
type AnalyzeResponse struct {
	Description string                 `json:"description"`
	Objects     []model.DetectedObject `json:"objects"`
	Texts       []model.DetectedText   `json:"texts"`
}

// TranscribeRequest for POST /v1/transcribe
type TranscribeRequest struct {
	Audio string `json:"audio"` // base64-encoded audio
}

// TranscribeResponse from POST /v1/transcribe
type TranscribeResponse struct {
	Text string `json:"text"`
}

// SynthesizeRequest for POST /v1/synthesize
type SynthesizeRequest struct {
	Text       string  `json:"text"`
	VoiceStyle string  `json:"voice_style,omitempty"`
	SpeechRate float64 `json:"speech_rate,omitempty"`
}

// SynthesizeResponse from POST /v1/synthesize
type SynthesizeResponse struct {
	Audio string `json:"audio"` // base64-encoded audio
}
