package vision

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/neurolens/neurolens/internal/model"
)

// DescribeScene returns a natural-language description of the image.
func (c *Client) DescribeScene(ctx context.Context, image []byte) (string, error) {
	req := DescribeRequest{Image: base64.StdEncoding.EncodeToString(image)}
	var resp DescribeResponse
	if err := c.post(ctx, "/v1/describe", req, &resp); err != nil {
		return "", fmt.Errorf("describe scene: %w", err)
	}
	return resp.Description, nil
}

// AnalyzeOptions tunes a single AnalyzeFrame call.
type AnalyzeOptions struct {
	ConfidenceThreshold float64
	OCR                 bool
}

// AnalyzeResult is the full detection output for one frame.
type AnalyzeResult struct {
	Description string
	Objects     []model.DetectedObject
	Texts       []model.DetectedText
}

// AnalyzeFrame runs object detection plus optional OCR on the image.
func (c *Client) AnalyzeFrame(ctx context.Context, image []byte, opts AnalyzeOptions) (*AnalyzeResult, error) {
	req := AnalyzeRequest{
		Image:               base64.StdEncoding.EncodeToString(image),
		ConfidenceThreshold: opts.ConfidenceThreshold,
		OCR:                 opts.OCR,
	}
	var resp AnalyzeResponse
	if err := c.post(ctx, "/v1/analyze", req, &resp); err != nil {
		return nil, fmt.Errorf("analyze frame: %w", err)
	}
	return &AnalyzeResult{
		Description: resp.Description,
		Objects:     resp.Objects,
		Texts:       resp.Texts,
	}, nil
}

// Transcribe converts audio to text.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	req := TranscribeRequest{Audio: base64.StdEncoding.EncodeToString(audio)}
	var resp TranscribeResponse
	if err := c.post(ctx, "/v1/transcribe", req, &resp); err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return resp.Text, nil
}

// Synthesize converts text to audio using the given voice settings.
func (c *Client) Synthesize(ctx context.Context, text string, voice model.VoiceSettings) ([]byte, error) {
	req := SynthesizeRequest{
		Text:       text,
		VoiceStyle: voice.VoiceStyle,
		SpeechRate: voice.SpeechRate,
	}
	var resp SynthesizeResponse
	if err := c.post(ctx, "/v1/synthesize", req, &resp); err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(resp.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	return audio, nil
}
