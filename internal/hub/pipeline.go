package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/neurolens/neurolens/internal/caption"
	"github.com/neurolens/neurolens/internal/memory"
	"github.com/neurolens/neurolens/internal/model"
	"github.com/neurolens/neurolens/internal/settings"
	"github.com/neurolens/neurolens/internal/vision"
)

// Inference is the subset of the vision client the pipeline needs.
type Inference interface {
	AnalyzeFrame(ctx context.Context, image []byte, opts vision.AnalyzeOptions) (*vision.AnalyzeResult, error)
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// PipelineConfig tunes the frame pipeline.
type PipelineConfig struct {
	ConfidenceThreshold float64
	OCREnabled          bool
}

// Pipeline implements the hub processors on top of the inference
// client, the caption builder, and the detection memory.
type Pipeline struct {
	inference Inference
	captions  *caption.Builder
	memory    *memory.Store
	settings  *settings.Store
	cfg       PipelineConfig
	logger    *slog.Logger
}

// NewPipeline wires the processors together.
func NewPipeline(inference Inference, captions *caption.Builder, mem *memory.Store, store *settings.Store, cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		inference: inference,
		captions:  captions,
		memory:    mem,
		settings:  store,
		cfg:       cfg,
		logger:    logger.With("component", "pipeline"),
	}
}

// ProcessFrame analyzes one image, records the detections, and shapes
// the full ProcessedFrame response.
func (p *Pipeline) ProcessFrame(ctx context.Context, image []byte) (*model.ProcessedFrame, error) {
	result, err := p.inference.AnalyzeFrame(ctx, image, vision.AnalyzeOptions{
		ConfidenceThreshold: p.cfg.ConfidenceThreshold,
		OCR:                 p.cfg.OCREnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze frame: %w", err)
	}

	// The inference service may leave classification and spatial hints
	// to us.
	for i := range result.Texts {
		txt := &result.Texts[i]
		if !txt.IsCardNumber && !txt.IsSensitive {
			txt.IsCardNumber, txt.IsSensitive = caption.ClassifyText(txt.Text)
		}
	}

	if len(result.Objects) > 0 {
		p.memory.AddObjects(result.Objects)
	}
	if len(result.Texts) > 0 {
		p.memory.AddTexts(result.Texts)
	}
	if result.Description != "" {
		p.memory.AddScene(result.Description)
	}

	frame := &model.ProcessedFrame{
		Captions:        p.captions.BuildCaptions(result.Description, result.Objects, result.Texts),
		VoiceFeedback:   p.captions.VoiceFeedback(result.Texts, result.Objects),
		RawDescription:  result.Description,
		DetectedTexts:   result.Texts,
		DetectedObjects: result.Objects,
		FrameID:         uuid.New().String(),
	}
	for _, obj := range result.Objects {
		frame.Objects = append(frame.Objects, model.ObjectSummary{
			Name:      obj.Name,
			Distance:  obj.Distance,
			Direction: obj.Direction,
		})
	}

	// Voice feedback is suppressed when the user disabled it.
	if !p.settings.Get().Voice.Enabled {
		frame.VoiceFeedback = nil
	}

	return frame, nil
}

// ProcessAudio transcribes the utterance and answers it like a typed
// message. Returns (nil, nil) when nothing was transcribed.
func (p *Pipeline) ProcessAudio(ctx context.Context, audio []byte) (*model.ProcessedFrame, error) {
	text, err := p.inference.Transcribe(ctx, audio)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		p.logger.Warn("no transcription produced")
		return nil, nil
	}
	return p.ProcessQuery(ctx, text)
}

// ProcessQuery answers a user question from the detection memory: the
// latest scene description plus the closest recently seen objects. The
// query and answer both land in the conversation history.
func (p *Pipeline) ProcessQuery(ctx context.Context, query string) (*model.ProcessedFrame, error) {
	_, frame, err := p.Ask(ctx, query)
	return frame, err
}

// Ask answers a question like ProcessQuery but also returns the
// response text, for callers that speak the answer themselves.
func (p *Pipeline) Ask(_ context.Context, query string) (string, *model.ProcessedFrame, error) {
	p.memory.AddMessage(model.RoleUser, query)
	answer := p.answerFromMemory()
	p.memory.AddMessage(model.RoleAssistant, answer)

	ts := p.captions.Timestamp()
	frame := &model.ProcessedFrame{
		Captions: []model.Caption{{
			ID:        uuid.New().String(),
			Text:      query,
			Type:      model.CaptionAudio,
			Timestamp: ts,
			Priority:  model.PriorityMedium,
		}},
		FrameID: uuid.New().String(),
	}
	if p.settings.Get().Voice.Enabled {
		frame.VoiceFeedback = &model.VoiceFeedback{
			Text:      answer,
			Priority:  model.PriorityHigh,
			Timestamp: ts,
		}
	}
	return answer, frame, nil
}

// answerFromMemory composes a response from what the camera has seen
// recently.
func (p *Pipeline) answerFromMemory() string {
	ctx := p.memory.Context()
	objects := p.memory.RecentObjects()

	var parts []string
	if ctx.SceneDescription != "" {
		parts = append(parts, ctx.SceneDescription)
	}
	if len(objects) > 0 {
		sort.Slice(objects, func(i, j int) bool {
			return objects[i].Distance < objects[j].Distance
		})
		if len(objects) > 5 {
			objects = objects[:5]
		}
		items := make([]string, 0, len(objects))
		for _, obj := range objects {
			item := obj.Name
			if obj.Distance > 0 {
				item = fmt.Sprintf("%s about %.1f meters away", obj.Name, obj.Distance)
			}
			if obj.Direction != "" {
				item += " to your " + obj.Direction
			}
			items = append(items, item)
		}
		parts = append(parts, "I can see: "+strings.Join(items, ", ")+".")
	}
	if len(parts) == 0 {
		return "I don't have access to the camera feed right now."
	}
	return strings.Join(parts, " ")
}
