package caption

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neurolens/neurolens/internal/model"
)

const (
	// nearbyRange is the distance below which objects are called out in
	// the caption stream.
	nearbyRange = 2.0
	// hazardRange is the distance below which objects trigger spoken
	// feedback.
	hazardRange = 1.5
	// maxTextCaptions caps how many recognized text fragments are read
	// into a single caption.
	maxTextCaptions = 3
)

const (
	sensitiveWarning = "Sensitive information detected. Be cautious about privacy."
	cardFeedback     = "I notice what appears to be a credit card or payment card. " +
		"Be careful about exposing this in public. If you need to read the card number, " +
		"please make sure no one is watching."
	sensitiveFeedback = "I've detected what appears to be sensitive information in view of the camera. " +
		"Please be cautious about privacy."
)

// Builder turns raw detection results into the caption and voice
// feedback payloads sent to the client.
type Builder struct {
	now func() time.Time
}

// NewBuilder returns a Builder using the wall clock for caption
// timestamps.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// Timestamp returns the current wire timestamp on the builder's clock:
// fractional seconds since the Unix epoch.
func (b *Builder) Timestamp() float64 {
	return float64(b.now().UnixNano()) / float64(time.Second)
}

func (b *Builder) newCaption(text string, priority model.CaptionPriority) model.Caption {
	return model.Caption{
		ID:        uuid.New().String(),
		Text:      text,
		Type:      model.CaptionVisual,
		Timestamp: b.Timestamp(),
		Priority:  priority,
	}
}

func (b *Builder) newFeedback(text string, priority model.CaptionPriority) *model.VoiceFeedback {
	return &model.VoiceFeedback{Text: text, Priority: priority, Timestamp: b.Timestamp()}
}

// BuildCaptions assembles the ordered caption list for one frame: the
// scene description first, then nearby objects, then a privacy warning
// if anything sensitive is in view, then up to three text fragments.
func (b *Builder) BuildCaptions(scene string, objects []model.DetectedObject, texts []model.DetectedText) []model.Caption {
	captions := []model.Caption{
		b.newCaption(scene, model.PriorityMedium),
	}

	var nearby []string
	for _, obj := range objects {
		if obj.Distance > 0 && obj.Distance < nearbyRange {
			nearby = append(nearby, fmt.Sprintf("%s to your %s", obj.Name, obj.Direction))
		}
	}
	if len(nearby) > 0 {
		captions = append(captions, b.newCaption(
			"Nearby objects: "+strings.Join(nearby, ", "),
			model.PriorityHigh,
		))
	}

	var plain []string
	hasSensitive := false
	for _, txt := range texts {
		if txt.IsSensitive || txt.IsCardNumber {
			hasSensitive = true
			continue
		}
		plain = append(plain, txt.Text)
	}
	if hasSensitive {
		captions = append(captions, b.newCaption(sensitiveWarning, model.PriorityHigh))
	}
	if len(plain) > 0 {
		if len(plain) > maxTextCaptions {
			plain = plain[:maxTextCaptions]
		}
		captions = append(captions, b.newCaption(
			"Text found: "+strings.Join(plain, "; "),
			model.PriorityMedium,
		))
	}

	return captions
}

// VoiceFeedback decides whether a frame warrants spoken feedback.
// Payment cards outrank other sensitive text, which outranks nearby
// obstacles; frames with none of those return nil.
func (b *Builder) VoiceFeedback(texts []model.DetectedText, objects []model.DetectedObject) *model.VoiceFeedback {
	hasCard := false
	hasSensitive := false
	for _, txt := range texts {
		if txt.IsCardNumber {
			hasCard = true
		}
		if txt.IsSensitive || txt.IsCardNumber {
			hasSensitive = true
		}
	}

	if hasCard {
		return b.newFeedback(cardFeedback, model.PriorityHigh)
	}
	if hasSensitive {
		return b.newFeedback(sensitiveFeedback, model.PriorityHigh)
	}

	var hazards []string
	for _, obj := range objects {
		if obj.Distance > 0 && obj.Distance < hazardRange {
			hazards = append(hazards, fmt.Sprintf("%s to your %s", obj.Name, obj.Direction))
			if len(hazards) == maxTextCaptions {
				break
			}
		}
	}
	if len(hazards) > 0 {
		return b.newFeedback(
			"Be careful of nearby objects: "+strings.Join(hazards, ", "),
			model.PriorityMedium,
		)
	}

	return nil
}
