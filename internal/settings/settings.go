// Package settings holds the live user settings shared between the
// HTTP side-channel and the WebSocket gateway.
package settings

import (
	"fmt"
	"sync"

	"github.com/neurolens/neurolens/internal/model"
)

// Store is the current user settings. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	current model.UserSettings
}

// NewStore returns a store seeded with the default settings.
func NewStore() *Store {
	return &Store{current: model.DefaultUserSettings()}
}

// Get returns a copy of the current settings.
func (s *Store) Get() model.UserSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates and replaces the current settings.
func (s *Store) Update(next model.UserSettings) error {
	if err := Validate(next); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = next
	return nil
}

var (
	detectionRanges   = map[string]bool{"short": true, "medium": true, "long": true}
	updateFrequencies = map[string]bool{"high": true, "medium": true, "low": true}
	voiceStyles       = map[string]bool{"natural": true, "clear": true, "detailed": true}
)

// Validate checks the enum and range constraints on a settings payload.
func Validate(s model.UserSettings) error {
	if !detectionRanges[s.Webcam.DetectionRange] {
		return fmt.Errorf("webcam.detection_range %q is not one of short, medium, long", s.Webcam.DetectionRange)
	}
	if !updateFrequencies[s.Webcam.UpdateFrequency] {
		return fmt.Errorf("webcam.update_frequency %q is not one of high, medium, low", s.Webcam.UpdateFrequency)
	}
	if s.Webcam.Sensitivity < 0 || s.Webcam.Sensitivity > 1 {
		return fmt.Errorf("webcam.sensitivity %v outside [0, 1]", s.Webcam.Sensitivity)
	}
	if !voiceStyles[s.Voice.VoiceStyle] {
		return fmt.Errorf("voice.voice_style %q is not one of natural, clear, detailed", s.Voice.VoiceStyle)
	}
	if s.Voice.Volume < 0 || s.Voice.Volume > 1 {
		return fmt.Errorf("voice.volume %v outside [0, 1]", s.Voice.Volume)
	}
	if s.Voice.SpeechRate < 0.5 || s.Voice.SpeechRate > 2.0 {
		return fmt.Errorf("voice.speech_rate %v outside [0.5, 2]", s.Voice.SpeechRate)
	}
	return nil
}
