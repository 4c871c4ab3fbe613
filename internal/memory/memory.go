// Package memory keeps short-term assistant state: the conversation
// history, recently seen objects and text, and the last few scene
// descriptions. Everything ages out; nothing here is persisted.
package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neurolens/neurolens/internal/model"
)

// Config bounds the store.
type Config struct {
	MaxMessages  int           // conversation ring size
	DetectionTTL time.Duration // how long a sighting stays in memory
	SceneHistory int           // scene descriptions retained
	RecentWindow time.Duration // default window for Recent* queries
}

// DefaultConfig returns the bounds used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxMessages:  50,
		DetectionTTL: 5 * time.Minute,
		SceneHistory: 5,
		RecentWindow: 30 * time.Second,
	}
}

type objectSighting struct {
	object    model.DetectedObject
	firstSeen time.Time
	lastSeen  time.Time
}

type textSighting struct {
	text      model.DetectedText
	firstSeen time.Time
	lastSeen  time.Time
}

type sceneEntry struct {
	description string
	at          time.Time
}

// Store is the in-memory context store. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	cfg      Config
	now      func() time.Time
	messages []model.Message
	objects  map[string]*objectSighting
	texts    map[string]*textSighting
	scenes   []sceneEntry
}

// NewStore returns an empty store with the given bounds. Zero-valued
// fields in cfg fall back to DefaultConfig.
func NewStore(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = def.MaxMessages
	}
	if cfg.DetectionTTL <= 0 {
		cfg.DetectionTTL = def.DetectionTTL
	}
	if cfg.SceneHistory <= 0 {
		cfg.SceneHistory = def.SceneHistory
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = def.RecentWindow
	}
	return &Store{
		cfg:     cfg,
		now:     time.Now,
		objects: make(map[string]*objectSighting),
		texts:   make(map[string]*textSighting),
	}
}

// AddMessage appends one conversation turn, evicting the oldest once
// the ring is full.
func (s *Store) AddMessage(role model.MessageRole, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, model.Message{
		Role:      role,
		Content:   content,
		Timestamp: toEpoch(s.now()),
	})
	if len(s.messages) > s.cfg.MaxMessages {
		s.messages = s.messages[len(s.messages)-s.cfg.MaxMessages:]
	}
}

// History returns a copy of the conversation, oldest first.
func (s *Store) History() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// AddObjects records sightings for this frame's detections. A sighting
// is keyed by name and bbox origin, so an object that stays put refreshes
// its entry instead of duplicating it. Stale sightings are pruned.
func (s *Store) AddObjects(objects []model.DetectedObject) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, obj := range objects {
		key := sightingKey(obj.Name, obj.BBox)
		if prev, ok := s.objects[key]; ok {
			prev.object = obj
			prev.lastSeen = now
			continue
		}
		s.objects[key] = &objectSighting{object: obj, firstSeen: now, lastSeen: now}
	}
	cutoff := now.Add(-s.cfg.DetectionTTL)
	for key, sighting := range s.objects {
		if sighting.lastSeen.Before(cutoff) {
			delete(s.objects, key)
		}
	}
}

// AddTexts records text sightings, keyed like object sightings.
func (s *Store) AddTexts(texts []model.DetectedText) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, txt := range texts {
		key := sightingKey(txt.Text, txt.BBox)
		if prev, ok := s.texts[key]; ok {
			prev.text = txt
			prev.lastSeen = now
			continue
		}
		s.texts[key] = &textSighting{text: txt, firstSeen: now, lastSeen: now}
	}
	cutoff := now.Add(-s.cfg.DetectionTTL)
	for key, sighting := range s.texts {
		if sighting.lastSeen.Before(cutoff) {
			delete(s.texts, key)
		}
	}
}

// AddScene records a scene description, keeping only the most recent
// SceneHistory entries.
func (s *Store) AddScene(description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenes = append(s.scenes, sceneEntry{description: description, at: s.now()})
	if len(s.scenes) > s.cfg.SceneHistory {
		s.scenes = s.scenes[len(s.scenes)-s.cfg.SceneHistory:]
	}
}

// Context snapshots everything the assistant should know right now.
func (s *Store) Context() model.ConversationContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := model.ConversationContext{
		Messages:        make([]model.Message, len(s.messages)),
		LastProcessedAt: toEpoch(s.now()),
	}
	copy(ctx.Messages, s.messages)
	for _, sighting := range s.objects {
		ctx.DetectedObjects = append(ctx.DetectedObjects, sighting.object)
	}
	for _, sighting := range s.texts {
		ctx.DetectedTexts = append(ctx.DetectedTexts, sighting.text)
	}
	if len(s.scenes) > 0 {
		ctx.SceneDescription = s.scenes[len(s.scenes)-1].description
	}
	return ctx
}

// RecentObjects returns objects seen within the configured window.
func (s *Store) RecentObjects() []model.DetectedObject {
	cutoff := s.now().Add(-s.cfg.RecentWindow)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DetectedObject
	for _, sighting := range s.objects {
		if sighting.lastSeen.After(cutoff) {
			out = append(out, sighting.object)
		}
	}
	return out
}

// RecentTexts returns texts seen within the configured window.
func (s *Store) RecentTexts() []model.DetectedText {
	cutoff := s.now().Add(-s.cfg.RecentWindow)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DetectedText
	for _, sighting := range s.texts {
		if sighting.lastSeen.After(cutoff) {
			out = append(out, sighting.text)
		}
	}
	return out
}

// Search returns conversation messages containing the query,
// case-insensitively, oldest first.
func (s *Store) Search(query string) []model.Message {
	query = strings.ToLower(query)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, msg := range s.messages {
		if strings.Contains(strings.ToLower(msg.Content), query) {
			out = append(out, msg)
		}
	}
	return out
}

// Clear drops all state.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.scenes = nil
	s.objects = make(map[string]*objectSighting)
	s.texts = make(map[string]*textSighting)
}

func sightingKey(name string, bbox []float64) string {
	if len(bbox) >= 2 {
		return fmt.Sprintf("%s_%g_%g", name, bbox[0], bbox[1])
	}
	return name
}

func toEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
