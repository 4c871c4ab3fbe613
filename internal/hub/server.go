package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neurolens/neurolens/internal/model"
	"github.com/neurolens/neurolens/internal/settings"
	"github.com/neurolens/neurolens/internal/version"
)

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	ListenAddr      string
	CORSOrigins     []string
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server exposes the hub over HTTP: the /ws upgrade endpoint, the REST
// image and question endpoints, the settings side-channel, and /health.
type Server struct {
	cfg       ServerConfig
	hub       *Hub
	settings  *settings.Store
	responder Responder
	speech    Speech
	describer Describer
	logger    *slog.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithResponder enables the /api/ask endpoint.
func WithResponder(r Responder) ServerOption {
	return func(s *Server) { s.responder = r }
}

// WithSpeech enables text-to-speech on the REST endpoints.
func WithSpeech(sp Speech) ServerOption {
	return func(s *Server) { s.speech = sp }
}

// WithDescriber enables the /api/describe-image endpoint.
func WithDescriber(d Describer) ServerOption {
	return func(s *Server) { s.describer = d }
}

// NewServer wires the routes. The server does not listen until Start.
func NewServer(cfg ServerConfig, h *Hub, store *settings.Store, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		hub:      h,
		settings: store,
		logger:   logger.With("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.originAllowed,
	}
	s.httpServer = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the route mux, exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/analyze-image", s.handleAnalyzeImage)
	mux.HandleFunc("/api/describe-image", s.handleDescribeImage)
	mux.HandleFunc("/api/ask", s.handleAsk)
	mux.HandleFunc("/api/text-to-speech", s.handleTextToSpeech)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/health", s.handleHealth)
	return s.cors(mux)
}

// Start listens until the server is shut down. Blocks.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.cfg.ListenAddr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop disconnects all clients and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	s.hub.HandleConn(r.Context(), ws)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.settings.Get())

	case http.MethodPost:
		var next model.UserSettings
		if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
			writeJSON(w, http.StatusBadRequest, errorReply{Error: "invalid settings json"})
			return
		}
		if err := s.settings.Update(next); err != nil {
			writeJSON(w, http.StatusBadRequest, errorReply{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "success",
			"settings": next,
		})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

const maxUploadBytes = 10 << 20

// readUpload pulls the "file" part out of a multipart request.
func readUpload(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, err
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// handleAnalyzeImage runs the frame pipeline on an uploaded image. An
// optional "query" form field attaches a spoken answer about it.
func (s *Server) handleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.hub == nil || s.hub.frames == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorReply{Error: "frame processing unavailable"})
		return
	}
	image, err := readUpload(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: "image upload required"})
		return
	}
	frame, err := s.hub.frames.ProcessFrame(r.Context(), image)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorReply{Error: "Error processing image: " + err.Error()})
		return
	}
	if query := r.FormValue("query"); query != "" && s.responder != nil {
		_, reply, err := s.responder.Ask(r.Context(), query)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorReply{Error: "Error processing image: " + err.Error()})
			return
		}
		frame.VoiceFeedback = reply.VoiceFeedback
	}
	writeJSON(w, http.StatusOK, frame)
}

func (s *Server) handleDescribeImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.describer == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorReply{Error: "scene description unavailable"})
		return
	}
	image, err := readUpload(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: "image upload required"})
		return
	}
	desc, err := s.describer.DescribeScene(r.Context(), image)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorReply{Error: "Error processing image: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"description": desc})
}

// handleAsk answers a question, optionally against a freshly analyzed
// image, and returns the answer as text plus a data-URL audio clip.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.responder == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorReply{Error: "question answering unavailable"})
		return
	}
	var req struct {
		Question  string `json:"question"`
		ImageData string `json:"image_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: "invalid request json"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: "Question is required"})
		return
	}

	var frame *model.ProcessedFrame
	if req.ImageData != "" && s.hub != nil && s.hub.frames != nil {
		raw := req.ImageData
		if i := strings.IndexByte(raw, ','); i >= 0 {
			// strip the data-URL prefix
			raw = raw[i+1:]
		}
		image, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorReply{Error: "invalid base64 image data"})
			return
		}
		frame, err = s.hub.frames.ProcessFrame(r.Context(), image)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorReply{Error: "Error processing question: " + err.Error()})
			return
		}
	} else {
		frame = &model.ProcessedFrame{Captions: []model.Caption{}, FrameID: "no-image"}
	}

	answer, _, err := s.responder.Ask(r.Context(), req.Question)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorReply{Error: "Error processing question: " + err.Error()})
		return
	}

	audio := ""
	if s.speech != nil {
		data, err := s.speech.Synthesize(r.Context(), answer, s.settings.Get().Voice)
		if err != nil {
			s.logger.Warn("speech synthesis failed", "error", err)
		} else {
			audio = "data:audio/mp3;base64," + base64.StdEncoding.EncodeToString(data)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"text_response":   answer,
		"audio_response":  audio,
		"processed_frame": frame,
	})
}

func (s *Server) handleTextToSpeech(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.speech == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorReply{Error: "speech synthesis unavailable"})
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: "invalid request json"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: "Text is required"})
		return
	}
	audio, err := s.speech.Synthesize(r.Context(), req.Text, s.settings.Get().Voice)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorReply{Error: "Error generating speech: " + err.Error()})
		return
	}
	w.Header().Set("Content-Type", "audio/mp3")
	w.Write(audio)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.hub.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     version.Version,
		"connections": stats.Connections,
		"frames_in":   stats.FramesIn,
	})
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// cors applies the allow headers for browser clients on the REST
// endpoints.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
