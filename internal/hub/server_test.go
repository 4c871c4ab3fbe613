package hub

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/neurolens/neurolens/internal/model"
	"github.com/neurolens/neurolens/internal/settings"
)

func newTestServer(t *testing.T) (*httptest.Server, *settings.Store) {
	t.Helper()
	store := settings.NewStore()
	h := NewHub(nil, nil, nil, store)
	srv := NewServer(ServerConfig{CORSOrigins: []string{"http://localhost:3000"}}, h, store, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		h.Close()
		ts.Close()
	})
	return ts, store
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
	if _, ok := body["connections"]; !ok {
		t.Error("missing connections field")
	}
}

func TestSettingsGet(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/settings")
	if err != nil {
		t.Fatalf("GET /api/settings: %v", err)
	}
	defer resp.Body.Close()

	var got model.UserSettings
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != model.DefaultUserSettings() {
		t.Errorf("settings = %+v, want defaults", got)
	}
}

func TestSettingsPost(t *testing.T) {
	ts, store := newTestServer(t)

	next := model.DefaultUserSettings()
	next.Webcam.DetectionRange = "long"
	next.HighContrastMode = true

	payload, _ := json.Marshal(next)
	resp, err := http.Post(ts.URL+"/api/settings", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /api/settings: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status   string             `json:"status"`
		Settings model.UserSettings `json:"settings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "success" {
		t.Errorf("status = %q, want success", body.Status)
	}
	if store.Get() != next {
		t.Errorf("store = %+v, want %+v", store.Get(), next)
	}
}

func TestSettingsPostRejectsInvalid(t *testing.T) {
	ts, store := newTestServer(t)
	before := store.Get()

	bad := model.DefaultUserSettings()
	bad.Voice.VoiceStyle = "robot"

	payload, _ := json.Marshal(bad)
	resp, err := http.Post(ts.URL+"/api/settings", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /api/settings: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if store.Get() != before {
		t.Error("invalid settings must not be applied")
	}
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/settings", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestCORSUnknownOrigin(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set("Origin", "http://evil.example.com")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for unknown origin, want unset", got)
	}
}

type fakeResponder struct {
	answer   string
	question string
}

func (f *fakeResponder) Ask(_ context.Context, question string) (string, *model.ProcessedFrame, error) {
	f.question = question
	frame := &model.ProcessedFrame{
		FrameID:       "reply-1",
		Captions:      []model.Caption{{ID: "c1", Text: question, Type: model.CaptionAudio}},
		VoiceFeedback: &model.VoiceFeedback{Text: f.answer, Priority: model.PriorityHigh},
	}
	return f.answer, frame, nil
}

type fakeSpeech struct {
	audio []byte
}

func (f *fakeSpeech) Synthesize(_ context.Context, _ string, _ model.VoiceSettings) ([]byte, error) {
	return f.audio, nil
}

type fakeDescriber struct {
	description string
	gotImage    []byte
}

func (f *fakeDescriber) DescribeScene(_ context.Context, image []byte) (string, error) {
	f.gotImage = image
	return f.description, nil
}

func newRESTServer(t *testing.T, proc *fakeProcessor, opts ...ServerOption) *httptest.Server {
	t.Helper()
	store := settings.NewStore()
	h := NewHub(proc, proc, proc, store)
	srv := NewServer(ServerConfig{CORSOrigins: []string{"*"}}, h, store, nil, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		h.Close()
		ts.Close()
	})
	return ts
}

func multipartImage(t *testing.T, image []byte, fields map[string]string) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "frame.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(image)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	return mw.FormDataContentType(), &buf
}

func TestAnalyzeImageEndpoint(t *testing.T) {
	var gotImage []byte
	proc := &fakeProcessor{
		frameFn: func(image []byte) (*model.ProcessedFrame, error) {
			gotImage = image
			return &model.ProcessedFrame{
				FrameID:  "f-1",
				Captions: []model.Caption{{ID: "c1", Text: "A hallway.", Type: model.CaptionVisual}},
			}, nil
		},
	}
	responder := &fakeResponder{answer: "It leads outside."}
	ts := newRESTServer(t, proc, WithResponder(responder))

	image := []byte{0xff, 0xd8, 0xff, 0xe0}
	contentType, body := multipartImage(t, image, map[string]string{"query": "where does it go"})

	resp, err := http.Post(ts.URL+"/api/analyze-image", contentType, body)
	if err != nil {
		t.Fatalf("POST /api/analyze-image: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !bytes.Equal(gotImage, image) {
		t.Errorf("processor got %v, want %v", gotImage, image)
	}
	var frame model.ProcessedFrame
	if err := json.NewDecoder(resp.Body).Decode(&frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.FrameID != "f-1" {
		t.Errorf("frame_id = %q", frame.FrameID)
	}
	if responder.question != "where does it go" {
		t.Errorf("responder question = %q", responder.question)
	}
	if frame.VoiceFeedback == nil || frame.VoiceFeedback.Text != "It leads outside." {
		t.Errorf("voice feedback = %+v", frame.VoiceFeedback)
	}
}

func TestAnalyzeImageRequiresUpload(t *testing.T) {
	called := false
	proc := &fakeProcessor{
		frameFn: func([]byte) (*model.ProcessedFrame, error) {
			called = true
			return nil, nil
		},
	}
	ts := newRESTServer(t, proc)

	resp, err := http.Post(ts.URL+"/api/analyze-image", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if called {
		t.Error("processor must not run without an upload")
	}
}

func TestDescribeImageEndpoint(t *testing.T) {
	describer := &fakeDescriber{description: "A desk with a laptop."}
	ts := newRESTServer(t, &fakeProcessor{}, WithDescriber(describer))

	image := []byte("jpeg-bytes")
	contentType, body := multipartImage(t, image, nil)

	resp, err := http.Post(ts.URL+"/api/describe-image", contentType, body)
	if err != nil {
		t.Fatalf("POST /api/describe-image: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["description"] != "A desk with a laptop." {
		t.Errorf("description = %q", got["description"])
	}
	if !bytes.Equal(describer.gotImage, image) {
		t.Errorf("describer got %v", describer.gotImage)
	}
}

func TestAskEndpoint(t *testing.T) {
	var gotImage []byte
	proc := &fakeProcessor{
		frameFn: func(image []byte) (*model.ProcessedFrame, error) {
			gotImage = image
			return &model.ProcessedFrame{FrameID: "f-2"}, nil
		},
	}
	responder := &fakeResponder{answer: "The exit is to your left."}
	speech := &fakeSpeech{audio: []byte("mp3-bytes")}
	ts := newRESTServer(t, proc, WithResponder(responder), WithSpeech(speech))

	image := []byte{1, 2, 3}
	payload, _ := json.Marshal(map[string]string{
		"question":   "where is the exit",
		"image_data": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image),
	})
	resp, err := http.Post(ts.URL+"/api/ask", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /api/ask: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		TextResponse   string               `json:"text_response"`
		AudioResponse  string               `json:"audio_response"`
		ProcessedFrame model.ProcessedFrame `json:"processed_frame"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TextResponse != "The exit is to your left." {
		t.Errorf("text_response = %q", body.TextResponse)
	}
	want := "data:audio/mp3;base64," + base64.StdEncoding.EncodeToString([]byte("mp3-bytes"))
	if body.AudioResponse != want {
		t.Errorf("audio_response = %q, want %q", body.AudioResponse, want)
	}
	if body.ProcessedFrame.FrameID != "f-2" {
		t.Errorf("processed_frame id = %q", body.ProcessedFrame.FrameID)
	}
	if !bytes.Equal(gotImage, image) {
		t.Errorf("data-URL image not decoded: got %v", gotImage)
	}
}

func TestAskWithoutImage(t *testing.T) {
	responder := &fakeResponder{answer: "I don't have access to the camera feed right now."}
	ts := newRESTServer(t, &fakeProcessor{}, WithResponder(responder))

	payload, _ := json.Marshal(map[string]string{"question": "what do you see"})
	resp, err := http.Post(ts.URL+"/api/ask", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /api/ask: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		AudioResponse  string               `json:"audio_response"`
		ProcessedFrame model.ProcessedFrame `json:"processed_frame"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ProcessedFrame.FrameID != "no-image" {
		t.Errorf("processed_frame id = %q, want no-image", body.ProcessedFrame.FrameID)
	}
	if body.AudioResponse != "" {
		t.Errorf("audio_response = %q without a speech backend", body.AudioResponse)
	}
}

func TestAskRequiresQuestion(t *testing.T) {
	ts := newRESTServer(t, &fakeProcessor{}, WithResponder(&fakeResponder{}))

	resp, err := http.Post(ts.URL+"/api/ask", "application/json", strings.NewReader(`{"question":""}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTextToSpeechEndpoint(t *testing.T) {
	speech := &fakeSpeech{audio: []byte("mp3-bytes")}
	ts := newRESTServer(t, &fakeProcessor{}, WithSpeech(speech))

	resp, err := http.Post(ts.URL+"/api/text-to-speech", "application/json", strings.NewReader(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("POST /api/text-to-speech: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/mp3" {
		t.Errorf("Content-Type = %q, want audio/mp3", ct)
	}
	audio, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(audio, []byte("mp3-bytes")) {
		t.Errorf("audio = %v", audio)
	}
}

func TestTextToSpeechRequiresText(t *testing.T) {
	ts := newRESTServer(t, &fakeProcessor{}, WithSpeech(&fakeSpeech{}))

	resp, err := http.Post(ts.URL+"/api/text-to-speech", "application/json", strings.NewReader(`{"text":""}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRESTEndpointsWithoutBackends(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, tc := range []struct {
		path string
		body string
	}{
		{"/api/ask", `{"question":"hi"}`},
		{"/api/text-to-speech", `{"text":"hi"}`},
		{"/api/analyze-image", `{}`},
		{"/api/describe-image", `{}`},
	} {
		resp, err := http.Post(ts.URL+tc.path, "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("POST %s: %v", tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", tc.path, resp.StatusCode)
		}
	}
}
