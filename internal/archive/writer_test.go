package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neurolens/neurolens/internal/model"
)

func TestFrameWriter_Add(t *testing.T) {
	cfg := WriterConfig{BatchSize: 100, FlushInterval: time.Second}
	input := NewBuffer[Record](10)
	w := NewFrameWriter(cfg, input, nil, nil)

	receivedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{
		ClientID:   "client-1",
		ReceivedAt: receivedAt,
		Frame: &model.ProcessedFrame{
			FrameID: "frame-1",
			Captions: []model.Caption{
				{ID: "cap-1", Text: "A hallway.", Type: model.CaptionVisual, Priority: model.PriorityMedium, Timestamp: 1700000000.5},
				{ID: "cap-2", Text: "Nearby objects: door to your center", Type: model.CaptionVisual, Priority: model.PriorityHigh},
			},
			DetectedObjects: []model.DetectedObject{
				{Name: "door", Confidence: 0.9, Distance: 1.2, Direction: "center"},
			},
		},
	}

	full := w.add(rec)
	if full {
		t.Error("batch should not be full after one record")
	}

	if len(w.captions) != 2 {
		t.Fatalf("captions = %d, want 2", len(w.captions))
	}
	c := w.captions[0]
	if c.frameID != "frame-1" || c.captionID != "cap-1" || c.clientID != "client-1" {
		t.Errorf("caption row keys = %+v", c)
	}
	if c.kind != "visual" || c.priority != "medium" {
		t.Errorf("caption row enums = %+v", c)
	}
	if c.capturedAt != 1700000000.5 {
		t.Errorf("capturedAt = %v", c.capturedAt)
	}
	if c.receivedAt != receivedAt.UnixMicro() {
		t.Errorf("receivedAt = %d, want %d", c.receivedAt, receivedAt.UnixMicro())
	}

	if len(w.detections) != 1 {
		t.Fatalf("detections = %d, want 1", len(w.detections))
	}
	d := w.detections[0]
	if d.name != "door" || d.confidence != 0.9 || d.distance != 1.2 || d.direction != "center" {
		t.Errorf("detection row = %+v", d)
	}
}

func TestFrameWriter_AddSignalsFullBatch(t *testing.T) {
	cfg := WriterConfig{BatchSize: 2, FlushInterval: time.Second}
	w := NewFrameWriter(cfg, NewBuffer[Record](10), nil, nil)

	rec := Record{
		ClientID:   "c",
		ReceivedAt: time.Now(),
		Frame: &model.ProcessedFrame{
			FrameID:  "f",
			Captions: []model.Caption{{ID: "1", Text: "a"}, {ID: "2", Text: "b"}},
		},
	}

	if !w.add(rec) {
		t.Error("batch of 2 captions should report full at BatchSize=2")
	}
}

func TestFrameWriter_AddSkipsNilFrame(t *testing.T) {
	w := NewFrameWriter(WriterConfig{BatchSize: 10, FlushInterval: time.Second}, NewBuffer[Record](4), nil, nil)

	if w.add(Record{ClientID: "c", ReceivedAt: time.Now()}) {
		t.Error("nil frame should not fill the batch")
	}
	if len(w.captions) != 0 || len(w.detections) != 0 {
		t.Error("nil frame must not produce rows")
	}
}

func TestFrameWriter_RecordEnqueues(t *testing.T) {
	input := NewBuffer[Record](4)
	w := NewFrameWriter(WriterConfig{BatchSize: 10, FlushInterval: time.Second}, input, nil, nil)

	w.Record("client-9", &model.ProcessedFrame{FrameID: "f-9"})

	rec, ok := input.TryReceive()
	if !ok {
		t.Fatal("record not enqueued")
	}
	if rec.ClientID != "client-9" || rec.Frame.FrameID != "f-9" {
		t.Errorf("record = %+v", rec)
	}
	if rec.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not stamped")
	}
}

func TestFrameWriter_StopFlushesOnCallerContext(t *testing.T) {
	// A lazy pool pointing at a closed port: Stop's final flush should
	// reach the dialer and fail there, never on a canceled context.
	pool, err := pgxpool.New(context.Background(), "postgres://lens:pw@127.0.0.1:1/neurolens?sslmode=disable")
	if err != nil {
		t.Fatalf("pool config: %v", err)
	}
	defer pool.Close()

	input := NewBuffer[Record](4)
	w := NewFrameWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour}, input, pool, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	w.Record("client-1", &model.ProcessedFrame{
		FrameID:  "f-1",
		Captions: []model.Caption{{ID: "cap-1", Text: "a hallway"}},
	})

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if w.ctx.Err() == nil {
		t.Fatal("run context should be canceled after Stop")
	}

	// Retrying the shutdown rows on the caller's context must produce a
	// connection error, not context.Canceled from the run context.
	_, err = w.batchInsert(stopCtx, []captionRow{{frameID: "f-1", captionID: "cap-1", clientID: "client-1"}}, nil)
	if err == nil {
		t.Fatal("expected connection error from unreachable database")
	}
	if errors.Is(err, context.Canceled) {
		t.Fatalf("batch insert ran on a canceled context: %v", err)
	}
}
