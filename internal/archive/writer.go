package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neurolens/neurolens/internal/model"
)

// Record is one processed frame queued for archival.
type Record struct {
	ClientID   string
	ReceivedAt time.Time
	Frame      *model.ProcessedFrame
}

// WriterConfig holds batching parameters.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// WriterMetrics counts writer activity.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

type captionRow struct {
	frameID    string
	captionID  string
	clientID   string
	text       string
	kind       string
	priority   string
	capturedAt float64
	receivedAt int64
}

type detectionRow struct {
	frameID    string
	clientID   string
	name       string
	confidence float64
	distance   float64
	direction  string
	receivedAt int64
}

// FrameWriter consumes Records from the buffer and writes captions and
// detections to Postgres in batches.
type FrameWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	input *Buffer[Record]
	db    *pgxpool.Pool

	captions    []captionRow
	detections  []detectionRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewFrameWriter creates a writer draining input into db.
func NewFrameWriter(cfg WriterConfig, input *Buffer[Record], db *pgxpool.Pool, logger *slog.Logger) *FrameWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameWriter{
		cfg:        cfg,
		input:      input,
		db:         db,
		logger:     logger.With("component", "archive_writer"),
		captions:   make([]captionRow, 0, cfg.BatchSize),
		detections: make([]detectionRow, 0, cfg.BatchSize),
	}
}

// Record enqueues one processed frame. Never blocks; the buffer grows.
func (w *FrameWriter) Record(clientID string, frame *model.ProcessedFrame) {
	w.input.Send(Record{
		ClientID:   clientID,
		ReceivedAt: time.Now(),
		Frame:      frame,
	})
}

// Start begins consuming records and writing to the database.
func (w *FrameWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("frame writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer, flushing what remains.
func (w *FrameWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping frame writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("frame writer stopped")
	case <-ctx.Done():
		w.logger.Warn("frame writer stop timed out")
	}

	// Drain whatever is still buffered, then final flush. The run
	// context is canceled by now, so the flush runs on the caller's.
	for _, rec := range w.input.DrainTo(0) {
		w.add(rec)
	}
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *FrameWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *FrameWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			rec, ok := w.input.TryReceive()
			if !ok {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}
			w.handleRecord(rec)
		}
	}
}

func (w *FrameWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

func (w *FrameWriter) handleRecord(rec Record) {
	shouldFlush := w.add(rec)
	if shouldFlush {
		w.flush(w.ctx)
	}
}

// add transforms a record into rows. Returns true when the batch is
// full.
func (w *FrameWriter) add(rec Record) bool {
	if rec.Frame == nil {
		return false
	}
	receivedAt := rec.ReceivedAt.UnixMicro()

	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	for _, c := range rec.Frame.Captions {
		w.captions = append(w.captions, captionRow{
			frameID:    rec.Frame.FrameID,
			captionID:  c.ID,
			clientID:   rec.ClientID,
			text:       c.Text,
			kind:       string(c.Type),
			priority:   string(c.Priority),
			capturedAt: c.Timestamp,
			receivedAt: receivedAt,
		})
	}
	for _, obj := range rec.Frame.DetectedObjects {
		w.detections = append(w.detections, detectionRow{
			frameID:    rec.Frame.FrameID,
			clientID:   rec.ClientID,
			name:       obj.Name,
			confidence: obj.Confidence,
			distance:   obj.Distance,
			direction:  obj.Direction,
			receivedAt: receivedAt,
		})
	}

	return len(w.captions) >= w.cfg.BatchSize || len(w.detections) >= w.cfg.BatchSize
}

// flush writes the current batches to the database.
func (w *FrameWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.captions) == 0 && len(w.detections) == 0 {
		w.batchMu.Unlock()
		return
	}
	captions := w.captions
	detections := w.detections
	w.captions = make([]captionRow, 0, w.cfg.BatchSize)
	w.detections = make([]detectionRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, captions, detections)
	if err != nil {
		w.logger.Error("batch insert failed",
			"error", err,
			"captions", len(captions),
			"detections", len(detections),
		)
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(captions)+len(detections)) - int64(conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed archive batch",
		"captions", len(captions),
		"detections", len(detections),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *FrameWriter) batchInsert(ctx context.Context, captions []captionRow, detections []detectionRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range captions {
		batch.Queue(`
			INSERT INTO captions (frame_id, caption_id, client_id, text, type, priority, captured_at, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (frame_id, caption_id) DO NOTHING
		`, r.frameID, r.captionID, r.clientID, r.text, r.kind, r.priority, r.capturedAt, r.receivedAt)
	}
	for _, r := range detections {
		batch.Queue(`
			INSERT INTO detections (frame_id, client_id, name, confidence, distance, direction, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT DO NOTHING
		`, r.frameID, r.clientID, r.name, r.confidence, r.distance, r.direction, r.receivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	total := len(captions) + len(detections)
	for i := 0; i < total; i++ {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
