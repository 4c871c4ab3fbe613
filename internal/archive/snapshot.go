package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StatsSource provides the gateway counters to snapshot.
type StatsSource interface {
	Snapshot() map[string]int64
}

// StatsSourceFunc is a function adapter for StatsSource.
type StatsSourceFunc func() map[string]int64

func (f StatsSourceFunc) Snapshot() map[string]int64 { return f() }

// SnapshotConfig holds snapshot poller configuration.
type SnapshotConfig struct {
	Interval time.Duration
}

// Snapshotter periodically persists a row of gateway counters, so
// utilization can be charted without a metrics stack.
type Snapshotter struct {
	cfg    SnapshotConfig
	source StatsSource
	db     *pgxpool.Pool
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSnapshotter creates a snapshot poller.
func NewSnapshotter(cfg SnapshotConfig, source StatsSource, db *pgxpool.Pool, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Snapshotter{
		cfg:    cfg,
		source: source,
		db:     db,
		logger: logger.With("component", "snapshotter"),
	}
}

// Start begins the snapshot loop.
func (s *Snapshotter) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("snapshotter started", "interval", s.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the snapshot loop.
func (s *Snapshotter) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("snapshotter stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Snapshotter) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.snapshot()
		}
	}
}

func (s *Snapshotter) snapshot() {
	counters := s.source.Snapshot()
	at := time.Now().UnixMicro()

	for name, value := range counters {
		_, err := s.db.Exec(s.ctx, `
			INSERT INTO gateway_snapshots (taken_at, counter, value)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, at, name, value)
		if err != nil {
			s.logger.Error("snapshot insert failed", "counter", name, "error", err)
			return
		}
	}

	s.logger.Debug("snapshot written", "counters", len(counters))
}
