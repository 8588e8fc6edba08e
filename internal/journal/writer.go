package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/msgrouter/internal/queue"
	"github.com/rickgao/msgrouter/internal/router"
)

// DB is the subset of *pgxpool.Pool the writer uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds writer settings.
type Config struct {
	InstanceID    string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    1000,
	}
}

// Metrics contains writer statistics.
type Metrics struct {
	Inserts int64 `json:"inserts"`
	Errors  int64 `json:"errors"`
	Flushes int64 `json:"flushes"`
	Dropped int64 `json:"dropped"`
}

const schema = `
	CREATE TABLE IF NOT EXISTS router_events (
		id           BIGSERIAL PRIMARY KEY,
		instance_id  TEXT        NOT NULL,
		kind         TEXT        NOT NULL,
		client_id    TEXT        NOT NULL,
		service_name TEXT        NOT NULL DEFAULT '',
		occurred_at  TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS router_events_client_idx ON router_events (client_id, occurred_at)
`

const insertEvent = `
	INSERT INTO router_events (instance_id, kind, client_id, service_name, occurred_at)
	VALUES ($1, $2, $3, $4, $5)
`

// Writer consumes router events and writes them to the router_events table.
// It implements router.Observer.
type Writer struct {
	cfg    Config
	logger *slog.Logger
	db     DB

	// Events from the router
	input *queue.Queue[router.Event]

	// Batching
	batch   []eventRow
	batchMu sync.Mutex

	// Lifecycle
	ctx          context.Context
	cancel       context.CancelFunc
	consumerDone chan struct{}
	wg           sync.WaitGroup

	metrics Metrics
}

type eventRow struct {
	Kind        string
	ClientID    string
	ServiceName string
	OccurredAt  time.Time
}

// NewWriter creates a new Writer.
func NewWriter(cfg Config, db DB, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  queue.New[router.Event](cfg.BufferSize),
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
}

// EnsureSchema creates the events table if it does not exist.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create router_events: %w", err)
	}
	return nil
}

// Observe queues an event for writing. It never blocks.
func (w *Writer) Observe(e router.Event) {
	if !w.input.Send(e) {
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
	}
}

// Start begins consuming events and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.consumerDone = make(chan struct{})

	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued events, writes them, and shuts down the writer.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	// Closing the input lets the consumer drain before it exits.
	w.input.Close()

	var err error
	if w.consumerDone != nil {
		select {
		case <-w.consumerDone:
		case <-ctx.Done():
			err = fmt.Errorf("journal writer stop: %w", ctx.Err())
			w.logger.Warn("journal writer stop timed out")
		}
	}

	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	// Final flush uses the caller's context; ours is cancelled.
	w.flush(ctx)
	w.logger.Info("journal writer stopped", "inserts", w.Stats().Inserts)

	return err
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input queue and accumulates batches until the
// queue is closed and empty.
func (w *Writer) consumeLoop() {
	defer close(w.consumerDone)

	for {
		e, ok := w.input.Receive()
		if !ok {
			return
		}
		w.handleEvent(e)
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

func (w *Writer) handleEvent(e router.Event) {
	row := transform(e)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

func transform(e router.Event) eventRow {
	return eventRow{
		Kind:        string(e.Kind),
		ClientID:    e.ClientID,
		ServiceName: e.ServiceName,
		OccurredAt:  e.At.UTC(),
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]eventRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed events",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using one pgx.Batch round trip.
func (w *Writer) batchInsert(ctx context.Context, rows []eventRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertEvent, w.cfg.InstanceID, r.Kind, r.ClientID, r.ServiceName, r.OccurredAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
