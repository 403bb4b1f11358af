package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/rtlink/internal/connection"
)

// DB is the subset of *pgxpool.Pool used by the recorder.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Config holds recorder settings.
type Config struct {
	Table         string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // Max events held in memory before new ones are dropped
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Table:         "events",
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Metrics tracks recorder performance.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Dropped   int64
}

// event is one buffered row.
type event struct {
	ID         uuid.UUID
	SessionID  string
	Type       string
	Payload    []byte
	ReceivedAt time.Time
}

// Recorder batches inbound messages into a PostgreSQL table.
type Recorder struct {
	cfg    Config
	db     DB
	logger *slog.Logger
	table  string // Sanitized identifier

	buf     *eventBuffer
	ready   chan struct{}
	session atomic.Value // string

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	flushMu sync.Mutex // Serializes flushes

	metricsMu sync.Mutex
	metrics   Metrics
}

// New creates a Recorder. Call Attach to subscribe it and Start to begin flushing.
func New(cfg Config, db DB, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Table == "" {
		cfg.Table = def.Table
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}

	r := &Recorder{
		cfg:    cfg,
		db:     db,
		logger: logger,
		table:  pgx.Identifier(strings.Split(cfg.Table, ".")).Sanitize(),
		buf:    newEventBuffer(cfg.BatchSize, cfg.BufferSize),
		ready:  make(chan struct{}, 1),
	}
	r.session.Store("")
	return r
}

// EnsureSchema creates the events table if it does not exist.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id          uuid PRIMARY KEY,
				session_id  text NOT NULL,
				type        text NOT NULL,
				payload     jsonb,
				received_at timestamptz NOT NULL
			)`, r.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (type, received_at)`,
			pgx.Identifier{indexName(r.cfg.Table)}.Sanitize(), r.table),
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema for %s: %w", r.cfg.Table, err)
		}
	}
	return nil
}

func indexName(table string) string {
	parts := strings.Split(table, ".")
	return parts[len(parts)-1] + "_type_received_at_idx"
}

// Attach subscribes the recorder to every message m dispatches. The returned
// function detaches it.
func (r *Recorder) Attach(m connection.Manager) connection.Unsubscribe {
	r.session.Store(m.Stats().SessionID)

	offConnect := m.OnConnect(func() {
		r.session.Store(m.Stats().SessionID)
	})
	offMessages := m.On(connection.WildcardType, func(msg connection.Message) error {
		r.Record(msg)
		return nil
	})
	return func() {
		offMessages()
		offConnect()
	}
}

// Record buffers one message. It never blocks.
func (r *Recorder) Record(msg connection.Message) {
	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	var payload []byte
	if len(msg.Payload) > 0 {
		payload = msg.Payload
	}

	n, ok := r.buf.push(event{
		ID:         uuid.New(),
		SessionID:  r.session.Load().(string),
		Type:       msg.Type,
		Payload:    payload,
		ReceivedAt: receivedAt,
	})
	if !ok {
		r.metricsMu.Lock()
		r.metrics.Dropped++
		dropped := r.metrics.Dropped
		r.metricsMu.Unlock()
		if dropped == 1 || dropped%1000 == 0 {
			r.logger.Warn("recorder buffer full, dropping events", "dropped", dropped)
		}
		return
	}

	if n >= r.cfg.BatchSize {
		select {
		case r.ready <- struct{}{}:
		default:
		}
	}
}

// Start begins the background flush loop.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("recorder started",
		"table", r.cfg.Table,
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop stops the flush loop and writes whatever is still buffered.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
		return ctx.Err()
	}

	// Final flush
	for r.buf.len() > 0 {
		if err := r.flush(ctx); err != nil {
			return err
		}
	}
	r.logger.Info("recorder stopped")
	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.metricsMu.Lock()
	defer r.metricsMu.Unlock()
	return r.metrics
}

// flushLoop flushes on the interval, or early when a full batch is waiting.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.flush(r.ctx)
		case <-r.ready:
			r.flush(r.ctx)
		}
	}
}

// flush writes one batch to the database.
func (r *Recorder) flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	batch := r.buf.drain(r.cfg.BatchSize)
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	conflicts, err := r.batchInsert(ctx, batch)
	if err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.metricsMu.Lock()
		r.metrics.Errors++
		r.metricsMu.Unlock()
		return err
	}

	r.metricsMu.Lock()
	r.metrics.Inserts += int64(len(batch) - conflicts)
	r.metrics.Conflicts += int64(conflicts)
	r.metrics.Flushes++
	r.metricsMu.Unlock()

	r.logger.Debug("flushed events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (r *Recorder) batchInsert(ctx context.Context, rows []event) (conflicts int, err error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, session_id, type, payload, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`, r.table)

	batch := &pgx.Batch{}
	for _, e := range rows {
		batch.Queue(query, e.ID, e.SessionID, e.Type, e.Payload, e.ReceivedAt)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
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
