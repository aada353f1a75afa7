package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bft-labs/digestship/internal/domain"
	"github.com/bft-labs/digestship/internal/ports"
)

// Default writer configuration values.
const (
	DefaultFlushInterval = time.Second
	DefaultMaxBatchSize  = 200
	DefaultWriteTimeout  = 30 * time.Second
)

// WriterConfig contains configuration for the deduplicating batch writer.
type WriterConfig struct {
	// Table is the destination table
	Table string

	// FlushInterval drives the periodic flush
	FlushInterval time.Duration

	// MaxBatchSize triggers an eager flush once that many digests are pending
	MaxBatchSize int

	// WriteTimeout bounds a single store write (0 = no bound)
	WriteTimeout time.Duration
}

// WriterEventEmitter is notified about enqueues and flush outcomes.
type WriterEventEmitter interface {
	OnEnqueue()
	OnFlushSuccess(batchSize int, inserted int64, duration time.Duration)
	OnFlushError(err error, batchSize int)
}

// WriterOption configures optional collaborators of a Writer.
type WriterOption func(*Writer)

// WithWriterLogger sets the writer's logger.
func WithWriterLogger(logger ports.Logger) WriterOption {
	return func(w *Writer) { w.logger = logger }
}

// WithWriterEmitter sets the writer's event emitter.
func WithWriterEmitter(emitter WriterEventEmitter) WriterOption {
	return func(w *Writer) { w.emitter = emitter }
}

// WithRecentSet skips enqueueing digests this process already persisted.
func WithRecentSet(recent ports.RecentSet) WriterOption {
	return func(w *Writer) { w.recent = recent }
}

// WithPendingRepository spills undelivered digests at Stop and restores them at Start.
func WithPendingRepository(repo ports.PendingRepository) WriterOption {
	return func(w *Writer) { w.spill = repo }
}

// Writer accumulates digests and periodically writes them to the store as one
// idempotent bulk insert. At most one flush is in flight at any time; a failed
// batch is merged back into the pending set and retried by the next flush.
type Writer struct {
	store   ports.DigestStore
	table   string
	timeout time.Duration
	logger  ports.Logger
	emitter WriterEventEmitter
	recent  ports.RecentSet
	spill   ports.PendingRepository

	mu       sync.Mutex
	pending  map[domain.Digest]struct{}
	flushing bool
	// idle is closed when the in-flight flush settles
	idle     chan struct{}
	inflight []string
	// spillRestored is set until the restored digests reach the store
	spillRestored bool

	interval     time.Duration
	maxBatchSize int

	started  bool
	stopCh   chan struct{}
	loopDone chan struct{}
	resetCh  chan time.Duration
}

// NewWriter creates a writer for cfg.Table. Zero-valued settings fall back to defaults.
func NewWriter(store ports.DigestStore, cfg WriterConfig, opts ...WriterOption) *Writer {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}

	w := &Writer{
		store:        store,
		table:        cfg.Table,
		timeout:      cfg.WriteTimeout,
		logger:       noopLogger{},
		pending:      make(map[domain.Digest]struct{}),
		interval:     cfg.FlushInterval,
		maxBatchSize: cfg.MaxBatchSize,
		resetCh:      make(chan time.Duration, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins the periodic flush timer. Calling Start on a started writer has no effect.
// Digests spilled by a previous run are enqueued before the first tick.
func (w *Writer) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	stopCh := make(chan struct{})
	loopDone := make(chan struct{})
	w.stopCh, w.loopDone = stopCh, loopDone
	interval := w.interval
	w.mu.Unlock()

	w.restoreSpill(ctx)

	go w.loop(interval, stopCh, loopDone)
}

func (w *Writer) loop(interval time.Duration, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case d := <-w.resetCh:
			ticker.Reset(d)
		case <-ticker.C:
			_ = w.Flush(context.Background())
		}
	}
}

// Enqueue adds a digest to the pending set. Blank input is discarded and
// duplicates are no-ops. Reaching MaxBatchSize triggers an asynchronous flush.
func (w *Writer) Enqueue(raw string) {
	d, ok := domain.NormalizeDigest(raw)
	if !ok {
		return
	}
	if w.recent != nil && w.recent.Contains(d) {
		return
	}

	w.mu.Lock()
	if _, dup := w.pending[d]; dup {
		w.mu.Unlock()
		return
	}
	w.pending[d] = struct{}{}
	trigger := len(w.pending) >= w.maxBatchSize && !w.flushing
	w.mu.Unlock()

	if w.emitter != nil {
		w.emitter.OnEnqueue()
	}

	if trigger {
		go func() { _ = w.Flush(context.Background()) }()
	}
}

// Flush writes the current pending set as one batch. It returns nil without
// doing anything if another flush is in flight or nothing is pending.
// On failure the batch is merged back into the pending set and the store
// error is returned; the writer itself keeps running.
func (w *Writer) Flush(ctx context.Context) error {
	return w.flush(ctx, false)
}

// flush with wait set blocks behind an in-flight flush instead of skipping,
// until ctx is done.
func (w *Writer) flush(ctx context.Context, wait bool) error {
	w.mu.Lock()
	for wait && w.flushing {
		idle := w.idle
		w.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
		w.mu.Lock()
	}
	if w.flushing || len(w.pending) == 0 {
		w.mu.Unlock()
		return nil
	}
	w.flushing = true
	w.idle = make(chan struct{})
	snapshot := w.pending
	w.pending = make(map[domain.Digest]struct{})

	values := make([]string, 0, len(snapshot))
	for d := range snapshot {
		values = append(values, d)
	}
	sort.Strings(values)
	w.inflight = values
	w.mu.Unlock()

	batch := domain.NewBatch(values)

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	start := time.Now()
	inserted, err := w.store.InsertIgnore(ctx, w.table, batch)
	duration := time.Since(start)

	w.mu.Lock()
	if err != nil {
		for _, d := range batch.Digests {
			w.pending[d] = struct{}{}
		}
	}
	w.flushing = false
	w.inflight = nil
	close(w.idle)
	clearSpill := err == nil && w.spillRestored
	if clearSpill {
		w.spillRestored = false
	}
	w.mu.Unlock()

	if err != nil {
		w.reportFailure(err, batch.Size())
		if w.emitter != nil {
			w.emitter.OnFlushError(err, batch.Size())
		}
		return err
	}

	if w.recent != nil {
		w.recent.Add(batch.Digests...)
	}
	if clearSpill {
		if err := w.spill.Save(ctx, w.table, nil); err != nil {
			w.logger.Warn("failed to clear spill file", ports.String("table", w.table), ports.Err(err))
		}
	}

	if inserted > 0 {
		w.logger.Info("inserted digests",
			ports.String("table", w.table),
			ports.Int64("inserted_rows", inserted),
			ports.Int("batch", batch.Size()),
			ports.Duration("duration", duration),
		)
	} else {
		w.logger.Debug("batch already stored",
			ports.String("table", w.table),
			ports.Int("batch", batch.Size()),
		)
	}

	if w.emitter != nil {
		w.emitter.OnFlushSuccess(batch.Size(), inserted, duration)
	}
	return nil
}

func (w *Writer) reportFailure(err error, batchSize int) {
	fields := []ports.Field{
		ports.String("table", w.table),
		ports.Int("batch", batchSize),
		ports.Err(err),
	}
	var se *domain.StoreError
	if errors.As(err, &se) {
		fields = append(fields,
			ports.String("code", se.Code),
			ports.Int("errno", se.Errno),
			ports.String("sql_state", se.SQLState),
			ports.String("message", se.Message),
		)
	}
	w.logger.Error("insert failed; will retry", fields...)

	if errors.Is(err, domain.ErrNoSuchTable) {
		w.logger.Error("table not found; check the database name and confirm the table exists in that schema",
			ports.String("table", w.table),
		)
	}
}

// Stop cancels the flush timer, waits for an in-flight flush, then performs a
// final flush and waits for it to settle. Waiting ends early with ctx.Err()
// once ctx is done. Digests still pending afterwards, in-flight ones included,
// are spilled when a PendingRepository is configured. Enqueue calls racing
// with Stop have no delivery guarantee.
func (w *Writer) Stop(ctx context.Context) error {
	w.mu.Lock()
	started := w.started
	stopCh, loopDone := w.stopCh, w.loopDone
	w.started = false
	w.stopCh, w.loopDone = nil, nil
	w.mu.Unlock()

	if started {
		close(stopCh)
		// the loop may be stuck in a periodic flush
		select {
		case <-loopDone:
		case <-ctx.Done():
			w.spillRemaining(context.Background())
			return ctx.Err()
		}
	}

	err := w.flush(ctx, true)
	// ctx may already be done; the spill write is local and short
	w.spillRemaining(context.Background())
	return err
}

// SetLimits changes the flush interval and batch size of a running writer.
// Non-positive values leave the current setting unchanged.
func (w *Writer) SetLimits(interval time.Duration, maxBatchSize int) {
	w.mu.Lock()
	resetTicker := false
	if interval > 0 && interval != w.interval {
		w.interval = interval
		resetTicker = w.started
	}
	if maxBatchSize > 0 {
		w.maxBatchSize = maxBatchSize
	}
	w.mu.Unlock()

	if resetTicker {
		select {
		case w.resetCh <- interval:
		default:
			// a pending reset is replaced by the newest interval
			select {
			case <-w.resetCh:
			default:
			}
			select {
			case w.resetCh <- interval:
			default:
			}
		}
	}
}

// Limits returns the current flush interval and batch size.
func (w *Writer) Limits() (time.Duration, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.interval, w.maxBatchSize
}

// Pending returns the number of digests awaiting a flush.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Table returns the destination table.
func (w *Writer) Table() string {
	return w.table
}

// snapshotUndelivered returns the pending digests plus those of a flush
// still in flight.
func (w *Writer) snapshotUndelivered() []string {
	w.mu.Lock()
	out := make([]string, 0, len(w.pending)+len(w.inflight))
	for d := range w.pending {
		out = append(out, d)
	}
	for _, d := range w.inflight {
		if _, ok := w.pending[d]; !ok {
			out = append(out, d)
		}
	}
	w.mu.Unlock()
	sort.Strings(out)
	return out
}

func (w *Writer) restoreSpill(ctx context.Context) {
	if w.spill == nil {
		return
	}
	digests, err := w.spill.Load(ctx, w.table)
	if err != nil {
		w.logger.Error("failed to load spilled digests", ports.String("table", w.table), ports.Err(err))
		return
	}
	if len(digests) == 0 {
		return
	}

	// The file stays until these digests reach the store.
	w.mu.Lock()
	for _, raw := range digests {
		if d, ok := domain.NormalizeDigest(raw); ok {
			w.pending[d] = struct{}{}
		}
	}
	w.spillRestored = true
	w.mu.Unlock()

	w.logger.Info("restored spilled digests", ports.String("table", w.table), ports.Int("count", len(digests)))
}

func (w *Writer) spillRemaining(ctx context.Context) {
	if w.spill == nil {
		return
	}
	remaining := w.snapshotUndelivered()
	if err := w.spill.Save(ctx, w.table, remaining); err != nil {
		w.logger.Error("failed to spill pending digests; they will be lost on exit",
			ports.String("table", w.table),
			ports.Int("count", len(remaining)),
			ports.Err(err),
		)
		return
	}
	if len(remaining) > 0 {
		w.logger.Warn("spilled pending digests for the next run",
			ports.String("table", w.table),
			ports.Int("count", len(remaining)),
		)
	}
}

// noopLogger discards all log messages.
type noopLogger struct{}

func (noopLogger) Debug(msg string, fields ...ports.Field) {}
func (noopLogger) Info(msg string, fields ...ports.Field)  {}
func (noopLogger) Warn(msg string, fields ...ports.Field)  {}
func (noopLogger) Error(msg string, fields ...ports.Field) {}
