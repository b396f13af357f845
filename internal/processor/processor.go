package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/vdiana16/SiemensJava2025/internal/domain"
)

const (
	defaultWorkers   = 10
	defaultQueueSize = 100
)

var errNilItem = errors.New("processed outcome carried no item")

// Options configures a Coordinator
type Options struct {
	// Workers is the fixed number of pool goroutines
	Workers int
	// QueueSize is the buffer of the task queue shared by all batches
	QueueSize int
	// WorkDelay simulates per-item processing latency
	WorkDelay time.Duration
	// UnitOfWork transforms each fetched item, domain.MarkProcessed when nil
	UnitOfWork domain.UnitOfWork
	// Metrics is optional
	Metrics *Metrics
}

// task is the unit of work for a single identifier
type task struct {
	ctx context.Context
	id  domain.ItemID
	run *batchRun
}

// batchRun is the state owned by one RunBatch call
type batchRun struct {
	id  string
	acc *accumulator
	wg  sync.WaitGroup
}

func (r *batchRun) finish(o domain.Outcome) {
	r.acc.record(o)
	r.wg.Done()
}

// Coordinator runs batches of items on a persistent bounded worker pool.
// Every batch gets its own accumulator; only the pool is shared between
// concurrent RunBatch calls.
type Coordinator struct {
	store     domain.ItemStore
	work      domain.UnitOfWork
	workers   int
	workDelay time.Duration
	logger    *zap.Logger
	metrics   *Metrics

	tasks  chan *task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards started/stopped and every send on tasks
	mu      sync.RWMutex
	started bool
	stopped bool

	startOnce    sync.Once
	shutdownOnce sync.Once
}

// NewCoordinator creates a coordinator. Start must be called before RunBatch.
func NewCoordinator(store domain.ItemStore, logger *zap.Logger, opts Options) *Coordinator {
	if opts.Workers < 1 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.UnitOfWork == nil {
		opts.UnitOfWork = domain.MarkProcessed
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		store:     store,
		work:      opts.UnitOfWork,
		workers:   opts.Workers,
		workDelay: opts.WorkDelay,
		logger:    logger,
		metrics:   opts.Metrics,
		tasks:     make(chan *task, opts.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Workers returns the pool size
func (c *Coordinator) Workers() int {
	return c.workers
}

// Start starts the worker pool
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.stopped {
			return
		}

		c.started = true
		for i := 0; i < c.workers; i++ {
			c.wg.Add(1)
			go c.worker(i)
		}

		c.logger.Info("batch coordinator started",
			zap.Int("workers", c.workers),
			zap.Duration("work_delay", c.workDelay),
		)
	})
}

// Stop shuts the pool down. In-flight tasks are cancelled and queued tasks are
// drained as interrupted, so every pending join still completes.
func (c *Coordinator) Stop() {
	c.shutdownOnce.Do(func() {
		// cancel first so a submit blocked on a full queue releases mu
		c.cancel()

		c.mu.Lock()
		c.stopped = true
		close(c.tasks)
		c.mu.Unlock()

		c.wg.Wait()
		c.logger.Info("batch coordinator stopped")
	})
}

func (c *Coordinator) accepting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started && !c.stopped
}

// RunBatch processes every pending item and blocks until each task has reached a
// terminal outcome. The returned error is always a *domain.CoordinationError;
// when it is raised after tasks were submitted the partial result is returned too.
func (c *Coordinator) RunBatch(ctx context.Context) (*domain.BatchResult, error) {
	run := &batchRun{id: ulid.Make().String()}
	startedAt := time.Now()
	log := c.logger.With(zap.String("batch_id", run.id))

	if !c.accepting() {
		return nil, c.fail(log, nil, run.id, domain.ErrPoolShutdown)
	}

	ids, err := c.store.ListPendingIDs(ctx)
	if err != nil {
		return nil, c.fail(log, nil, run.id, fmt.Errorf("list pending items: %w", err))
	}

	run.acc = newAccumulator(len(ids))
	if len(ids) == 0 {
		res := run.acc.snapshot(run.id, startedAt)
		log.Info("no pending items")
		c.metrics.observeBatch(res, nil)
		return res, nil
	}

	log.Info("batch started", zap.Int("items", len(ids)))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(c.ctx, cancel)
	defer stopAfter()

	submitErr := c.submit(runCtx, run, ids)

	// join-all: every submitted task calls finish exactly once
	run.wg.Wait()
	res := run.acc.snapshot(run.id, startedAt)

	if err := c.coordinationCause(ctx, res, submitErr); err != nil {
		return res, c.fail(log, res, run.id, err)
	}

	log.Info("batch completed",
		zap.Int("submitted", res.Submitted()),
		zap.Int("processed", res.Count),
		zap.Int("not_found", len(res.NotFound)),
		zap.Int("failed", len(res.Failures)),
		zap.Duration("duration", res.Duration()),
	)
	c.metrics.observeBatch(res, nil)
	return res, nil
}

// RunBatchAsync starts a batch without blocking the caller. The channel receives
// exactly one response and is then closed.
func (c *Coordinator) RunBatchAsync(ctx context.Context) <-chan domain.BatchResponse {
	ch := make(chan domain.BatchResponse, 1)
	go func() {
		defer close(ch)
		res, err := c.RunBatch(ctx)
		ch <- domain.BatchResponse{Result: res, Err: err}
	}()
	return ch
}

// submit hands one task per ID to the pool. IDs left over when ctx is
// cancelled are recorded as interrupted without reaching the pool.
func (c *Coordinator) submit(ctx context.Context, run *batchRun, ids []domain.ItemID) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.started || c.stopped {
		return domain.ErrPoolShutdown
	}

	for i, id := range ids {
		run.wg.Add(1)
		select {
		case c.tasks <- &task{ctx: ctx, id: id, run: run}:
		case <-ctx.Done():
			run.wg.Done()
			for _, rest := range ids[i:] {
				c.metrics.observeOutcome(domain.OutcomeFailed)
				run.acc.record(domain.Failed(rest, &domain.InterruptionError{ID: rest, Err: ctx.Err()}))
			}
			return nil
		}
	}
	return nil
}

// coordinationCause decides whether a joined batch must be reported as failed.
// Interrupted tasks only fail the batch when the pool or the caller went away.
func (c *Coordinator) coordinationCause(ctx context.Context, res *domain.BatchResult, submitErr error) error {
	if submitErr != nil {
		return submitErr
	}
	if !hasInterruptions(res) {
		return nil
	}
	if c.ctx.Err() != nil {
		return domain.ErrPoolShutdown
	}
	return ctx.Err()
}

func hasInterruptions(res *domain.BatchResult) bool {
	for _, f := range res.Failures {
		var ie *domain.InterruptionError
		if errors.As(f.Err, &ie) {
			return true
		}
	}
	return false
}

func (c *Coordinator) fail(log *zap.Logger, res *domain.BatchResult, batchID string, cause error) error {
	err := &domain.CoordinationError{BatchID: batchID, Err: cause}
	log.Error("batch failed", zap.Error(err))
	c.metrics.observeBatch(res, err)
	return err
}

// worker processes tasks from the queue until it is closed
func (c *Coordinator) worker(id int) {
	defer c.wg.Done()

	c.logger.Debug("worker started", zap.Int("worker_id", id))
	for t := range c.tasks {
		c.execute(id, t)
	}
	c.logger.Debug("worker stopped", zap.Int("worker_id", id))
}

// execute runs one task and always reports exactly one outcome
func (c *Coordinator) execute(workerID int, t *task) {
	c.metrics.taskStarted()

	var outcome domain.Outcome
	defer func() {
		if r := recover(); r != nil {
			outcome = domain.Failed(t.id, fmt.Errorf("task panicked: %v", r))
			c.logger.Error("task panicked",
				zap.Int("worker_id", workerID),
				zap.String("batch_id", t.run.id),
				zap.Int64("item_id", int64(t.id)),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
		c.metrics.taskDone()
		c.metrics.observeOutcome(outcome.Kind)
		t.run.finish(outcome)
	}()

	start := time.Now()
	outcome = c.processItem(t.ctx, t.id)
	c.logOutcome(workerID, t.run.id, outcome, time.Since(start))
}

// processItem fetches, transforms and persists a single item
func (c *Coordinator) processItem(ctx context.Context, id domain.ItemID) domain.Outcome {
	if err := ctx.Err(); err != nil {
		return interrupted(id, err)
	}

	item, found, err := c.store.Fetch(ctx, id)
	if err != nil {
		if isCancellation(ctx, err) {
			return interrupted(id, err)
		}
		return domain.Failed(id, &domain.PersistenceError{ID: id, Op: "fetch", Err: err})
	}
	if !found || item == nil {
		return domain.NotFound(id)
	}
	item = item.Clone()

	if err := c.simulateWork(ctx); err != nil {
		return interrupted(id, err)
	}

	if err := c.work(ctx, item); err != nil {
		if isCancellation(ctx, err) {
			return interrupted(id, err)
		}
		return domain.Failed(id, fmt.Errorf("unit of work on item %d: %w", id, err))
	}

	if err := ctx.Err(); err != nil {
		return interrupted(id, err)
	}

	saved, err := c.store.Persist(ctx, item)
	if err != nil {
		if isCancellation(ctx, err) {
			return interrupted(id, err)
		}
		return domain.Failed(id, &domain.PersistenceError{ID: id, Op: "persist", Err: err})
	}
	if saved == nil {
		saved = item
	}

	return domain.Processed(saved.Clone())
}

// simulateWork waits for the configured latency without holding any lock
func (c *Coordinator) simulateWork(ctx context.Context) error {
	if c.workDelay <= 0 {
		return nil
	}

	timer := time.NewTimer(c.workDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Coordinator) logOutcome(workerID int, batchID string, o domain.Outcome, took time.Duration) {
	fields := []zap.Field{
		zap.Int("worker_id", workerID),
		zap.String("batch_id", batchID),
		zap.Int64("item_id", int64(o.ID)),
		zap.Duration("duration", took),
	}

	switch o.Kind {
	case domain.OutcomeProcessed:
		c.logger.Debug("item processed", fields...)
	case domain.OutcomeNotFound:
		c.logger.Info("item not found, skipped", fields...)
	default:
		var ie *domain.InterruptionError
		if errors.As(o.Err, &ie) {
			c.logger.Warn("item processing interrupted", append(fields, zap.Error(o.Err))...)
			return
		}
		c.logger.Error("item processing failed", append(fields, zap.Error(o.Err))...)
	}
}

func interrupted(id domain.ItemID, err error) domain.Outcome {
	return domain.Failed(id, &domain.InterruptionError{ID: id, Err: err})
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Verify that Coordinator implements domain.BatchRunner interface
var _ domain.BatchRunner = (*Coordinator)(nil)
