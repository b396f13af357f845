package repositories

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/restream/reindexer/v4"
	// cproto (RPC) binding
	_ "github.com/restream/reindexer/v4/bindings/cproto"
	"go.uber.org/zap"

	"github.com/vdiana16/SiemensJava2025/internal/domain"
)

const (
	// namespace is Reindexer's name for a table
	defaultNamespace = "items"

	// the server may still be starting when we come up, so the first
	// connect is retried with a linear backoff inside defaultConnectTimeout
	defaultMaxRetries     = 3
	defaultRetryDelay     = 1 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultQueryTimeout   = 5 * time.Second
)

// HealthStatus describes the last known state of the Reindexer connection.
// Every failed query marks the store unhealthy; the next successful ping
// clears it.
type HealthStatus struct {
	IsHealthy bool
	LastCheck time.Time
	LastError error
}

// ReindexerRepository stores items in a Reindexer namespace
type ReindexerRepository struct {
	dsn       string
	namespace string
	logger    *zap.Logger

	// mu guards db; Close sets it to nil and later calls get errClosed
	mu sync.RWMutex
	db *reindexer.Reindexer

	// read by /health without taking mu
	healthStatus atomic.Value // *HealthStatus

	// the namespace schema is registered once per connection
	nsOnce sync.Once
	nsErr  error
}

// NewReindexerRepository connects to dsn and opens the item namespace
func NewReindexerRepository(dsn, namespace string, logger *zap.Logger) (*ReindexerRepository, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}

	repo := &ReindexerRepository{
		dsn:       dsn,
		namespace: namespace,
		logger:    logger,
	}
	repo.updateHealthStatus(false, nil)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	if err := repo.connectWithRetry(ctx, defaultMaxRetries); err != nil {
		return nil, fmt.Errorf("connect to reindexer: %w", err)
	}
	if err := repo.EnsureNamespace(ctx); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}

func (r *ReindexerRepository) connectWithRetry(ctx context.Context, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			// 1s, 2s, 3s... the whole loop is still bounded by ctx
			delay := defaultRetryDelay * time.Duration(attempt)
			r.logger.Info("retrying reindexer connection",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		// the handle is kept only once Ping gets an answer.
		// WithCreateDBIfMissing creates the database named in the DSN.
		db := reindexer.NewReindex(r.dsn, reindexer.WithCreateDBIfMissing())
		if err := db.Ping(); err != nil {
			lastErr = err
			db.Close()
			r.logger.Warn("reindexer ping failed",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		r.mu.Lock()
		r.db = db
		r.mu.Unlock()

		r.updateHealthStatus(true, nil)
		r.logger.Info("connected to reindexer", zap.String("namespace", r.namespace))
		return nil
	}

	r.updateHealthStatus(false, lastErr)
	return fmt.Errorf("no connection after %d attempts: %w", maxRetries, lastErr)
}

func (r *ReindexerRepository) updateHealthStatus(healthy bool, err error) {
	r.healthStatus.Store(&HealthStatus{
		IsHealthy: healthy,
		LastCheck: time.Now(),
		LastError: err,
	})
}

// Health returns the last recorded connection state
func (r *ReindexerRepository) Health() HealthStatus {
	status, _ := r.healthStatus.Load().(*HealthStatus)
	if status == nil {
		return HealthStatus{}
	}
	return *status
}

func (r *ReindexerRepository) conn() (*reindexer.Reindexer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.db == nil {
		return nil, errClosed
	}
	return r.db, nil
}

// EnsureNamespace opens the item namespace, creating it when missing
func (r *ReindexerRepository) EnsureNamespace(ctx context.Context) error {
	r.nsOnce.Do(func() {
		db, err := r.conn()
		if err != nil {
			r.nsErr = err
			return
		}
		// the reindex tags on domain.Item define the indexes; id is the primary key
		if err := db.OpenNamespace(r.namespace, reindexer.DefaultNamespaceOptions(), domain.Item{}); err != nil {
			r.nsErr = fmt.Errorf("open namespace %s: %w", r.namespace, err)
			return
		}
		r.logger.Info("namespace ready", zap.String("namespace", r.namespace))
	})
	return r.nsErr
}

// ListPendingIDs selects every item id
func (r *ReindexerRepository) ListPendingIDs(ctx context.Context) ([]domain.ItemID, error) {
	items, err := r.query(ctx, func(q *reindexer.Query) *reindexer.Query {
		return q.Select("id").Sort("id", false)
	})
	if err != nil {
		return nil, err
	}

	ids := make([]domain.ItemID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids, nil
}

// Fetch looks an item up by primary key
func (r *ReindexerRepository) Fetch(ctx context.Context, id domain.ItemID) (*domain.Item, bool, error) {
	items, err := r.query(ctx, func(q *reindexer.Query) *reindexer.Query {
		return q.Where("id", reindexer.EQ, int64(id)).Limit(1)
	})
	if err != nil {
		return nil, false, err
	}
	if len(items) == 0 {
		return nil, false, nil
	}
	return items[0], true, nil
}

// Persist upserts the item
func (r *ReindexerRepository) Persist(ctx context.Context, item *domain.Item) (*domain.Item, error) {
	if item == nil || item.ID <= 0 {
		return nil, errMissingID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db, err := r.conn()
	if err != nil {
		return nil, err
	}

	stored := item.Clone()
	if err := db.Upsert(r.namespace, stored); err != nil {
		r.logger.Error("upsert failed", zap.Int64("item_id", int64(item.ID)), zap.Error(err))
		r.updateHealthStatus(false, err)
		return nil, fmt.Errorf("upsert item %d: %w", item.ID, err)
	}
	return stored.Clone(), nil
}

// Create inserts the item with a serial primary key
func (r *ReindexerRepository) Create(ctx context.Context, item *domain.Item) (*domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := r.conn()
	if err != nil {
		return nil, err
	}

	stored := item.Clone()
	stored.ID = 0
	// precepts write the generated id back into stored
	if err := db.Upsert(r.namespace, stored, "id=serial()"); err != nil {
		r.updateHealthStatus(false, err)
		return nil, fmt.Errorf("insert item: %w", err)
	}
	if stored.ID <= 0 {
		return nil, fmt.Errorf("insert item: %w", errMissingID)
	}
	return stored.Clone(), nil
}

// List returns all items ordered by id
func (r *ReindexerRepository) List(ctx context.Context) ([]*domain.Item, error) {
	return r.query(ctx, func(q *reindexer.Query) *reindexer.Query {
		return q.Sort("id", false)
	})
}

// Delete removes an item by id
func (r *ReindexerRepository) Delete(ctx context.Context, id domain.ItemID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := r.conn()
	if err != nil {
		return err
	}

	n, err := db.Query(r.namespace).Where("id", reindexer.EQ, int64(id)).Delete()
	if err != nil {
		r.updateHealthStatus(false, err)
		return fmt.Errorf("delete item %d: %w", id, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// query runs a select built on a fresh namespace query. A query error marks
// the store unhealthy until the next successful ping.
func (r *ReindexerRepository) query(ctx context.Context, build func(*reindexer.Query) *reindexer.Query) ([]*domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := r.conn()
	if err != nil {
		return nil, err
	}

	iter := build(db.Query(r.namespace)).Exec()
	defer iter.Close()

	if err := iter.Error(); err != nil {
		r.updateHealthStatus(false, err)
		return nil, fmt.Errorf("query %s: %w", r.namespace, err)
	}

	var items []*domain.Item
	// callers own what they get back and may mutate it
	for iter.Next() {
		item, ok := iter.Object().(*domain.Item)
		if !ok {
			return nil, fmt.Errorf("unexpected object type %T", iter.Object())
		}
		items = append(items, item.Clone())
	}
	return items, iter.Error()
}

// CheckConnection pings the server
func (r *ReindexerRepository) CheckConnection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := r.conn()
	if err != nil {
		return err
	}
	if err := db.Ping(); err != nil {
		r.updateHealthStatus(false, err)
		return fmt.Errorf("reindexer ping: %w", err)
	}
	r.updateHealthStatus(true, nil)
	return nil
}

// Close closes the connection
func (r *ReindexerRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		r.db.Close()
		r.db = nil
	}
	r.updateHealthStatus(false, errClosed)
	return nil
}

var (
	_ domain.ItemRepository = (*ReindexerRepository)(nil)
	_ domain.HealthChecker  = (*ReindexerRepository)(nil)
)
