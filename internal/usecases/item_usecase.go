package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/vdiana16/SiemensJava2025/internal/domain"
)

const cacheOpTimeout = 1 * time.Second

// ItemUsecase holds the item business logic.
// It ties together the store, the cache and the batch runner:
// reads go through the cache (cache-aside), writes invalidate it,
// and a semaphore bounds concurrent store operations.
type ItemUsecase struct {
	repo     domain.ItemRepository
	cache    domain.Cache
	runner   domain.BatchRunner
	logger   *zap.Logger
	validate *validator.Validate

	rateLimiter  *RateLimiter
	batchTimeout time.Duration
}

// RateLimiter is a semaphore that caps the number of concurrent operations
type RateLimiter struct {
	semaphore     chan struct{}
	maxConcurrent int
}

// NewRateLimiter creates a limiter admitting maxConcurrent operations at once
func NewRateLimiter(maxConcurrent int) *RateLimiter {
	if maxConcurrent < 1 {
		maxConcurrent = 10
	}
	return &RateLimiter{
		semaphore:     make(chan struct{}, maxConcurrent),
		maxConcurrent: maxConcurrent,
	}
}

// Acquire blocks until a slot frees up or ctx is done
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case rl.semaphore <- struct{}{}:
		return nil
	}
}

// Release frees a slot
func (rl *RateLimiter) Release() {
	select {
	case <-rl.semaphore:
	default:
	}
}

// NewItemUsecase wires the usecase. batchTimeout bounds ProcessItems; zero disables it.
func NewItemUsecase(
	repo domain.ItemRepository,
	cache domain.Cache,
	runner domain.BatchRunner,
	logger *zap.Logger,
	maxConcurrentOps int,
	batchTimeout time.Duration,
) *ItemUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemUsecase{
		repo:         repo,
		cache:        cache,
		runner:       runner,
		logger:       logger,
		validate:     validator.New(),
		rateLimiter:  NewRateLimiter(maxConcurrentOps),
		batchTimeout: batchTimeout,
	}
}

// ListItems returns every stored item ordered by ID
func (u *ItemUsecase) ListItems(ctx context.Context) ([]*domain.Item, error) {
	if err := u.rateLimiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}
	defer u.rateLimiter.Release()

	items, err := u.repo.List(ctx)
	if err != nil {
		u.logger.Error("Failed to list items", zap.Error(err))
		return nil, err
	}
	return items, nil
}

// GetItem returns an item by ID, serving it from the cache when possible.
// A missing item yields domain.ErrNotFound.
func (u *ItemUsecase) GetItem(ctx context.Context, id domain.ItemID) (*domain.Item, error) {
	if cached, ok := u.cache.Get(ctx, id); ok {
		u.logger.Debug("Cache hit", zap.Int64("item_id", int64(id)))
		return cached, nil
	}

	if err := u.rateLimiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}
	defer u.rateLimiter.Release()

	item, found, err := u.repo.Fetch(ctx, id)
	if err != nil {
		u.logger.Error("Failed to fetch item", zap.Int64("item_id", int64(id)), zap.Error(err))
		return nil, err
	}
	if !found {
		return nil, domain.ErrNotFound
	}

	u.cacheItem(item)
	return item, nil
}

// CreateItem validates and stores a new item
func (u *ItemUsecase) CreateItem(ctx context.Context, item *domain.Item) (*domain.Item, error) {
	if err := u.validateItem(item); err != nil {
		return nil, err
	}

	if err := u.rateLimiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}
	defer u.rateLimiter.Release()

	if item.Status == "" {
		item.Status = domain.StatusNew
	}

	created, err := u.repo.Create(ctx, item)
	if err != nil {
		u.logger.Error("Failed to create item", zap.String("name", item.Name), zap.Error(err))
		return nil, err
	}

	u.logger.Info("Item created",
		zap.Int64("item_id", int64(created.ID)),
		zap.String("name", created.Name),
	)
	return created, nil
}

// UpdateItem replaces an existing item. A missing item yields domain.ErrNotFound.
// The body is stored as sent; only creation enforces field constraints.
func (u *ItemUsecase) UpdateItem(ctx context.Context, id domain.ItemID, item *domain.Item) (*domain.Item, error) {
	if item == nil {
		return nil, fmt.Errorf("%w: empty body", domain.ErrValidation)
	}

	if err := u.rateLimiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}
	defer u.rateLimiter.Release()

	_, found, err := u.repo.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrNotFound
	}

	item.ID = id
	updated, err := u.repo.Persist(ctx, item)
	if err != nil {
		u.logger.Error("Failed to update item", zap.Int64("item_id", int64(id)), zap.Error(err))
		return nil, err
	}

	u.invalidateCache(id)

	u.logger.Info("Item updated", zap.Int64("item_id", int64(id)))
	return updated, nil
}

// DeleteItem removes an item. A missing item yields domain.ErrNotFound.
func (u *ItemUsecase) DeleteItem(ctx context.Context, id domain.ItemID) error {
	if err := u.rateLimiter.Acquire(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}
	defer u.rateLimiter.Release()

	if err := u.repo.Delete(ctx, id); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			u.logger.Error("Failed to delete item", zap.Int64("item_id", int64(id)), zap.Error(err))
		}
		return err
	}

	u.invalidateCache(id)

	u.logger.Info("Item deleted", zap.Int64("item_id", int64(id)))
	return nil
}

// ProcessItems runs one batch over every pending item.
// Cache entries of processed items are dropped before returning,
// so a following GetItem observes the persisted state.
func (u *ItemUsecase) ProcessItems(ctx context.Context) (*domain.BatchResult, error) {
	if u.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.batchTimeout)
		defer cancel()
	}

	result, err := u.runner.RunBatch(ctx)
	if result != nil {
		u.invalidateProcessed(result)
	}
	if err != nil {
		u.logger.Error("Batch run failed", zap.Error(err))
		return result, err
	}

	u.logger.Info("Batch run completed",
		zap.String("batch_id", result.BatchID),
		zap.Int("processed", result.Count),
		zap.Int("not_found", len(result.NotFound)),
		zap.Int("failed", len(result.Failures)),
		zap.Duration("duration", result.Duration()),
	)
	return result, nil
}

func (u *ItemUsecase) validateItem(item *domain.Item) error {
	if item == nil {
		return fmt.Errorf("%w: empty body", domain.ErrValidation)
	}
	if err := u.validate.Struct(item); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func (u *ItemUsecase) invalidateProcessed(result *domain.BatchResult) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	for _, rec := range result.Records {
		if err := u.cache.Delete(ctx, rec.ID); err != nil {
			u.logger.Warn("Failed to invalidate cache", zap.Int64("item_id", int64(rec.ID)), zap.Error(err))
		}
	}
}

func (u *ItemUsecase) cacheItem(item *domain.Item) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	if err := u.cache.Set(ctx, item); err != nil {
		u.logger.Warn("Failed to cache item", zap.Int64("item_id", int64(item.ID)), zap.Error(err))
	}
}

// invalidateCache runs inline so a read issued after a write never sees the old entry
func (u *ItemUsecase) invalidateCache(id domain.ItemID) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	if err := u.cache.Delete(ctx, id); err != nil {
		u.logger.Warn("Failed to invalidate cache", zap.Int64("item_id", int64(id)), zap.Error(err))
	}
}
