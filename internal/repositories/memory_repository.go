package repositories

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/vdiana16/SiemensJava2025/internal/domain"
)

// MemoryRepository keeps items in process memory. Used for development and tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	items  map[domain.ItemID]*domain.Item
	nextID domain.ItemID
	logger *zap.Logger
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository(logger *zap.Logger) *MemoryRepository {
	return &MemoryRepository{
		items:  make(map[domain.ItemID]*domain.Item),
		logger: logger,
	}
}

// ListPendingIDs returns every stored ID in ascending order
func (r *MemoryRepository) ListPendingIDs(ctx context.Context) ([]domain.ItemID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]domain.ItemID, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Fetch returns a copy of the stored item
func (r *MemoryRepository) Fetch(ctx context.Context, id domain.ItemID) (*domain.Item, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]
	if !ok {
		return nil, false, nil
	}
	return item.Clone(), true, nil
}

// Persist stores a copy of the item under its ID
func (r *MemoryRepository) Persist(ctx context.Context, item *domain.Item) (*domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if item == nil || item.ID <= 0 {
		return nil, errMissingID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[item.ID] = item.Clone()
	if item.ID > r.nextID {
		r.nextID = item.ID
	}
	return item.Clone(), nil
}

// Create assigns the next ID and stores the item
func (r *MemoryRepository) Create(ctx context.Context, item *domain.Item) (*domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	stored := item.Clone()
	stored.ID = r.nextID
	r.items[stored.ID] = stored

	r.logger.Debug("item created", zap.Int64("item_id", int64(stored.ID)))
	return stored.Clone(), nil
}

// List returns copies of all items ordered by ID
func (r *MemoryRepository) List(ctx context.Context) ([]*domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]*domain.Item, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item.Clone())
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// Delete removes an item
func (r *MemoryRepository) Delete(ctx context.Context, id domain.ItemID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

// CheckConnection always succeeds
func (r *MemoryRepository) CheckConnection(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (r *MemoryRepository) Close() error {
	return nil
}

var (
	_ domain.ItemRepository = (*MemoryRepository)(nil)
	_ domain.HealthChecker  = (*MemoryRepository)(nil)
)
