package repositories

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/vdiana16/SiemensJava2025/internal/domain"
)

// Key layout:
//
//	item:<20-digit zero padded id>  JSON encoded domain.Item
//	meta:seq                        big-endian uint64, last assigned id
const (
	itemKeyPrefix = "item:"
	seqKey        = "meta:seq"
)

var itemKeyUpperBound = []byte("item;")

// PebbleRepository stores items in an embedded Pebble database
type PebbleRepository struct {
	path   string
	logger *zap.Logger

	mu sync.RWMutex
	db *pebble.DB

	// seqMu serializes id assignment
	seqMu sync.Mutex
}

// NewPebbleRepository opens (or creates) the database at path
func NewPebbleRepository(path string, logger *zap.Logger) (*PebbleRepository, error) {
	logger.Info("opening pebble store", zap.String("path", path))
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble open failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}

	return &PebbleRepository{
		path:   path,
		logger: logger,
		db:     db,
	}, nil
}

func itemKey(id domain.ItemID) []byte {
	return []byte(fmt.Sprintf("%s%020d", itemKeyPrefix, id))
}

func parseItemKey(key []byte) (domain.ItemID, error) {
	raw := strings.TrimPrefix(string(key), itemKeyPrefix)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed item key %q: %w", key, err)
	}
	return domain.ItemID(v), nil
}

func (r *PebbleRepository) handle() (*pebble.DB, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.db == nil {
		return nil, errClosed
	}
	return r.db, nil
}

func (r *PebbleRepository) scan(ctx context.Context, fn func(key, value []byte) error) error {
	db, err := r.handle()
	if err != nil {
		return err
	}

	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(itemKeyPrefix),
		UpperBound: itemKeyUpperBound,
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// ListPendingIDs returns every stored ID in key order
func (r *PebbleRepository) ListPendingIDs(ctx context.Context) ([]domain.ItemID, error) {
	var ids []domain.ItemID
	err := r.scan(ctx, func(key, _ []byte) error {
		id, err := parseItemKey(key)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list item ids: %w", err)
	}
	return ids, nil
}

// Fetch reads one item
func (r *PebbleRepository) Fetch(ctx context.Context, id domain.ItemID) (*domain.Item, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	db, err := r.handle()
	if err != nil {
		return nil, false, err
	}

	value, closer, err := db.Get(itemKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get item %d: %w", id, err)
	}
	defer closer.Close()

	var item domain.Item
	if err := json.Unmarshal(value, &item); err != nil {
		return nil, false, fmt.Errorf("decode item %d: %w", id, err)
	}
	return &item, true, nil
}

// Persist writes the item under its ID
func (r *PebbleRepository) Persist(ctx context.Context, item *domain.Item) (*domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if item == nil || item.ID <= 0 {
		return nil, errMissingID
	}
	db, err := r.handle()
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode item %d: %w", item.ID, err)
	}
	if err := db.Set(itemKey(item.ID), data, pebble.Sync); err != nil {
		r.logger.Error("persist item failed", zap.Int64("item_id", int64(item.ID)), zap.Error(err))
		return nil, fmt.Errorf("write item %d: %w", item.ID, err)
	}
	return item.Clone(), nil
}

// Create assigns the next sequence value and stores the item together with it
func (r *PebbleRepository) Create(ctx context.Context, item *domain.Item) (*domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := r.handle()
	if err != nil {
		return nil, err
	}

	r.seqMu.Lock()
	defer r.seqMu.Unlock()

	last, err := r.lastSeq(db)
	if err != nil {
		return nil, err
	}

	stored := item.Clone()
	stored.ID = domain.ItemID(last + 1)

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	seq := make([]byte, 8)
	binary.BigEndian.PutUint64(seq, last+1)

	b := db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(seqKey), seq, nil); err != nil {
		return nil, err
	}
	if err := b.Set(itemKey(stored.ID), data, nil); err != nil {
		return nil, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("commit item %d: %w", stored.ID, err)
	}

	r.logger.Debug("item created", zap.Int64("item_id", int64(stored.ID)))
	return stored, nil
}

func (r *PebbleRepository) lastSeq(db *pebble.DB) (uint64, error) {
	value, closer, err := db.Get([]byte(seqKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sequence: %w", err)
	}
	defer closer.Close()
	if len(value) != 8 {
		return 0, fmt.Errorf("corrupt sequence value of %d bytes", len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

// List returns all items ordered by ID
func (r *PebbleRepository) List(ctx context.Context) ([]*domain.Item, error) {
	var items []*domain.Item
	err := r.scan(ctx, func(key, value []byte) error {
		var item domain.Item
		if err := json.Unmarshal(value, &item); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		items = append(items, &item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// Delete removes an item
func (r *PebbleRepository) Delete(ctx context.Context, id domain.ItemID) error {
	_, found, err := r.Fetch(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrNotFound
	}

	db, err := r.handle()
	if err != nil {
		return err
	}
	if err := db.Delete(itemKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("delete item %d: %w", id, err)
	}
	return nil
}

// CheckConnection reports whether the database is open
func (r *PebbleRepository) CheckConnection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := r.handle()
	return err
}

// Close closes the database
func (r *PebbleRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	r.logger.Info("pebble store closed", zap.String("path", r.path))
	return err
}

var (
	_ domain.ItemRepository = (*PebbleRepository)(nil)
	_ domain.HealthChecker  = (*PebbleRepository)(nil)
)
