package cache

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/vdiana16/SiemensJava2025/internal/domain"
)

const (
	defaultShardCount      = 16
	defaultTTL             = 15 * time.Minute
	defaultCleanupInterval = 1 * time.Minute
)

// entry is a cached item with expiration
type entry struct {
	item      domain.Item
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// shard is a single shard of the cache with its own lock
type shard struct {
	mu    sync.RWMutex
	items map[domain.ItemID]*entry
}

// ShardedCache is a thread-safe sharded item cache.
// Values are copied on Set and on Get, so callers never share an item with the cache.
type ShardedCache struct {
	shards          []*shard
	ttl             time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	cleanupMu      sync.Mutex
	cleanupRunning bool
	cleanupStop    chan struct{}
	cleanupWg      sync.WaitGroup
}

// NewShardedCache creates a cache with shardCount shards and the given TTL
func NewShardedCache(shardCount int, ttl time.Duration) *ShardedCache {
	if shardCount < 1 {
		shardCount = defaultShardCount
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{items: make(map[domain.ItemID]*entry)}
	}

	return &ShardedCache{
		shards:          shards,
		ttl:             ttl,
		cleanupInterval: defaultCleanupInterval,
		now:             time.Now,
	}
}

// getShard picks a shard by FNV hash of the id
func (c *ShardedCache) getShard(id domain.ItemID) *shard {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(int64(id), 10)))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get implements domain.Cache
func (c *ShardedCache) Get(ctx context.Context, id domain.ItemID) (*domain.Item, bool) {
	if ctx.Err() != nil {
		return nil, false
	}

	s := c.getShard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.items[id]
	if !ok || e.expired(c.now()) {
		// expired entries are left for the cleanup worker
		return nil, false
	}
	item := e.item
	return &item, true
}

// Set implements domain.Cache
func (c *ShardedCache) Set(ctx context.Context, item *domain.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := c.getShard(item.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item.ID] = &entry{
		item:      *item,
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}

// Delete implements domain.Cache
func (c *ShardedCache) Delete(ctx context.Context, id domain.ItemID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := c.getShard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, id)
	return nil
}

// CleanExpired implements domain.Cache
func (c *ShardedCache) CleanExpired(ctx context.Context) error {
	now := c.now()
	for _, s := range c.shards {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		for id, e := range s.items {
			if e.expired(now) {
				delete(s.items, id)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// Len returns the number of entries, expired ones included
func (c *ShardedCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// StartCleanupWorker starts a background goroutine that periodically removes expired entries
func (c *ShardedCache) StartCleanupWorker() {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()

	if c.cleanupRunning {
		return
	}
	c.cleanupRunning = true
	c.cleanupStop = make(chan struct{})

	c.cleanupWg.Add(1)
	go c.cleanupWorker(c.cleanupStop)
}

// StopCleanupWorker stops the background cleanup worker
func (c *ShardedCache) StopCleanupWorker() {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()

	if !c.cleanupRunning {
		return
	}
	close(c.cleanupStop)
	c.cleanupWg.Wait()
	c.cleanupRunning = false
}

func (c *ShardedCache) cleanupWorker(stop <-chan struct{}) {
	defer c.cleanupWg.Done()

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_ = c.CleanExpired(ctx)
			cancel()
		}
	}
}

// Verify that ShardedCache implements domain.Cache interface
var _ domain.Cache = (*ShardedCache)(nil)
