package domain

import "context"

// Cache defines the interface for caching items by ID
type Cache interface {
	// Get retrieves a copy of a cached item
	Get(ctx context.Context, id ItemID) (*Item, bool)

	// Set stores a copy of the item under its ID
	Set(ctx context.Context, item *Item) error

	// Delete removes an item from the cache
	Delete(ctx context.Context, id ItemID) error

	// CleanExpired removes all expired entries from the cache
	CleanExpired(ctx context.Context) error
}
