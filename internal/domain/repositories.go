package domain

import "context"

// ItemStore is the part of persistence the batch coordinator depends on
type ItemStore interface {
	// ListPendingIDs returns a snapshot of every ID eligible for processing
	ListPendingIDs(ctx context.Context) ([]ItemID, error)

	// Fetch looks an item up by ID. A missing item is reported with found == false
	// and a nil error.
	Fetch(ctx context.Context, id ItemID) (item *Item, found bool, err error)

	// Persist writes the item back and returns the stored version
	Persist(ctx context.Context, item *Item) (*Item, error)
}

// ItemRepository defines the full set of item persistence operations
type ItemRepository interface {
	ItemStore

	// Create stores a new item, assigning its ID
	Create(ctx context.Context, item *Item) (*Item, error)

	// List returns all items ordered by ID
	List(ctx context.Context) ([]*Item, error)

	// Delete removes an item by ID. Deleting a missing item returns ErrNotFound.
	Delete(ctx context.Context, id ItemID) error
}

// HealthChecker defines the interface for health checks
type HealthChecker interface {
	// CheckConnection checks if the storage backend is reachable
	CheckConnection(ctx context.Context) error

	// Close releases the backend's resources
	Close() error
}
