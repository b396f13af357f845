package repositories

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vdiana16/SiemensJava2025/internal/config"
	"github.com/vdiana16/SiemensJava2025/internal/domain"
)

// Storage drivers
const (
	DriverMemory    = "memory"
	DriverPebble    = "pebble"
	DriverReindexer = "reindexer"
)

var (
	errClosed    = errors.New("store is closed")
	errMissingID = errors.New("item has no id")
)

// Repository is what the application needs from a storage backend
type Repository interface {
	domain.ItemRepository
	domain.HealthChecker
}

// Open builds the repository selected by cfg.Driver
func Open(cfg config.StorageConfig, logger *zap.Logger) (Repository, error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewMemoryRepository(logger), nil
	case DriverPebble:
		return NewPebbleRepository(cfg.Pebble.Path, logger)
	case DriverReindexer:
		return NewReindexerRepository(cfg.Reindexer.DSN, cfg.Reindexer.Namespace, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
