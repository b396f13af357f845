package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vdiana16/SiemensJava2025/internal/cache"
	"github.com/vdiana16/SiemensJava2025/internal/config"
	"github.com/vdiana16/SiemensJava2025/internal/domain"
	"github.com/vdiana16/SiemensJava2025/internal/handlers"
	"github.com/vdiana16/SiemensJava2025/internal/middleware"
	"github.com/vdiana16/SiemensJava2025/internal/processor"
	"github.com/vdiana16/SiemensJava2025/internal/repositories"
	"github.com/vdiana16/SiemensJava2025/internal/scheduler"
	"github.com/vdiana16/SiemensJava2025/internal/usecases"
)

const (
	// the store may come up after the service
	healthCheckRetries    = 5
	healthCheckRetryDelay = 2 * time.Second

	healthCheckInterval = 30 * time.Second
	shutdownTimeout     = 30 * time.Second
)

// storageHealth is implemented by stores that remember their last connection
// state, which lets /health report when the store last answered
type storageHealth interface {
	Health() repositories.HealthStatus
}

// App holds every component so none of them has to be global
type App struct {
	config      *config.Config
	logger      *zap.Logger
	registry    *prometheus.Registry
	repo        repositories.Repository
	cache       *cache.ShardedCache
	coordinator *processor.Coordinator
	usecase     *usecases.ItemUsecase
	scheduler   *scheduler.Scheduler
	server      *http.Server

	initOnce sync.Once
	initErr  error

	shutdownOnce sync.Once
}

// NewApp creates an application for cfg. Components are built by Initialize.
func NewApp(cfg *config.Config, logger *zap.Logger) *App {
	return &App{
		config: cfg,
		logger: logger,
	}
}

// Initialize builds the components once. Order matters:
// store, then cache, then coordinator, then usecase, then HTTP.
func (a *App) Initialize(ctx context.Context) error {
	a.initOnce.Do(func() {
		a.initErr = a.doInitialize(ctx)
	})
	return a.initErr
}

func (a *App) doInitialize(ctx context.Context) error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := a.initializeRepository(ctx); err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}

	a.cache = cache.NewShardedCache(a.config.Cache.Shards, a.config.Cache.TTL)
	a.cache.StartCleanupWorker()

	a.coordinator = processor.NewCoordinator(a.repo, a.logger, processor.Options{
		Workers:   a.config.Batch.Workers,
		QueueSize: a.config.Batch.QueueSize,
		WorkDelay: a.config.Batch.WorkDelay,
		Metrics:   processor.NewMetrics(a.registry),
	})
	a.coordinator.Start()

	a.usecase = usecases.NewItemUsecase(
		a.repo,
		a.cache,
		a.coordinator,
		a.logger,
		a.config.Server.MaxConcurrent,
		a.config.Batch.Timeout,
	)

	if a.config.Batch.Schedule != "" {
		s, err := scheduler.New(a.coordinator, a.config.Batch.Schedule, a.config.Batch.Timeout, a.logger)
		if err != nil {
			return err
		}
		a.scheduler = s
	}

	a.initializeServer()

	a.logger.Info("Application initialized",
		zap.String("storage", a.config.Storage.Driver),
		zap.Int("workers", a.coordinator.Workers()),
	)
	return nil
}

// initializeRepository opens the configured store and waits until it answers
func (a *App) initializeRepository(ctx context.Context) error {
	var err error

	for attempt := 0; attempt < healthCheckRetries; attempt++ {
		if attempt > 0 {
			a.logger.Info("Retrying storage connection",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", healthCheckRetryDelay),
			)
			select {
			case <-time.After(healthCheckRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		// a store that opens but does not answer is closed and reopened,
		// so a half-initialized connection is never kept
		repo, openErr := repositories.Open(a.config.Storage, a.logger)
		if openErr != nil {
			err = openErr
			a.logger.Warn("Failed to open storage", zap.Int("attempt", attempt+1), zap.Error(openErr))
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		checkErr := repo.CheckConnection(checkCtx)
		cancel()
		if checkErr != nil {
			_ = repo.Close()
			err = checkErr
			a.logger.Warn("Storage is not reachable", zap.Int("attempt", attempt+1), zap.Error(checkErr))
			continue
		}

		a.repo = repo
		a.logger.Info("Storage ready",
			zap.String("driver", a.config.Storage.Driver),
			zap.Int("attempts", attempt+1),
		)
		return nil
	}

	return fmt.Errorf("storage unavailable after %d attempts: %w", healthCheckRetries, err)
}

// initializeServer sets up routing and middleware
func (a *App) initializeServer() {
	itemHandler := handlers.NewItemHandler(a.usecase, a.logger)
	rateLimiter := middleware.NewRateLimiter(a.config.RateLimit.RPS, a.config.RateLimit.Burst)

	r := chi.NewRouter()

	// health and metrics bypass the middleware chain
	r.Get("/health", a.healthCheckHandler)
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.LoggingMiddleware(a.logger))
		r.Use(middleware.RecoveryMiddleware(a.logger))
		r.Use(middleware.TimeoutMiddleware(a.config.Server.RequestTimeout))
		r.Use(middleware.RateLimitMiddleware(rateLimiter, a.logger))

		r.Route("/api/items", itemHandler.Routes)
	})

	a.server = &http.Server{
		Addr:         a.config.Server.Addr(),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: a.config.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// healthCheckHandler reports whether the store answers
func (a *App) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"storage":   a.config.Storage.Driver,
	}
	status := http.StatusOK

	if err := a.repo.CheckConnection(ctx); err != nil {
		status = http.StatusServiceUnavailable
		health["status"] = "unhealthy"
		health["error"] = err.Error()
	}

	// read after the ping, which refreshes the recorded state
	if hs, ok := a.repo.(storageHealth); ok {
		st := hs.Health()
		health["storage_last_check"] = st.LastCheck.Unix()
		if st.LastError != nil {
			health["storage_last_error"] = st.LastError.Error()
		}
	}
	if a.scheduler != nil {
		health["scheduled_runs"] = a.scheduler.Runs()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(health)
}

// periodicHealthCheck logs the storage state until ctx is done
func (a *App) periodicHealthCheck(ctx context.Context) error {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Background health check stopped")
			return nil
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := a.repo.CheckConnection(checkCtx); err != nil {
				a.logger.Warn("Background health check failed", zap.Error(err))
			} else {
				a.logger.Debug("Background health check passed")
			}
			cancel()
		}
	}
}

// Run serves HTTP and runs the background jobs until ctx is cancelled or one of them fails
func (a *App) Run(ctx context.Context) error {
	if err := a.Initialize(ctx); err != nil {
		return err
	}

	// the first goroutine to fail cancels gCtx, which stops the others
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Starting HTTP server", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.periodicHealthCheck(gCtx)
	})

	// Run returns only after its last batch finished
	if a.scheduler != nil {
		g.Go(func() error {
			return a.scheduler.Run(gCtx)
		})
	}

	return g.Wait()
}

// RunOnce executes a single batch and returns its result
func (a *App) RunOnce(ctx context.Context) (*domain.BatchResult, error) {
	if err := a.Initialize(ctx); err != nil {
		return nil, err
	}
	return a.usecase.ProcessItems(ctx)
}

// Shutdown releases every component. The HTTP server is stopped by Run.
func (a *App) Shutdown() error {
	var shutdownErr error

	a.shutdownOnce.Do(func() {
		a.logger.Info("Shutting down")

		// interrupts batches still in flight; their callers get a partial result
		if a.coordinator != nil {
			a.coordinator.Stop()
		}
		if a.cache != nil {
			a.cache.StopCleanupWorker()
		}
		// the store goes last: Run has already waited for the scheduler and
		// Stop for the workers, so nothing still reads from it
		if a.repo != nil {
			if err := a.repo.Close(); err != nil {
				a.logger.Error("Failed to close storage", zap.Error(err))
				shutdownErr = err
			}
		}

		a.logger.Info("Application stopped")
	})

	return shutdownErr
}
