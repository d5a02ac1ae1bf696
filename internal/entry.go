// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/starford/harmonia/internal/api"
	"github.com/starford/harmonia/internal/aspect"
	"github.com/starford/harmonia/internal/cache"
	"github.com/starford/harmonia/internal/ephemeris"
	"github.com/starford/harmonia/internal/eventstore"
	"github.com/starford/harmonia/internal/finder"
	"github.com/starford/harmonia/internal/mcpserver"
	"github.com/starford/harmonia/internal/service"
	"github.com/starford/harmonia/internal/sse"
	"github.com/starford/harmonia/internal/storage"
	"github.com/starford/harmonia/internal/watcher"
)

// core holds the components shared by every command.
type core struct {
	logger *slog.Logger
	charts *storage.FS
	db     *cache.DB
	pool   *finder.Pool
	svc    *service.Service
}

func (c *core) close() {
	if err := c.charts.Close(); err != nil {
		c.logger.Error("chart directory close failed", slog.String("error", err.Error()))
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("event cache close failed", slog.String("error", err.Error()))
		}
	}
}

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.eph == nil {
		app.eph = ephemeris.NewMean()
	}
	if app.out == nil {
		app.out = os.Stdout
	}
	return app, nil
}

// build wires storage, the event cache and the service. pub may be nil.
// withCache false skips the SQLite cache for one-shot commands.
func (a *application) build(logger *slog.Logger, pub service.Publisher, withCache bool) (*core, error) {
	cfg := a.config

	registry := aspect.NewRegistry()
	if cfg.Aspects.Path != "" {
		if err := registry.Reload(cfg.Aspects.Path); err != nil {
			return nil, fmt.Errorf("load aspect sets: %w", err)
		}
	}

	if err := os.MkdirAll(cfg.Charts.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create charts dir: %w", err)
	}
	fs, err := storage.NewFS(cfg.Charts.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	c := &core{logger: logger, charts: fs}
	store := eventstore.New(logger)

	svcOpts := []service.Option{service.WithLogger(logger)}
	if withCache {
		c.db, err = cache.Open(cfg.SQLite.Path)
		if err != nil {
			_ = fs.Close()
			return nil, fmt.Errorf("init event cache: %w", err)
		}
		sums, err := cache.Restore(c.db, store, logger)
		if err != nil {
			logger.Warn("event cache restore failed", slog.String("error", err.Error()))
		}
		svcOpts = append(svcOpts, service.WithCache(c.db, sums))
	}
	if pub != nil {
		svcOpts = append(svcOpts, service.WithPublisher(pub))
	}

	c.pool = finder.NewPool(cfg.Search.Workers, logger)
	c.svc = service.New(storage.NewCharts(fs, logger), a.eph, registry, store, c.pool, service.Config{
		Options:   cfg.Search.Options(),
		ChunkSize: cfg.Search.ChunkSize,
		Step:      cfg.Search.Step,
		AspectDir: cfg.Aspects.Path,
	}, svcOpts...)
	return c, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := newLogger(os.Stdout, cfg.App.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("charts_path", cfg.Charts.Path),
		slog.String("aspects_path", cfg.Aspects.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Int("workers", cfg.Search.Workers),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(cfg.Search.ProgressInterval)
	defer broker.Close()

	c, err := app.build(logger, broker, true)
	if err != nil {
		return err
	}
	defer c.close()

	var limiter *rate.Limiter
	if cfg.RateLimit.Enabled() {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.PerSecond), cfg.RateLimit.Burst)
	}
	apiRouter := api.NewRouter(c.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, limiter)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := c.db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","pending":%d}`, c.pool.Pending())
	})
	r.Handle("/metrics", promhttp.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// The pool outlives the server context so that shutdown can settle
	// running searches first.
	poolCtx, stopPool := context.WithCancel(context.Background())
	defer stopPool()
	g.Go(func() error {
		return c.pool.Run(poolCtx)
	})

	// Start file watcher.
	g.Go(func() error {
		w := watcher.New(c.charts, cfg.Charts.Path, cfg.Aspects.Path, c.svc, logger)
		if err := w.Run(gCtx); err != nil {
			logger.Warn("watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Abandoned chunks fail their searches, which roll back coverage.
		stopPool()
		c.svc.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools over stdio. Logs go to stderr since stdout
// carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, app.config.App.LogLevel)
	slog.SetDefault(logger)

	c, err := app.build(logger, nil, true)
	if err != nil {
		return err
	}
	defer c.close()

	poolCtx, stopPool := context.WithCancel(ctx)
	g := new(errgroup.Group)
	g.Go(func() error {
		return c.pool.Run(poolCtx)
	})

	logger.Info("MCP server starting on stdio")
	serveErr := mcpserver.New(c.svc).ServeStdio()

	stopPool()
	c.svc.Close()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return serveErr
}

// ClustersQuery is the input of the one-shot clusters command.
type ClustersQuery struct {
	Charts    []string
	At        *time.Time
	Harmonics []int
	Focal     []string
	Quorum    int
	MaxOrb    float64
}

// RunClusters prints the cluster table of q as JSON. Without harmonics or
// focal members the full quorum/orb ladder is computed.
func RunClusters(ctx context.Context, q ClustersQuery, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, app.config.App.LogLevel)

	c, err := app.build(logger, nil, false)
	if err != nil {
		return err
	}
	defer c.close()

	var rows []service.HarmonicGroups
	if len(q.Harmonics) == 0 && len(q.Focal) == 0 {
		rows, err = c.svc.Harmonics(ctx, service.HarmonicsQuery{Charts: q.Charts, At: q.At})
	} else {
		rows, err = c.svc.Clusters(ctx, service.ClustersQuery{
			Charts:    q.Charts,
			At:        q.At,
			Harmonics: q.Harmonics,
			Focal:     q.Focal,
			Quorum:    q.Quorum,
			MaxOrb:    q.MaxOrb,
		})
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(app.out)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
