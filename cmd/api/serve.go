package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"goalsync/api/internal/app"
	"goalsync/api/internal/changefeed"
	"goalsync/api/internal/config"
	"goalsync/api/internal/export"
	"goalsync/api/internal/goals"
	"goalsync/api/internal/search"
	"goalsync/api/internal/store"
	"goalsync/api/internal/util"
)

type ServeCmd struct {
	Addr  string `help:"Listen address; overrides API_ADDR"`
	Store string `help:"Goal store backend; overrides GOALS_STORE" placeholder:"memory|bolt|postgres|datastore"`
}

func (c *ServeCmd) Run(rc *runContext) error {
	cfg := rc.cfg
	if c.Addr != "" {
		cfg.Addr = c.Addr
	}
	if c.Store != "" {
		cfg.Store = c.Store
	}
	logger := rc.logger

	ctx, stop := signal.NotifyContext(rc, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.close(logger)

	origin := util.NewID("instance")
	metrics := app.NewMetrics()
	local := changefeed.NewLocal()
	dedup, err := changefeed.NewDeduper(changefeed.DefaultDedupWindow)
	if err != nil {
		return err
	}

	publishers := changefeed.Multi{local}
	var redisFeed *changefeed.Redis
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisFeed, err = changefeed.NewRedis(cfg.RedisURL, cfg.RedisChannel, origin, logger)
		if err != nil {
			return err
		}
		defer redisFeed.Close()
		publishers = append(publishers, redisFeed)
		logger.Info("redis change feed enabled", "channel", cfg.RedisChannel, "origin", origin)
	}

	repo := goals.NewRepository(backend.store, logger, goals.WithPublisher(publishers))
	resolver := goals.NewResolver(backend.store)
	notifier := goals.NewNotifier(resolver, logger,
		goals.WithBuffer(cfg.SubscriberBuffer),
		goals.WithObserver(metrics),
	)
	controller := goals.NewController(repo, logger, metrics)

	searchService, closeSearch := newSearch(cfg, backend, logger)
	defer closeSearch()

	exportService, err := newExport(ctx, cfg, resolver, logger)
	if err != nil {
		return err
	}

	local.Subscribe(notifier.Notify)
	local.Subscribe(metrics.ObserveChange)
	local.Subscribe(searchService.HandleChange)
	remote := dedup.Wrap(local.Dispatch)

	service := app.NewService(app.Deps{
		Repository: repo,
		Resolver:   resolver,
		Notifier:   notifier,
		Controller: controller,
		Search:     searchService,
		Export:     exportService,
		Logger:     logger,
	})
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin,
		app.WithLogger(logger),
		app.WithMetrics(metrics),
		app.WithRateLimiter(app.NewRateLimiter(logger, cfg.RateLimit, cfg.RateBurst)),
	)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("goals API listening", "addr", cfg.Addr, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		notifier.Close()
		return server.Shutdown(shutdownCtx)
	})
	if redisFeed != nil {
		g.Go(func() error { return redisFeed.Listen(gctx, remote) })
	}
	if backend.db != nil {
		listener := changefeed.NewPGListener(cfg.DatabaseURL, logger)
		g.Go(func() error { return listener.Listen(gctx, remote) })
	}
	if cfg.ResyncInterval > 0 {
		g.Go(func() error { return notifier.RunResync(gctx, cfg.ResyncInterval) })
	}
	g.Go(func() error {
		searchService.Reindex(gctx)
		return nil
	})

	err = g.Wait()
	searchService.Wait()
	logger.Info("goals API stopped")
	return err
}

type backend struct {
	store store.GoalStore
	db    *sql.DB
}

func (b *backend) close(logger *slog.Logger) {
	if err := b.store.Close(); err != nil {
		logger.Warn("close goal store", "error", err)
	}
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.Store {
	case store.BackendMemory:
		logger.Warn("using in-memory goal store; data is lost on restart")
		return &backend{store: store.NewMemoryStore()}, nil
	case store.BackendBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.BoltPath), 0o755); err != nil {
			return nil, fmt.Errorf("create bolt dir: %w", err)
		}
		s, err := store.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		return &backend{store: s}, nil
	case store.BackendPostgres:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
		return &backend{store: store.NewPostgresStore(db), db: db}, nil
	case store.BackendDatastore:
		s, err := store.OpenDatastore(ctx, logger, cfg.DatastoreProject, cfg.DatastoreDatabase)
		if err != nil {
			return nil, err
		}
		return &backend{store: s}, nil
	default:
		return nil, fmt.Errorf("unknown goal store %q", cfg.Store)
	}
}

func newSearch(cfg config.Config, b *backend, logger *slog.Logger) (*search.Service, func()) {
	var fallback search.Searcher = search.NewScan(b.store)
	if b.db != nil {
		fallback = search.NewPgFTS(b.db)
	}
	if strings.TrimSpace(cfg.MeiliURL) == "" {
		return search.NewService(nil, fallback, b.store, logger), func() {}
	}
	meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	return search.NewService(meili, fallback, b.store, logger), meili.Close
}

func newExport(ctx context.Context, cfg config.Config, resolver goals.GoalResolver, logger *slog.Logger) (*export.Service, error) {
	if strings.TrimSpace(cfg.ExportS3Endpoint) == "" {
		return export.NewService(resolver, logger), nil
	}
	uploader, err := export.NewMinioUploader(cfg.ExportS3Endpoint, cfg.ExportS3AccessKey, cfg.ExportS3SecretKey, cfg.ExportS3Bucket, cfg.ExportS3Secure, logger)
	if err != nil {
		return nil, err
	}
	if err := uploader.EnsureBucket(ctx); err != nil {
		logger.Warn("export bucket unavailable; uploads will fail until it exists", "bucket", cfg.ExportS3Bucket, "error", err)
	}
	return export.NewService(resolver, logger, export.WithUploader(uploader)), nil
}
