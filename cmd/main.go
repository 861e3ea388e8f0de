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
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quii/vue-fast-sub001/config"
	"github.com/quii/vue-fast-sub001/db"
	"github.com/quii/vue-fast-sub001/handlers"
	"github.com/quii/vue-fast-sub001/realtime"
	"github.com/quii/vue-fast-sub001/repositories"
	api "github.com/quii/vue-fast-sub001/routes"
	"github.com/quii/vue-fast-sub001/services"
	"github.com/quii/vue-fast-sub001/storage"
	"github.com/quii/vue-fast-sub001/telemetry"
	"golang.org/x/sync/errgroup"
)

const serviceName = "shoot-server"

func main() {
	if err := run(); err != nil {
		slog.Error("application exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.Int("port", cfg.ServerPort),
		slog.String("store", cfg.ShootStore),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("failed to flush traces", slog.Any("error", err))
		}
	}()

	repo, closeRepo, err := openShootRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	archiver, err := newArchiver(ctx, cfg, logger)
	if err != nil {
		return err
	}

	hub := realtime.NewHub(logger)
	shootService := services.NewShootService(repo, hub, logger)
	sweeper := services.NewExpirySweeper(repo, archiver, logger, cfg.SweepInterval)
	dispatcher := realtime.NewDispatcher(shootService, hub, logger)

	shootHandler := handlers.NewShootHandler(shootService)
	webSocketHandler := handlers.NewWebSocketHandler(hub, dispatcher, cfg.AllowedOrigins, logger)

	router := chi.NewRouter()
	api.SetupRoutes(router, logger, cfg.AllowedOrigins, shootHandler, webSocketHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gctx)
	})

	g.Go(func() error {
		if err := sweeper.Start(); err != nil {
			return err
		}
		<-gctx.Done()
		return sweeper.Stop()
	})

	g.Go(func() error {
		logger.Info("starting server", slog.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server", slog.Duration("timeout", cfg.ShutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		logger.Info("server shutdown complete")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("application exited")
	return nil
}

func openShootRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repositories.ShootRepository, func(), error) {
	switch cfg.ShootStore {
	case config.StorePostgres:
		conn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.EnsureShootSchema(ctx, conn); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		logger.Info("database connection established")
		return repositories.NewPostgresShootRepository(conn, nil), closeDB(conn, logger), nil

	case config.StoreDynamoDB:
		client, err := db.NewDynamoClient(ctx, cfg.AWSRegion, cfg.DynamoEndpoint)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using DynamoDB shoot store", slog.String("table", cfg.DynamoTable))
		return repositories.NewDynamoShootRepository(client, cfg.DynamoTable, nil), func() {}, nil

	default:
		logger.Info("using in-memory shoot store")
		return repositories.NewMemoryShootRepository(nil), func() {}, nil
	}
}

func closeDB(conn *sql.DB, logger *slog.Logger) func() {
	return func() {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
			return
		}
		logger.Info("database connection closed")
	}
}

func newArchiver(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.Archiver, error) {
	r2 := storage.R2Config{
		AccountID:       cfg.R2.AccountID,
		AccessKeyID:     cfg.R2.AccessKeyID,
		SecretAccessKey: cfg.R2.SecretAccessKey,
		BucketName:      cfg.R2.BucketName,
		Endpoint:        cfg.R2.Endpoint,
	}
	if !r2.Enabled() {
		logger.Info("archive bucket not configured, expired shoots are deleted without archiving")
		return storage.NoopArchiver{}, nil
	}
	uploader, err := storage.NewR2Uploader(ctx, r2)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize R2 uploader: %w", err)
	}
	logger.Info("R2 archive initialized", slog.String("bucket", r2.BucketName))
	return storage.NewShootArchiver(uploader, logger), nil
}
