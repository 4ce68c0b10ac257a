package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	specpkg "github.com/daap14/huddle/api"
	"github.com/daap14/huddle/internal/api"
	"github.com/daap14/huddle/internal/api/handler"
	"github.com/daap14/huddle/internal/auth"
	"github.com/daap14/huddle/internal/config"
	"github.com/daap14/huddle/internal/coordinator"
	"github.com/daap14/huddle/internal/database"
	"github.com/daap14/huddle/internal/feed"
	"github.com/daap14/huddle/internal/reaper"
	"github.com/daap14/huddle/internal/team"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	// root outlives request contexts of hijacked websocket connections, so
	// cancelling it after Shutdown closes the feeds.
	root, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	broker := feed.NewBroker()
	repoOpts := []team.Option{team.WithCodeAttempts(cfg.CodeAttempts)}

	var (
		repo   team.Repository
		pinger handler.DBPinger
	)
	switch cfg.StoreDriver {
	case config.DriverMemory:
		slog.Warn("using in-memory store; lobbies are lost on restart")
		repo = team.NewMemoryRepository(broker, repoOpts...)
	default:
		db, err := initDatabase(root, cfg)
		if err != nil {
			slog.Error("failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		repo = team.NewRepository(db.Pool(), repoOpts...)
		pinger = db
		go feed.NewListener(cfg.DatabaseURL, broker).Start(root)
	}

	authService := auth.NewService(repo, cfg.BcryptCost)
	coord := coordinator.New(repo, authService, cfg.OperationTimeout)

	go reaper.New(repo, cfg.ReaperInterval, cfg.IdleTimeout).Start(root)

	router := api.NewRouter(api.RouterDeps{
		Teams:          coord,
		Auth:           authService,
		Feed:           broker,
		Toucher:        coord,
		DBPinger:       pinger,
		StoreDriver:    cfg.StoreDriver,
		Version:        cfg.Version,
		AllowedOrigins: cfg.AllowedOrigins,
		OpenAPISpec:    specpkg.OpenAPISpec,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return root },
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting huddle server", "port", cfg.Port, "version", cfg.Version, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down server", "signal", sig.String())
	case err := <-serverErr:
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		cancelRoot()
		os.Exit(1)
	}
	cancelRoot()

	slog.Info("server stopped gracefully")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(logHandler))
}

func initDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := database.New(connectCtx, cfg.DatabaseURL,
		database.WithMaxConns(cfg.DBMaxConns),
		database.WithMaxConnIdleTime(cfg.DBMaxConnIdleTime),
	)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(connectCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return db, nil
}
