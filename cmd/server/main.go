package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"offline-sync-service/internal/api"
	"offline-sync-service/internal/config"
	"offline-sync-service/internal/connectivity"
	"offline-sync-service/internal/database"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/remote"
	"offline-sync-service/internal/status"
	"offline-sync-service/internal/store"
	"offline-sync-service/internal/sync"
)

type backend interface {
	remote.Client
	remote.Pinger
}

func main() {
	configPath := os.Getenv("OFFLINESYNC_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Load Config
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting offline sync service", zap.String("config", configPath))

	// Init Queue Store
	queue, err := store.Open(cfg.Store.FilePath, cfg.Store.GetBusyTimeout(), store.WithMaxRetries(cfg.Sync.MaxRetries))
	if err != nil {
		logger.Log.Fatal("Failed to open queue store", zap.Error(err))
	}
	defer queue.Close()

	// Init Remote
	client, closeRemote, err := newBackend(cfg.Remote)
	if err != nil {
		logger.Log.Fatal("Failed to init remote backend", zap.Error(err))
	}
	defer closeRemote()

	// Init Sync Manager
	monitor := connectivity.NewMonitor(cfg.Connectivity.AssumeOnline)
	if docs, ok := client.(*remote.SQLClient); ok {
		// Registered before the manager so the table exists before a drain starts.
		stopSchemaWatch := watchRemoteSchema(monitor, docs, cfg.Remote.GetTimeout())
		defer stopSchemaWatch()
	}
	syncManager := sync.NewManager(cfg.Sync, queue, client, monitor, status.NewBroadcaster(queue))
	if err := syncManager.Start(); err != nil {
		logger.Log.Fatal("Failed to start sync manager", zap.Error(err))
	}
	defer syncManager.Close()

	var prober *connectivity.Prober
	if cfg.Connectivity.ProbeEnabled {
		prober = connectivity.NewProber(monitor, client, cfg.Connectivity.ProbeSchedule, cfg.Connectivity.GetProbeTimeout())
		if err := prober.Start(); err != nil {
			logger.Log.Fatal("Failed to start connectivity prober", zap.Error(err))
		}
	}

	// Init API
	handler := api.NewHandler(syncManager, cfg.Server.CorsOrigins)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	if prober != nil {
		prober.Stop()
	}
	handler.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
}

// newBackend builds the remote selected by remote.kind.
func newBackend(cfg config.RemoteConfig) (backend, func(), error) {
	switch cfg.Kind {
	case "mysql":
		db, err := database.NewMySQL(cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to remote db: %w", err)
		}
		return remote.NewSQLClient(db), func() { db.Close() }, nil
	default:
		client := remote.NewHTTPClient(cfg.BaseURL, cfg.HealthPath, cfg.AuthToken, cfg.GetTimeout())
		return client, func() {}, nil
	}
}

type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// watchRemoteSchema ensures the remote schema now and again on every
// offline->online transition. The returned func unregisters the handler.
func watchRemoteSchema(monitor *connectivity.Monitor, docs schemaEnsurer, timeout time.Duration) (stop func()) {
	ensure := func() { ensureSchema(docs, timeout) }
	ensure()
	return monitor.OnOnline(ensure)
}

func ensureSchema(docs schemaEnsurer, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := docs.EnsureSchema(ctx); err != nil {
		logger.Log.Warn("Could not ensure remote schema", zap.Error(err))
	}
}
