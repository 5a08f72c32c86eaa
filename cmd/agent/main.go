package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"fieldsync-agent/internal/backend"
	"fieldsync-agent/internal/config"
	"fieldsync-agent/internal/connectivity"
	"fieldsync-agent/internal/device"
	"fieldsync-agent/internal/handler"
	"fieldsync-agent/internal/middleware"
	"fieldsync-agent/internal/model"
	"fieldsync-agent/internal/queue"
	"fieldsync-agent/internal/router"
	"fieldsync-agent/internal/service"
	"fieldsync-agent/internal/store"
	"fieldsync-agent/internal/syncer"
	"fieldsync-agent/internal/zone"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting fieldsync agent...")

	// Load configuration
	cfg := config.MustLoad()
	log.Printf("Environment: %s, store: %s", cfg.App.Environment, cfg.Store.Type)

	// Durable store backs the queues, snapshots and caches
	kv, err := store.Open(cfg.Store)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Store.Type, err)
	}
	defer kv.Close()

	pending := queue.NewManager(kv, queue.Options{
		MaxRetries:  cfg.Sync.MaxRetries,
		GPSCapacity: cfg.Sync.GPSQueueCapacity,
		BackoffBase: cfg.Sync.BackoffBase,
		BackoffMax:  cfg.Sync.BackoffMax,
	})

	client := backend.New(backend.Config{
		BaseURL:      cfg.Backend.BaseURL,
		Timeout:      cfg.Backend.Timeout,
		ProbeTimeout: cfg.Backend.ProbeTimeout,
		TenantID:     cfg.Backend.TenantID,
	})

	signals := device.NewSignals(kv)

	monitor := connectivity.NewMonitor(connectivity.Config{
		Interval:         cfg.Sync.ConnectivityInterval,
		GPSInterval:      cfg.Sync.GPSCheckInterval,
		SettleDelay:      cfg.Sync.SettleDelay,
		OfflineThreshold: cfg.Sync.OfflineThreshold,
	}, connectivity.Deps{
		Prober:       client,
		Reachability: signals,
		Location:     signals,
		Reporter:     client,
		Store:        kv,
	})

	engine := syncer.New(pending, client, monitor, kv, syncer.Config{
		BatchSize: cfg.Sync.BatchSize,
	})
	monitor.SetDrainer(engine)

	unsubscribe := monitor.Subscribe(func(evt model.Event) {
		if evt.Type == model.EventSynced && evt.Sync != nil {
			log.Printf("[Agent] %s", evt.Sync.Message)
			return
		}
		log.Printf("[Agent] Connectivity event: %s", evt.Type)
	})
	defer unsubscribe()

	capture := service.NewCaptureService(
		client,
		monitor,
		pending,
		zone.NewResolver(client, kv),
		signals,
		engine,
		service.CaptureConfig{
			AppVersion: cfg.App.Version,
			DeviceInfo: cfg.Backend.DeviceInfo,
		},
	)

	cleanup := service.NewCleanupScheduler(pending, service.CleanupConfig{
		MaxAge:          cfg.Sync.MaxAge,
		CleanupInterval: cfg.Sync.CleanupInterval,
	})

	// Start restores the last persisted decision before the first probe
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor.Start(ctx)
	cleanup.Start()

	// Initialize handlers
	authMiddleware := middleware.NewAuthMiddleware(middleware.AuthConfig{
		APIKeys: cfg.Auth.APIKeys,
	})
	if len(cfg.Auth.APIKeys) == 0 {
		log.Println("Warning: API_KEYS is empty, local API is open")
	}

	r := router.New(router.Config{
		Handler:             handler.New(kv, monitor, pending, cfg.App.Version),
		CaptureHandler:      handler.NewCaptureHandler(capture),
		SyncHandler:         handler.NewSyncHandler(pending, engine, cfg.Store.Type, cfg.Sync.MaxAge),
		ConnectivityHandler: handler.NewConnectivityHandler(monitor),
		DeviceHandler:       handler.NewDeviceHandler(signals, monitor),
		AuthMiddleware:      authMiddleware,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down agent...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Stop producers before the store closes
	cleanup.Stop()
	monitor.Stop()
	capture.Wait()

	log.Println("Agent stopped")
	fmt.Println("Goodbye!")
}
