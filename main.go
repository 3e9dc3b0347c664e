package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stickerstudio/internal/client"
	"stickerstudio/internal/config"
	"stickerstudio/internal/editor"
	"stickerstudio/internal/generation"
	"stickerstudio/internal/handlers"
	"stickerstudio/internal/imaging"
	"stickerstudio/internal/kvstore"
	"stickerstudio/internal/logger"
	"stickerstudio/internal/metrics"
	"stickerstudio/internal/middleware"
	"stickerstudio/internal/packs"
	"stickerstudio/internal/store"

	"github.com/gin-gonic/gin"
)

const (
	editorIdleTimeout = time.Hour
	shutdownTimeout   = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.Initialize(logger.Options{
		Level:  logger.ParseLevel(cfg.LogLevel),
		IsDev:  cfg.IsDevelopment(),
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := kvstore.Open(ctx, kvstore.Options{
		Backend:       cfg.StoreBackend,
		DatabasePath:  cfg.DatabasePath,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Error("Failed to open state store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	st := store.New(kv, store.WithKey(cfg.StoreKey))
	if err := st.Load(ctx); err != nil {
		logger.Error("Failed to load persisted state", "error", err)
		os.Exit(1)
	}
	st.Subscribe(func(s store.State) {
		metrics.UpdateStoreSizes(len(s.Stickers), len(s.Packs), s.User.GenerationsUsed)
	})
	snap := st.Snapshot()
	metrics.UpdateStoreSizes(len(snap.Stickers), len(snap.Packs), snap.User.GenerationsUsed)

	api := client.New(cfg.APIBaseURL, cfg.APIToken, cfg.HTTPTimeout)
	orch := generation.New(st, api, generation.Options{
		RequestsPerSecond: cfg.GenerationRPS,
		Burst:             cfg.GenerationBurst,
	})
	if cfg.APIToken != "" {
		if _, err := orch.RefreshQuota(ctx); err != nil {
			logger.Warn("Could not refresh quota at startup", "error", err)
		}
	}

	allowed, err := imaging.ParseNetworks(cfg.FetchAllowedNetworks)
	if err != nil {
		logger.Error("Invalid FETCH_ALLOWED_NETWORKS", "error", err)
		os.Exit(1)
	}
	fetcher := imaging.NewFetcher(imaging.FetcherOptions{
		Timeout:         cfg.HTTPTimeout,
		MaxBytes:        cfg.FetchMaxBytes,
		AllowedNetworks: allowed,
	})
	sessions := editor.NewSessions()
	go pruneSessions(ctx, sessions)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	handlers.SetupRoutes(r, &handlers.Services{
		Config:       cfg,
		Store:        st,
		Orchestrator: orch,
		Packs:        packs.New(st, fetcher),
		Upscaler:     imaging.NewUpscaler(fetcher),
		Fetcher:      fetcher,
		Sessions:     sessions,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Graceful shutdown failed", "error", err)
		}
	}()

	logger.Info("Server starting", "port", cfg.Port, "environment", cfg.Environment, "store", cfg.StoreBackend)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("Server closed")
}

func pruneSessions(ctx context.Context, sessions *editor.Sessions) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Prune(editorIdleTimeout); n > 0 {
				logger.Debug("Closed idle editor sessions", "count", n)
			}
		}
	}
}
