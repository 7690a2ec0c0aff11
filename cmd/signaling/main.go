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

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/studyroom-signaling/config"
	"github.com/mossy-p/studyroom-signaling/internal/broadcast"
	"github.com/mossy-p/studyroom-signaling/internal/handlers"
	"github.com/mossy-p/studyroom-signaling/internal/hub"
	"github.com/mossy-p/studyroom-signaling/internal/logging"
	"github.com/mossy-p/studyroom-signaling/internal/registry"
	"github.com/mossy-p/studyroom-signaling/internal/relay"
	"github.com/mossy-p/studyroom-signaling/internal/store"
	"github.com/mossy-p/studyroom-signaling/internal/store/memory"
	"github.com/mossy-p/studyroom-signaling/internal/store/mongo"
	"github.com/mossy-p/studyroom-signaling/internal/store/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()
	logger := logging.New(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("Failed to open store")
	}
	defer st.Close()
	logger.Info().Str("backend", cfg.StoreBackend).Msg("Store ready")

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := registry.New(registry.Options{
		GracePeriod:    cfg.Rooms.GracePeriod,
		NormalizeCodes: cfg.Rooms.NormalizeCodes,
	}, logger)
	defer reg.Close()

	h := hub.New(hub.Options{
		SendBuffer:        cfg.Transport.SendBuffer,
		HeartbeatInterval: cfg.Transport.HeartbeatInterval,
		PongWait:          cfg.Transport.PongWait(),
		MaxMessageSize:    cfg.Transport.MaxMessageSize,
	}, logger)

	b := broadcast.New(st, reg, h, broadcast.Options{
		PersistStrokes: cfg.Rooms.PersistStrokes,
		RoomBudget:     cfg.Rooms.StoreBudget,
		StoreTimeout:   cfg.Rooms.StoreTimeout,
		ChatBackfill:   cfg.Rooms.ChatBackfillLimit,
	}, logger)

	handler := handlers.New(handlers.Deps{
		Config:      cfg,
		Registry:    reg,
		Relay:       relay.New(reg, h, logger),
		Broadcaster: b,
		Hub:         h,
		Store:       st,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Starting study room signaling server")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// stop accepting upgrades before closing the live sockets
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	h.Shutdown()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory, "":
		return memory.New(cfg.Rooms.ChatBackfillLimit), nil
	case config.StoreRedis:
		return redis.New(ctx, cfg.Redis, cfg.Rooms.ChatBackfillLimit)
	case config.StoreMongo:
		return mongo.New(ctx, cfg.Mongo)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
