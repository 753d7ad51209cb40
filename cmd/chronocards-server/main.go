package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"chronocards/internal/catalog"
	appcfg "chronocards/internal/config"
	"chronocards/internal/feedback"
	"chronocards/internal/game"
	"chronocards/internal/obslog"
	"chronocards/internal/render"
	"chronocards/internal/results"
	"chronocards/internal/server"
	"chronocards/internal/store"
)

func main() {
	_ = godotenv.Load()

	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	cfg, err := appcfg.Load()
	if err != nil {
		obslog.L().Fatal("config error", zap.Error(err))
	}

	cards, err := catalog.New(cfg.CardsFile)
	if err != nil {
		obslog.L().Fatal("card catalog error", zap.Error(err))
	}
	msgs, err := feedback.New(cfg.MessageDir)
	if err != nil {
		obslog.L().Fatal("message catalog error", zap.Error(err))
	}

	st, closeStore, err := buildStore(cfg, cards)
	if err != nil {
		obslog.L().Fatal("store init error", zap.Error(err))
	}
	defer closeStore()

	mgr := game.NewManager(st, cards, msgs, cfg.CardsPerPlayer)

	var resRepo *results.Repository
	if cfg.DatabaseURL != "" {
		resRepo, err = results.NewRepository(cfg.DatabaseURL)
		if err != nil {
			obslog.L().Fatal("results repository error", zap.Error(err))
		}
		defer resRepo.Close()
		mgr.AttachRecorder(resRepo)
	}

	srv := server.New(mgr, render.NewTimelineRenderer(), resRepo)
	httpSrv := srv.HTTPServer(cfg.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go cleanupLoop(ctx, mgr, cfg.CleanupInterval, cfg.RoomTTL)

	go func() {
		obslog.L().Info("server listening",
			zap.String("addr", cfg.ListenAddr),
			zap.Int("cards", cards.Size()),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.L().Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	obslog.L().Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		obslog.L().Warn("shutdown error", zap.Error(err))
	}
}

func buildStore(cfg *appcfg.AppConfig, cards *catalog.Catalog) (store.Store, func(), error) {
	if cfg.RedisURL == "" {
		obslog.L().Info("using in-memory store")
		return store.NewMemStore(cards), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	obslog.L().Info("using redis store")
	return store.NewRedisStore(rdb, cards, cfg.RoomTTL), func() { _ = rdb.Close() }, nil
}

func cleanupLoop(ctx context.Context, mgr *game.Manager, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mgr.Cleanup(ctx, ttl)
		}
	}
}
