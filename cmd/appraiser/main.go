package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"go-appraiser/internal/config"
	"go-appraiser/internal/server"
	"go-appraiser/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := config.InitLogger(cfg); err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zap.L().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := storage.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, cfg.ResultsTable)
	srv := server.New(cfg, store)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv.Router(),
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("shutdown failed", zap.Error(err))
		}
	}()

	zap.L().Info("appraiser listening", zap.Int("port", cfg.Port))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zap.L().Fatal("server failed", zap.Error(err))
	}
}
