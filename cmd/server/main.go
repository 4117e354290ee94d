package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"parley/internal/api"
	"parley/internal/auth"
	"parley/internal/chat"
	"parley/internal/config"
	"parley/internal/gateway"
	"parley/internal/metrics"
	"parley/internal/store"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	if cfg.StoreBackend == "sqlite" {
		if dir := filepath.Dir(cfg.StoreDSN()); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
		}
	}

	st, err := store.Open(cfg.StoreBackend, cfg.StoreDSN())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	log.Info("store ready", "backend", cfg.StoreBackend)

	m := metrics.New()
	authSvc := auth.NewService(cfg.JWTSecret, cfg.TokenTTL, cfg.AllowGuestTokens)

	registry := chat.NewRegistry(log, m)
	directory, err := chat.NewDirectory(st, log)
	if err != nil {
		return fmt.Errorf("load user directory: %w", err)
	}
	friends, err := chat.NewFriends(st, log)
	if err != nil {
		return fmt.Errorf("load friend graph: %w", err)
	}
	rooms := chat.NewRooms(cfg.HistoryLimit, st, log)
	audience := chat.NewAudience(registry, friends, rooms, cfg.FriendsOnly())
	router := chat.NewRouter(registry, rooms, audience, directory, m, log)
	presence := chat.NewPresence(registry, directory, friends, audience, cfg.TypingTTL, m, log)
	relay := chat.NewRelay(registry, m, log)

	routes := api.NewHandlers(authSvc, directory, router, log).Routes()
	routes.Handle("/ws", gateway.New(authSvc, registry, presence, router, relay, m, log))
	routes.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           routes,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ServerAddress, "mode", cfg.ChatMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
