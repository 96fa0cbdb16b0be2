package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"telar/api/internal/app"
	"telar/api/internal/archive"
	"telar/api/internal/backend"
	"telar/api/internal/config"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var store backend.Backend
	switch cfg.Backend {
	case "redis":
		log.Printf("Using Redis backend")
		b, err := backend.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		store = b
	case "postgres":
		log.Printf("Using Postgres backend")
		b, err := backend.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		store = b
	default:
		log.Printf("Using in-memory backend")
		store = backend.NewMemory()
	}
	defer store.Close()

	var snapshots *archive.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		s, err := archive.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object store connection failed: %v", err)
		}
		snapshots = s
		log.Printf("Archiving pre-clear snapshots to bucket %s", cfg.MinioBucket)
	}

	service := app.New(cfg, store, snapshots)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (serving anyway): %v", err)
	}
	service.Start()
	defer service.Stop()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Telar API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
