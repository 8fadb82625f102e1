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

	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/config"
	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/relay"
)

func main() {
	cfg := config.Load()

	var fanout *relay.Fanout
	if strings.TrimSpace(cfg.RedisURL) != "" {
		var err error
		fanout, err = relay.NewFanout(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer fanout.Close()
		log.Printf("relay: cross-instance fanout enabled")
	}

	hub := relay.NewHub(fanout)
	go hub.Run()
	defer hub.Shutdown()

	server := &http.Server{
		Addr:              cfg.RelayAddr,
		Handler:           relay.Handler(hub),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Hywiz relay listening on %s", cfg.RelayAddr)
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
