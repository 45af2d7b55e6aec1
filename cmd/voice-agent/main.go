package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/k-ranasinghe/voice-agent/internal/app"
	"github.com/k-ranasinghe/voice-agent/internal/config"
	"github.com/k-ranasinghe/voice-agent/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	mode := flag.String("mode", "", "override call mode (voice or text)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if *mode != "" {
		if *mode != transport.ModeVoice && *mode != transport.ModeText {
			log.Fatalf("invalid -mode %q (expected voice|text)", *mode)
		}
		cfg.Mode = *mode
	}

	a, err := app.Build(context.Background(), cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	var httpServer *http.Server
	if cfg.BindAddr != "" {
		httpServer = &http.Server{
			Addr:    cfg.BindAddr,
			Handler: a.API.Router(),
		}
		go func() {
			log.Printf("ops API listening on %s", cfg.BindAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("listen error: %v", err)
			}
		}()
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("shutdown signal received")
		runCancel()
	}()

	runErr := a.Run(runCtx)
	if runErr != nil {
		log.Printf("call failed: %v", runErr)
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
			_ = httpServer.Close()
		}
	}

	if err := a.Close(); err != nil {
		log.Printf("cleanup: %v", err)
	}
	log.Printf("shutdown complete")

	if runErr != nil {
		os.Exit(1)
	}
}
