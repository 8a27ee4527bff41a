package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"aridialer/internal/api"
	"aridialer/internal/config"
)

func main() {
	log.Println("[Main] ARI Dialer service")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Main] Configuration error: %v", err)
	}

	if err := os.MkdirAll(cfg.Recording.Dir, 0o755); err != nil {
		log.Fatalf("[Main] Cannot create recordings dir %s: %v", cfg.Recording.Dir, err)
	}

	server := api.NewServer(cfg)

	errs := make(chan error, 1)
	go func() {
		errs <- server.Start()
	}()

	log.Printf("[Main] Ready, trigger a run with GET http://127.0.0.1:%d/start", cfg.Control.Port)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		log.Fatalf("[Main] Control server failed: %v", err)
	case sig := <-sigs:
		log.Printf("[Main] Received %s, shutting down", sig)
	}

	if engine := server.Engine(); engine != nil {
		engine.Stop()
	}
	log.Println("[Main] Stopped")
}
