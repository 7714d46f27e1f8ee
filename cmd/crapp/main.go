package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"crattend/internal/config"
	"crattend/internal/localstore"
	"crattend/internal/remote"
)

// crapp is the terminal front end used by class representatives to take
// attendance, with or without connectivity.
func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := localstore.Open(cfg.StoreBackend, cfg.StorePath)
	if err != nil {
		log.Fatalf("open local store: %v", err)
	}
	defer store.Close()

	client := remote.New(cfg.BaseURL, cfg.HTTPTimeout)
	client.Offline = cfg.Offline
	if cfg.Offline {
		log.Println("offline mode: remote service disabled")
	}

	a := newApp(os.Stdin, os.Stdout, store, client, cfg.HTTPTimeout)
	if err := a.run(ctx); err != nil {
		log.Printf("crapp: %v", err)
	}
}
