package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/methatron/worldsync/internal/config"
	"github.com/methatron/worldsync/internal/diag"
	"github.com/methatron/worldsync/internal/relay"
	"github.com/methatron/worldsync/internal/transport/tcp"
)

func main() {
	configPath := flag.String("config", "data/config.toml", "path to the server config file")
	flag.Parse()

	log.SetPrefix("[RELAY] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	hub := relay.NewHub()

	if cfg.DiagAddr != "" {
		go func() {
			log.Printf("diagnostics on %s", cfg.DiagAddr)
			if err := http.ListenAndServe(cfg.DiagAddr, diag.NewHandler(hub)); err != nil {
				log.Printf("diagnostics: %v", err)
			}
		}()
	}

	srv := tcp.NewServer(tcp.Config{Addr: cfg.Addr()}, hub)
	if err := srv.Listen(); err != nil {
		log.Fatalf("listen: %v", err)
	}

	if err := srv.Serve(ctx); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
