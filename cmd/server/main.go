// The server binary runs the full conversation core: HTTP API plus every
// background worker. Deployments that split the edge from the workers run
// cmd/worker alongside and set EMAIL_POLLING_ENABLED=false here.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/relaydesk/helpdesk-core/internal/api"
	"github.com/relaydesk/helpdesk-core/internal/app"
	"github.com/relaydesk/helpdesk-core/internal/config"
	"github.com/relaydesk/helpdesk-core/internal/pkg/logger"
	"github.com/relaydesk/helpdesk-core/internal/repository/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	lg := logger.New(logLevel())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Open(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	services, err := app.New(ctx, cfg, db, lg)
	if err != nil {
		log.Fatalf("wiring: %v", err)
	}
	defer services.Close()

	supervisor := app.NewSupervisor(services, cfg)
	if err := supervisor.Start(); err != nil {
		log.Fatalf("supervisor: %v", err)
	}

	server := api.NewServer(services)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		lg.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			lg.Error("http server failed", "error", err.Error())
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Warn("http shutdown incomplete", "error", err.Error())
	}

	supervisor.Stop()
	cancel()
	lg.Info("shutdown complete")
}

func logLevel() logger.Level {
	if os.Getenv("LOG_LEVEL") == "debug" {
		return logger.DEBUG
	}
	return logger.INFO
}
