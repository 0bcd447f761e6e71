// The worker binary runs the background tasks without the HTTP edge: IMAP
// polling, the AI reply coordinator, the SLA scanner, and the trash reaper.
// Distributed locks keep the scanner and reaper single-flight when several
// workers run against one database.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

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

	lg := logger.New(logger.INFO)

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
	lg.Info("worker running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	lg.Info("shutting down", "signal", sig.String())

	supervisor.Stop()
	cancel()
	lg.Info("shutdown complete")
}
