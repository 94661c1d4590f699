package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alxayo/filerelay/internal/logger"
	"github.com/alxayo/filerelay/internal/relayserver"
	"github.com/alxayo/filerelay/internal/transfer"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	server := relayserver.New(relayserver.Config{
		ListenAddr:     cfg.listenAddr,
		RelayCapacity:  int(cfg.relayCapacity),
		ClaimWait:      cfg.claimWait,
		IdleLimits:     transfer.DefaultIdleLimits(),
		SweepInterval:  cfg.sweepInterval,
		TerminalGrace:  cfg.terminalGrace,
		WebhookURL:     cfg.webhookURL,
		WebhookTimeout: cfg.webhookTimeout,
		NotifyWorkers:  int(cfg.notifyWorkers),
	}, prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	log.Info("server started", "addr", server.Addr().String(), "version", version)

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if err := server.Stop(shutdownCtx); err != nil {
			log.Error("server stop error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}
