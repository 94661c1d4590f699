package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds user-supplied flag values prior to translation into
// relayserver.Config, so main.go can validate and map.
type cliConfig struct {
	listenAddr     string
	logLevel       string
	relayCapacity  uint
	claimWait      time.Duration
	sweepInterval  time.Duration
	terminalGrace  time.Duration
	webhookURL     string
	webhookTimeout time.Duration
	notifyWorkers  uint
	showVersion    bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("filerelay-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.listenAddr, "listen", ":4010", "HTTP/WS listen address (e.g. :4010 or 0.0.0.0:4010)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.UintVar(&cfg.relayCapacity, "relay-capacity", 4, "Bounded relay channel depth per transfer (chunks)")
	fs.DurationVar(&cfg.claimWait, "claim-wait", 10*time.Second, "Max time a receiver waits for the sender to arrive")
	fs.DurationVar(&cfg.sweepInterval, "sweep-interval", 30*time.Second, "Janitor sweep cadence")
	fs.DurationVar(&cfg.terminalGrace, "terminal-grace", 5*time.Second, "Grace period before reaping a terminal transfer")
	fs.StringVar(&cfg.webhookURL, "webhook-url", "", "Optional URL notified on transfer completion/cancellation")
	fs.DurationVar(&cfg.webhookTimeout, "webhook-timeout", 5*time.Second, "Per-request timeout for webhook delivery")
	fs.UintVar(&cfg.notifyWorkers, "webhook-workers", 2, "Concurrent webhook delivery workers")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.relayCapacity == 0 || cfg.relayCapacity > 1024 {
		return nil, fmt.Errorf("relay-capacity must be between 1 and 1024")
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	return cfg, nil
}
