// Package relayserver wires the registry, janitor, notifier, and metrics
// together behind an HTTP+WebSocket boundary implementing SPEC_FULL.md
// §4.3-§4.5. Shape (Config with applyDefaults, a Server holding a
// sync.RWMutex-guarded listener and a WaitGroup'd accept path, Start/Stop)
// is carried over from the teacher's RTMP server bootstrap, adapted from a
// raw TCP accept loop to net/http's own listener management.
package relayserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	rlog "github.com/alxayo/filerelay/internal/logger"
	"github.com/alxayo/filerelay/internal/transfer"
)

// maxChunkBytes bounds a single WS binary frame. One chunk of slack above
// the declared size is tolerated for AEAD tag expansion (§4.3).
const maxChunkBytes = 1 << 20

// Config holds the server's tunable knobs; zero values take the §5/§4.6
// defaults.
type Config struct {
	ListenAddr     string
	RelayCapacity  int
	ClaimWait      time.Duration
	IdleLimits     transfer.IdleLimits
	SweepInterval  time.Duration
	TerminalGrace  time.Duration
	WebhookURL     string
	WebhookTimeout time.Duration
	NotifyWorkers  int
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":4010"
	}
	if c.RelayCapacity <= 0 {
		c.RelayCapacity = transfer.DefaultRelayCapacity
	}
	if c.ClaimWait <= 0 {
		c.ClaimWait = 10 * time.Second
	}
	if c.IdleLimits == (transfer.IdleLimits{}) {
		c.IdleLimits = transfer.DefaultIdleLimits()
	}
	if c.WebhookTimeout <= 0 {
		c.WebhookTimeout = 5 * time.Second
	}
}

// Server binds the relay core to the network. Construct with New, then
// Start/Stop around the process lifetime.
type Server struct {
	cfg      Config
	log      *slog.Logger
	registry *transfer.Registry
	janitor  *transfer.Janitor
	notifier transfer.Notifier
	metrics  *transfer.PrometheusMetrics
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	httpSrv *http.Server
	addr    net.Addr
	closing bool
	wg      sync.WaitGroup
}

// New builds an unstarted Server. reg is the Prometheus registerer to
// install the relay's metrics into; pass prometheus.DefaultRegisterer in
// production, a fresh prometheus.NewRegistry() in tests.
func New(cfg Config, reg prometheus.Registerer) *Server {
	cfg.applyDefaults()
	log := rlog.Logger().With("component", "relayserver")

	var notifier transfer.Notifier
	if cfg.WebhookURL != "" {
		notifier = transfer.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookTimeout, cfg.NotifyWorkers, log)
	} else {
		notifier = transfer.NoopNotifier{}
	}

	metrics := transfer.NewPrometheusMetrics(reg)

	registry := transfer.NewRegistry(cfg.RelayCapacity)
	janitor := transfer.NewJanitor(registry, transfer.JanitorConfig{
		SweepInterval: cfg.SweepInterval,
		TerminalGrace: cfg.TerminalGrace,
		IdleLimits:    cfg.IdleLimits,
	}, log, metrics)

	return &Server{
		cfg:      cfg,
		log:      log,
		registry: registry,
		janitor:  janitor,
		notifier: notifier,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Start launches the janitor, the notifier worker pool (if webhook-backed),
// and the HTTP listener. It is safe to call once.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.httpSrv != nil {
		s.mu.Unlock()
		return errors.New("relayserver: already started")
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpSrv = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: mux,
	}
	s.mu.Unlock()

	s.janitor.Start(ctx)
	if wn, ok := s.notifier.(*transfer.WebhookNotifier); ok {
		wn.Start(ctx)
	}

	ln, err := newListener(s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("relayserver: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.log.Info("filerelay server listening", "addr", ln.Addr().String())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server exited", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP listener and stops the janitor,
// waiting for both to finish.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.httpSrv == nil || s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	srv := s.httpSrv
	s.mu.Unlock()

	err := srv.Shutdown(ctx)
	s.wg.Wait()
	s.janitor.Stop()
	s.log.Info("filerelay server stopped")
	return err
}

// Addr returns the bound listener address once Start has succeeded, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.httpSrv == nil {
		return nil
	}
	return s.addr
}

func newListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
