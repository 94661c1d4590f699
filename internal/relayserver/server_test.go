package relayserver

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.ListenAddr = "127.0.0.1:0"
	s := New(cfg, prometheus.NewRegistry())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func TestServerStartStop(t *testing.T) {
	s := newTestServer(t, Config{})
	if s.Addr() == nil {
		t.Fatalf("expected non-nil addr after start")
	}
}

func TestServerStopIsIdempotent(t *testing.T) {
	s := New(Config{ListenAddr: "127.0.0.1:0"}, prometheus.NewRegistry())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}
}
