package transfer

// Janitor is the periodic sweeper that reclaims stalled or terminal
// records (§4.6). It runs as a single ticker-driven goroutine, started and
// stopped the same way the core server loop starts and joins its other
// background tasks: a stop channel plus a WaitGroup so Stop blocks until
// the sweep goroutine has actually exited.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rerr "github.com/alxayo/filerelay/internal/errors"
)

// IdleLimits holds the per-phase idle timeout defaults from §4.6.
type IdleLimits struct {
	Registered  time.Duration
	SenderReady time.Duration
	Claimed     time.Duration
	Streaming   time.Duration
}

// DefaultIdleLimits returns the §4.6 defaults.
func DefaultIdleLimits() IdleLimits {
	return IdleLimits{
		Registered:  5 * time.Minute,
		SenderReady: 10 * time.Minute,
		Claimed:     30 * time.Second,
		Streaming:   5 * time.Minute,
	}
}

func (l IdleLimits) forPhase(p Phase) (time.Duration, bool) {
	switch p {
	case PhaseRegistered:
		return l.Registered, true
	case PhaseSenderReady:
		return l.SenderReady, true
	case PhaseClaimed:
		return l.Claimed, true
	case PhaseStreaming:
		return l.Streaming, true
	default:
		return 0, false
	}
}

// ReapReason distinguishes why the janitor removed a record, for metrics.
type ReapReason string

const (
	ReapTerminalGrace ReapReason = "terminal_grace"
	ReapIdleTimeout   ReapReason = "idle_timeout"
)

// Metrics is the narrow interface the janitor and registry report through.
// A nil Metrics disables reporting.
type Metrics interface {
	ObserveReap(reason ReapReason)
	SetPhaseCounts(counts map[Phase]int)
}

// JanitorConfig configures sweep cadence and timeouts; zero values take the
// §4.6 defaults.
type JanitorConfig struct {
	SweepInterval time.Duration
	TerminalGrace time.Duration
	IdleLimits    IdleLimits
}

func (c *JanitorConfig) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.TerminalGrace <= 0 {
		c.TerminalGrace = 5 * time.Second
	}
	if c.IdleLimits == (IdleLimits{}) {
		c.IdleLimits = DefaultIdleLimits()
	}
}

// Janitor periodically sweeps a Registry.
type Janitor struct {
	reg     *Registry
	cfg     JanitorConfig
	log     *slog.Logger
	metrics Metrics

	stop    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewJanitor builds a Janitor bound to reg. metrics may be nil.
func NewJanitor(reg *Registry, cfg JanitorConfig, log *slog.Logger, metrics Metrics) *Janitor {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Janitor{reg: reg, cfg: cfg, log: log.With("component", "janitor"), metrics: metrics, stop: make(chan struct{})}
}

// Start launches the sweep loop. Safe to call once.
func (j *Janitor) Start(ctx context.Context) {
	j.wg.Add(1)
	go j.loop(ctx)
}

// Stop signals the sweep loop to exit and waits for it to do so.
func (j *Janitor) Stop() {
	j.stopped.Do(func() { close(j.stop) })
	j.wg.Wait()
}

func (j *Janitor) loop(ctx context.Context) {
	defer j.wg.Done()
	ticker := time.NewTicker(j.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stop:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

// sweep performs one pass over the registry, reaping terminal records past
// their grace window and cancelling (then, on a later pass, reaping) idle
// non-terminal ones. The map lock is never held while evaluating records
// (Registry.Snapshot takes a short RLock and returns a copy).
func (j *Janitor) sweep() {
	now := time.Now()
	snapshot := j.reg.Snapshot()
	counts := make(map[Phase]int, 6)

	for _, rec := range snapshot {
		phase := rec.Phase()
		counts[phase]++

		if phase.Terminal() {
			if now.Sub(rec.LastActivity()) >= j.cfg.TerminalGrace {
				j.reg.Remove(rec.ID)
				j.report(ReapTerminalGrace)
				j.log.Debug("reaped terminal record", "transfer_id", rec.ID, "phase", phase)
			}
			continue
		}

		limit, ok := j.cfg.IdleLimits.forPhase(phase)
		if !ok {
			continue
		}
		if now.Sub(rec.LastActivity()) >= limit {
			// Removal transitions the record to Cancelled first (closing
			// Control/Done) so live sessions observe shutdown promptly and
			// report KindTimeout to whichever peer is still attached; the
			// record itself is reaped from the map on a later sweep once
			// it has sat in Cancelled for TerminalGrace.
			rec.CancelNotify(rerr.KindTimeout, fmt.Sprintf("idle timeout in phase %s", phase))
			j.report(ReapIdleTimeout)
			j.log.Info("cancelled idle record", "transfer_id", rec.ID, "phase", phase, "idle_limit", limit)
		}
	}

	if j.metrics != nil {
		j.metrics.SetPhaseCounts(counts)
	}
}

func (j *Janitor) report(reason ReapReason) {
	if j.metrics != nil {
		j.metrics.ObserveReap(reason)
	}
}
