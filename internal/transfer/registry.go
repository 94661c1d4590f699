package transfer

// Registry is the single process-wide mutable state: a map from transfer
// id to Record. It is the only global exposed by dependency injection
// into HTTP/WS handlers, per the "no ambient globals" design note.
//
// Concurrency model: one sync.RWMutex guards the map (fast-path RLock for
// lookups, short write-lock to insert/delete); per-record mutation goes
// through Record's own mutex so claim/transition on different transfers
// never serializes against each other. Readers never hold the map lock
// while awaiting I/O.

import (
	"context"
	"sync"
	"time"

	rerr "github.com/alxayo/filerelay/internal/errors"
)

// DefaultRelayCapacity is the default bounded FIFO depth (C) for a
// transfer's relay channel (§5).
const DefaultRelayCapacity = 4

// claimPollInterval is how often the receiver session retries a claim
// while waiting out NotReady.
const claimPollInterval = 100 * time.Millisecond

// Registry holds all active transfer records keyed by id.
type Registry struct {
	relayCap int

	mu      sync.RWMutex
	records map[string]*Record
}

// NewRegistry creates an empty registry whose transfers use relayCap as
// their relay channel capacity (DefaultRelayCapacity if relayCap <= 0).
func NewRegistry(relayCap int) *Registry {
	if relayCap <= 0 {
		relayCap = DefaultRelayCapacity
	}
	return &Registry{relayCap: relayCap, records: make(map[string]*Record)}
}

// Create allocates a fresh id, inserts a Registered record, and returns
// both. Fails only on exhausted entropy (not expected in practice).
func (reg *Registry) Create(metadata Metadata) (*Record, error) {
	id, err := NewID()
	if err != nil {
		return nil, err
	}

	rec := newRecord(id, reg.relayCap)
	rec.Metadata = metadata

	reg.mu.Lock()
	reg.records[id] = rec
	reg.mu.Unlock()

	return rec, nil
}

// Get looks up a record without mutating it. Returns nil if absent.
func (reg *Registry) Get(id string) *Record {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.records[id]
}

// Remove deletes id from the registry. Removal is terminal: concurrent
// handlers still holding the old *Record may finish draining but must not
// republish it into the registry.
func (reg *Registry) Remove(id string) {
	reg.mu.Lock()
	delete(reg.records, id)
	reg.mu.Unlock()
}

// Len reports the number of tracked records, for metrics and tests.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.records)
}

// Snapshot returns a point-in-time copy of the tracked records, for the
// janitor sweep. Taking the snapshot under RLock and evaluating/mutating
// each record afterwards keeps the map lock a short, non-awaiting
// critical section.
func (reg *Registry) Snapshot() []*Record {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Record, 0, len(reg.records))
	for _, rec := range reg.records {
		out = append(out, rec)
	}
	return out
}

// Claim atomically binds a receiver to transfer id. If the record is still
// Registered (sender hasn't said Hello yet), Claim polls up to
// claimWait for the sender to arrive before giving up with Timeout
// (NotFound if the record goes terminal while waiting). On
// success the record is now Claimed and Claim is guaranteed to have been
// the single linearization point for that transition (I2): every other
// concurrent caller on the same id observes AlreadyClaimed.
func (reg *Registry) Claim(ctx context.Context, id string, claimWait time.Duration) (*Record, error) {
	rec := reg.Get(id)
	if rec == nil {
		return nil, rerr.NotFound("registry.claim", nil)
	}

	deadline := time.Now().Add(claimWait)
	for {
		switch rec.tryClaim() {
		case claimed:
			return rec, nil
		case claimAlready:
			return nil, rerr.AlreadyClaimed("registry.claim", nil)
		case claimNotReady:
			if rec.Phase().Terminal() {
				return nil, rerr.NotFound("registry.claim", nil)
			}
			if time.Now().After(deadline) {
				return nil, rerr.NewTimeout("registry.claim", claimWait, nil)
			}
			timer := time.NewTimer(claimPollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, rerr.NewTimeout("registry.claim", claimWait, ctx.Err())
			case <-timer.C:
			}
		}
	}
}
