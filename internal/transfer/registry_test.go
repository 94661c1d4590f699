package transfer

import (
	"context"
	"sync"
	"testing"
	"time"

	rerr "github.com/alxayo/filerelay/internal/errors"
)

func TestCreateReturnsDistinctIDs(t *testing.T) {
	reg := NewRegistry(4)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		rec, err := reg.Create(Metadata{Filename: "f", Size: 1})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if seen[rec.ID] {
			t.Fatalf("duplicate id %q", rec.ID)
		}
		seen[rec.ID] = true
		if !ValidID(rec.ID) {
			t.Fatalf("id %q does not match wire format", rec.ID)
		}
	}
}

func TestConcurrentCreateProducesUniqueIDs(t *testing.T) {
	reg := NewRegistry(4)
	const n = 100
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := reg.Create(Metadata{Filename: "f", Size: 1})
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			ids <- rec.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %q from concurrent Create", id)
		}
		seen[id] = true
	}
}

func TestGetUnknownReturnsNil(t *testing.T) {
	reg := NewRegistry(4)
	if reg.Get("does-not-exist") != nil {
		t.Fatalf("expected nil for unknown id")
	}
}

func TestClaimNotFound(t *testing.T) {
	reg := NewRegistry(4)
	_, err := reg.Claim(context.Background(), "nope", 50*time.Millisecond)
	if !rerr.Is(err, rerr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestClaimWaitsForSenderReady(t *testing.T) {
	reg := NewRegistry(4)
	rec, _ := reg.Create(Metadata{Filename: "f", Size: 1})

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = rec.MarkSenderReady()
	}()

	claimed, err := reg.Claim(context.Background(), rec.ID, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed.ID != rec.ID {
		t.Fatalf("claimed wrong record")
	}
	if got := rec.Phase(); got != PhaseClaimed {
		t.Fatalf("expected Claimed, got %s", got)
	}
}

func TestClaimTimesOutWhenSenderNeverArrives(t *testing.T) {
	reg := NewRegistry(4)
	rec, _ := reg.Create(Metadata{Filename: "f", Size: 1})

	_, err := reg.Claim(context.Background(), rec.ID, 60*time.Millisecond)
	if !rerr.Is(err, rerr.KindTimeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestOnlyOneReceiverClaimsSuccessfully(t *testing.T) {
	reg := NewRegistry(4)
	rec, _ := reg.Create(Metadata{Filename: "f", Size: 1})
	_ = rec.MarkSenderReady()

	const n = 10
	type result struct {
		err error
	}
	results := make(chan result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Claim(context.Background(), rec.ID, 200*time.Millisecond)
			results <- result{err: err}
		}()
	}
	wg.Wait()
	close(results)

	successes, alreadyClaimed := 0, 0
	for r := range results {
		if r.err == nil {
			successes++
		} else if rerr.Is(r.err, rerr.KindAlreadyClaimed) {
			alreadyClaimed++
		} else {
			t.Fatalf("unexpected error: %v", r.err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly 1 successful claim, got %d", successes)
	}
	if alreadyClaimed != n-1 {
		t.Fatalf("expected %d AlreadyClaimed, got %d", n-1, alreadyClaimed)
	}
}

func TestRemoveThenGetReturnsNil(t *testing.T) {
	reg := NewRegistry(4)
	rec, _ := reg.Create(Metadata{Filename: "f", Size: 1})
	reg.Remove(rec.ID)
	if reg.Get(rec.ID) != nil {
		t.Fatalf("expected nil after Remove")
	}
}

func TestSnapshotDoesNotHoldMapLockDuringUse(t *testing.T) {
	reg := NewRegistry(4)
	for i := 0; i < 5; i++ {
		_, _ = reg.Create(Metadata{Filename: "f", Size: 1})
	}
	snap := reg.Snapshot()
	if len(snap) != 5 {
		t.Fatalf("expected snapshot of 5, got %d", len(snap))
	}
	// Registry must remain usable (not deadlocked) while the snapshot is held.
	if _, err := reg.Create(Metadata{Filename: "g", Size: 1}); err != nil {
		t.Fatalf("Create after Snapshot: %v", err)
	}
	if reg.Len() != 6 {
		t.Fatalf("expected 6 records, got %d", reg.Len())
	}
}
