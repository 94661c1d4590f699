package transfer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestWebhookNotifierPostsJSONPayload(t *testing.T) {
	var mu sync.Mutex
	var got Event
	received := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&got)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		select {
		case received <- struct{}{}:
		default:
		}
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)

	n.Notify(ctx, Event{ID: "abc123", Phase: PhaseCompleted, BytesRelayed: 42})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatalf("webhook was never called")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.ID != "abc123" || got.Phase != PhaseCompleted || got.BytesRelayed != 42 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestWebhookNotifierDropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, 5*time.Second, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)

	// Flood well past the internal queue capacity; Notify must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			n.Notify(ctx, Event{ID: "x", Phase: PhaseCompleted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Notify blocked instead of dropping on a full queue")
	}
	close(block)
}

func TestNoopNotifierDoesNothing(t *testing.T) {
	var n NoopNotifier
	n.Notify(context.Background(), Event{ID: "x", Phase: PhaseCompleted})
}
