package transfer

// Notifier is the optional lifecycle-event sink described in SPEC_FULL.md
// §4.8: best-effort, fire-and-forget notification when a transfer reaches
// a terminal phase. Adapted from the teacher's hook-manager shape
// (register a handler, dispatch off the hot path through a small worker
// pool) but narrowed to the one event channel this domain needs — see
// DESIGN.md for what was dropped and why.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Event is the payload delivered to a Notifier. It never carries filename
// or chunk bytes (I5 extends to this surface).
type Event struct {
	ID           string `json:"id"`
	Phase        Phase  `json:"phase"`
	BytesRelayed uint64 `json:"bytes_relayed"`
	Reason       string `json:"reason,omitempty"`
}

// Notifier is notified once a record reaches Completed or Cancelled.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NoopNotifier discards every event; the default when no webhook is
// configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, Event) {}

// WebhookNotifier posts Event as JSON to a configured URL, off the calling
// goroutine, through a small bounded worker pool so a slow or unreachable
// endpoint never backs up transfer completion.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	log     *slog.Logger
	work    chan Event
	workers int
}

// NewWebhookNotifier builds a WebhookNotifier posting to url with the given
// per-request timeout and worker concurrency. Call Start to begin
// processing; the workers run until the context passed to Start is
// cancelled.
func NewWebhookNotifier(url string, timeout time.Duration, workers int, log *slog.Logger) *WebhookNotifier {
	if workers <= 0 {
		workers = 2
	}
	if log == nil {
		log = slog.Default()
	}
	return &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		log:     log.With("component", "notifier"),
		work:    make(chan Event, 64),
		workers: workers,
	}
}

// Start launches the worker pool. ctx cancellation stops the workers: an
// in-flight POST is aborted and events still queued are not delivered.
func (n *WebhookNotifier) Start(ctx context.Context) {
	for i := 0; i < n.workers; i++ {
		go n.worker(ctx)
	}
}

// Notify enqueues ev for best-effort delivery. Never blocks the caller
// beyond a full queue check: a saturated queue drops the event rather than
// stalling the receiver session that completed the transfer.
func (n *WebhookNotifier) Notify(ctx context.Context, ev Event) {
	select {
	case n.work <- ev:
	default:
		n.log.Warn("dropped lifecycle event, notifier queue full", "transfer_id", ev.ID, "phase", ev.Phase)
	}
}

func (n *WebhookNotifier) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-n.work:
			if !ok {
				return
			}
			n.post(ctx, ev)
		}
	}
}

func (n *WebhookNotifier) post(ctx context.Context, ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		n.log.Error("marshal lifecycle event", "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.log.Error("build webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("webhook delivery failed", "transfer_id", ev.ID, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.log.Warn("webhook returned non-2xx", "transfer_id", ev.ID, "status", resp.StatusCode, "err", fmt.Sprintf("status %d", resp.StatusCode))
	}
}
