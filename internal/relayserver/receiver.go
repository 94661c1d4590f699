package relayserver

// Receiver session: the WS handler implementing SPEC_FULL.md §4.4. The
// receiver session is the authoritative completer — it is the only place
// that knows every relayed byte has actually reached the downstream peer.

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/alxayo/filerelay/internal/bufpool"
	rerr "github.com/alxayo/filerelay/internal/errors"
	"github.com/alxayo/filerelay/internal/transfer"
	"github.com/alxayo/filerelay/internal/wsproto"
)

func (s *Server) handleRecv(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !transfer.ValidID(id) {
		http.Error(w, "malformed id", http.StatusBadRequest)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("receiver upgrade failed", "error", err)
		return
	}
	conn := wsproto.NewConn(wsConn)
	defer conn.Close()

	log := s.log.With("role", "receiver", "remote_addr", conn.RemoteAddr(), "transfer_id", id)

	if kind, _, _, isBinary, err := conn.ReadFrame(); err != nil || isBinary || kind != wsproto.KindHello {
		log.Warn("expected Hello from receiver", "error", err)
		return
	}

	rec, err := s.registry.Claim(r.Context(), id, s.cfg.ClaimWait)
	if err != nil {
		kind, _ := rerr.KindOf(err)
		s.metrics.ObserveClaim(claimResultFor(kind))
		_ = conn.WriteControl(wsproto.ErrorMsg{Kind: string(kind), Message: "transfer unavailable"})
		log.Info("claim failed", "kind", kind)
		return
	}
	s.metrics.ObserveClaim(transfer.ClaimResultClaimed)

	rec.SetReceiverPresent(true)
	defer rec.SetReceiverPresent(false)

	if err := conn.WriteControl(wsproto.Metadata{Filename: rec.Metadata.Filename, Size: rec.Metadata.Size}); err != nil {
		log.Warn("send Metadata failed", "error", err)
		rec.Cancel()
		return
	}

	select {
	case rec.Control <- transfer.Control{Kind: transfer.ControlStart}:
	default:
		log.Error("control channel unexpectedly full publishing Start")
	}

	completed, bytesRelayed, err := runReceiverSession(r.Context(), conn, rec, s.metrics)
	if err != nil {
		log.Info("receiver session ended", "reason", err)
	}

	if completed {
		if cerr := rec.Complete(); cerr != nil {
			log.Error("mark completed", "error", cerr)
		}
		_ = conn.WriteControl(wsproto.Complete{Bytes: bytesRelayed})
		s.metrics.ObserveOutcome(transfer.OutcomeCompleted)
		s.notifier.Notify(context.Background(), transfer.Event{ID: rec.ID, Phase: rec.Phase(), BytesRelayed: bytesRelayed, Reason: "completed"})
		return
	}

	rec.Cancel()
	reason := rec.CancelReason()
	kind := reason.Kind
	if kind == "" {
		kind = rerr.KindPeerDisconnected
	}
	msg := reason.Message
	if msg == "" {
		msg = "transfer cancelled"
	}
	_ = conn.WriteControl(wsproto.ErrorMsg{Kind: string(kind), Message: msg})
	s.metrics.ObserveOutcome(transfer.OutcomeCancelled)
	s.notifier.Notify(context.Background(), transfer.Event{ID: rec.ID, Phase: rec.Phase(), BytesRelayed: bytesRelayed, Reason: "receiver_session_ended"})
}

func claimResultFor(kind rerr.Kind) transfer.ClaimResult {
	switch kind {
	case rerr.KindAlreadyClaimed:
		return transfer.ClaimResultAlreadyClaimed
	case rerr.KindTimeout:
		return transfer.ClaimResultTimeout
	default:
		return transfer.ClaimResultNotFound
	}
}

// runReceiverSession drains rec.Relay to the receiver WS while a sibling
// goroutine watches for the receiver closing its end early. completed
// reports whether the chunk stream ended via the sender's Eof sentinel
// rather than cancellation or a transport error.
//
// watchReceiverClose's only way to notice the drain finishing is the done
// channel: errgroup's derived context is cancelled only when a joined
// function returns a non-nil error, and a clean completion deliberately
// returns nil, so gctx alone would never unblock watchReceiverClose's
// blocking read and runReceiverSession would hang past every real
// completion.
func runReceiverSession(ctx context.Context, conn *wsproto.Conn, rec *transfer.Record, metrics *transfer.PrometheusMetrics) (completed bool, bytesRelayed uint64, err error) {
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error { return watchReceiverClose(gctx, conn, done) })
	g.Go(func() error {
		defer close(done)
		n, drainErr := drainRelay(gctx, conn, rec, metrics)
		bytesRelayed = n
		if errors.Is(drainErr, errStreamComplete) {
			completed = true
			return nil
		}
		return drainErr
	})

	err = g.Wait()
	return completed, bytesRelayed, err
}

var errStreamComplete = errors.New("receiver: stream complete")

// watchReceiverClose detects the receiver WS closing (or sending anything
// unexpected) before completion, so a dropped receiver promptly cancels
// the transfer instead of leaving the sender blocked on a full relay
// channel. It polls rather than blocking on a single ReadMessage call so
// that drainRelay finishing (done closes) unblocks it promptly even
// though the receiver itself never sends anything after Hello.
func watchReceiverClose(ctx context.Context, conn *wsproto.Conn, done <-chan struct{}) error {
	for {
		if _, _, _, _, err := pollReadFrame(ctx, conn, done); err != nil {
			if errors.Is(err, errPolledCancelled) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return fmt.Errorf("receiver closed: %w", err)
		}
		// The receiver protocol sends nothing after Hello; any further
		// frame is unexpected but not itself fatal to the relay path.
	}
}

// drainRelay pumps rec.Relay to the receiver WS as ordered binary frames
// until the EOF sentinel chunk arrives (clean completion) or the record is
// cancelled out from under it (rec.Done() fires). The byte total is the
// sender side's running AddBytesRelayed count (§4.3), read fresh once the
// loop ends.
func drainRelay(ctx context.Context, conn *wsproto.Conn, rec *transfer.Record, metrics *transfer.PrometheusMetrics) (uint64, error) {
	for {
		select {
		case <-ctx.Done():
			return rec.BytesRelayed(), ctx.Err()
		case <-rec.Done():
			return rec.BytesRelayed(), fmt.Errorf("transfer cancelled")
		case chunk, ok := <-rec.Relay:
			if !ok {
				return rec.BytesRelayed(), fmt.Errorf("relay closed before stream completed")
			}
			if chunk.EOF {
				return rec.BytesRelayed(), errStreamComplete
			}
			n := len(chunk.Data)
			err := conn.WriteChunk(chunk.Data)
			bufpool.Put(chunk.Data)
			if err != nil {
				return rec.BytesRelayed(), fmt.Errorf("receiver write: %w", err)
			}
			if metrics != nil {
				metrics.ObserveChunk(n)
			}
		}
	}
}
