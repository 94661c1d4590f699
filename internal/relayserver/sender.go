package relayserver

// Sender session: the WS handler implementing SPEC_FULL.md §4.3. Modeled
// on the teacher's connection lifecycle (per-connection goroutine pair,
// cleanup on scope exit) but narrowed to this protocol's two tasks: a
// control-forwarding loop and the chunk-ingest loop, joined with
// golang.org/x/sync/errgroup the way the retrieved p2p-server reference
// joins its read/write pairs.

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

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("sender upgrade failed", "error", err)
		return
	}
	conn := wsproto.NewConn(wsConn)
	defer conn.Close()

	log := s.log.With("role", "sender", "remote_addr", conn.RemoteAddr())

	kind, msg, _, isBinary, err := conn.ReadFrame()
	if err != nil || isBinary || kind != wsproto.KindHello {
		log.Warn("expected Hello from sender", "error", err)
		return
	}
	hello := msg.(wsproto.Hello)
	metadata := transfer.Metadata{Filename: hello.Filename, Size: hello.Size}
	if err := transfer.ValidateMetadata(metadata); err != nil {
		_ = conn.WriteControl(wsproto.ErrorMsg{Kind: string(rerr.KindProtocolViolation), Message: "invalid metadata"})
		return
	}

	rec, err := s.registry.Create(metadata)
	if err != nil {
		log.Error("create transfer record", "error", err)
		_ = conn.WriteControl(wsproto.ErrorMsg{Kind: string(rerr.KindInternal), Message: "could not register transfer"})
		return
	}
	log = log.With("transfer_id", rec.ID)

	rec.SetSenderPresent(true)
	defer rec.SetSenderPresent(false)

	if err := rec.MarkSenderReady(); err != nil {
		log.Error("mark sender ready", "error", err)
		return
	}

	if err := conn.WriteControl(wsproto.Registered{ID: rec.ID}); err != nil {
		log.Warn("send Registered failed", "error", err)
		rec.Cancel()
		return
	}

	sentEOF, err := runSenderSession(r.Context(), conn, rec)
	if err != nil {
		log.Info("sender session ended", "reason", err)
	}

	// A clean Eof hands completion off to the receiver session; the sender
	// side must not cancel the transfer out from under it. Any other exit
	// (error, disconnect, receiver-initiated cancel) does cancel.
	if !sentEOF && !rec.Phase().Terminal() {
		rec.Cancel()
	}
	if rec.Phase() == transfer.PhaseCancelled {
		s.metrics.ObserveOutcome(transfer.OutcomeCancelled)
		s.notifier.Notify(context.Background(), transfer.Event{ID: rec.ID, Phase: rec.Phase(), BytesRelayed: rec.BytesRelayed(), Reason: "sender_session_ended"})
	}
}

// runSenderSession drives the control-forward and chunk-ingest loops until
// one of them finishes (Eof, receiver cancellation, or a transport error),
// then waits for the other to unwind. sentEOF reports whether the sender
// completed its side cleanly via Eof.
func runSenderSession(ctx context.Context, conn *wsproto.Conn, rec *transfer.Record) (sentEOF bool, err error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return forwardControl(gctx, conn, rec) })
	g.Go(func() error {
		ingestErr := ingestChunks(gctx, conn, rec)
		if errors.Is(ingestErr, errSentEof) {
			sentEOF = true
			return nil
		}
		return ingestErr
	})

	err = g.Wait()
	return sentEOF, err
}

// errSentEof is a sentinel the chunk-ingest loop returns to indicate a
// clean end-of-stream; errgroup treats it as success for Wait's return
// value check in runSenderSession.
var errSentEof = errors.New("sender: clean eof")

// forwardControl relays Start/Cancel signals from the receiver session to
// the sender WS. It returns when the control channel closes (record went
// terminal) or the context is cancelled.
func forwardControl(ctx context.Context, conn *wsproto.Conn, rec *transfer.Record) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ctrl, ok := <-rec.Control:
			if !ok {
				return notifyCancelOnClose(conn, rec)
			}
			switch ctrl.Kind {
			case transfer.ControlStart:
				if err := conn.WriteControl(wsproto.Start{}); err != nil {
					return fmt.Errorf("send Start: %w", err)
				}
			case transfer.ControlCancel:
				kind := ctrl.ErrKind
				if kind == "" {
					kind = rerr.KindPeerDisconnected
				}
				_ = conn.WriteControl(wsproto.ErrorMsg{Kind: string(kind), Message: ctrl.Reason})
				return fmt.Errorf("receiver cancelled: %s", ctrl.Reason)
			}
		}
	}
}

// notifyCancelOnClose handles the control channel closing without an
// explicit ControlCancel having been observed first (e.g. the channel's
// buffer was full, or this session attached after the cancel already
// fired): if the record ended up Cancelled, report the recorded reason
// before returning so the sender is never left to infer cancellation from
// a bare WS close. A close driven by completion instead of cancellation is
// silent here, matching the normal Complete-frame path in the receiver
// session.
func notifyCancelOnClose(conn *wsproto.Conn, rec *transfer.Record) error {
	if rec.Phase() != transfer.PhaseCancelled {
		return nil
	}
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
	return nil
}

// ingestChunks reads binary frames from the sender WS and pushes them onto
// rec.Relay, applying the declared-size overflow guard (§4.3). A zero-length
// binary frame or an Eof text frame ends the stream cleanly.
func ingestChunks(ctx context.Context, conn *wsproto.Conn, rec *transfer.Record) error {
	maxTotal := rec.Metadata.Size + maxChunkBytes
	for {
		kind, msg, payload, isBinary, err := pollReadFrame(ctx, conn, rec.Done())
		if err != nil {
			if errors.Is(err, errPolledCancelled) {
				return rerr.PeerDisconnected("sender.ingest", fmt.Errorf("transfer cancelled"))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return fmt.Errorf("sender read: %w", err)
		}

		if !isBinary {
			if kind == wsproto.KindEof {
				return sendEOF(ctx, rec)
			}
			_ = msg
			return rerr.ProtocolViolation("sender.ingest", fmt.Errorf("unexpected text frame kind %s mid-stream", kind))
		}

		if len(payload) == 0 {
			return sendEOF(ctx, rec)
		}
		if len(payload) > maxChunkBytes {
			return rerr.ProtocolViolation("sender.ingest", fmt.Errorf("chunk exceeds max frame size"))
		}

		total := rec.AddBytesRelayed(len(payload))
		if total > maxTotal {
			return rerr.ProtocolViolation("sender.ingest", fmt.Errorf("relayed bytes %d exceed declared size+slack %d", total, maxTotal))
		}

		// Idempotent: once Streaming, repeated calls are no-ops.
		_ = rec.MarkStreaming()

		// Copy into a pooled buffer so the chunk's lifetime on the relay
		// channel is decoupled from the WS library's own read buffer; the
		// receiver side returns it to the pool once written downstream.
		owned := bufpool.Get(len(payload))
		copy(owned, payload)

		select {
		case rec.Relay <- transfer.Chunk{Data: owned}:
		case <-ctx.Done():
			return ctx.Err()
		case <-rec.Done():
			return rerr.PeerDisconnected("sender.ingest", fmt.Errorf("transfer cancelled"))
		}
	}
}

func sendEOF(ctx context.Context, rec *transfer.Record) error {
	select {
	case rec.Relay <- transfer.Chunk{EOF: true}:
	case <-ctx.Done():
		return ctx.Err()
	case <-rec.Done():
		return rerr.PeerDisconnected("sender.ingest", fmt.Errorf("transfer cancelled before eof"))
	}
	return errSentEof
}
