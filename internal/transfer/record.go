package transfer

// Transfer record & state machine.
//
// A Record holds everything the sender and receiver sessions need to
// rendezvous around one file transfer: the declared metadata, the current
// lifecycle Phase, and the two channels that carry data and control
// signals between the two peers. The Registry owns records by strong
// reference; sessions hold shared references for the duration of their
// handlers.
//
// Concurrency: each Record has its own mutex guarding phase and presence
// bits, independent of the Registry's map mutex, so that claims on
// different transfers never serialize against each other (mirrors the
// per-Stream mutex the teacher's stream registry uses).

import (
	"fmt"
	"sync"
	"time"

	rerr "github.com/alxayo/filerelay/internal/errors"
)

// Phase is a transfer's lifecycle phase.
type Phase string

const (
	PhaseRegistered  Phase = "Registered"
	PhaseSenderReady Phase = "SenderReady"
	PhaseClaimed     Phase = "Claimed"
	PhaseStreaming   Phase = "Streaming"
	PhaseCompleted   Phase = "Completed"
	PhaseCancelled   Phase = "Cancelled"
)

// Terminal reports whether p is a terminal phase.
func (p Phase) Terminal() bool { return p == PhaseCompleted || p == PhaseCancelled }

// legalTransitions enumerates the only allowed phase transitions. Any move
// not present here is an error (§4.2).
var legalTransitions = map[Phase]map[Phase]bool{
	PhaseRegistered:  {PhaseSenderReady: true, PhaseCancelled: true},
	PhaseSenderReady: {PhaseClaimed: true, PhaseCancelled: true},
	PhaseClaimed:     {PhaseStreaming: true, PhaseCancelled: true},
	PhaseStreaming:   {PhaseCompleted: true, PhaseCancelled: true},
	PhaseCompleted:   {},
	PhaseCancelled:   {},
}

// Metadata is the sender-declared, immutable-after-registration file
// description.
type Metadata struct {
	Filename string
	Size     uint64
}

const maxFilenameBytes = 1024

// ValidateMetadata enforces the bounded-filename invariant from the data
// model. Size is advisory and is not bounds-checked here.
func ValidateMetadata(m Metadata) error {
	if len(m.Filename) == 0 {
		return rerr.ProtocolViolation("metadata.validate", fmt.Errorf("filename is empty"))
	}
	if len(m.Filename) > maxFilenameBytes {
		return rerr.ProtocolViolation("metadata.validate", fmt.Errorf("filename exceeds %d bytes", maxFilenameBytes))
	}
	return nil
}

// Chunk is one opaque binary payload from the sender, or the end-of-stream
// sentinel when EOF is true. Bytes are never inspected or modified.
type Chunk struct {
	Data []byte
	EOF  bool
}

// ControlKind is the small closed set of signals the receiver sends to the
// sender over the control channel.
type ControlKind string

const (
	ControlStart  ControlKind = "Start"
	ControlCancel ControlKind = "Cancel"
)

// Control is one message on the control channel. ErrKind is set on
// ControlCancel messages so the forwarding session can report the same
// error Kind the peer that triggered the cancellation observed.
type Control struct {
	Kind    ControlKind
	Reason  string
	ErrKind rerr.Kind
}

// CancelReason records why a record was cancelled, so a session forwarding
// control messages (or reporting completion) after the fact can still
// surface an accurate Error frame to its peer.
type CancelReason struct {
	Kind    rerr.Kind
	Message string
}

// Record is the per-transfer state object. Fields below the mutex are
// mutated only under Record.mu; ID, Relay, Control and CreatedAt are set
// once and never change.
type Record struct {
	ID       string
	Metadata Metadata // set once at registration, immutable thereafter

	Relay   chan Chunk
	Control chan Control

	CreatedAt time.Time

	mu              sync.Mutex
	phase           Phase
	lastActivity    time.Time
	senderPresent   bool
	receiverPresent bool
	closed          bool
	bytesRelayed    uint64
	cancelReason    CancelReason
	done            chan struct{}
}

// newRecord constructs a Record in phase Registered with the given relay
// channel capacity (the default backpressure bound C).
func newRecord(id string, relayCap int) *Record {
	now := time.Now()
	return &Record{
		ID:           id,
		phase:        PhaseRegistered,
		CreatedAt:    now,
		lastActivity: now,
		Relay:        make(chan Chunk, relayCap),
		Control:      make(chan Control, 2),
		done:         make(chan struct{}),
	}
}

// Done returns a channel closed once the record reaches a terminal phase.
// Relay itself is never closed (a blocked sender racing cancellation would
// panic on a send to a closed channel), so any goroutine that sends on
// Relay and needs to observe cancellation selects on Done alongside the
// send.
func (r *Record) Done() <-chan struct{} {
	return r.done
}

// Phase returns the current phase.
func (r *Record) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// LastActivity returns the last activity timestamp.
func (r *Record) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

// Touch records activity on the record (extends idle timeouts).
func (r *Record) Touch() {
	r.mu.Lock()
	r.lastActivity = time.Now()
	r.mu.Unlock()
}

// AddBytesRelayed accumulates the running byte total for the Complete tally
// and the declared-size overflow check.
func (r *Record) AddBytesRelayed(n int) uint64 {
	r.mu.Lock()
	r.bytesRelayed += uint64(n)
	total := r.bytesRelayed
	r.mu.Unlock()
	return total
}

// BytesRelayed returns the running byte total.
func (r *Record) BytesRelayed() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytesRelayed
}

// SetMetadata publishes the sender's declared metadata. Must only be
// called while transitioning Registered -> SenderReady.
func (r *Record) SetMetadata(m Metadata) {
	r.mu.Lock()
	r.Metadata = m
	r.mu.Unlock()
}

// transition attempts to move the record to `to`, returning an error if the
// move is not in legalTransitions. Entering a terminal phase closes Control
// and Done exactly once so awaiting peers observe closure and shut down
// (I4). Idempotent: transitioning to a phase already reached, or to
// Cancelled from a terminal phase, is a harmless no-op.
func (r *Record) transition(to Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase == to {
		return nil
	}
	if r.phase.Terminal() {
		// Already terminal; further transitions (including redundant
		// Cancel from a racing failure path) are no-ops, never errors.
		return nil
	}
	if !legalTransitions[r.phase][to] {
		return rerr.Internal("record.transition", fmt.Errorf("illegal transition %s -> %s", r.phase, to))
	}
	r.phase = to
	r.lastActivity = time.Now()
	if to.Terminal() {
		r.closeLocked()
	}
	return nil
}

// claimOutcome is the result of a single atomic claim attempt.
type claimOutcome int

const (
	claimed claimOutcome = iota
	claimNotReady
	claimAlready
)

// tryClaim is the single linearization point for invariant I2: at most one
// caller observes SenderReady -> Claimed succeed. It never blocks;
// Registry.Claim runs the NotReady retry loop around it.
func (r *Record) tryClaim() claimOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.phase {
	case PhaseRegistered:
		return claimNotReady
	case PhaseSenderReady:
		r.phase = PhaseClaimed
		r.receiverPresent = true
		r.lastActivity = time.Now()
		return claimed
	default:
		// SenderReady already consumed (Claimed/Streaming/terminal): this
		// caller lost the race, or the transfer is no longer claimable.
		return claimAlready
	}
}

// Cancel idempotently drives the record to Cancelled from any
// non-terminal phase. Never panics, safe to call from any scope-exit path
// (sender, receiver, or janitor). Equivalent to
// CancelNotify(rerr.KindPeerDisconnected, ...) for callers with no more
// specific reason to report.
func (r *Record) Cancel() {
	r.CancelNotify(rerr.KindPeerDisconnected, "peer disconnected")
}

// CancelNotify idempotently cancels the record like Cancel, but first
// records why (surfaced later via CancelReason) and, while the control
// channel is still open, publishes a best-effort ControlCancel message so
// a forwardControl loop already waiting on it reports the same Kind to its
// peer before the channel closes. Safe to call concurrently and
// repeatedly; only the first call's reason sticks.
func (r *Record) CancelNotify(kind rerr.Kind, message string) {
	r.mu.Lock()
	if !r.phase.Terminal() {
		select {
		case r.Control <- Control{Kind: ControlCancel, Reason: message, ErrKind: kind}:
		default:
		}
	}
	if r.cancelReason.Kind == "" {
		r.cancelReason = CancelReason{Kind: kind, Message: message}
	}
	r.mu.Unlock()
	_ = r.transition(PhaseCancelled)
}

// CancelReason returns the reason recorded by the first Cancel/CancelNotify
// call, or a zero CancelReason if the record was never cancelled (e.g. it
// completed instead).
func (r *Record) CancelReason() CancelReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelReason
}

// Complete drives the record to Completed. Only the receiver session,
// as the authoritative completer, should call this.
func (r *Record) Complete() error {
	return r.transition(PhaseCompleted)
}

// MarkSenderReady transitions Registered -> SenderReady once the sender's
// Hello frame has been validated and metadata published.
func (r *Record) MarkSenderReady() error {
	return r.transition(PhaseSenderReady)
}

// MarkStreaming transitions Claimed -> Streaming, called once the first
// chunk is accepted after Start has been delivered.
func (r *Record) MarkStreaming() error {
	return r.transition(PhaseStreaming)
}

// closeLocked closes Control and Done exactly once. Callers must hold r.mu.
// Relay is deliberately left open: a sender session may be blocked
// mid-select on `rec.Relay <- chunk` at the instant cancellation lands, and
// a send on a closed channel panics regardless of other ready select
// cases, so Relay's closure can't be the cancellation signal. Done is.
func (r *Record) closeLocked() {
	if r.closed {
		return
	}
	r.closed = true
	close(r.Control)
	close(r.done)
}

// SetSenderPresent / SetReceiverPresent enforce invariant I1 (at most one
// sender and one receiver WS bound to a record at a time) from the caller
// side: the session attaches before doing any I/O and detaches on exit.
func (r *Record) SetSenderPresent(v bool) {
	r.mu.Lock()
	r.senderPresent = v
	r.mu.Unlock()
}

func (r *Record) SetReceiverPresent(v bool) {
	r.mu.Lock()
	r.receiverPresent = v
	r.mu.Unlock()
}

func (r *Record) SenderPresent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.senderPresent
}

func (r *Record) ReceiverPresent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.receiverPresent
}
