// Package errors defines the closed set of error kinds the relay core can
// surface to a peer, as an Error control frame. Every error that crosses a
// session boundary classifies into exactly one Kind; callers wrap an
// underlying cause for logs and tests, but only the Kind and a short
// message ever reach the wire.
package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"
)

// Kind is the closed set of error kinds a transfer can fail with.
type Kind string

const (
	KindNotFound          Kind = "NotFound"
	KindAlreadyClaimed    Kind = "AlreadyClaimed"
	KindNotReady          Kind = "NotReady"
	KindProtocolViolation Kind = "ProtocolViolation"
	KindPeerDisconnected  Kind = "PeerDisconnected"
	KindTimeout           Kind = "Timeout"
	KindInternal          Kind = "Internal"
)

// Error is a relay-core error tagged with a wire-visible Kind, an
// operation label for logs, and an optional wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, op string, cause error) error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Thin constructors, one per kind, so call sites read as
// errors.NotFound("registry.get", nil) rather than repeating the Kind.
func NotFound(op string, cause error) error         { return New(KindNotFound, op, cause) }
func AlreadyClaimed(op string, cause error) error   { return New(KindAlreadyClaimed, op, cause) }
func NotReady(op string, cause error) error         { return New(KindNotReady, op, cause) }
func ProtocolViolation(op string, cause error) error { return New(KindProtocolViolation, op, cause) }
func PeerDisconnected(op string, cause error) error { return New(KindPeerDisconnected, op, cause) }
func Internal(op string, cause error) error         { return New(KindInternal, op, cause) }

// NewTimeout additionally records the duration elapsed before the timeout
// fired, for log/test context; the wire Kind is still just "Timeout".
func NewTimeout(op string, d time.Duration, cause error) error {
	return New(KindTimeout, fmt.Sprintf("%s (after %s)", op, d), cause)
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error. A context
// deadline, or any error whose Timeout() method reports true, classifies as
// KindTimeout so callers never need to special-case those separately; a bare
// context.Canceled does not classify.
func KindOf(err error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	var e *Error
	if stdErrors.As(err, &e) {
		return e.Kind, true
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, true
	}
	var toErr interface{ Timeout() bool }
	if stdErrors.As(err, &toErr) && toErr.Timeout() {
		return KindTimeout, true
	}
	return "", false
}

// Is reports whether err classifies as kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsTimeout reports whether err classifies as KindTimeout.
func IsTimeout(err error) bool { return Is(err, KindTimeout) }
