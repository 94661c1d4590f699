package relayserver

// Shared read-polling helper for the sender and receiver sessions. Both
// sides have a goroutine blocked in conn.ReadFrame() waiting on a peer
// that may never send anything else (a sender idle after its last chunk,
// a receiver that only ever reads); errgroup's derived context is only
// cancelled when a joined function returns a non-nil error, so a sibling
// goroutine finishing cleanly does not by itself unblock a raw socket
// read. Polling with a short read deadline lets the blocked side
// periodically recheck ctx/done instead of waiting on bytes that may
// never arrive.

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/alxayo/filerelay/internal/wsproto"
)

// framePollInterval bounds how long a single blocking read waits before
// the caller gets a chance to recheck cancellation.
const framePollInterval = 250 * time.Millisecond

// errPolledCancelled is returned by pollReadFrame when done fires before a
// frame arrives.
var errPolledCancelled = errors.New("relayserver: cancelled while waiting for frame")

// pollReadFrame reads the next WS frame, re-checking ctx and done between
// short read-deadline windows so a peer that never sends anything else
// doesn't wedge the caller past cancellation or session completion.
func pollReadFrame(ctx context.Context, conn *wsproto.Conn, done <-chan struct{}) (kind wsproto.Kind, msg any, payload []byte, isBinary bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return "", nil, nil, false, ctx.Err()
		case <-done:
			return "", nil, nil, false, errPolledCancelled
		default:
		}

		if derr := conn.SetReadDeadline(time.Now().Add(framePollInterval)); derr != nil {
			return "", nil, nil, false, derr
		}
		kind, msg, payload, isBinary, err = conn.ReadFrame()
		if err == nil {
			return kind, msg, payload, isBinary, nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			continue
		}
		return kind, msg, payload, isBinary, err
	}
}
