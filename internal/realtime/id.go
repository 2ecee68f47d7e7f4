package realtime

import (
	"time"

	"github.com/cambiartech/buykoins-realtime/internal/ids"
)

// newSessionID returns a ULID used as websocket session id.
func newSessionID(now time.Time) string {
	return ids.MustULID(now)
}

// newEnvelopeID returns a ULID used as server envelope id. ULIDs sort by time,
// which keeps logs readable.
func newEnvelopeID(now time.Time) string {
	return ids.MustULID(now)
}

// newServerMsgID returns a ULID used as the public message id.
func newServerMsgID(now time.Time) string {
	return ids.MustULID(now)
}
