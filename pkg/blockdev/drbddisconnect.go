package blockdev

import (
	"fmt"
	"time"
)

// disconnectInitialBackoff and disconnectMaxBackoff bound the
// exponential backoff DisconnectNet uses while polling for StandAlone.
const (
	disconnectInitialBackoff = 100 * time.Millisecond
	disconnectMaxBackoff     = 2 * time.Second
	disconnectLimit          = 60 * time.Second
)

// DisconnectNet issues drbdsetup disconnect and polls /proc/drbd until
// the minor reaches StandAlone, re-issuing disconnect on every
// iteration since the peer may ignore a disconnect it receives while
// disconnecting itself. Backoff starts at 100ms, doubles up to a 2s
// cap, and the whole operation is a hard error past 60s.
func (d *DRBD8) DisconnectNet() error {
	deadline := time.Now().Add(disconnectLimit)
	backoff := disconnectInitialBackoff

	for {
		if _, err := run("drbdsetup", d.id(), "disconnect"); err != nil {
			// The peer may already be gone, or already standalone;
			// keep polling rather than failing on this alone.
			_ = err
		}

		state, err := minorState(d.Minor)
		if err == nil && (state == nil || state.IsStandAlone()) {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("drbd disconnect %s: did not reach StandAlone within %s", d.id(), disconnectLimit)
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > disconnectMaxBackoff {
			backoff = disconnectMaxBackoff
		}
	}
}
