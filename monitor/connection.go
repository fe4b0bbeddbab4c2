package monitor

import (
	"context"
	"time"

	"github.com/scille/parsec-core/events"
	"github.com/scille/parsec-core/internal/retry"
	"github.com/scille/parsec-core/parsecerr"
)

// defaultKeepAlive is how often an established connection is re-probed for
// liveness between reconnect attempts.
const defaultKeepAlive = 30 * time.Second

// ConnectionMonitor implements §4.8's backend connection monitor: it keeps
// an authenticated session alive, reconnecting with exponential backoff
// (§5 "Reconnection uses exponential backoff with a cap") whenever Ping
// reports the session is down.
type ConnectionMonitor struct {
	// Ping proves the session is alive (or (re)establishes it). It must
	// return an error satisfying parsecerr.Is(err, parsecerr.Offline) for
	// a transient, retriable failure; any other error is treated as
	// permanent.
	Ping func(ctx context.Context) error

	// Events receives backend.connection.{ready,lost,refused,crashed};
	// nil disables emission.
	Events *events.Bus

	// KeepAlive is the interval between liveness probes once connected.
	// Zero uses defaultKeepAlive.
	KeepAlive time.Duration
}

func isOffline(err error) bool {
	return parsecerr.Is(err, parsecerr.Offline)
}

// Run reconnects until ctx is cancelled (clean return, nil) or a permanent
// failure occurs (non-nil return), per §4.8 "Cancellation of any monitor
// terminates the core cleanly."
func (m *ConnectionMonitor) Run(ctx context.Context) error {
	keepAlive := m.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}

	everConnected := false

	for {
		err := retry.WithExponentialBackoffNoValue(ctx, "backend connection", func() error {
			return m.Ping(ctx)
		}, isOffline)

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			if everConnected {
				m.emit(events.ConnectionCrashed)
			} else {
				m.emit(events.ConnectionRefused)
			}

			return err
		}

		everConnected = true
		m.emit(events.ConnectionReady)

		lost, err := m.holdUntilLost(ctx, keepAlive)
		if err != nil {
			return nil
		}

		if !lost {
			return nil
		}

		m.emit(events.ConnectionLost)
	}
}

// holdUntilLost pings every interval until Ping fails (lost=true, resumes
// the outer reconnect loop) or ctx is cancelled (err=ctx.Err()).
func (m *ConnectionMonitor) holdUntilLost(ctx context.Context, interval time.Duration) (lost bool, err error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
			if pingErr := m.Ping(ctx); pingErr != nil {
				return true, nil
			}
		}
	}
}

func (m *ConnectionMonitor) emit(name events.Name) {
	if m.Events != nil {
		m.Events.Publish(name, nil)
	}
}
