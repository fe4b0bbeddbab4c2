package monitor

import (
	"context"
	"time"
)

// defaultMessagePollInterval is how often the message monitor checks for
// new inbound sharing messages absent a push notification transport.
const defaultMessagePollInterval = 10 * time.Second

// MessageMonitor implements §4.8's message monitor: it drives
// process_last_messages whenever new messages may be waiting, either
// because Wake fired (a realm event suggesting activity) or because the
// poll interval elapsed.
type MessageMonitor struct {
	// ProcessLastMessages is userfs.UserFS.ProcessLastMessages.
	ProcessLastMessages func(ctx context.Context) error

	// Wake, if set, is an additional trigger channel (e.g. a bus
	// subscription's Events()) that causes an immediate processing pass
	// without waiting for the next poll tick.
	Wake <-chan struct{}

	// Interval is the poll period. Zero uses defaultMessagePollInterval.
	Interval time.Duration

	// OnError is called with any error process_last_messages returns;
	// nil means errors are swallowed (the next tick retries).
	OnError func(error)
}

// Run polls (and reacts to Wake) until ctx is cancelled.
func (m *MessageMonitor) Run(ctx context.Context) error {
	interval := m.Interval
	if interval <= 0 {
		interval = defaultMessagePollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.process(ctx)
		case <-m.Wake:
			m.process(ctx)
		}
	}
}

func (m *MessageMonitor) process(ctx context.Context) {
	if err := m.ProcessLastMessages(ctx); err != nil && m.OnError != nil {
		m.OnError(err)
	}
}
