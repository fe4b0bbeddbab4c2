package monitor

import (
	"context"
	"time"

	"github.com/scille/parsec-core/events"
	"github.com/scille/parsec-core/ids"
)

// defaultDebounce is how long the sync monitor waits after the last
// fs.entry.updated for an entry before calling sync_by_id on it.
const defaultDebounce = 500 * time.Millisecond

// SyncMonitor implements §4.8's sync monitor and §5's ordering guarantee
// (c): it subscribes to backend.realm.vlobs_updated and local
// fs.entry.updated, debounces per entry, and skips a realm event whose
// checkpoint is <= the last one it acted on for that realm.
type SyncMonitor struct {
	// Subscription delivers both backend.realm.vlobs_updated and
	// fs.entry.updated events; both may be published on the same bus.
	Subscription *events.Subscription

	// Sync is workspacefs.WorkspaceFS.SyncByID (or userfs.UserFS.Sync)
	// scoped to the entry id this monitor is told about.
	Sync func(ctx context.Context, id ids.EntryID) error

	// Debounce is the per-entry quiet period before Sync runs. Zero uses
	// defaultDebounce.
	Debounce time.Duration

	// OnError receives any error Sync returns; nil swallows it (the next
	// triggering event retries).
	OnError func(id ids.EntryID, err error)

	checkpoints map[ids.RealmID]uint64
	timers      map[ids.EntryID]*time.Timer
	fire        chan ids.EntryID
}

// NewSyncMonitor builds a SyncMonitor ready to Run.
func NewSyncMonitor(sub *events.Subscription, sync func(ctx context.Context, id ids.EntryID) error) *SyncMonitor {
	return &SyncMonitor{
		Subscription: sub,
		Sync:         sync,
		checkpoints:  map[ids.RealmID]uint64{},
		timers:       map[ids.EntryID]*time.Timer{},
		fire:         make(chan ids.EntryID, 64),
	}
}

// Run drains the subscription and fires debounced syncs until ctx is
// cancelled or the subscription is closed.
func (m *SyncMonitor) Run(ctx context.Context) error {
	debounce := m.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	defer m.stopAllTimers()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-m.Subscription.Events():
			if !ok {
				return nil
			}

			m.handleEvent(ev, debounce)
		case id := <-m.fire:
			if err := m.Sync(ctx, id); err != nil && m.OnError != nil {
				m.OnError(id, err)
			}
		}
	}
}

func (m *SyncMonitor) handleEvent(ev events.Event, debounce time.Duration) {
	switch ev.Name {
	case events.EntryUpdated:
		if id, ok := ev.Payload.(ids.EntryID); ok {
			m.schedule(id, debounce)
		}
	case events.RealmVlobsUpdated:
		p, ok := ev.Payload.(events.RealmVlobsUpdatedPayload)
		if !ok {
			return
		}

		if p.Checkpoint <= m.checkpoints[p.RealmID] {
			return
		}

		m.checkpoints[p.RealmID] = p.Checkpoint
		m.schedule(p.SrcID, debounce)
	}
}

// schedule (re)starts id's debounce timer; a burst of updates collapses
// into the single sync that follows the last one.
func (m *SyncMonitor) schedule(id ids.EntryID, debounce time.Duration) {
	if t, ok := m.timers[id]; ok {
		t.Stop()
	}

	m.timers[id] = time.AfterFunc(debounce, func() {
		select {
		case m.fire <- id:
		default:
			// fire is full; the entry is already queued or will be
			// re-scheduled by the next update anyway.
		}
	})
}

func (m *SyncMonitor) stopAllTimers() {
	for _, t := range m.timers {
		t.Stop()
	}
}
