// Package events implements the §4.8/§6 local event bus: an append-only
// publisher side fanning out to bounded per-subscriber queues. A slow
// subscriber drops its oldest queued event (with a logged warning) rather
// than blocking the publisher or growing without bound.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scille/parsec-core/ids"
	"github.com/scille/parsec-core/manifest"
)

// Name identifies one of the taxonomy's event kinds, per §6 "Event
// taxonomy".
type Name string

const (
	EntryUpdated     Name = "fs.entry.updated"
	EntrySynced      Name = "fs.entry.synced"
	WorkspaceCreated Name = "fs.workspace.created"
	SharingGranted   Name = "sharing.granted"
	SharingRevoked   Name = "sharing.revoked"
	SharingUpdated   Name = "sharing.updated"
	Pinged           Name = "pinged"

	ConnectionReady   Name = "backend.connection.ready"
	ConnectionLost    Name = "backend.connection.lost"
	ConnectionRefused Name = "backend.connection.refused"
	ConnectionCrashed Name = "backend.connection.crashed"

	RealmVlobsUpdated Name = "backend.realm.vlobs_updated"
)

// EntryUpdatedPayload is a struct form of the fs.entry.updated/
// fs.entry.synced payload. workspacefs emits both events with a bare
// ids.EntryID payload instead, and SyncMonitor only acts on that bare form.
type EntryUpdatedPayload struct {
	ID ids.EntryID
}

// WorkspaceCreatedPayload carries fs.workspace.created.
type WorkspaceCreatedPayload struct {
	Entry manifest.WorkspaceEntry
}

// SharingPayload carries sharing.granted/revoked/updated. PreviousEntry is
// nil for a fresh grant.
type SharingPayload struct {
	NewEntry      manifest.WorkspaceEntry
	PreviousEntry *manifest.WorkspaceEntry
}

// PingedPayload carries pinged.
type PingedPayload struct {
	Origin ids.DeviceID
}

// RealmVlobsUpdatedPayload carries backend.realm.vlobs_updated.
type RealmVlobsUpdatedPayload struct {
	RealmID    ids.RealmID
	Checkpoint uint64
	SrcID      ids.EntryID
	SrcVersion uint64
}

// Event is one published occurrence: a name plus its name-specific payload.
type Event struct {
	Name      Name
	Payload   any
	Timestamp time.Time
}

// defaultQueueSize bounds a subscriber's pending queue before oldest events
// start getting dropped.
const defaultQueueSize = 64

// Subscription is a bounded, ordered view onto the bus for one consumer.
// Events() must be drained by the caller; Close unregisters the
// subscription and releases its queue.
type Subscription struct {
	bus  *Bus
	ch   chan Event
	name string
}

// Events returns the channel events are delivered on.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unregisters the subscription from its bus.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus is the process-lifetime event bus threaded through the core rather
// than reached via a package-level singleton.
type Bus struct {
	logger *zap.Logger

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewBus constructs a Bus. A nil logger is replaced with zap.NewNop().
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Bus{logger: logger, subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber with the given queue size (the
// default is used when size <= 0). name is used only in drop-warning logs.
func (b *Bus) Subscribe(name string, size int) *Subscription {
	if size <= 0 {
		size = defaultQueueSize
	}

	sub := &Subscription{bus: b, ch: make(chan Event, size), name: name}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; !ok {
		return
	}

	delete(b.subs, sub)
	close(sub.ch)
}

// publish fans ev out to every current subscriber, never blocking: a full
// subscriber queue has its oldest entry dropped (with a logged warning) to
// make room for ev.
func (b *Bus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}

		select {
		case <-sub.ch:
		default:
		}

		select {
		case sub.ch <- ev:
		default:
		}

		b.logger.Warn("event subscriber queue full, dropped oldest event",
			zap.String("subscriber", sub.name),
			zap.String("event", string(ev.Name)),
		)
	}
}

// Emit publishes name with payload, stamped with the current time. This is
// the bus's narrow structural interface for callers (e.g. userfs.EventSink)
// that only know "emit a named event", not the full Bus API.
func (b *Bus) Emit(name string, payload any) {
	b.publish(Event{Name: Name(name), Payload: payload, Timestamp: time.Now()})
}

// Publish is Emit's typed counterpart for callers that already hold a Name.
func (b *Bus) Publish(name Name, payload any) {
	b.publish(Event{Name: name, Payload: payload, Timestamp: time.Now()})
}
