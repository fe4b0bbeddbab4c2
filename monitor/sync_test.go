package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scille/parsec-core/events"
	"github.com/scille/parsec-core/ids"
)

func TestSyncMonitorDebouncesBurstOfEntryUpdates(t *testing.T) {
	bus := events.NewBus(nil)
	sub := bus.Subscribe("sync-monitor", 16)

	var mu sync.Mutex
	var synced []ids.EntryID

	id := ids.NewEntryID()

	m := NewSyncMonitor(sub, func(ctx context.Context, got ids.EntryID) error {
		mu.Lock()
		synced = append(synced, got)
		mu.Unlock()

		return nil
	})
	m.Debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	for i := 0; i < 5; i++ {
		bus.Emit(string(events.EntryUpdated), id)
		time.Sleep(time.Millisecond)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(synced) == 1
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	sub.Close()
}

func TestSyncMonitorSkipsStaleRealmCheckpoint(t *testing.T) {
	bus := events.NewBus(nil)
	sub := bus.Subscribe("sync-monitor", 16)

	var mu sync.Mutex
	var synced []ids.EntryID

	realmID := ids.RealmID(ids.NewEntryID())
	idA := ids.NewEntryID()
	idB := ids.NewEntryID()

	m := NewSyncMonitor(sub, func(ctx context.Context, got ids.EntryID) error {
		mu.Lock()
		synced = append(synced, got)
		mu.Unlock()

		return nil
	})
	m.Debounce = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	bus.Publish(events.RealmVlobsUpdated, events.RealmVlobsUpdatedPayload{RealmID: realmID, Checkpoint: 2, SrcID: idA, SrcVersion: 1})
	bus.Publish(events.RealmVlobsUpdated, events.RealmVlobsUpdatedPayload{RealmID: realmID, Checkpoint: 1, SrcID: idB, SrcVersion: 1})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(synced) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	require.Equal(t, idA, synced[0])
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
	sub.Close()
}
