package monitor

import (
	"context"
	"time"

	"github.com/scille/parsec-core/events"
	"github.com/scille/parsec-core/ids"
	"github.com/scille/parsec-core/remote"
)

// RealmPoller fetches the set of vlobs changed since lastCheckpoint for one
// realm; *remote.RemoteLoader satisfies this.
type RealmPoller interface {
	PollChanges(ctx context.Context, lastCheckpoint uint64) (remote.VlobPollChangesResponse, error)
}

// RealmWatcher polls one realm on an interval and republishes each change
// as a backend.realm.vlobs_updated event, standing in for the push
// notification §6's RPC surface does not itself provide. This is what the
// sync monitor actually reacts to.
// The RPC surface's vlob_poll_changes batches an arbitrary number of
// changed vlobs under one server-side checkpoint (§6), whereas the event
// taxonomy's backend.realm.vlobs_updated carries one src_id per event with
// its own monotone checkpoint (§6, §5 ordering guarantee (c)). RealmWatcher
// bridges the two by stamping each emitted event with a local sequence
// number rather than reusing the batch's shared server checkpoint, so a
// subscriber's "skip if checkpoint <= last acted" rule never drops a
// sibling change from the same poll.
type RealmWatcher struct {
	RealmID  ids.RealmID
	Poller   RealmPoller
	Events   *events.Bus
	Interval time.Duration

	serverCheckpoint uint64
	seq              uint64
}

const defaultPollInterval = 5 * time.Second

// Run polls until ctx is cancelled.
func (w *RealmWatcher) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.pollOnce(ctx); err != nil {
				continue
			}
		}
	}
}

func (w *RealmWatcher) pollOnce(ctx context.Context) error {
	resp, err := w.Poller.PollChanges(ctx, w.serverCheckpoint)
	if err != nil {
		return err
	}

	if resp.CurrentCheckpoint <= w.serverCheckpoint {
		return nil
	}

	w.serverCheckpoint = resp.CurrentCheckpoint

	if w.Events == nil {
		return nil
	}

	for entryID, version := range resp.Changes {
		w.seq++

		w.Events.Publish(events.RealmVlobsUpdated, events.RealmVlobsUpdatedPayload{
			RealmID:    w.RealmID,
			Checkpoint: w.seq,
			SrcID:      entryID,
			SrcVersion: version,
		})
	}

	return nil
}
