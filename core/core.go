// Package core wires one device's full stack together: local storage, the
// user FS, the event bus, and the three long-lived monitors of §4.8, into
// the single process-lifetime value described in SPEC_FULL.md §9 "Global
// state... model them as explicit values threaded through constructors
// rather than singletons." Shaped after the teacher's cas.Repository: one
// aggregator type, a functional-option constructor, Close releases
// everything Open acquired.
package core

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scille/parsec-core/config"
	"github.com/scille/parsec-core/events"
	"github.com/scille/parsec-core/ids"
	"github.com/scille/parsec-core/monitor"
	"github.com/scille/parsec-core/remote"
	"github.com/scille/parsec-core/storage"
	"github.com/scille/parsec-core/userfs"
)

// Core is one device's running instance: its local storage, its user FS,
// the event bus connecting them to the monitors, and the monitors
// themselves once Run is called.
type Core struct {
	Store  *storage.Store
	Events *events.Bus
	Users  *userfs.UserFS

	device config.Device

	connectionKeepAlive time.Duration
	messagePollInterval time.Duration
	realmPollInterval   time.Duration
	syncDebounce        time.Duration
}

// Option configures a Core at construction.
type Option func(*Core)

// WithConnectionKeepAlive overrides the connection monitor's liveness probe
// interval.
func WithConnectionKeepAlive(d time.Duration) Option {
	return func(c *Core) { c.connectionKeepAlive = d }
}

// WithMessagePollInterval overrides the message monitor's poll period.
func WithMessagePollInterval(d time.Duration) Option {
	return func(c *Core) { c.messagePollInterval = d }
}

// WithRealmPollInterval overrides how often the own-realm watcher polls
// vlob_poll_changes.
func WithRealmPollInterval(d time.Duration) Option {
	return func(c *Core) { c.realmPollInterval = d }
}

// WithSyncDebounce overrides the sync monitor's per-entry debounce window.
func WithSyncDebounce(d time.Duration) Option {
	return func(c *Core) { c.syncDebounce = d }
}

// Open loads dbPath's local storage, attaches a fresh event bus, and builds
// the UserFS for device over client/directory. Close must be called to
// release the storage handle.
func Open(dbPath string, device config.Device, client remote.RealmClient, directory userfs.Directory, opts ...Option) (*Core, error) {
	store, err := storage.Open(dbPath, storage.Options{})
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(nil)

	users := &userfs.UserFS{
		Store:              store,
		Client:             client,
		Directory:          directory,
		UserManifestID:     device.UserManifestID,
		UserRealmKey:       device.UserManifestKey,
		EncryptionRevision: 1,
		Author:             device.Author,
		SigningKey:         device.SigningKey,
		BoxPrivateKey:      device.UserPrivateKey,
		Events:             bus,
	}

	c := &Core{
		Store:  store,
		Events: bus,
		Users:  users,
		device: device,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Close stops nothing by itself (Run's context governs the monitors) but
// releases the storage handle; callers should cancel Run's context first.
func (c *Core) Close() error {
	return c.Store.Close()
}

// Run starts the connection monitor, message monitor, own-realm watcher,
// and sync monitor, and blocks until ctx is cancelled or one of them fails
// permanently. Per §4.8 "Cancellation of any monitor terminates the core
// cleanly," cancelling ctx always yields a nil error from Run.
func (c *Core) Run(ctx context.Context) error {
	syncSub := c.Events.Subscribe("sync-monitor", 256)
	defer syncSub.Close()

	connMon := &monitor.ConnectionMonitor{
		Ping:      c.probeConnection,
		Events:    c.Events,
		KeepAlive: c.connectionKeepAlive,
	}

	msgMon := &monitor.MessageMonitor{
		ProcessLastMessages: c.Users.ProcessLastMessages,
		Interval:            c.messagePollInterval,
	}

	realmWatcher := &monitor.RealmWatcher{
		RealmID:  ids.RealmID(c.Users.UserManifestID),
		Poller:   c.Users.Loader(),
		Events:   c.Events,
		Interval: c.realmPollInterval,
	}

	syncMon := monitor.NewSyncMonitor(syncSub, c.syncByID)
	syncMon.Debounce = c.syncDebounce

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return connMon.Run(gctx) })
	g.Go(func() error { return msgMon.Run(gctx) })
	g.Go(func() error { return realmWatcher.Run(gctx) })
	g.Go(func() error { return syncMon.Run(gctx) })

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil
		}

		return err
	}

	return nil
}

// probeConnection is the connection monitor's liveness check: a cheap,
// already-idempotent read against the user's own realm.
func (c *Core) probeConnection(ctx context.Context) error {
	_, err := c.Users.Loader().LoadRealmRoles(ctx, ids.RealmID(c.Users.UserManifestID))

	return err
}

// syncByID dispatches a debounced sync request to either the user manifest
// sync path or a workspace's, depending on which entry id fired.
func (c *Core) syncByID(ctx context.Context, id ids.EntryID) error {
	if id == c.Users.UserManifestID {
		return c.Users.Sync(ctx)
	}

	ws, err := c.Users.Open(ctx, id)
	if err != nil {
		return err
	}

	return ws.SyncByID(ctx, id, true, false)
}
