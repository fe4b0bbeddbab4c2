package userfs

import (
	"context"

	"github.com/scille/parsec-core/workspacefs"
)

// Sync implements §4.3 sync(): the user manifest is itself just another
// manifest kind dispatched by the same synchronization_step state machine
// workspacefs uses for folders and files (§9 "User merge"), so Sync reuses
// workspacefs.WorkspaceFS.SyncByID rather than re-implementing outbound/
// inbound dispatch and retry-on-conflict here.
func (u *UserFS) Sync(ctx context.Context) error {
	ws := &workspacefs.WorkspaceFS{
		Store:       u.Store,
		Loader:      u.loader(),
		WorkspaceID: u.UserManifestID,
		Author:      u.Author,
		SigningKey:  u.SigningKey,
		Events:      u.Events,
	}

	return ws.SyncByID(ctx, u.UserManifestID, true, false)
}
