package workspacefs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHistoryVersionsListsEachUploadedVersion(t *testing.T) {
	ws, _ := newTestWorkspaceFS(t)
	ctx := context.Background()

	require.NoError(t, ws.SyncByID(ctx, ws.WorkspaceID, false, false))

	_, err := ws.FolderCreate(ctx, "/docs")
	require.NoError(t, err)
	require.NoError(t, ws.SyncByID(ctx, ws.WorkspaceID, true, false))

	h := NewHistory(ws)

	versions, err := h.Versions(ctx, "/")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, uint64(1), versions[0].Version)
	require.Equal(t, uint64(2), versions[1].Version)
}

func TestHistoryAtReturnsManifestAsOfTimestamp(t *testing.T) {
	ws, _ := newTestWorkspaceFS(t)
	ctx := context.Background()

	require.NoError(t, ws.SyncByID(ctx, ws.WorkspaceID, false, false))

	h := NewHistory(ws)

	versions, err := h.Versions(ctx, "/")
	require.NoError(t, err)
	require.Len(t, versions, 1)

	m, err := h.At(ctx, "/", versions[0].Timestamp)
	require.NoError(t, err)
	require.Equal(t, ws.WorkspaceID, m.Meta().ID)
}
