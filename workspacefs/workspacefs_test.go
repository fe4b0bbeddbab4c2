package workspacefs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFolderCreateAndResolve(t *testing.T) {
	ws, _ := newTestWorkspaceFS(t)
	ctx := context.Background()

	id, err := ws.FolderCreate(ctx, "/docs")
	require.NoError(t, err)

	got, err := ws.EntryInfo(ctx, "/docs")
	require.NoError(t, err)
	require.Equal(t, id, got.Folder().ID)
}

func TestFolderCreateRejectsDuplicateName(t *testing.T) {
	ws, _ := newTestWorkspaceFS(t)
	ctx := context.Background()

	_, err := ws.FolderCreate(ctx, "/docs")
	require.NoError(t, err)

	_, err = ws.FolderCreate(ctx, "/docs")
	require.Error(t, err)

	var exists *FileExistsError
	require.ErrorAs(t, err, &exists)
}

func TestResolveMissingPathFails(t *testing.T) {
	ws, _ := newTestWorkspaceFS(t)
	ctx := context.Background()

	_, err := ws.EntryInfo(ctx, "/nope")
	require.Error(t, err)

	var notFound *FileNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestEntryRenameMovesChildUnderSameParent(t *testing.T) {
	ws, _ := newTestWorkspaceFS(t)
	ctx := context.Background()

	id, err := ws.FolderCreate(ctx, "/docs")
	require.NoError(t, err)

	victim, err := ws.EntryRename(ctx, "/docs", "papers", false)
	require.NoError(t, err)
	require.Nil(t, victim)

	got, err := ws.EntryInfo(ctx, "/papers")
	require.NoError(t, err)
	require.Equal(t, id, got.Folder().ID)

	_, err = ws.EntryInfo(ctx, "/docs")
	require.Error(t, err)
}

func TestEntryRenameWithoutOverwriteFailsOnCollision(t *testing.T) {
	ws, _ := newTestWorkspaceFS(t)
	ctx := context.Background()

	_, err := ws.FolderCreate(ctx, "/a")
	require.NoError(t, err)
	_, err = ws.FolderCreate(ctx, "/b")
	require.NoError(t, err)

	_, err = ws.EntryRename(ctx, "/a", "b", false)
	require.Error(t, err)

	var exists *FileExistsError
	require.ErrorAs(t, err, &exists)
}

func TestFolderDeleteRemovesChild(t *testing.T) {
	ws, _ := newTestWorkspaceFS(t)
	ctx := context.Background()

	_, err := ws.FolderCreate(ctx, "/docs")
	require.NoError(t, err)

	require.NoError(t, ws.FolderDelete(ctx, "/docs"))

	_, err = ws.EntryInfo(ctx, "/docs")
	require.Error(t, err)
}

func TestFileCreateThenOpenThenReadWrite(t *testing.T) {
	ws, _ := newTestWorkspaceFS(t)
	ctx := context.Background()

	_, err := ws.FileCreate(ctx, "/report.txt")
	require.NoError(t, err)

	fd, err := ws.Open(ctx, "/report.txt")
	require.NoError(t, err)

	require.NoError(t, fd.Write(ctx, 0, []byte("hello parsec")))

	got, err := fd.Read(ctx, 0, 12)
	require.NoError(t, err)
	require.Equal(t, "hello parsec", string(got))
}

func TestFileWriteNotifiesEntryUpdated(t *testing.T) {
	ws, _ := newTestWorkspaceFS(t)
	ctx := context.Background()

	_, err := ws.FileCreate(ctx, "/report.txt")
	require.NoError(t, err)

	var names []string
	ws.Events = eventSinkFunc(func(name string, payload any) { names = append(names, name) })

	fd, err := ws.Open(ctx, "/report.txt")
	require.NoError(t, err)
	require.NoError(t, fd.Write(ctx, 0, []byte("x")))

	require.Contains(t, names, "fs.entry.updated")
}
