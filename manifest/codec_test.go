package manifest

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/scille/parsec-core/crypto"
	"github.com/scille/parsec-core/ids"
)

func TestCodecRoundTripFile(t *testing.T) {
	key, err := crypto.GenerateSecretKey()
	if err != nil {
		t.Fatalf("GenerateSecretKey: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	author := ids.DeviceID{UserID: "alice", DeviceName: "laptop"}

	m := FileManifest{
		Base: Base{
			ID:      ids.NewEntryID(),
			Version: 3,
			Created: now,
			Updated: now,
			Author:  &author,
		},
		Parent:    ids.NewEntryID(),
		Size:      10,
		BlockSize: 8,
		Blocks: []BlockAccess{
			{ID: ids.NewBlockID(), Key: key, Offset: 0, Size: 8, Digest: crypto.ComputeDigest([]byte("12345678"))},
			{ID: ids.NewBlockID(), Key: key, Offset: 8, Size: 2, Digest: crypto.ComputeDigest([]byte("90"))},
		},
	}

	roundTripAndCompare(t, m)
}

func TestCodecRoundTripFolder(t *testing.T) {
	m := FolderManifest{
		Base:     Base{ID: ids.NewEntryID(), Version: 1},
		Parent:   ids.NewEntryID(),
		Children: map[ids.EntryName]ids.EntryID{"a.txt": ids.NewEntryID(), "sub": ids.NewEntryID()},
	}

	roundTripAndCompare(t, m)
}

func TestCodecRoundTripWorkspace(t *testing.T) {
	m := WorkspaceManifest{
		Base:     Base{ID: ids.NewEntryID(), Version: 0},
		Children: map[ids.EntryName]ids.EntryID{},
	}

	roundTripAndCompare(t, m)
}

func TestCodecRoundTripUser(t *testing.T) {
	key, _ := crypto.GenerateSecretKey()

	m := UserManifest{
		Base:                  Base{ID: ids.NewEntryID(), Version: 1},
		LastProcessedMessage:  4,
		Workspaces: []WorkspaceEntry{
			NewWorkspaceEntry("W1", ids.NewEntryID(), key, time.Now().UTC().Truncate(time.Millisecond)),
		},
	}

	roundTripAndCompare(t, m)
}

func roundTripAndCompare(t *testing.T, m Manifest) {
	t.Helper()

	raw, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if diff := cmp.Diff(m, decoded); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}
