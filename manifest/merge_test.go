package manifest

import (
	"reflect"
	"testing"

	"github.com/scille/parsec-core/ids"
)

func TestMergeChildrenDisjointChangesCommute(t *testing.T) {
	a, b, c := ids.NewEntryID(), ids.NewEntryID(), ids.NewEntryID()

	base := map[ids.EntryName]ids.EntryID{"a.txt": a}
	local := map[ids.EntryName]ids.EntryID{"a.txt": a, "b.txt": b}
	remote := map[ids.EntryName]ids.EntryID{"a.txt": a, "c.txt": c}

	merged, conflicts := MergeChildren(base, local, remote)
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %v", conflicts)
	}

	want := map[ids.EntryName]ids.EntryID{"a.txt": a, "b.txt": b, "c.txt": c}
	if !reflect.DeepEqual(merged, want) {
		t.Fatalf("merged = %v, want %v", merged, want)
	}
}

func TestMergeChildrenSameNameConflict(t *testing.T) {
	base := map[ids.EntryName]ids.EntryID{}
	aID, bID := ids.NewEntryID(), ids.NewEntryID()
	local := map[ids.EntryName]ids.EntryID{"x.txt": aID}
	remote := map[ids.EntryName]ids.EntryID{"x.txt": bID}

	_, conflicts := MergeChildren(base, local, remote)
	if len(conflicts) != 1 || conflicts[0].Name != "x.txt" {
		t.Fatalf("expected one conflict on x.txt, got %v", conflicts)
	}
}

func TestMergeChildrenIdempotent(t *testing.T) {
	a, b := ids.NewEntryID(), ids.NewEntryID()
	base := map[ids.EntryName]ids.EntryID{"a.txt": a}
	local := map[ids.EntryName]ids.EntryID{"a.txt": a, "b.txt": b}
	remote := map[ids.EntryName]ids.EntryID{"a.txt": a}

	merged1, _ := MergeChildren(base, local, remote)
	merged2, _ := MergeChildren(base, merged1, remote)

	if !reflect.DeepEqual(merged1, merged2) {
		t.Fatalf("merge is not idempotent: %v vs %v", merged1, merged2)
	}
}

func TestMergeChildrenDeletion(t *testing.T) {
	a := ids.NewEntryID()
	base := map[ids.EntryName]ids.EntryID{"a.txt": a}
	local := map[ids.EntryName]ids.EntryID{} // deleted locally
	remote := map[ids.EntryName]ids.EntryID{"a.txt": a}

	merged, conflicts := MergeChildren(base, local, remote)
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %v", conflicts)
	}

	if _, present := merged["a.txt"]; present {
		t.Fatalf("expected a.txt to be deleted in merge result")
	}
}

func TestMergeUserHigherRoleWins(t *testing.T) {
	id := ids.NewEntryID()
	key, _ := generateTestKey()

	local := UserManifest{Workspaces: []WorkspaceEntry{{ID: id, Name: "W", Key: key, Role: RoleManager}}}
	remote := UserManifest{Workspaces: []WorkspaceEntry{{ID: id, Name: "W", Key: key, Role: RoleReader}}}

	merged := MergeUser(local, remote)
	if len(merged.Workspaces) != 1 {
		t.Fatalf("expected one merged workspace entry, got %d", len(merged.Workspaces))
	}

	if merged.Workspaces[0].Role != RoleManager {
		t.Fatalf("expected higher role MANAGER to win, got %v", merged.Workspaces[0].Role)
	}
}

func TestMergeUserLastProcessedMessageIsMax(t *testing.T) {
	local := UserManifest{LastProcessedMessage: 5}
	remote := UserManifest{LastProcessedMessage: 9}

	merged := MergeUser(local, remote)
	if merged.LastProcessedMessage != 9 {
		t.Fatalf("expected last_processed_message = 9, got %d", merged.LastProcessedMessage)
	}
}
