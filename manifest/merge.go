package manifest

import (
	"fmt"
	"time"

	"github.com/scille/parsec-core/ids"
)

// ConflictError is raised by the folder/workspace merge when the same name
// was changed to different targets on both sides; the caller (the sync
// engine) resolves it by renaming one side to a conflicting-copy name and
// retrying.
type ConflictError struct {
	Name ids.EntryName
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting change to entry %q", e.Name)
}

// ConflictCopyName formats the standardized conflicting-copy name decided in
// SPEC_FULL.md §14: "<name> (conflicting copy by <device> on <timestamp>)".
func ConflictCopyName(name ids.EntryName, device ids.DeviceID, at time.Time) ids.EntryName {
	return ids.EntryName(fmt.Sprintf("%s (conflicting copy by %s on %s)", name, device, at.UTC().Format(time.RFC3339)))
}

// MergeChildren implements the three-way merge of children maps used by both
// the folder and the workspace merge (§9 "Folder/Workspace merge"): for each
// name present on either side, keep remote if base==local (only remote
// changed), keep local if base==remote (only local changed), and otherwise
// report a conflict for the caller to resolve.
//
// Disjoint changes commute by construction: a name touched by only one side
// never triggers the conflict branch (§8 "Merge commutativity").
func MergeChildren(base, local, remote map[ids.EntryName]ids.EntryID) (merged map[ids.EntryName]ids.EntryID, conflicts []ConflictError) {
	merged = make(map[ids.EntryName]ids.EntryID, len(local)+len(remote))

	names := make(map[ids.EntryName]struct{}, len(local)+len(remote))
	for n := range local {
		names[n] = struct{}{}
	}

	for n := range remote {
		names[n] = struct{}{}
	}

	for n := range names {
		b, inBase := base[n]
		l, inLocal := local[n]
		r, inRemote := remote[n]

		switch {
		case entryEqual(inLocal, l, inRemote, r):
			if inLocal {
				merged[n] = l
			}

		case entryEqual(inBase, b, inRemote, r):
			// Only local changed this name (or it's local-only new).
			if inLocal {
				merged[n] = l
			}

		case entryEqual(inBase, b, inLocal, l):
			// Only remote changed this name (or it's remote-only new).
			if inRemote {
				merged[n] = r
			}

		default:
			conflicts = append(conflicts, ConflictError{Name: n})
			// Keep the remote's claim on the bare name; the caller
			// renames the local side to a conflicting copy and
			// re-inserts it under the new name before retrying.
			if inRemote {
				merged[n] = r
			} else if inLocal {
				merged[n] = l
			}
		}
	}

	return merged, conflicts
}

func entryEqual(aPresent bool, a ids.EntryID, bPresent bool, b ids.EntryID) bool {
	if aPresent != bPresent {
		return false
	}

	return !aPresent || a == b
}

// MergeFolder applies MergeChildren to two folder manifests sharing a common
// ancestor base, returning the merged manifest body (without a stamped
// version/author — the caller, synchronization_step, stamps those).
func MergeFolder(base, local, remote FolderManifest) (FolderManifest, []ConflictError) {
	children, conflicts := MergeChildren(base.Children, local.Children, remote.Children)
	out := remote
	out.Children = children

	return out, conflicts
}

// MergeWorkspace is the WorkspaceManifest analogue of MergeFolder.
func MergeWorkspace(base, local, remote WorkspaceManifest) (WorkspaceManifest, []ConflictError) {
	children, conflicts := MergeChildren(base.Children, local.Children, remote.Children)
	out := remote
	out.Children = children

	return out, conflicts
}

// MergeUser implements the "User merge" rule of §4.6: the workspace list is
// merged by id with last-write-wins on name and role_cached_on, and the
// higher role wins when the server-reported role disagrees (the server is
// authoritative, but we may be racing a revocation so we never let a local
// stale view downgrade what the server says more than necessary -- we keep
// whichever role ranks higher, and a later sync will correct it once the
// race settles).
func MergeUser(local, remote UserManifest) UserManifest {
	byID := make(map[ids.EntryID]WorkspaceEntry, len(local.Workspaces)+len(remote.Workspaces))

	order := make([]ids.EntryID, 0, len(local.Workspaces)+len(remote.Workspaces))

	upsert := func(e WorkspaceEntry) {
		if _, ok := byID[e.ID]; !ok {
			order = append(order, e.ID)
		}

		byID[e.ID] = e
	}

	for _, e := range local.Workspaces {
		upsert(e)
	}

	for _, e := range remote.Workspaces {
		if existing, ok := byID[e.ID]; ok {
			merged := e
			if existing.RoleCachedOn.After(e.RoleCachedOn) {
				merged.Name = existing.Name
				merged.RoleCachedOn = existing.RoleCachedOn
			}

			merged.Role = existing.Role.Higher(e.Role)
			byID[e.ID] = merged
		} else {
			upsert(e)
		}
	}

	merged := remote
	merged.Workspaces = make([]WorkspaceEntry, 0, len(order))

	for _, id := range order {
		merged.Workspaces = append(merged.Workspaces, byID[id])
	}

	merged.LastProcessedMessage = maxU64(local.LastProcessedMessage, remote.LastProcessedMessage)

	return merged
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}

	return b
}
