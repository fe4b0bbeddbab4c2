package workspacefs

import (
	"context"
	"sort"
	"time"

	"github.com/scille/parsec-core/ids"
	"github.com/scille/parsec-core/manifest"
	"github.com/scille/parsec-core/remote"
)

// VersionInfo is one entry of a path's version history, per SPEC_FULL.md
// §13 "Workspace versioning helpers".
type VersionInfo struct {
	Version   uint64
	Author    ids.DeviceID
	Timestamp time.Time
	Size      uint64
}

// History is a read-only helper walking a path's past manifest versions
// through the timestamped Remote Loader projection (§4.2). It never writes
// anything, so it takes no entry lock: a version once uploaded is immutable.
type History struct {
	ws *WorkspaceFS
}

// NewHistory builds a History over ws.
func NewHistory(ws *WorkspaceFS) *History {
	return &History{ws: ws}
}

// At returns the manifest as it stood at the given timestamp.
func (h *History) At(ctx context.Context, path string, at time.Time) (manifest.Manifest, error) {
	id, _, err := h.ws.resolve(ctx, path)
	if err != nil {
		return nil, err
	}

	timestamped := remote.NewTimestamped(h.ws.Loader, at)

	rm, err := timestamped.LoadManifest(ctx, id)
	if err != nil {
		return nil, err
	}

	return rm.Manifest, nil
}

// Versions lists every uploaded version of path's manifest in ascending
// version order, walking vlob_read one version at a time starting from 1
// until the server reports the entry has no further versions.
func (h *History) Versions(ctx context.Context, path string) ([]VersionInfo, error) {
	id, _, err := h.ws.resolve(ctx, path)
	if err != nil {
		return nil, err
	}

	var out []VersionInfo

	for v := uint64(1); ; v++ {
		version := v

		rm, err := h.ws.Loader.LoadManifest(ctx, id, &version, nil)
		if err != nil {
			break
		}

		out = append(out, VersionInfo{
			Version:   rm.Version,
			Author:    rm.Author,
			Timestamp: rm.Timestamp,
			Size:      sizeOf(rm.Manifest),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })

	return out, nil
}

func sizeOf(m manifest.Manifest) uint64 {
	if f, ok := m.(manifest.FileManifest); ok {
		return f.Size
	}

	return 0
}
