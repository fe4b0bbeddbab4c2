package manifest

import (
	"fmt"

	"github.com/scille/parsec-core/ids"
)

// Chunk is a local-only span of a file's address space (§3). It may or may
// not currently map onto an uploaded block.
type Chunk struct {
	ID ids.ChunkID

	// Start/Stop delimit the logical window this chunk currently
	// contributes to its slot: RawOffset <= Start < Stop <=
	// RawOffset+RawSize.
	Start uint64
	Stop  uint64

	// RawOffset/RawSize describe the chunk's underlying raw data buffer
	// (in local storage), which may be larger than [Start, Stop) when the
	// chunk is a sub-window survivor of an overlapping write.
	RawOffset uint64
	RawSize   uint64

	// Access is set once the sync engine has uploaded the chunk's data as a
	// block; chunks produced by reshape are still dirty (Access nil).
	Access *BlockAccess
}

// Validate checks the chunk invariant raw_offset <= start < stop <=
// raw_offset + raw_size.
func (c Chunk) Validate() error {
	if c.Start >= c.Stop {
		return fmt.Errorf("chunk %v: start %d must be < stop %d", c.ID, c.Start, c.Stop)
	}

	if c.RawOffset > c.Start || c.Stop > c.RawOffset+c.RawSize {
		return fmt.Errorf("chunk %v: window [%d,%d) is not within raw span [%d,%d)",
			c.ID, c.Start, c.Stop, c.RawOffset, c.RawOffset+c.RawSize)
	}

	return nil
}

// IsBlock reports whether the chunk is a full, block-aligned clean block:
// Access is set and the chunk's window exactly matches the access's
// offset/size, left- and right-aligned.
func (c Chunk) IsBlock() bool {
	if c.Access == nil {
		return false
	}

	return c.Start == c.Access.Offset && c.Stop == c.Access.Offset+c.Access.Size
}

// NewDirtyChunk creates a chunk over [start, stop) backed by a fresh local
// chunk id, with no block access yet (fd_write's new-chunk path, §4.5).
func NewDirtyChunk(start, stop uint64) Chunk {
	return Chunk{
		ID:        ids.NewChunkID(),
		Start:     start,
		Stop:      stop,
		RawOffset: start,
		RawSize:   stop - start,
	}
}

// Slot returns which block slot index a byte offset belongs to under the
// given block size.
func Slot(offset, blockSize uint64) uint64 {
	return offset / blockSize
}

// SlotWindow returns the [start, stop) window covered by slot i of a file of
// the given size and block size (§3 LocalFileManifest invariant).
func SlotWindow(i, size, blockSize uint64) (start, stop uint64) {
	start = i * blockSize

	stop = start + blockSize
	if stop > size {
		stop = size
	}

	return start, stop
}

// SlotCount returns ⌈size/blockSize⌉, the number of slots a file of the
// given size spans.
func SlotCount(size, blockSize uint64) uint64 {
	if size == 0 {
		return 0
	}

	return (size + blockSize - 1) / blockSize
}
