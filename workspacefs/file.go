package workspacefs

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/scille/parsec-core/ids"
	"github.com/scille/parsec-core/manifest"
	"github.com/scille/parsec-core/storage"
)

// FileDescriptor is a handle over one file's chunk algebra (§4.5). All
// operations take the file's entry lock for the duration of the manifest
// mutation, including the actual bytes IO against local storage, per the
// concurrency note in §4.5.
type FileDescriptor struct {
	ws *WorkspaceFS
	id ids.EntryID
}

// Open resolves path to a FileDescriptor. The caller is responsible for
// having created the file first via FileCreate.
func (w *WorkspaceFS) Open(ctx context.Context, path string) (*FileDescriptor, error) {
	id, loc, err := w.resolve(ctx, path)
	if err != nil {
		return nil, err
	}

	if loc.Manifest.Kind() != manifest.KindFile {
		return nil, errors.Errorf("%s is not a file", path)
	}

	return &FileDescriptor{ws: w, id: id}, nil
}

// Read implements fd_read: computes the affected slot range, reads each
// intersecting chunk, concatenates, and returns the requested window.
// Reading past EOF returns a short read.
func (fd *FileDescriptor) Read(ctx context.Context, offset, size uint64) ([]byte, error) {
	unlock := fd.ws.Store.Lock(ctx, fd.id)
	defer unlock()

	loc, err := fd.ws.Store.GetManifest(fd.id)
	if err != nil {
		return nil, err
	}

	f := loc.File()

	if offset >= f.Size {
		return nil, nil
	}

	end := offset + size
	if end > f.Size {
		end = f.Size
	}

	out := make([]byte, 0, end-offset)

	firstSlot := manifest.Slot(offset, f.BlockSize)
	lastSlot := manifest.Slot(end-1, f.BlockSize)

	for slot := firstSlot; slot <= lastSlot; slot++ {
		slotStart, _ := manifest.SlotWindow(slot, f.Size, f.BlockSize)

		chunks := loc.Blocks[slot]
		for _, c := range chunks {
			// Intersect the chunk's window with [offset, end).
			start, stop := c.Start, c.Stop
			if start < offset {
				start = offset
			}

			if stop > end {
				stop = end
			}

			if start >= stop {
				continue
			}

			data, err := fd.ws.readChunk(ctx, c)
			if err != nil {
				return nil, err
			}

			out = append(out, data[start-c.Start:stop-c.Start]...)
		}

		_ = slotStart
	}

	return out, nil
}

func (w *WorkspaceFS) readChunk(ctx context.Context, c manifest.Chunk) ([]byte, error) {
	if c.Access != nil {
		data, state, err := w.Store.GetBlock(c.Access.ID)
		if err == nil {
			return data, nil
		}

		if !errors.Is(err, storage.ErrBlockMissing) {
			return nil, err
		}

		_ = state

		plaintext, rerr := w.Loader.LoadBlock(ctx, *c.Access)
		if rerr != nil {
			return nil, rerr
		}

		if werr := w.Store.SetCleanBlock(c.Access.ID, plaintext); werr != nil {
			return nil, werr
		}

		return plaintext, nil
	}

	return w.Store.GetChunk(c.ID)
}

// Write implements fd_write: creates a single new Chunk over
// [offset, offset+len(data)), then updates every overlapping slot's chunk
// list so the new chunk supersedes any older chunk on the overlap, splitting
// rather than dropping older chunks so each slot's union still equals its
// window. If the write extends EOF, size grows and new slots are appended.
func (fd *FileDescriptor) Write(ctx context.Context, offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	unlock := fd.ws.Store.Lock(ctx, fd.id)
	defer unlock()

	loc, err := fd.ws.Store.GetManifest(fd.id)
	if err != nil {
		return err
	}

	f := loc.File()

	stop := offset + uint64(len(data))

	newChunk := manifest.NewDirtyChunk(offset, stop)
	if err := fd.ws.Store.SetChunk(newChunk.ID, data); err != nil {
		return err
	}

	if stop > f.Size {
		f.Size = stop
	}

	slotCount := manifest.SlotCount(f.Size, f.BlockSize)
	for uint64(len(loc.Blocks)) < slotCount {
		loc.Blocks = append(loc.Blocks, nil)
	}

	firstSlot := manifest.Slot(offset, f.BlockSize)
	lastSlot := manifest.Slot(stop-1, f.BlockSize)

	for slot := firstSlot; slot <= lastSlot; slot++ {
		loc.Blocks[slot] = spliceChunk(loc.Blocks[slot], newChunk)
	}

	f.Updated = time.Now()
	loc.Manifest = f
	loc.NeedSync = true

	if err := fd.ws.Store.SetManifest(fd.id, loc); err != nil {
		return err
	}

	fd.ws.notifyUpdated(fd.id)

	return nil
}

// spliceChunk inserts newChunk into a slot's chunk list, splitting any
// existing chunk whose window overlaps [newChunk.Start, newChunk.Stop) so
// the slot's union of chunk windows is preserved with no gaps or overlaps.
func spliceChunk(existing []manifest.Chunk, newChunk manifest.Chunk) []manifest.Chunk {
	out := make([]manifest.Chunk, 0, len(existing)+1)

	for _, c := range existing {
		if c.Stop <= newChunk.Start || c.Start >= newChunk.Stop {
			out = append(out, c)
			continue
		}

		if c.Start < newChunk.Start {
			left := c
			left.Stop = newChunk.Start
			out = append(out, left)
		}

		if c.Stop > newChunk.Stop {
			right := c
			right.Start = newChunk.Stop
			out = append(out, right)
		}
	}

	out = append(out, newChunk)

	return sortChunks(out)
}

func sortChunks(chunks []manifest.Chunk) []manifest.Chunk {
	for i := 1; i < len(chunks); i++ {
		for j := i; j > 0 && chunks[j-1].Start > chunks[j].Start; j-- {
			chunks[j-1], chunks[j] = chunks[j], chunks[j-1]
		}
	}

	return chunks
}

// Resize implements fd_resize: truncates or extends the file. Extension
// inserts a zero-filled dirty chunk at the tail.
func (fd *FileDescriptor) Resize(ctx context.Context, length uint64) error {
	unlock := fd.ws.Store.Lock(ctx, fd.id)
	defer unlock()

	loc, err := fd.ws.Store.GetManifest(fd.id)
	if err != nil {
		return err
	}

	f := loc.File()

	switch {
	case length == f.Size:
		return nil

	case length < f.Size:
		slotCount := manifest.SlotCount(length, f.BlockSize)
		loc.Blocks = loc.Blocks[:slotCount]

		if slotCount > 0 {
			lastSlot := slotCount - 1
			loc.Blocks[lastSlot] = truncateChunks(loc.Blocks[lastSlot], length)
		}

		f.Size = length

	default:
		oldSize := f.Size
		f.Size = length

		slotCount := manifest.SlotCount(length, f.BlockSize)
		for uint64(len(loc.Blocks)) < slotCount {
			loc.Blocks = append(loc.Blocks, nil)
		}

		zeroChunk := manifest.NewDirtyChunk(oldSize, length)
		if err := fd.ws.Store.SetChunk(zeroChunk.ID, make([]byte, length-oldSize)); err != nil {
			return err
		}

		firstSlot := manifest.Slot(oldSize, f.BlockSize)
		lastSlot := slotCount - 1

		for slot := firstSlot; slot <= lastSlot; slot++ {
			loc.Blocks[slot] = spliceChunk(loc.Blocks[slot], zeroChunk)
		}
	}

	f.Updated = time.Now()
	loc.Manifest = f
	loc.NeedSync = true

	if err := fd.ws.Store.SetManifest(fd.id, loc); err != nil {
		return err
	}

	fd.ws.notifyUpdated(fd.id)

	return nil
}

func truncateChunks(chunks []manifest.Chunk, length uint64) []manifest.Chunk {
	out := make([]manifest.Chunk, 0, len(chunks))

	for _, c := range chunks {
		if c.Start >= length {
			continue
		}

		if c.Stop > length {
			c.Stop = length
		}

		out = append(out, c)
	}

	return out
}
