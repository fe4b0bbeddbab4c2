package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/scille/parsec-core/ids"
)

// EntryLocker grants exclusive, per-entry access to a manifest and the
// block ids it references, as required by §4.1. Locks are reentrant within
// a single logical task and acquired in ascending id order whenever
// multiple entries must be locked together, to prevent deadlock (§4.1, and
// cross-folder renames in §4.4).
//
// "Task" here is not "goroutine": §5 models the core as a single-threaded
// event loop where one logical operation (a mountpoint call, a sync step)
// may re-enter its own locks synchronously. Callers carry task identity
// through a context value installed once per logical operation via
// WithTask.
type EntryLocker struct {
	mu    sync.Mutex
	locks map[ids.EntryID]*entryLock
}

type entryLock struct {
	mu    sync.Mutex
	owner *taskToken
	depth int
}

// taskToken is the unit of task identity: a unique pointer, compared by
// identity, never by value.
type taskToken struct{}

type taskKeyType struct{}

var taskKey = taskKeyType{}

// WithTask tags ctx with a fresh task identity. Call once per logical
// operation (not per goroutine) before taking any entry lock.
func WithTask(ctx context.Context) context.Context {
	return context.WithValue(ctx, taskKey, &taskToken{})
}

func taskOf(ctx context.Context) *taskToken {
	if v, ok := ctx.Value(taskKey).(*taskToken); ok && v != nil {
		return v
	}

	// No task installed: treat as its own unique, one-shot task so a
	// careless caller still gets correct (non-reentrant) locking instead
	// of silently sharing identity with unrelated callers.
	return &taskToken{}
}

// NewEntryLocker constructs an empty EntryLocker.
func NewEntryLocker() *EntryLocker {
	return &EntryLocker{locks: make(map[ids.EntryID]*entryLock)}
}

// Unlock releases a lock (or a set of locks) previously acquired by Lock or
// LockMany.
type Unlock func()

func (l *EntryLocker) entryFor(id ids.EntryID) *entryLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[id]
	if !ok {
		e = &entryLock{}
		l.locks[id] = e
	}

	return e
}

// Lock grants exclusive access to a single entry id, reentrant within the
// task carried by ctx.
func (l *EntryLocker) Lock(ctx context.Context, id ids.EntryID) Unlock {
	return l.lockOne(taskOf(ctx), id)
}

func (l *EntryLocker) lockOne(task *taskToken, id ids.EntryID) Unlock {
	e := l.entryFor(id)

	l.mu.Lock()
	reentrant := e.owner == task && e.depth > 0
	l.mu.Unlock()

	if !reentrant {
		e.mu.Lock()
	}

	l.mu.Lock()
	e.owner = task
	e.depth++
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		e.depth--
		last := e.depth == 0
		if last {
			e.owner = nil
		}
		l.mu.Unlock()

		if last {
			e.mu.Unlock()
		}
	}
}

// LockMany grants exclusive access to every id in ids, acquiring them in
// ascending id-string order regardless of the order they are passed in, so
// that two callers locking the same set of entries (e.g. a rename locking
// both the source and destination folders) can never deadlock against each
// other.
func (l *EntryLocker) LockMany(ctx context.Context, entryIDs []ids.EntryID) Unlock {
	task := taskOf(ctx)

	sorted := append([]ids.EntryID(nil), entryIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	unlocks := make([]Unlock, 0, len(sorted))

	for _, id := range sorted {
		unlocks = append(unlocks, l.lockOne(task, id))
	}

	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// Lock is a package-level convenience for a Store's embedded locker.
func (s *Store) Lock(ctx context.Context, id ids.EntryID) Unlock {
	return s.locker.Lock(ctx, id)
}

// LockMany is a package-level convenience for a Store's embedded locker.
func (s *Store) LockMany(ctx context.Context, entryIDs []ids.EntryID) Unlock {
	return s.locker.LockMany(ctx, entryIDs)
}
