package pool

import "sync"

// lease is a token for one slot of the pool's handle table. The handle
// holds no reference back to the pool; only the token does.
type lease struct {
	pool   *Pool
	slot   int
	handle *Handle
	once   sync.Once
}

// Handle returns the leased handle. It must not be used after Release.
func (l *lease) Handle() *Handle { return l.handle }

// Release returns the handle to the pool. Safe to call more than once.
func (l *lease) Release() {
	l.once.Do(func() {
		l.pool.checkin(l.slot, l.handle)
	})
}

// Discard marks the handle broken so that Release closes it and opens a
// replacement, then releases the lease.
func (l *lease) Discard() {
	l.handle.broken.Store(true)
	l.Release()
}

// WriterLease grants exclusive use of the writer handle. At most one exists
// at a time.
type WriterLease struct {
	lease
}

// ReaderLease grants use of one reader handle.
type ReaderLease struct {
	lease
}

// Slot returns the reader slot index, in [0, Readers).
func (l *ReaderLease) Slot() int { return l.slot - 1 }
