// Package pool owns the engine connections of one database file.
//
// This package manages:
//   - One writer Handle and a fixed set of reader Handles
//   - Engine pragmas, applied exactly once when a handle is created
//   - Installation of the extension registry on every connection
//   - Lease tokens that hand a handle to exactly one caller at a time
//   - Replacement of handles that observed a corrupt database image
//
// Invariants:
//   - At most one WriterLease exists at any time.
//   - At most Config.Readers ReaderLeases exist at any time, and a reader
//     handle is never shared by two leases.
//   - Reader handles are opened read-only (mode=ro, query_only).
//
// A Handle is not safe for concurrent use. Whoever holds its lease is the
// only goroutine allowed to touch it; the executor package holds the writer
// lease for its whole lifetime.
//
// Usage:
//
//	p, err := pool.Open(ctx, pool.Config{Path: "/var/lib/app/app.db", WALMode: true}, reg)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	lease, err := p.AcquireReader(ctx)
//	if err != nil {
//	    return err // errors.Is(err, sqlerr.ErrPoolExhausted) on timeout
//	}
//	defer lease.Release()
//
//	rs, err := lease.Handle().Query(ctx, "SELECT v FROM t WHERE id = ?", sqlval.Args(1))
package pool
