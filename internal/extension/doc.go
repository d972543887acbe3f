// Package extension provides the native function registry installed on every
// engine connection.
//
// This package manages:
//   - Descriptors for scalar and aggregate functions (name, arity, determinism)
//   - Marshaling between engine values and sqlval.Value at the call boundary
//   - Conversion of implementation errors and panics into SQL-level errors
//   - The built-in function set (hashing, UUIDs, JSON paths, compression,
//     REGEXP, password hashing)
//
// A Registry is built once at startup and frozen when the connection pool
// opens its first handle. It is immutable from then on and is read by every
// connection without locking.
//
// Usage:
//
//	reg := extension.NewDefaultRegistry()
//	if err := reg.Register(extension.Descriptor{
//	    Name:          "myhash",
//	    Arity:         1,
//	    Deterministic: true,
//	    Scalar:        myHash,
//	}); err != nil {
//	    return err
//	}
//	p, err := pool.Open(ctx, cfg, reg) // freezes reg
//
// Determinism:
//
// A function declared Deterministic may have its result reused by the engine
// within one statement and may be used in indexes and CHECK constraints.
// Declaring a non-deterministic function (uuid_v4, password_hash) as
// deterministic produces silently wrong results. The registry cannot detect
// the mistake.
package extension
