package pool

import "errors"

// Domain errors for the pool package. Acquisition timeouts and use after
// Close are reported with the sqlerr taxonomy (sqlerr.ErrPoolExhausted,
// sqlerr.ErrClosed).
var (
	// ErrInvalidConfig is returned by Open when the configuration is invalid.
	ErrInvalidConfig = errors.New("pool: invalid configuration")

	// ErrNotEngineConn is returned by Handle.Raw when the underlying driver
	// connection is not a go-sqlite3 connection.
	ErrNotEngineConn = errors.New("pool: driver connection is not *sqlite3.SQLiteConn")
)
