// Package sqlerr defines the engine's error taxonomy.
//
// Every error that leaves the engine is either a context error or an *Error
// carrying a Kind. Callers branch with errors.Is against the package
// sentinels:
//
//	_, err := eng.Execute(ctx, stmt, params)
//	switch {
//	case errors.Is(err, sqlerr.ErrConstraint):
//	    // schema rule broken, not retried
//	case errors.Is(err, sqlerr.ErrBusy):
//	    // contention outlived the retry budget
//	}
//
// Classify converts raw go-sqlite3 errors. Transient classes (Busy) are
// retried inside the executor before they are surfaced; everything else is
// returned unchanged with the statement and engine codes attached.
package sqlerr
