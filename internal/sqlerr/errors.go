package sqlerr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/litecore/internal/sqlval"
)

// Kind is the error class callers branch on.
type Kind int

// Error classes.
const (
	KindUnknown Kind = iota
	KindPoolExhausted
	KindBusy
	KindConstraint
	KindSyntaxOrBinding
	KindExtension
	KindConflictExhausted
	KindNestedTransaction
	KindCorrupt
	KindClosed
)

// String returns the class name.
func (k Kind) String() string {
	switch k {
	case KindPoolExhausted:
		return "pool_exhausted"
	case KindBusy:
		return "busy"
	case KindConstraint:
		return "constraint_violation"
	case KindSyntaxOrBinding:
		return "syntax_or_binding"
	case KindExtension:
		return "extension_function"
	case KindConflictExhausted:
		return "conflict_exhausted"
	case KindNestedTransaction:
		return "nested_transaction"
	case KindCorrupt:
		return "corrupt"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per class. Use errors.Is to test an error's class:
//
//	if errors.Is(err, sqlerr.ErrBusy) {
//	    // transient contention survived the retry budget
//	}
var (
	// ErrPoolExhausted is returned when no handle became free before the
	// acquisition deadline. The caller may retry.
	ErrPoolExhausted = errors.New("sqlerr: pool exhausted")

	// ErrBusy is returned when the database stayed busy or locked after
	// every retry attempt.
	ErrBusy = errors.New("sqlerr: database busy")

	// ErrConstraint is returned when a statement violates a schema rule.
	ErrConstraint = errors.New("sqlerr: constraint violation")

	// ErrSyntaxOrBinding is returned for malformed statements and parameter
	// mismatches.
	ErrSyntaxOrBinding = errors.New("sqlerr: syntax or binding error")

	// ErrExtension is returned when a native extension function failed.
	ErrExtension = errors.New("sqlerr: extension function failed")

	// ErrConflictExhausted is returned when an optimistic transaction kept
	// conflicting past its retry budget.
	ErrConflictExhausted = errors.New("sqlerr: conflict retries exhausted")

	// ErrNestedTransaction is returned when a transaction is started while
	// one is already open on the writer.
	ErrNestedTransaction = errors.New("sqlerr: nested transaction")

	// ErrCorrupt is returned when the engine reports a damaged database
	// image. The handle that observed it is replaced.
	ErrCorrupt = errors.New("sqlerr: database corrupt")

	// ErrClosed is returned for operations on a closed engine component.
	ErrClosed = errors.New("sqlerr: closed")
)

// ExtensionMarker prefixes every error message raised by a native extension
// function, which is how Classify tells them apart from engine errors that
// share the generic SQLITE_ERROR code.
const ExtensionMarker = "extension function "

var sentinels = map[Kind]error{
	KindPoolExhausted:     ErrPoolExhausted,
	KindBusy:              ErrBusy,
	KindConstraint:        ErrConstraint,
	KindSyntaxOrBinding:   ErrSyntaxOrBinding,
	KindExtension:         ErrExtension,
	KindConflictExhausted: ErrConflictExhausted,
	KindNestedTransaction: ErrNestedTransaction,
	KindCorrupt:           ErrCorrupt,
	KindClosed:            ErrClosed,
}

// Error is a structured engine error.
type Error struct {
	Kind Kind

	// Op names the operation that failed (execute, query, begin, ...).
	Op string

	// Statement is the SQL text, when one was involved.
	Statement string

	// Code and ExtendedCode are the engine result codes, zero when the
	// error did not come from the engine.
	Code         int
	ExtendedCode int

	// Constraint identifies the violated constraint for KindConstraint,
	// e.g. "t.id" for a UNIQUE failure or "CHECK" when unnamed.
	Constraint string

	// Attempts is how many times the operation ran, when retried.
	Attempts int

	Err error
}

// Error formats the error with its class, operation and statement.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, " (code %d/%d)", e.Code, e.ExtendedCode)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Statement != "" {
		fmt.Fprintf(&b, " [%s]", abbreviate(e.Statement))
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's class.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.Kind]
	return ok && sentinel == target
}

// New builds a classified error that did not originate in the engine.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the class of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Classify converts an engine error into an *Error. Errors that are already
// classified, context errors and nil pass through unchanged.
func Classify(err error, op, statement string) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	out := &Error{Kind: KindUnknown, Op: op, Statement: statement, Err: err}

	if errors.Is(err, sqlval.ErrBinding) {
		out.Kind = KindSyntaxOrBinding
		return out
	}

	var engineErr sqlite3.Error
	if !errors.As(err, &engineErr) {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "not enough args"), strings.Contains(msg, "sql: expected"):
			out.Kind = KindSyntaxOrBinding
		case strings.Contains(msg, "sql: database is closed"), strings.Contains(msg, "sql: connection is already closed"):
			out.Kind = KindClosed
		}
		return out
	}

	out.Code = int(engineErr.Code)
	out.ExtendedCode = int(engineErr.ExtendedCode)
	msg := engineErr.Error()

	switch engineErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		out.Kind = KindBusy
	case sqlite3.ErrConstraint:
		out.Kind = KindConstraint
		out.Constraint = constraintName(msg)
	case sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
		out.Kind = KindCorrupt
	case sqlite3.ErrError, sqlite3.ErrRange, sqlite3.ErrMismatch, sqlite3.ErrMisuse, sqlite3.ErrTooBig:
		switch {
		case strings.Contains(msg, ExtensionMarker):
			out.Kind = KindExtension
		case strings.Contains(msg, "cannot start a transaction within a transaction"):
			out.Kind = KindNestedTransaction
		default:
			out.Kind = KindSyntaxOrBinding
		}
	}
	return out
}

// IsRetryable reports whether err is transient lock contention.
func IsRetryable(err error) bool {
	return KindOf(err) == KindBusy
}

// IsConflict reports whether err signals a write-write conflict: lock
// contention, or a UNIQUE / PRIMARY KEY violation used as an optimistic
// concurrency check.
func IsConflict(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindBusy:
		return true
	case KindConstraint:
		ext := sqlite3.ErrNoExtended(e.ExtendedCode)
		return ext == sqlite3.ErrConstraintUnique || ext == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// IsCorrupt reports whether err means the handle's database image is
// damaged.
func IsCorrupt(err error) bool {
	return KindOf(err) == KindCorrupt
}

// constraintName extracts the constraint from messages such as
// "UNIQUE constraint failed: t.id" or "CHECK constraint failed: positive".
func constraintName(msg string) string {
	const marker = "constraint failed"
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return ""
	}
	rest := strings.TrimSpace(msg[idx+len(marker):])
	rest = strings.TrimPrefix(rest, ":")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return strings.TrimSpace(msg[:idx])
	}
	return rest
}

func abbreviate(statement string) string {
	const maxLen = 120
	s := strings.Join(strings.Fields(statement), " ")
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
