package extension

import (
	"errors"

	"github.com/nerrad567/litecore/internal/sqlerr"
)

// Registry errors.
var (
	// ErrFrozen is returned by Register once the registry has been handed to
	// a pool.
	ErrFrozen = errors.New("extension: registry is frozen")

	// ErrDuplicate is returned when a function with the same name and arity
	// is already registered. Names compare case-insensitively.
	ErrDuplicate = errors.New("extension: duplicate function")

	// ErrInvalidDescriptor is returned for malformed descriptors.
	ErrInvalidDescriptor = errors.New("extension: invalid descriptor")

	// ErrUnknownFunction is returned by Call for a name and arity that is not
	// registered.
	ErrUnknownFunction = errors.New("extension: unknown function")
)

// FunctionError is an error raised by a function implementation. Its message
// starts with sqlerr.ExtensionMarker so the engine's copy of it classifies as
// sqlerr.ErrExtension.
type FunctionError struct {
	Name string
	Err  error
}

// Error returns "extension function <name>: <cause>".
func (e *FunctionError) Error() string {
	return sqlerr.ExtensionMarker + e.Name + ": " + e.Err.Error()
}

// Unwrap returns the implementation's error.
func (e *FunctionError) Unwrap() error { return e.Err }
