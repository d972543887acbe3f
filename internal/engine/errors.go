package engine

import (
	"errors"
	"fmt"
)

// ErrScriptFailed is matched by every *ScriptError.
var ErrScriptFailed = errors.New("engine: script failed")

// ScriptError reports which script of an ApplyScripts batch failed. The
// scripts before it are committed; it and the ones after are not.
type ScriptError struct {
	Index int
	Name  string
	Err   error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("applying script %d (%s): %v", e.Index, e.Name, e.Err)
}

// Unwrap returns the script's own error and ErrScriptFailed.
func (e *ScriptError) Unwrap() []error { return []error{ErrScriptFailed, e.Err} }
