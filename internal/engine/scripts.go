package engine

import (
	"context"

	"github.com/nerrad567/litecore/internal/executor"
)

// Script is one schema change handed to ApplyScripts. The engine does not
// track which scripts have run; the migrate package keeps that ledger.
type Script struct {
	Name string
	SQL  string

	// After runs inside the script's transaction once SQL succeeded, for
	// callers that record the script in the same commit.
	After func(ctx context.Context, tx *executor.Tx) error
}

// ApplyScripts runs each script in its own writer transaction, in order.
// It stops at the first failure and returns a *ScriptError naming it;
// applied counts the scripts committed before that.
func (e *Engine) ApplyScripts(ctx context.Context, scripts []Script) (applied int, err error) {
	for i, s := range scripts {
		err := e.Transaction(ctx, func(ctx context.Context, tx *executor.Tx) error {
			if err := tx.ExecScript(ctx, s.SQL); err != nil {
				return err
			}
			if s.After != nil {
				return s.After(ctx, tx)
			}
			return nil
		})
		if err != nil {
			e.logger.Error("script failed", "index", i, "name", s.Name, "error", err)
			return applied, &ScriptError{Index: i, Name: s.Name, Err: err}
		}
		applied++
		e.logger.Info("script applied", "index", i, "name", s.Name)
	}
	return applied, nil
}
