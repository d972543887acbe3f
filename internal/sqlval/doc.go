// Package sqlval provides the tagged value model shared by the engine core.
//
// This package manages:
//   - Values in SQLite's five storage classes (NULL, INTEGER, REAL, TEXT, BLOB)
//   - Positional and named statement parameters
//   - Placeholder discovery, so parameter mismatches fail before execution
//   - Materialised, non-restartable result sets
//
// Usage:
//
//	params := sqlval.Args(42, "hello")
//	if err := sqlval.Placeholders(stmt).Check(params); err != nil {
//	    return err // wraps sqlval.ErrBinding
//	}
//
//	rs, err := sqlval.ScanRows(rows)
//	for row := range rs.All() {
//	    v, _ := row.Get("id")
//	}
package sqlval
