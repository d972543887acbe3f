// Package migrate applies versioned SQL files to an engine and records them
// in a schema_migrations ledger.
//
// Files are named YYYYMMDD_HHMMSS_description.up.sql, with an optional
// matching .down.sql. Each pending migration runs in its own transaction
// together with its ledger row, so a failure leaves every earlier migration
// committed and re-running Up continues from the one that failed.
//
// The ledger stores a BLAKE3 checksum of each applied up file. Up refuses
// to run when an applied file has since been edited.
//
// Usage:
//
//	r := migrate.New(eng, migrations.FS, ".", logger)
//	if err := r.Up(ctx); err != nil {
//	    return err
//	}
package migrate
