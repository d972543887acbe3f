package migrate

import (
	"context"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/nerrad567/litecore/internal/engine"
	"github.com/nerrad567/litecore/internal/executor"
	"github.com/nerrad567/litecore/internal/sqlval"
)

// LedgerTable is the table that records applied migrations. Change capture
// should exclude it.
const LedgerTable = "schema_migrations"

// Migration filename parsing constants.
const (
	// migrationFilenameParts is the expected number of parts in a migration filename.
	// Format: YYYYMMDD_HHMMSS_description.up.sql (3 parts when split by "_")
	migrationFilenameParts = 3

	// minVersionParts is the minimum parts needed to extract a version.
	minVersionParts = 2
)

// Migration represents a single database migration.
type Migration struct {
	// Version is the migration version (extracted from filename).
	// Format: YYYYMMDD_HHMMSS (e.g., 20260118_120000)
	Version string

	// Name is the human-readable migration name.
	Name string

	// UpSQL contains the SQL to apply this migration.
	UpSQL string

	// DownSQL contains the SQL to roll this migration back. Empty when the
	// migration has no down file.
	DownSQL string

	// Checksum is the hex BLAKE3 digest of UpSQL.
	Checksum string
}

// Record represents a row in the ledger table.
type Record struct {
	Version   string
	Name      string
	Checksum  string
	AppliedAt time.Time
}

// Runner applies the migrations found in one directory of a filesystem.
type Runner struct {
	eng    *engine.Engine
	fsys   fs.FS
	dir    string
	logger *slog.Logger
}

// New returns a Runner reading dir within fsys. A nil fsys means no
// migrations.
func New(eng *engine.Engine, fsys fs.FS, dir string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if dir == "" {
		dir = "."
	}
	return &Runner{
		eng:    eng,
		fsys:   fsys,
		dir:    dir,
		logger: logger.With("component", "migrate"),
	}
}

// Up applies all pending migrations in version order, each in its own
// transaction together with its ledger row. It returns how many were
// applied; on failure the error is an *engine.ScriptError naming the
// migration, and the ones before it stay committed.
func (r *Runner) Up(ctx context.Context) (int, error) {
	if err := r.ensureLedger(ctx); err != nil {
		return 0, err
	}
	migrations, err := r.load()
	if err != nil {
		return 0, fmt.Errorf("loading migrations: %w", err)
	}
	if len(migrations) == 0 {
		return 0, nil
	}

	applied, err := r.applied(ctx, r.eng.QueryWriter)
	if err != nil {
		return 0, err
	}
	pending, err := diff(migrations, applied)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	scripts := make([]engine.Script, len(pending))
	for i, m := range pending {
		scripts[i] = engine.Script{
			Name:  m.Version + "_" + m.Name,
			SQL:   m.UpSQL,
			After: recordApplied(m),
		}
	}
	n, err := r.eng.ApplyScripts(ctx, scripts)
	r.logger.Info("migrations applied", "applied", n, "pending", len(pending))
	return n, err
}

// Down rolls back the most recently applied migration. It is a no-op when
// nothing is applied.
func (r *Runner) Down(ctx context.Context) error {
	if err := r.ensureLedger(ctx); err != nil {
		return err
	}
	applied, err := r.applied(ctx, r.eng.QueryWriter)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1]

	migrations, err := r.load()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	var migration *Migration
	for i := range migrations {
		if migrations[i].Version == latest.Version {
			migration = &migrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("%w: %s", ErrMissing, latest.Version)
	}
	if migration.DownSQL == "" {
		return fmt.Errorf("%w: %s", ErrNoDownSQL, latest.Version)
	}

	err = r.eng.Transaction(ctx, func(ctx context.Context, tx *executor.Tx) error {
		if err := tx.ExecScript(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("executing down SQL: %w", err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM "+LedgerTable+" WHERE version = ?", sqlval.Args(migration.Version)); err != nil {
			return fmt.Errorf("removing migration record: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rolling back migration %s (%s): %w", migration.Version, migration.Name, err)
	}
	r.logger.Info("migration rolled back", "version", migration.Version, "name", migration.Name)
	return nil
}

// Status returns the applied and pending migrations. It reads the ledger
// from a reader handle.
func (r *Runner) Status(ctx context.Context) (applied []Record, pending []Migration, err error) {
	if err := r.ensureLedger(ctx); err != nil {
		return nil, nil, err
	}
	applied, err = r.applied(ctx, r.eng.Query)
	if err != nil {
		return nil, nil, err
	}
	migrations, err := r.load()
	if err != nil {
		return nil, nil, err
	}
	pending, err = diff(migrations, applied)
	if err != nil {
		return nil, nil, err
	}
	return applied, pending, nil
}

// ensureLedger creates the ledger table if it doesn't exist.
func (r *Runner) ensureLedger(ctx context.Context) error {
	err := r.eng.ExecScript(ctx, `
		CREATE TABLE IF NOT EXISTS `+LedgerTable+` (
			version TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			checksum TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}
	return nil
}

type queryFunc func(ctx context.Context, query string, params sqlval.Params) (*sqlval.ResultSet, error)

// applied returns the ledger rows in version order.
func (r *Runner) applied(ctx context.Context, query queryFunc) ([]Record, error) {
	rs, err := query(ctx, "SELECT version, name, checksum, applied_at FROM "+LedgerTable+" ORDER BY version", nil)
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}

	var records []Record
	for row := range rs.All() {
		var rec Record
		rec.Version, _ = row.At(0).Text()
		rec.Name, _ = row.At(1).Text()
		rec.Checksum, _ = row.At(2).Text()
		appliedAt, _ := row.At(3).Text()
		// Parse timestamp - ignore error as format is controlled by us
		rec.AppliedAt, _ = time.Parse(time.RFC3339, appliedAt) //nolint:errcheck // Format is controlled
		records = append(records, rec)
	}
	return records, nil
}

// recordApplied inserts m's ledger row inside the migration's transaction.
func recordApplied(m Migration) func(ctx context.Context, tx *executor.Tx) error {
	return func(ctx context.Context, tx *executor.Tx) error {
		_, err := tx.Exec(ctx,
			"INSERT INTO "+LedgerTable+" (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)",
			sqlval.Args(m.Version, m.Name, m.Checksum, time.Now().UTC().Format(time.RFC3339)),
		)
		if err != nil {
			return fmt.Errorf("recording migration: %w", err)
		}
		return nil
	}
}

// diff returns the migrations not in applied, checking that every applied
// migration still has the checksum it ran with.
func diff(migrations []Migration, applied []Record) ([]Migration, error) {
	checksums := make(map[string]string, len(applied))
	for _, rec := range applied {
		checksums[rec.Version] = rec.Checksum
	}

	var pending []Migration
	for _, m := range migrations {
		sum, ok := checksums[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if sum != m.Checksum {
			return nil, fmt.Errorf("%w: %s (%s)", ErrModified, m.Version, m.Name)
		}
	}
	return pending, nil
}

// load reads all migration files from the runner's directory.
func (r *Runner) load() ([]Migration, error) {
	if r.fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(r.fsys, r.dir)
	if err != nil {
		// Directory might not exist if no migrations
		return nil, nil
	}

	upFiles, downFiles, err := categoriseMigrationFiles(entries)
	if err != nil {
		return nil, err
	}

	migrations := make([]Migration, 0, len(upFiles))
	for version, upFile := range upFiles {
		m, err := r.buildMigration(version, upFile, downFiles[version])
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, m)
	}

	// Sort by version (oldest first)
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// categoriseMigrationFiles groups migration files by version and direction.
func categoriseMigrationFiles(entries []fs.DirEntry) (upFiles, downFiles map[string]string, err error) {
	upFiles = make(map[string]string)
	downFiles = make(map[string]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		version, isUp, ok := parseMigrationFilename(name)
		if !ok {
			continue
		}

		files := downFiles
		if isUp {
			files = upFiles
		}
		if prev, dup := files[version]; dup {
			return nil, nil, fmt.Errorf("%w: %s and %s", ErrDuplicateVersion, prev, name)
		}
		files[version] = name
	}
	return upFiles, downFiles, nil
}

// parseMigrationFilename extracts version and direction from a migration filename.
// Returns version, isUp (true for .up.sql, false for .down.sql), and ok (true if valid).
func parseMigrationFilename(name string) (version string, isUp bool, ok bool) {
	base, found := strings.CutSuffix(name, ".sql")
	if !found {
		return "", false, false
	}

	switch {
	case strings.HasSuffix(base, ".up"):
		isUp = true
		base = strings.TrimSuffix(base, ".up")
	case strings.HasSuffix(base, ".down"):
		base = strings.TrimSuffix(base, ".down")
	default:
		return "", false, false
	}

	// Extract version (YYYYMMDD_HHMMSS from YYYYMMDD_HHMMSS_description)
	parts := strings.SplitN(base, "_", migrationFilenameParts)
	if len(parts) < minVersionParts || !isDigits(parts[0], 8) || !isDigits(parts[1], 6) {
		return "", false, false
	}
	return parts[0] + "_" + parts[1], isUp, true
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// buildMigration creates a single Migration from its files.
func (r *Runner) buildMigration(version, upFile, downFile string) (Migration, error) {
	upSQL, err := fs.ReadFile(r.fsys, path.Join(r.dir, upFile))
	if err != nil {
		return Migration{}, fmt.Errorf("reading %s: %w", upFile, err)
	}
	sum := blake3.Sum256(upSQL)

	m := Migration{
		Version:  version,
		Name:     extractMigrationName(upFile),
		UpSQL:    string(upSQL),
		Checksum: hex.EncodeToString(sum[:]),
	}

	if downFile != "" {
		downSQL, err := fs.ReadFile(r.fsys, path.Join(r.dir, downFile))
		if err != nil {
			return Migration{}, fmt.Errorf("reading %s: %w", downFile, err)
		}
		m.DownSQL = string(downSQL)
	}
	return m, nil
}

// extractMigrationName extracts a human-readable name from the filename.
// Example: "20260118_120000_initial_schema.up.sql" -> "initial_schema"
func extractMigrationName(filename string) string {
	base := strings.TrimSuffix(filename, ".sql")
	base = strings.TrimSuffix(base, ".up")
	base = strings.TrimSuffix(base, ".down")

	parts := strings.SplitN(base, "_", migrationFilenameParts)
	if len(parts) >= migrationFilenameParts {
		return parts[minVersionParts] // The description part
	}
	return base
}
