package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrator applies the embedded .up.sql files of one dialect in lexical
// order, recording each applied file in schema_migrations.
type Migrator struct {
	db      *sql.DB
	dialect Dialect
	files   fs.FS
	log     *slog.Logger
}

// NewMigrator constructs a Migrator over the built-in migrations.
func NewMigrator(db *sql.DB, dialect Dialect, log *slog.Logger) *Migrator {
	if log == nil {
		log = slog.Default()
	}

	return &Migrator{
		db:      db,
		dialect: dialect,
		files:   migrationsFS,
		log:     log,
	}
}

// Apply runs every pending migration. Already applied files are skipped.
func (m *Migrator) Apply(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	root := path.Join("migrations", m.dialect.Name)
	names, err := ListMigrations(m.files, root)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	baseLog := m.log.With(slog.String("dialect", m.dialect.Name))
	if len(names) == 0 {
		baseLog.Info("no .up.sql migrations found")
		return nil
	}

	for _, name := range names {
		if err := m.applyFile(ctx, baseLog, root, name); err != nil {
			return err
		}
	}

	return nil
}

func (m *Migrator) applyFile(ctx context.Context, baseLog *slog.Logger, root, name string) error {
	scopedLog := baseLog.With(slog.String("file", name))

	var applied string
	err := m.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT name FROM schema_migrations WHERE name = %s`, m.dialect.placeholder(1)), name,
	).Scan(&applied)
	switch {
	case err == nil:
		scopedLog.Debug("migration already applied")
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check migration %q: %w", name, err)
	}

	data, err := fs.ReadFile(m.files, path.Join(root, name))
	if err != nil {
		return fmt.Errorf("read migration %q: %w", name, err)
	}

	statement := strings.TrimSpace(string(data))
	if len(statement) == 0 {
		scopedLog.Warn("migration is empty, skipping")
		return nil
	}

	scopedLog.Info("applying migration")

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction for migration %q: %w", name, err)
	}

	if _, execErr := tx.ExecContext(ctx, statement); execErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			scopedLog.Error("rollback error", "error", rbErr)
		}
		return fmt.Errorf("execute migration %q: %w", name, execErr)
	}

	if _, execErr := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO schema_migrations (name) VALUES (%s)`, m.dialect.placeholder(1)), name,
	); execErr != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %q: %w", name, execErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("commit migration %q: %w", name, commitErr)
	}

	return nil
}

func isUpMigration(name string) bool {
	return strings.HasSuffix(name, ".up.sql")
}

// ListMigrations returns all .up.sql files in root in lexical order.
func ListMigrations(files fs.FS, root string) ([]string, error) {
	entries, err := fs.ReadDir(files, root)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if isUpMigration(e.Name()) {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}
