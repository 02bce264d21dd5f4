package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	apperrors "github.com/Proton-105/flowbot/internal/errors"
	"github.com/Proton-105/flowbot/pkg/config"
)

// Open connects the durable store of one bot, creating its postgres schema
// or sqlite file when needed, and applies migrations.
func Open(ctx context.Context, cfg config.StorageConfig, botID string, log *slog.Logger) (*SQLStore, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("bot_id", botID), slog.String("driver", cfg.Driver))

	dialect, err := DialectByName(cfg.Driver)
	if err != nil {
		return nil, apperrors.NewFatalStartupError(botID, err)
	}

	var db *sql.DB
	switch dialect.Name {
	case Postgres.Name:
		db, err = openPostgres(ctx, cfg, botID)
	default:
		db, err = openSQLite(cfg, botID)
	}
	if err != nil {
		return nil, apperrors.NewFatalStartupError(botID, err)
	}

	if err := apperrors.WithRetry(ctx, func() error {
		if pingErr := db.PingContext(ctx); pingErr != nil {
			return apperrors.NewStorageError("ping", pingErr)
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, apperrors.NewFatalStartupError(botID, err)
	}

	if err := NewMigrator(db, dialect, log).Apply(ctx); err != nil {
		_ = db.Close()
		return nil, apperrors.NewFatalStartupError(botID, err)
	}

	log.Info("storage opened")
	return NewSQLStore(db, dialect, log), nil
}

func openPostgres(ctx context.Context, cfg config.StorageConfig, botID string) (*sql.DB, error) {
	schema, err := SchemaName(cfg.SchemaPrefix, botID)
	if err != nil {
		return nil, err
	}

	admin, err := sql.Open(Postgres.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	_, err = admin.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(schema))
	_ = admin.Close()
	if err != nil {
		return nil, fmt.Errorf("create schema %s: %w", schema, err)
	}

	dsn, err := withSearchPath(cfg.DSN, schema)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(Postgres.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return db, nil
}

// withSearchPath pins every pooled connection to the bot schema. lib/pq
// forwards unknown connection parameters to the server as run-time settings.
func withSearchPath(dsn, schema string) (string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse dsn: %w", err)
		}
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	return strings.TrimSpace(dsn + " search_path=" + schema), nil
}

func openSQLite(cfg config.StorageConfig, botID string) (*sql.DB, error) {
	if _, err := quoteIdent(strings.ReplaceAll(botID, "-", "_")); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.SQLiteDir, 0o750); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}

	file := filepath.Join(cfg.SQLiteDir, botID+".db")
	db, err := sql.Open(SQLite.Driver, SQLiteDSN(file))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", file, err)
	}
	// sqlite serializes writers.
	db.SetMaxOpenConns(1)
	return db, nil
}

// SQLiteDSN builds a modernc.org/sqlite DSN with the pragmas the store needs.
func SQLiteDSN(file string) string {
	return "file:" + file + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}
