package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Proton-105/flowbot/internal/domain"
	apperrors "github.com/Proton-105/flowbot/internal/errors"
)

// reserved columns of dynamic tables are maintained by the store itself.
var reserved = map[string]struct{}{
	"id":         {},
	"user_id":    {},
	"created_at": {},
	"updated_at": {},
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	schema map[string]map[string]string
}

// NewSQLStore wraps an open database. The users table must already exist.
func NewSQLStore(db *sql.DB, dialect Dialect, log *slog.Logger) *SQLStore {
	if log == nil {
		log = slog.Default()
	}

	return &SQLStore{
		db:      db,
		dialect: dialect,
		log:     log,
		now:     time.Now,
		schema:  make(map[string]map[string]string),
	}
}

// UpsertUser inserts the profile or refreshes it, keeping first_seen.
func (s *SQLStore) UpsertUser(ctx context.Context, p domain.UserProfile) error {
	now := s.now()
	firstSeen := p.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = now
	}
	lastActive := p.LastActive
	if lastActive.IsZero() {
		lastActive = now
	}

	query := fmt.Sprintf(`
		INSERT INTO users (user_id, username, first_name, last_name, language_code, is_bot, first_seen, last_active)
		VALUES (%s)
		ON CONFLICT (user_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			language_code = excluded.language_code,
			is_bot = excluded.is_bot,
			last_active = excluded.last_active`, s.placeholders(1, 8))

	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		nullString(p.Username),
		nullString(p.FirstName),
		nullString(p.LastName),
		nullString(p.Locale),
		p.IsBot,
		s.dialect.timeArg(firstSeen),
		s.dialect.timeArg(lastActive),
	)
	if err != nil {
		return apperrors.NewStorageError("upsert user", err)
	}
	return nil
}

// User loads one profile; sql.ErrNoRows is wrapped when absent.
func (s *SQLStore) User(ctx context.Context, userID int64) (*domain.UserProfile, error) {
	query := fmt.Sprintf(`
		SELECT user_id, username, first_name, last_name, language_code, is_bot, first_seen, last_active
		FROM users
		WHERE user_id = %s`, s.dialect.placeholder(1))

	var (
		p                                   domain.UserProfile
		username, firstName, lastName, lang sql.NullString
		firstSeen, lastActive               any
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&p.ID, &username, &firstName, &lastName, &lang, &p.IsBot, &firstSeen, &lastActive,
	)
	if err != nil {
		return nil, fmt.Errorf("select user by id: %w", err)
	}

	p.Username, p.FirstName, p.LastName, p.Locale = username.String, firstName.String, lastName.String, lang.String
	if p.FirstSeen, err = parseTime(firstSeen); err != nil {
		return nil, err
	}
	if p.LastActive, err = parseTime(lastActive); err != nil {
		return nil, err
	}
	return &p, nil
}

// AppendRecord inserts a new row for userID.
func (s *SQLStore) AppendRecord(ctx context.Context, table string, userID int64, fields map[string]string) error {
	cols, err := s.writableColumns(ctx, table, fields)
	if err != nil {
		return err
	}

	if _, err := s.insert(ctx, s.db, table, userID, cols); err != nil {
		return apperrors.NewStorageError("append record", err)
	}
	return nil
}

// UpdateLastRecord overwrites the most recent row of userID. When the user
// has no row yet one is appended.
func (s *SQLStore) UpdateLastRecord(ctx context.Context, table string, userID int64, fields map[string]string) error {
	cols, err := s.writableColumns(ctx, table, fields)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageError("update last record", err)
	}
	defer func() { _ = tx.Rollback() }()

	quoted, _ := quoteIdent(table)
	var lastID int64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE user_id = %s ORDER BY id DESC LIMIT 1`, quoted, s.dialect.placeholder(1)),
		userID,
	).Scan(&lastID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.insert(ctx, tx, table, userID, cols); err != nil {
			return apperrors.NewStorageError("update last record", err)
		}
	case err != nil:
		return apperrors.NewStorageError("update last record", err)
	default:
		sets := make([]string, 0, len(cols)+1)
		args := make([]any, 0, len(cols)+2)
		for _, c := range cols {
			q, _ := quoteIdent(c.name)
			args = append(args, c.value)
			sets = append(sets, fmt.Sprintf("%s = %s", q, s.dialect.placeholder(len(args))))
		}
		if stamp, ok := s.catalogColumn(table, "updated_at"); ok {
			q, _ := quoteIdent(stamp)
			args = append(args, s.dialect.timeArg(s.now()))
			sets = append(sets, fmt.Sprintf("%s = %s", q, s.dialect.placeholder(len(args))))
		}
		args = append(args, lastID)
		query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = %s`, quoted, strings.Join(sets, ", "), s.dialect.placeholder(len(args)))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return apperrors.NewStorageError("update last record", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageError("update last record", err)
	}
	return nil
}

// Query returns rows of q.UserID, newest first, rendering NULL as "".
func (s *SQLStore) Query(ctx context.Context, q Query) ([]domain.Row, error) {
	if len(q.Columns) == 0 {
		return nil, validationError("query", fmt.Errorf("%w: no columns requested", ErrUnknownColumn))
	}
	cols, err := s.resolveColumns(ctx, q.Table, q.Columns...)
	if err != nil {
		return nil, err
	}
	var filter string
	if q.FilterColumn != "" {
		resolved, err := s.resolveColumns(ctx, q.Table, q.FilterColumn)
		if err != nil {
			return nil, err
		}
		filter = resolved[0]
	}

	quotedCols := make([]string, len(cols))
	for i, c := range cols {
		quotedCols[i], _ = quoteIdent(c)
	}
	table, _ := quoteIdent(q.Table)

	args := []any{q.UserID}
	where := "user_id = " + s.dialect.placeholder(1)
	if filter != "" {
		fc, _ := quoteIdent(filter)
		args = append(args, q.FilterValue)
		where += fmt.Sprintf(" AND %s = %s", fc, s.dialect.placeholder(len(args)))
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY id DESC`, strings.Join(quotedCols, ", "), table, where)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += " LIMIT " + s.dialect.placeholder(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStorageError("query records", err)
	}
	defer rows.Close()

	var out []domain.Row
	for rows.Next() {
		values := make([]sql.NullString, len(q.Columns))
		dest := make([]any, len(values))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, apperrors.NewStorageError("scan records", err)
		}

		row := make(domain.Row, len(values))
		for i, v := range values {
			row[i] = v.String
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("query records", err)
	}
	return out, nil
}

// QuerySegment lists user ids in ascending order. A user last active exactly
// ActivityWindow before now counts as inactive.
func (s *SQLStore) QuerySegment(ctx context.Context, segment domain.Segment, now time.Time) ([]int64, error) {
	cutoff := s.dialect.timeArg(now.Add(-domain.ActivityWindow))

	var (
		query string
		args  []any
	)
	switch segment {
	case domain.SegmentAll, "":
		query = `SELECT user_id FROM users ORDER BY user_id`
	case domain.SegmentActive:
		query = fmt.Sprintf(`SELECT user_id FROM users WHERE last_active > %s ORDER BY user_id`, s.dialect.placeholder(1))
		args = append(args, cutoff)
	case domain.SegmentInactive:
		query = fmt.Sprintf(`SELECT user_id FROM users WHERE last_active <= %s ORDER BY user_id`, s.dialect.placeholder(1))
		args = append(args, cutoff)
	default:
		return nil, validationError("query segment", fmt.Errorf("unknown segment %q", segment))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStorageError("query segment", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewStorageError("scan segment", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("query segment", err)
	}
	return ids, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.NewStorageError("ping", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// column is a field resolved to the spelling the database catalog uses.
type column struct {
	name  string
	value string
}

func (s *SQLStore) insert(ctx context.Context, db execer, table string, userID int64, cols []column) (sql.Result, error) {
	quoted, _ := quoteIdent(table)
	userCol, _ := s.catalogColumn(table, "user_id")
	q, _ := quoteIdent(userCol)
	names := []string{q}
	args := []any{userID}

	for _, c := range cols {
		q, _ := quoteIdent(c.name)
		names = append(names, q)
		args = append(args, c.value)
	}

	now := s.dialect.timeArg(s.now())
	for _, stamp := range []string{"created_at", "updated_at"} {
		if name, ok := s.catalogColumn(table, stamp); ok {
			q, _ := quoteIdent(name)
			names = append(names, q)
			args = append(args, now)
		}
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, quoted, strings.Join(names, ", "), s.placeholders(1, len(args)))
	return db.ExecContext(ctx, query, args...)
}

// writableColumns validates fields against the table schema and returns them
// under their catalog spelling, ordered by field name.
func (s *SQLStore) writableColumns(ctx context.Context, table string, fields map[string]string) ([]column, error) {
	if len(fields) == 0 {
		return nil, validationError("write record", fmt.Errorf("%w: no fields", ErrUnknownColumn))
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if _, ok := reserved[strings.ToLower(k)]; ok {
			return nil, validationError("write record", fmt.Errorf("%w: %q is maintained by the store", ErrUnknownColumn, k))
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	resolved, err := s.resolveColumns(ctx, table, append([]string{"id", "user_id"}, keys...)...)
	if err != nil {
		return nil, err
	}

	cols := make([]column, 0, len(keys))
	seen := make(map[string]string, len(keys))
	for i, k := range keys {
		name := resolved[i+2]
		if prev, ok := seen[name]; ok {
			return nil, validationError("write record", fmt.Errorf("%w: %q and %q both name %s.%s", ErrUnknownColumn, prev, k, table, name))
		}
		seen[name] = k
		cols = append(cols, column{name: name, value: fields[k]})
	}
	return cols, nil
}

// resolveColumns matches names case-insensitively against the table schema
// and returns the catalog spelling of each, reloading the schema once when a
// name is missing in case the table was altered since it was cached.
func (s *SQLStore) resolveColumns(ctx context.Context, table string, names ...string) ([]string, error) {
	if _, err := quoteIdent(table); err != nil {
		return nil, validationError("resolve table", err)
	}
	for _, n := range names {
		if _, err := quoteIdent(n); err != nil {
			return nil, validationError("resolve column", err)
		}
	}

	for attempt := 0; ; attempt++ {
		cols, err := s.columns(ctx, table, attempt > 0)
		if err != nil {
			return nil, err
		}

		out := make([]string, 0, len(names))
		missing := ""
		for _, n := range names {
			name, ok := cols[strings.ToLower(n)]
			if !ok {
				missing = n
				break
			}
			out = append(out, name)
		}
		if missing == "" {
			return out, nil
		}
		if attempt == 1 {
			return nil, validationError("resolve column", fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, missing))
		}
	}
}

// columns maps lowercased column names to their catalog spelling.
func (s *SQLStore) columns(ctx context.Context, table string, reload bool) (map[string]string, error) {
	key := strings.ToLower(table)
	if !reload {
		s.mu.RLock()
		cols, ok := s.schema[key]
		s.mu.RUnlock()
		if ok {
			return cols, nil
		}
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.columnsQuery, table)
	if err != nil {
		return nil, apperrors.NewStorageError("introspect table", err)
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.NewStorageError("introspect table", err)
		}
		cols[strings.ToLower(name)] = name
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("introspect table", err)
	}
	if len(cols) == 0 {
		return nil, validationError("resolve table", fmt.Errorf("%w: %s", ErrUnknownTable, table))
	}

	s.mu.Lock()
	s.schema[key] = cols
	s.mu.Unlock()
	return cols, nil
}

// catalogColumn looks col up in the cached schema of table.
func (s *SQLStore) catalogColumn(table, col string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.schema[strings.ToLower(table)][strings.ToLower(col)]
	return name, ok
}

func (s *SQLStore) placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.dialect.placeholder(from + i)
	}
	return strings.Join(parts, ", ")
}

// validationError marks schema mismatches as storage errors that retrying
// cannot fix.
func validationError(op string, err error) error {
	appErr := apperrors.NewStorageError(op, err)
	appErr.Retryable = false
	appErr.Severity = apperrors.SeverityMedium
	return appErr
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
