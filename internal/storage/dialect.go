package storage

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// sqliteTimeLayout sorts lexically in time order, which segment queries rely on.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Dialect captures the SQL differences between supported engines.
type Dialect struct {
	Name         string
	Driver       string
	columnsQuery string
	numbered     bool
}

var (
	Postgres = Dialect{
		Name:         "postgres",
		Driver:       "postgres",
		columnsQuery: `SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position`,
		numbered:     true,
	}
	SQLite = Dialect{
		Name:         "sqlite",
		Driver:       "sqlite",
		columnsQuery: `SELECT name FROM pragma_table_info(?) ORDER BY cid`,
	}
)

// DialectByName resolves a configured driver name.
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case Postgres.Name:
		return Postgres, nil
	case SQLite.Name:
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported storage driver %q", name)
	}
}

// placeholder returns the bind marker for the n-th (1-based) argument.
func (d Dialect) placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// timeArg converts t into the driver representation of a timestamp column.
func (d Dialect) timeArg(t time.Time) any {
	if d.numbered {
		return t.UTC()
	}
	return t.UTC().Format(sqliteTimeLayout)
}

// parseTime reads a timestamp column scanned into any.
func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTimeString(t)
	case []byte:
		return parseTimeString(string(t))
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func parseTimeString(s string) (time.Time, error) {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// quoteIdent validates and double-quotes an identifier.
func quoteIdent(name string) (string, error) {
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return `"` + name + `"`, nil
}

// SchemaName derives the per-bot postgres schema.
func SchemaName(prefix, botID string) (string, error) {
	name := prefix + strings.ToLower(strings.ReplaceAll(botID, "-", "_"))
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("%w: schema %q", ErrInvalidIdentifier, name)
	}
	return name, nil
}
