package store

import (
	"fmt"
	"strings"
	"time"
)

// Dialect selects placeholder style and backend-specific SQL.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// rebind converts `?` placeholders to `$n` for postgres. Queries are
// written once in sqlite style.
func rebind(d Dialect, query string) string {
	if d == DialectSQLite {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Timestamps are stored as Unix milliseconds so deadline comparisons
// stay plain integer comparisons in both backends.
func toMs(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func toMsPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMs(*t)
}

func fromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromMsPtr(ms int64, valid bool) *time.Time {
	if !valid {
		return nil
	}
	t := fromMs(ms)
	return &t
}

// isUniqueViolation matches the duplicate-key error text of both
// backends ("UNIQUE constraint failed" for sqlite, "duplicate key value
// violates unique constraint" for lib/pq).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
