package storage

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotConfigured indicates the store has no database handle.
	ErrNotConfigured = errors.New("storage: database not configured")
	// ErrStorageUnavailable marks failures to open or query the store.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// SchemaError reports a migration that failed and was rolled back.
type SchemaError struct {
	Migration string
	Err       error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("apply migration %s: %v", e.Migration, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// undefined_table in postgres.
const pgUndefinedTable = "42P01"

func isUndefinedTable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUndefinedTable
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrError && strings.Contains(liteErr.Error(), "no such table")
	}
	return false
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

var pathPattern = regexp.MustCompile(`(?:[A-Za-z]:)?(?:[\\/][\w.~-]+){2,}`)

// Redact strips filesystem paths from a message so it can be shown to clients.
func Redact(msg string) string {
	return pathPattern.ReplaceAllString(msg, "<path>")
}

func redactErr(err error) string {
	return Redact(err.Error())
}
