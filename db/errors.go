package db

import (
	"strings"

	"github.com/teranos/scribe/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed
// database, typically while the dispatcher is shutting down.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is
// closed, either our sentinel or the raw database/sql message.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "sql: database is closed")
}
