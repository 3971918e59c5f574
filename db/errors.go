package db

import (
	"strings"

	"github.com/teranos/linkaudit/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// The sql driver returns its own error values, so the message is checked too.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
