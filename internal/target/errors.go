package target

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"
)

// TargetNotReadyError is returned when the destination table does not exist
// and the job is not allowed to create it.
type TargetNotReadyError struct {
	Schema string
	Table  string
}

func (e *TargetNotReadyError) Error() string {
	return fmt.Sprintf("target table %s.%s does not exist and create_table is disabled", e.Schema, e.Table)
}

// MissingConflictColumnError is returned when an upsert's conflict column is
// absent from the columns observed in the fetched batch.
type MissingConflictColumnError struct {
	Column string
}

func (e *MissingConflictColumnError) Error() string {
	return fmt.Sprintf("conflict column %q not present in fetched records", e.Column)
}

// transientMarkers covers the socket-level failures worth retrying against a
// fresh connection.
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"unexpected eof",
	"connection already closed",
	"bad connection",
	"tls handshake",
	"server closed the connection",
}

// IsTransient reports whether err looks like a recoverable connectivity
// failure rather than a logical SQL error.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08: connection exceptions. 57P0x: server shutdown/crash.
		if strings.HasPrefix(string(pqErr.Code), "08") {
			return true
		}
		switch pqErr.Code {
		case "57P01", "57P02", "57P03":
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
