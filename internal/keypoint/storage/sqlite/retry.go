package sqlite

import (
	"strings"
	"time"

	"github.com/banshee-data/keypoint.report/internal/timeutil"
)

const (
	busyMaxAttempts  = 5
	busyInitialDelay = 10 * time.Millisecond
)

// isSQLiteBusy reports whether err is SQLite lock contention.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn, retrying with exponential backoff while it fails
// with SQLITE_BUSY. Other errors are returned unchanged on first sight.
func retryOnBusy(clock timeutil.Clock, fn func() error) error {
	delay := busyInitialDelay
	var err error
	for attempt := 1; attempt <= busyMaxAttempts; attempt++ {
		if err = fn(); err == nil || !isSQLiteBusy(err) {
			return err
		}
		if attempt < busyMaxAttempts {
			clock.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
