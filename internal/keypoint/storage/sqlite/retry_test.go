package sqlite

import (
	"errors"
	"testing"
	"time"

	"github.com/banshee-data/keypoint.report/internal/timeutil"
)

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "database is locked", err: errors.New("database is locked (5) (SQLITE_BUSY)"), expected: true},
		{name: "SQLITE_BUSY", err: errors.New("SQLITE_BUSY"), expected: true},
		{name: "other error", err: errors.New("no such table: keypoint_runs"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSQLiteBusy(tt.err); got != tt.expected {
				t.Errorf("isSQLiteBusy(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	busy := errors.New("database is locked (5) (SQLITE_BUSY)")

	t.Run("success after retry", func(t *testing.T) {
		clock := timeutil.NewMockClock(time.Unix(0, 0))
		calls := 0
		err := retryOnBusy(clock, func() error {
			calls++
			if calls < 3 {
				return busy
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Errorf("err=%v calls=%d, want nil and 3", err, calls)
		}
		sleeps := clock.Sleeps()
		if len(sleeps) != 2 || sleeps[0] != busyInitialDelay || sleeps[1] != 2*busyInitialDelay {
			t.Errorf("backoff = %v, want [%v %v]", sleeps, busyInitialDelay, 2*busyInitialDelay)
		}
	})

	t.Run("non-busy error fails immediately", func(t *testing.T) {
		clock := timeutil.NewMockClock(time.Unix(0, 0))
		calls := 0
		other := errors.New("constraint failed")
		err := retryOnBusy(clock, func() error {
			calls++
			return other
		})
		if err != other || calls != 1 {
			t.Errorf("err=%v calls=%d, want %v and 1", err, calls, other)
		}
	})

	t.Run("max attempts exceeded", func(t *testing.T) {
		clock := timeutil.NewMockClock(time.Unix(0, 0))
		calls := 0
		err := retryOnBusy(clock, func() error {
			calls++
			return busy
		})
		if err == nil {
			t.Error("expected error, got nil")
		}
		if calls != busyMaxAttempts {
			t.Errorf("expected %d calls, got %d", busyMaxAttempts, calls)
		}
		if n := len(clock.Sleeps()); n != busyMaxAttempts-1 {
			t.Errorf("expected %d sleeps, got %d", busyMaxAttempts-1, n)
		}
	})
}
