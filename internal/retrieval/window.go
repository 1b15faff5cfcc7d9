package retrieval

import (
	"fmt"
	"strings"
	"time"

	"github.com/starford/mnemo/internal/apperr"
)

// Named search windows.
const (
	WindowToday     = "today"
	WindowYesterday = "yesterday"
	WindowWeek      = "week"
	WindowMonth     = "month"
)

// ParseWindow resolves a named window relative to now, in now's location.
// Days start at local midnight; week and month are the trailing 7 and 30
// days. An empty name is an open window.
func ParseWindow(name string, now time.Time) (since, until time.Time, err error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return time.Time{}, time.Time{}, nil
	case WindowToday:
		return midnight, time.Time{}, nil
	case WindowYesterday:
		return midnight.AddDate(0, 0, -1), midnight, nil
	case WindowWeek:
		return now.AddDate(0, 0, -7), time.Time{}, nil
	case WindowMonth:
		return now.AddDate(0, 0, -30), time.Time{}, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("unknown window %q, want today, yesterday, week or month: %w", name, apperr.ErrInvalidInput)
}

// SetWindow narrows q to the named window. Bounds already set on q win.
func (q *Query) SetWindow(name string, now time.Time) error {
	since, until, err := ParseWindow(name, now)
	if err != nil {
		return err
	}
	if q.Since.IsZero() {
		q.Since = since
	}
	if q.Until.IsZero() {
		q.Until = until
	}
	return nil
}
