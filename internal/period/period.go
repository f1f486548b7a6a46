// Package period buckets a league's lifetime into integer periods.
package period

import (
	"time"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

const day = 24 * time.Hour

// Length returns the period length for a cadence. Only weekly leagues get a
// 7-day period; every other cadence, custom included, is daily.
func Length(c domain.Cadence) time.Duration {
	if c == domain.CadenceWeekly {
		return 7 * day
	}
	return day
}

// Index returns the zero-based period containing asOf. A missing start time
// or an asOf before the start both yield 0.
func Index(start *time.Time, c domain.Cadence, asOf time.Time) int {
	if start == nil || start.IsZero() || asOf.Before(*start) {
		return 0
	}
	return int(asOf.Sub(*start) / Length(c))
}

// ForLeague is Index applied to a league's schedule.
func ForLeague(l domain.League, asOf time.Time) int {
	return Index(l.StartTime, l.Cadence, asOf)
}

// WithinCap reports whether another action is allowed when count actions
// have already been taken against a per-period max.
func WithinCap(count, max int) bool {
	return count < max
}
