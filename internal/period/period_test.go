package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

func TestIndex(t *testing.T) {
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		start   *time.Time
		cadence domain.Cadence
		asOf    time.Time
		want    int
	}{
		{"weekly at start", &start, domain.CadenceWeekly, start, 0},
		{"weekly after eight days", &start, domain.CadenceWeekly, start.Add(8 * day), 1},
		{"weekly just before boundary", &start, domain.CadenceWeekly, start.Add(7*day - time.Nanosecond), 0},
		{"weekly on boundary", &start, domain.CadenceWeekly, start.Add(7 * day), 1},
		{"custom behaves as daily", &start, domain.CadenceCustom, start.Add(2 * day), 2},
		{"daily", &start, domain.CadenceDaily, start.Add(36 * time.Hour), 1},
		{"unknown cadence is daily", &start, domain.Cadence("fortnightly"), start.Add(3 * day), 3},
		{"before start", &start, domain.CadenceDaily, start.Add(-time.Hour), 0},
		{"nil start", nil, domain.CadenceWeekly, start.Add(30 * day), 0},
		{"zero start", &time.Time{}, domain.CadenceDaily, start, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Index(tt.start, tt.cadence, tt.asOf))
		})
	}
}

func TestForLeague(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := domain.League{StartTime: &start, Cadence: domain.CadenceWeekly}
	assert.Equal(t, 2, ForLeague(l, start.Add(15*day)))
}

func TestWithinCap(t *testing.T) {
	assert.True(t, WithinCap(2, 3))
	assert.False(t, WithinCap(3, 3))
	assert.False(t, WithinCap(0, 0))
}
