package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

var leagueStart = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type scoreFixture struct {
	leagues   *fakeLeagues
	picks     *fakePicks
	markets   *fakeMarkets
	scores    *fakeScores
	snapshots *fakeSnapshots
	svc       *ScoreService
}

func newScoreFixture(prices fakePrices) *scoreFixture {
	f := &scoreFixture{
		leagues: newFakeLeagues(domain.League{
			ID:        "lg1",
			Cadence:   domain.CadenceWeekly,
			StartTime: ptr(leagueStart),
			Status:    domain.LeagueStatusActive,
		}),
		picks:     &fakePicks{},
		markets:   &fakeMarkets{resolutions: map[string]domain.MarketResolution{}},
		scores:    newFakeScores(),
		snapshots: newFakeSnapshots(),
	}
	var cache domain.PriceCache
	if prices != nil {
		cache = prices
	}
	f.svc = NewScoreService(f.leagues, f.picks, f.markets, f.scores, f.snapshots, cache, nil, discardLogger()).
		WithClock(func() time.Time { return leagueStart.Add(8 * 24 * time.Hour) })
	return f
}

func (f *scoreFixture) pick(user, market string, side domain.Side, price *float64) {
	f.picks.picks = append(f.picks.picks, domain.Pick{
		ID:          user + market + string(side),
		LeagueID:    "lg1",
		UserID:      user,
		MarketID:    market,
		Side:        side,
		MarketPrice: price,
	})
}

func (f *scoreFixture) resolve(market string, winner domain.Side) {
	f.markets.resolutions[market] = domain.MarketResolution{MarketID: market, WinningSide: ptr(winner)}
}

func TestComputeAndStoreNoPicksWritesNothing(t *testing.T) {
	f := newScoreFixture(nil)

	run, err := f.svc.ComputeAndStore(context.Background(), "lg1")
	require.NoError(t, err)
	assert.Empty(t, run.Scores)
	assert.Empty(t, run.Snapshots)
	assert.Zero(t, f.scores.upserts)
	assert.Empty(t, f.snapshots.rows)
}

func TestComputeAndStoreUnknownLeague(t *testing.T) {
	f := newScoreFixture(nil)
	_, err := f.svc.ComputeAndStore(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPickValues(t *testing.T) {
	tests := []struct {
		name        string
		side        domain.Side
		price       *float64
		winner      *domain.Side
		wantPoints  int64
		wantCorrect int
	}{
		{name: "side A live price", side: domain.SideA, price: ptr(0.8), wantPoints: 80},
		{name: "side B live price", side: domain.SideB, price: ptr(0.3), wantPoints: 70},
		{name: "resolved losing side", side: domain.SideA, price: ptr(0.9), winner: ptr(domain.SideB), wantPoints: 0},
		{name: "resolved winning side", side: domain.SideB, price: ptr(0.1), winner: ptr(domain.SideB), wantPoints: 100, wantCorrect: 1},
		{name: "unpriced", side: domain.SideA, wantPoints: 50},
		{name: "out of range price", side: domain.SideA, price: ptr(1.7), wantPoints: 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newScoreFixture(nil)
			f.pick("u1", "m1", tt.side, tt.price)
			if tt.winner != nil {
				f.resolve("m1", *tt.winner)
			}

			run, err := f.svc.ComputeAndStore(context.Background(), "lg1")
			require.NoError(t, err)
			require.Len(t, run.Scores, 1)
			assert.Equal(t, tt.wantPoints, run.Scores[0].Points)
			assert.Equal(t, tt.wantCorrect, run.Scores[0].CorrectPicks)
			assert.Equal(t, 1, run.Scores[0].TotalPicks)
		})
	}
}

func TestLiveCacheOverridesStoredPrice(t *testing.T) {
	f := newScoreFixture(fakePrices{"m1": 0.65})
	f.pick("u1", "m1", domain.SideA, ptr(0.2))

	run, err := f.svc.ComputeAndStore(context.Background(), "lg1")
	require.NoError(t, err)
	assert.Equal(t, int64(65), run.Scores[0].Points)
}

func TestRankingSingleWinnerAndStableTies(t *testing.T) {
	f := newScoreFixture(nil)
	// u1 and u2 tie on 60; u1 picked first so it ranks first.
	f.pick("u1", "m1", domain.SideA, ptr(0.6))
	f.pick("u2", "m2", domain.SideA, ptr(0.6))
	f.pick("u3", "m3", domain.SideA, ptr(0.2))

	run, err := f.svc.ComputeAndStore(context.Background(), "lg1")
	require.NoError(t, err)
	require.Len(t, run.Scores, 3)

	assert.Equal(t, "u1", run.Scores[0].UserID)
	assert.Equal(t, "u2", run.Scores[1].UserID)
	assert.Equal(t, "u3", run.Scores[2].UserID)

	winners := 0
	for i, s := range run.Scores {
		assert.Equal(t, i+1, s.Rank)
		if s.IsWinner {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.True(t, run.Scores[0].IsWinner)
}

func TestHigherPointsOutrankEarlierPicks(t *testing.T) {
	f := newScoreFixture(nil)
	f.pick("u1", "m1", domain.SideA, ptr(0.2))
	f.pick("u2", "m1", domain.SideB, ptr(0.2))

	run, err := f.svc.ComputeAndStore(context.Background(), "lg1")
	require.NoError(t, err)
	assert.Equal(t, "u2", run.Scores[0].UserID)
	assert.Equal(t, int64(80), run.Scores[0].Points)
	assert.True(t, run.Scores[0].IsWinner)
	assert.False(t, run.Scores[1].IsWinner)
}

func TestPointsAccumulateAcrossPicks(t *testing.T) {
	f := newScoreFixture(nil)
	f.pick("u1", "m1", domain.SideA, ptr(0.8))
	f.pick("u1", "m2", domain.SideB, ptr(0.3))
	f.pick("u1", "m3", domain.SideA, ptr(0.5))
	f.resolve("m3", domain.SideA)

	run, err := f.svc.ComputeAndStore(context.Background(), "lg1")
	require.NoError(t, err)
	s := run.Scores[0]
	assert.Equal(t, int64(250), s.Points)
	assert.Equal(t, 1, s.CorrectPicks)
	assert.Equal(t, 3, s.TotalPicks)

	snap := run.Snapshots[0]
	assert.Equal(t, 1, snap.PeriodIndex)
	assert.Equal(t, "100.0000", snap.PnL)
	assert.Equal(t, "250.0000", snap.PortfolioValue)
}

func TestComputeAndStoreIsIdempotent(t *testing.T) {
	f := newScoreFixture(nil)
	f.pick("u1", "m1", domain.SideA, ptr(0.7))
	f.pick("u2", "m2", domain.SideB, ptr(0.7))

	first, err := f.svc.ComputeAndStore(context.Background(), "lg1")
	require.NoError(t, err)
	second, err := f.svc.ComputeAndStore(context.Background(), "lg1")
	require.NoError(t, err)

	assert.Equal(t, first.Scores, second.Scores)
	assert.Len(t, f.snapshots.rows, 2)
	for _, user := range []string{"u1", "u2"} {
		snaps, err := f.svc.Snapshots(context.Background(), "lg1", user)
		require.NoError(t, err)
		assert.Len(t, snaps, 1)
	}
}

func TestScoringPreservesSettlementColumns(t *testing.T) {
	f := newScoreFixture(nil)
	f.pick("u1", "m1", domain.SideA, ptr(0.4))
	_, err := f.svc.ComputeAndStore(context.Background(), "lg1")
	require.NoError(t, err)

	settled := int64(40)
	status := domain.SettlementConfirmed
	require.NoError(t, f.scores.PatchSettlement(context.Background(), "lg1", "u1", domain.SettlementPatch{
		SettledPoints: &settled,
		Status:        &status,
	}))

	f.picks.picks[0].MarketPrice = ptr(0.9)
	_, err = f.svc.ComputeAndStore(context.Background(), "lg1")
	require.NoError(t, err)

	row := f.scores.get("lg1", "u1")
	assert.Equal(t, int64(90), row.Points)
	assert.Equal(t, int64(40), row.SettledPoints)
	assert.Equal(t, domain.SettlementConfirmed, row.SettlementStatus)
}

func TestLeaderboard(t *testing.T) {
	f := newScoreFixture(nil)
	f.pick("u1", "m1", domain.SideA, ptr(0.1))
	f.pick("u2", "m1", domain.SideB, ptr(0.1))
	_, err := f.svc.ComputeAndStore(context.Background(), "lg1")
	require.NoError(t, err)

	board, err := f.svc.Leaderboard(context.Background(), "lg1")
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "u2", board[0].UserID)

	_, err = f.svc.Leaderboard(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
