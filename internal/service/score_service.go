package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
	"github.com/alanyoungcy/fantasymarket/internal/metrics"
	"github.com/alanyoungcy/fantasymarket/internal/period"
)

// neutralValue is the worth of an unresolved pick with no usable price.
const neutralValue = 0.5

var hundred = decimal.NewFromInt(100)

// ScoreRun is the output of one aggregation pass.
type ScoreRun struct {
	LeagueID    string                    `json:"leagueId"`
	PeriodIndex int                       `json:"periodIndex"`
	Scores      []domain.ScorePointsPatch `json:"scores"`
	Snapshots   []domain.ScoreSnapshot    `json:"snapshots"`
}

// ScoreService turns a league's picks into ranked scores and per-period
// snapshots.
type ScoreService struct {
	leagues   domain.LeagueStore
	picks     domain.PickStore
	markets   domain.MarketStore
	scores    domain.ScoreStore
	snapshots domain.SnapshotStore
	prices    domain.PriceCache
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *slog.Logger
}

// NewScoreService creates a ScoreService. prices may be nil, in which case
// only prices joined onto the picks are used.
func NewScoreService(
	leagues domain.LeagueStore,
	picks domain.PickStore,
	markets domain.MarketStore,
	scores domain.ScoreStore,
	snapshots domain.SnapshotStore,
	prices domain.PriceCache,
	m *metrics.Metrics,
	logger *slog.Logger,
) *ScoreService {
	return &ScoreService{
		leagues:   leagues,
		picks:     picks,
		markets:   markets,
		scores:    scores,
		snapshots: snapshots,
		prices:    prices,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// WithClock overrides the time source used to key snapshots.
func (s *ScoreService) WithClock(now func() time.Time) *ScoreService {
	s.now = now
	return s
}

type userTally struct {
	userID  string
	sum     decimal.Decimal
	correct int
	total   int
}

// ComputeAndStore scores every pick in the league and upserts the score and
// snapshot rows. A league without picks produces an empty run and writes
// nothing.
func (s *ScoreService) ComputeAndStore(ctx context.Context, leagueID string) (run ScoreRun, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveScoring(time.Since(start), err) }()

	league, err := s.leagues.GetByID(ctx, leagueID)
	if err != nil {
		return ScoreRun{}, fmt.Errorf("score_service: get league %s: %w", leagueID, err)
	}

	picks, err := s.picks.ListByLeague(ctx, leagueID)
	if err != nil {
		return ScoreRun{}, fmt.Errorf("score_service: list picks %s: %w", leagueID, err)
	}
	now := s.now()
	run = ScoreRun{LeagueID: leagueID, PeriodIndex: period.ForLeague(league, now)}
	if len(picks) == 0 {
		return run, nil
	}

	marketIDs := uniqueMarkets(picks)
	resolutions, err := s.markets.ListResolutions(ctx, marketIDs)
	if err != nil {
		return ScoreRun{}, fmt.Errorf("score_service: list resolutions %s: %w", leagueID, err)
	}
	live := s.livePrices(ctx, marketIDs)

	// Users keep first-seen order so that the stable sort below breaks ties
	// by pick creation order.
	var order []*userTally
	byUser := make(map[string]*userTally)
	for _, p := range picks {
		t, ok := byUser[p.UserID]
		if !ok {
			t = &userTally{userID: p.UserID}
			byUser[p.UserID] = t
			order = append(order, t)
		}
		v, correct := pickValue(p, resolutions, live)
		t.sum = t.sum.Add(decimal.NewFromFloat(v))
		t.total++
		if correct {
			t.correct++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return points(order[i].sum) > points(order[j].sum)
	})

	run.Scores = make([]domain.ScorePointsPatch, 0, len(order))
	run.Snapshots = make([]domain.ScoreSnapshot, 0, len(order))
	for i, t := range order {
		pts := points(t.sum)
		run.Scores = append(run.Scores, domain.ScorePointsPatch{
			LeagueID:     leagueID,
			UserID:       t.userID,
			Points:       pts,
			Rank:         i + 1,
			IsWinner:     i == 0,
			CorrectPicks: t.correct,
			TotalPicks:   t.total,
		})
		neutral := decimal.NewFromFloat(neutralValue).Mul(decimal.NewFromInt(int64(t.total)))
		run.Snapshots = append(run.Snapshots, domain.ScoreSnapshot{
			LeagueID:       leagueID,
			UserID:         t.userID,
			PeriodIndex:    run.PeriodIndex,
			Points:         pts,
			PnL:            t.sum.Sub(neutral).Mul(hundred).StringFixed(4),
			PortfolioValue: t.sum.Mul(hundred).StringFixed(4),
			Rank:           i + 1,
			CapturedAt:     now,
		})
	}

	if err := s.scores.UpsertPoints(ctx, run.Scores); err != nil {
		return ScoreRun{}, fmt.Errorf("score_service: upsert scores %s: %w", leagueID, err)
	}
	if err := s.snapshots.Upsert(ctx, run.Snapshots); err != nil {
		return ScoreRun{}, fmt.Errorf("score_service: upsert snapshots %s: %w", leagueID, err)
	}

	s.logger.InfoContext(ctx, "score_service: league scored",
		slog.String("league_id", leagueID),
		slog.Int("users", len(run.Scores)),
		slog.Int("picks", len(picks)),
		slog.Int("period", run.PeriodIndex),
	)
	return run, nil
}

// Leaderboard returns the stored scores for a league in rank order.
func (s *ScoreService) Leaderboard(ctx context.Context, leagueID string) ([]domain.Score, error) {
	if _, err := s.leagues.GetByID(ctx, leagueID); err != nil {
		return nil, fmt.Errorf("score_service: get league %s: %w", leagueID, err)
	}
	scores, err := s.scores.ListByLeague(ctx, leagueID)
	if err != nil {
		return nil, fmt.Errorf("score_service: list scores %s: %w", leagueID, err)
	}
	return scores, nil
}

// Snapshots returns a user's per-period history in a league.
func (s *ScoreService) Snapshots(ctx context.Context, leagueID, userID string) ([]domain.ScoreSnapshot, error) {
	snaps, err := s.snapshots.ListByUser(ctx, leagueID, userID)
	if err != nil {
		return nil, fmt.Errorf("score_service: list snapshots %s/%s: %w", leagueID, userID, err)
	}
	return snaps, nil
}

// livePrices reads cached market prices. Cache failures degrade to the
// prices joined onto the picks.
func (s *ScoreService) livePrices(ctx context.Context, marketIDs []string) map[string]float64 {
	if s.prices == nil {
		return nil
	}
	prices, err := s.prices.GetPrices(ctx, marketIDs)
	if err != nil {
		s.logger.WarnContext(ctx, "score_service: price cache read failed",
			slog.String("error", err.Error()),
		)
		return nil
	}
	return prices
}

// pickValue is the mark-to-market worth of a pick in [0,1] and whether it
// is a resolved correct pick.
func pickValue(p domain.Pick, resolutions map[string]domain.MarketResolution, live map[string]float64) (float64, bool) {
	if res, ok := resolutions[p.MarketID]; ok && res.WinningSide != nil {
		if *res.WinningSide == p.Side {
			return 1, true
		}
		return 0, false
	}
	if price, ok := live[p.MarketID]; ok && usablePrice(price) {
		return domain.SidePrice(price, p.Side), false
	}
	if p.MarketPrice != nil && usablePrice(*p.MarketPrice) {
		return domain.SidePrice(*p.MarketPrice, p.Side), false
	}
	return neutralValue, false
}

func usablePrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p >= 0 && p <= 1
}

func points(sum decimal.Decimal) int64 {
	return sum.Mul(hundred).Round(0).IntPart()
}

func uniqueMarkets(picks []domain.Pick) []string {
	seen := make(map[string]struct{}, len(picks))
	out := make([]string, 0, len(picks))
	for _, p := range picks {
		if _, ok := seen[p.MarketID]; ok {
			continue
		}
		seen[p.MarketID] = struct{}{}
		out = append(out, p.MarketID)
	}
	return out
}
