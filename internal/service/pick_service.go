package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
	"github.com/alanyoungcy/fantasymarket/internal/period"
)

// PickLimits are the per-period caps and the swap price tolerance.
type PickLimits struct {
	MaxPicksPerPeriod int
	MaxSwapsPerPeriod int
	// SlippageTolerance is the largest absolute move between the quoted and
	// current side price a swap accepts.
	SlippageTolerance float64
}

// PickRequest drafts a new pick.
type PickRequest struct {
	LeagueID string      `json:"-"`
	UserID   string      `json:"userId"`
	MarketID string      `json:"marketId"`
	Side     domain.Side `json:"side"`
}

// SwapRequest replaces an existing pick with another market or side at a
// quoted price.
type SwapRequest struct {
	LeagueID    string      `json:"-"`
	PickID      string      `json:"-"`
	UserID      string      `json:"userId"`
	NewMarketID string      `json:"marketId"`
	NewSide     domain.Side `json:"side"`
	QuotedPrice float64     `json:"quotedPrice"`
}

// PickService enforces the drafting rules around picks.
type PickService struct {
	leagues domain.LeagueStore
	picks   domain.PickStore
	markets domain.MarketStore
	prices  domain.PriceCache
	limits  PickLimits
	now     func() time.Time
	logger  *slog.Logger
}

// NewPickService creates a PickService.
func NewPickService(
	leagues domain.LeagueStore,
	picks domain.PickStore,
	markets domain.MarketStore,
	prices domain.PriceCache,
	limits PickLimits,
	logger *slog.Logger,
) *PickService {
	return &PickService{
		leagues: leagues,
		picks:   picks,
		markets: markets,
		prices:  prices,
		limits:  limits,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// WithClock overrides the time source used for period indexing.
func (s *PickService) WithClock(now func() time.Time) *PickService {
	s.now = now
	return s
}

// CreatePick records a pick in the league's current period.
func (s *PickService) CreatePick(ctx context.Context, req PickRequest) (domain.Pick, error) {
	if req.UserID == "" || req.MarketID == "" || !req.Side.Valid() {
		return domain.Pick{}, fmt.Errorf("pick_service: user, market and side A|B required: %w", domain.ErrValidation)
	}
	league, err := s.openLeague(ctx, req.LeagueID)
	if err != nil {
		return domain.Pick{}, err
	}

	now := s.now()
	idx := period.ForLeague(league, now)
	count, err := s.picks.CountByUserPeriod(ctx, req.LeagueID, req.UserID, idx)
	if err != nil {
		return domain.Pick{}, fmt.Errorf("pick_service: count picks: %w", err)
	}
	if !period.WithinCap(count, s.limits.MaxPicksPerPeriod) {
		return domain.Pick{}, fmt.Errorf("pick_service: %d picks in period %d: %w", count, idx, domain.ErrPeriodCapReached)
	}

	pick := domain.Pick{
		ID:          uuid.NewString(),
		LeagueID:    req.LeagueID,
		UserID:      req.UserID,
		MarketID:    req.MarketID,
		Side:        req.Side,
		PeriodIndex: idx,
		CreatedAt:   now,
	}
	if err := s.picks.Create(ctx, pick); err != nil {
		return domain.Pick{}, fmt.Errorf("pick_service: create pick: %w", err)
	}
	s.logger.InfoContext(ctx, "pick_service: pick created",
		slog.String("league_id", pick.LeagueID),
		slog.String("user_id", pick.UserID),
		slog.String("market_id", pick.MarketID),
		slog.String("side", string(pick.Side)),
		slog.Int("period", idx),
	)
	return pick, nil
}

// SwapPick moves a pick to another market or side, provided the user has
// swaps left this period and the price has not moved past tolerance.
func (s *PickService) SwapPick(ctx context.Context, req SwapRequest) (domain.Pick, error) {
	if req.UserID == "" || req.NewMarketID == "" || !req.NewSide.Valid() {
		return domain.Pick{}, fmt.Errorf("pick_service: user, market and side A|B required: %w", domain.ErrValidation)
	}
	if req.QuotedPrice < 0 || req.QuotedPrice > 1 {
		return domain.Pick{}, fmt.Errorf("pick_service: quoted price %v out of range: %w", req.QuotedPrice, domain.ErrValidation)
	}
	league, err := s.openLeague(ctx, req.LeagueID)
	if err != nil {
		return domain.Pick{}, err
	}

	pick, err := s.picks.GetByID(ctx, req.PickID)
	if err != nil {
		return domain.Pick{}, fmt.Errorf("pick_service: get pick %s: %w", req.PickID, err)
	}
	if pick.LeagueID != req.LeagueID || pick.UserID != req.UserID {
		return domain.Pick{}, fmt.Errorf("pick_service: pick %s: %w", req.PickID, domain.ErrNotFound)
	}
	if pick.MarketID == req.NewMarketID && pick.Side == req.NewSide {
		return domain.Pick{}, fmt.Errorf("pick_service: swap to the same market and side: %w", domain.ErrValidation)
	}

	now := s.now()
	idx := period.ForLeague(league, now)
	swaps, err := s.picks.CountSwaps(ctx, req.LeagueID, req.UserID, idx)
	if err != nil {
		return domain.Pick{}, fmt.Errorf("pick_service: count swaps: %w", err)
	}
	if !period.WithinCap(swaps, s.limits.MaxSwapsPerPeriod) {
		return domain.Pick{}, fmt.Errorf("pick_service: %d swaps in period %d: %w", swaps, idx, domain.ErrPeriodCapReached)
	}

	current, err := s.currentPrice(ctx, req.NewMarketID)
	if err != nil {
		return domain.Pick{}, err
	}
	fill := domain.SidePrice(current, req.NewSide)
	if exceedsSlippage(req.QuotedPrice, fill, s.limits.SlippageTolerance) {
		return domain.Pick{}, fmt.Errorf("pick_service: quoted %.4f, current %.4f: %w", req.QuotedPrice, fill, domain.ErrSlippage)
	}

	swap := domain.PickSwap{
		ID:          uuid.NewString(),
		PickID:      pick.ID,
		LeagueID:    pick.LeagueID,
		UserID:      pick.UserID,
		PeriodIndex: idx,
		OldMarketID: pick.MarketID,
		OldSide:     pick.Side,
		NewMarketID: req.NewMarketID,
		NewSide:     req.NewSide,
		QuotedPrice: req.QuotedPrice,
		FillPrice:   fill,
		CreatedAt:   now,
	}
	if err := s.picks.Swap(ctx, swap); err != nil {
		return domain.Pick{}, fmt.Errorf("pick_service: swap pick %s: %w", pick.ID, err)
	}

	pick.MarketID = req.NewMarketID
	pick.Side = req.NewSide
	pick.MarketPrice = &current
	s.logger.InfoContext(ctx, "pick_service: pick swapped",
		slog.String("pick_id", pick.ID),
		slog.String("from", swap.OldMarketID+"/"+string(swap.OldSide)),
		slog.String("to", swap.NewMarketID+"/"+string(swap.NewSide)),
		slog.Float64("fill_price", fill),
	)
	return pick, nil
}

func (s *PickService) openLeague(ctx context.Context, leagueID string) (domain.League, error) {
	league, err := s.leagues.GetByID(ctx, leagueID)
	if err != nil {
		return domain.League{}, fmt.Errorf("pick_service: get league %s: %w", leagueID, err)
	}
	if league.Status == domain.LeagueStatusFinalizing || league.Status == domain.LeagueStatusFinalized {
		return domain.League{}, fmt.Errorf("pick_service: league %s is %s: %w", leagueID, league.Status, domain.ErrInvalidState)
	}
	return league, nil
}

// currentPrice prefers the live cache and falls back to the stored price.
func (s *PickService) currentPrice(ctx context.Context, marketID string) (float64, error) {
	if s.prices != nil {
		prices, err := s.prices.GetPrices(ctx, []string{marketID})
		if err == nil {
			if p, ok := prices[marketID]; ok && usablePrice(p) {
				return p, nil
			}
		} else {
			s.logger.WarnContext(ctx, "pick_service: price cache read failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}
	p, err := s.markets.GetPrice(ctx, marketID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("pick_service: no price for market %s: %w", marketID, domain.ErrValidation)
	}
	if err != nil {
		return 0, fmt.Errorf("pick_service: price for market %s: %w", marketID, err)
	}
	return p, nil
}

// exceedsSlippage reports whether |current - quoted| is above tolerance.
func exceedsSlippage(quoted, current, tolerance float64) bool {
	return math.Abs(current-quoted) > tolerance+1e-9
}
