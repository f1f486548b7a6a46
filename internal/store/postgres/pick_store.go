package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// PickStore implements domain.PickStore using PostgreSQL.
type PickStore struct {
	pool *pgxpool.Pool
}

// NewPickStore creates a new PickStore backed by the given connection pool.
func NewPickStore(pool *pgxpool.Pool) *PickStore {
	return &PickStore{pool: pool}
}

// pickSelect joins the market's latest price onto each pick.
const pickSelect = `
	SELECT p.id, p.league_id, p.user_id, p.market_id, p.side, p.period_index, m.price, p.created_at
	FROM picks p
	LEFT JOIN markets m ON m.id = p.market_id`

func scanPick(row pgx.Row) (domain.Pick, error) {
	var (
		p    domain.Pick
		side string
	)
	if err := row.Scan(&p.ID, &p.LeagueID, &p.UserID, &p.MarketID, &side, &p.PeriodIndex, &p.MarketPrice, &p.CreatedAt); err != nil {
		return domain.Pick{}, err
	}
	p.Side = domain.Side(side)
	return p, nil
}

// Create inserts a pick. A second pick on the same market side returns
// domain.ErrConflict.
func (s *PickStore) Create(ctx context.Context, p domain.Pick) error {
	const query = `
		INSERT INTO picks (id, league_id, user_id, market_id, side, period_index, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.LeagueID, p.UserID, p.MarketID, string(p.Side), p.PeriodIndex, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create pick %s: %w", p.ID, mapErr(err))
	}
	return nil
}

// GetByID returns a pick or domain.ErrNotFound.
func (s *PickStore) GetByID(ctx context.Context, id string) (domain.Pick, error) {
	p, err := scanPick(s.pool.QueryRow(ctx, pickSelect+` WHERE p.id = $1`, id))
	if err != nil {
		return domain.Pick{}, fmt.Errorf("postgres: get pick %s: %w", id, mapErr(err))
	}
	return p, nil
}

// ListByLeague returns every pick in creation order.
func (s *PickStore) ListByLeague(ctx context.Context, leagueID string) ([]domain.Pick, error) {
	rows, err := s.pool.Query(ctx, pickSelect+` WHERE p.league_id = $1 ORDER BY p.created_at, p.id`, leagueID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list picks %s: %w", leagueID, err)
	}
	defer rows.Close()

	var picks []domain.Pick
	for rows.Next() {
		p, err := scanPick(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pick: %w", err)
		}
		picks = append(picks, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate picks: %w", err)
	}
	return picks, nil
}

// CountByUserPeriod counts a user's picks made in one period.
func (s *PickStore) CountByUserPeriod(ctx context.Context, leagueID, userID string, period int) (int, error) {
	const query = `SELECT COUNT(*) FROM picks WHERE league_id = $1 AND user_id = $2 AND period_index = $3`
	var n int
	if err := s.pool.QueryRow(ctx, query, leagueID, userID, period).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count picks %s/%s: %w", leagueID, userID, err)
	}
	return n, nil
}

// Swap repoints a pick and records the swap in one transaction. The update
// only applies while the pick still holds the old market and side, so two
// racing swaps cannot both succeed.
func (s *PickStore) Swap(ctx context.Context, sw domain.PickSwap) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin swap %s: %w", sw.PickID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const update = `
		UPDATE picks SET market_id = $2, side = $3
		WHERE id = $1 AND market_id = $4 AND side = $5`
	tag, err := tx.Exec(ctx, update, sw.PickID, sw.NewMarketID, string(sw.NewSide), sw.OldMarketID, string(sw.OldSide))
	if err != nil {
		return fmt.Errorf("postgres: swap pick %s: %w", sw.PickID, mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: swap pick %s changed concurrently: %w", sw.PickID, domain.ErrConflict)
	}

	const insert = `
		INSERT INTO pick_swaps (
			id, pick_id, league_id, user_id, period_index,
			old_market_id, old_side, new_market_id, new_side,
			quoted_price, fill_price, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := tx.Exec(ctx, insert,
		sw.ID, sw.PickID, sw.LeagueID, sw.UserID, sw.PeriodIndex,
		sw.OldMarketID, string(sw.OldSide), sw.NewMarketID, string(sw.NewSide),
		sw.QuotedPrice, sw.FillPrice, sw.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: record swap %s: %w", sw.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit swap %s: %w", sw.ID, err)
	}
	return nil
}

// CountSwaps counts a user's swaps in one period.
func (s *PickStore) CountSwaps(ctx context.Context, leagueID, userID string, period int) (int, error) {
	const query = `SELECT COUNT(*) FROM pick_swaps WHERE league_id = $1 AND user_id = $2 AND period_index = $3`
	var n int
	if err := s.pool.QueryRow(ctx, query, leagueID, userID, period).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count swaps %s/%s: %w", leagueID, userID, err)
	}
	return n, nil
}

var _ domain.PickStore = (*PickStore)(nil)
