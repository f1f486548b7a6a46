package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// MarketStore implements domain.MarketStore over the markets table that the
// ingestion job maintains.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// GetPrice returns the stored side-A price, or domain.ErrNotFound when the
// market is unknown or unpriced.
func (s *MarketStore) GetPrice(ctx context.Context, marketID string) (float64, error) {
	var price *float64
	err := s.pool.QueryRow(ctx, `SELECT price FROM markets WHERE id = $1`, marketID).Scan(&price)
	if err != nil {
		return 0, fmt.Errorf("postgres: get market price %s: %w", marketID, mapErr(err))
	}
	if price == nil {
		return 0, fmt.Errorf("postgres: market %s unpriced: %w", marketID, domain.ErrNotFound)
	}
	return *price, nil
}

// ListResolutions returns the resolved markets among marketIDs. Unresolved
// markets are absent from the map.
func (s *MarketStore) ListResolutions(ctx context.Context, marketIDs []string) (map[string]domain.MarketResolution, error) {
	out := make(map[string]domain.MarketResolution, len(marketIDs))
	if len(marketIDs) == 0 {
		return out, nil
	}

	const query = `
		SELECT id, winning_side, resolved_at
		FROM markets
		WHERE id = ANY($1) AND winning_side IS NOT NULL`
	rows, err := s.pool.Query(ctx, query, marketIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolutions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id       string
			side     string
			resolved *time.Time
		)
		if err := rows.Scan(&id, &side, &resolved); err != nil {
			return nil, fmt.Errorf("postgres: scan resolution: %w", err)
		}
		winner := domain.Side(side)
		out[id] = domain.MarketResolution{MarketID: id, WinningSide: &winner, ResolvedAt: resolved}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate resolutions: %w", err)
	}
	return out, nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
