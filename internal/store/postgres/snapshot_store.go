package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Upsert writes one row per (league, user, period), replacing any earlier
// snapshot for the same period.
func (s *SnapshotStore) Upsert(ctx context.Context, snaps []domain.ScoreSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	const query = `
		INSERT INTO score_snapshots (league_id, user_id, period_index, points, pnl, portfolio_value, rank, captured_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8)
		ON CONFLICT (league_id, user_id, period_index) DO UPDATE SET
			points          = EXCLUDED.points,
			pnl             = EXCLUDED.pnl,
			portfolio_value = EXCLUDED.portfolio_value,
			rank            = EXCLUDED.rank,
			captured_at     = EXCLUDED.captured_at`

	batch := &pgx.Batch{}
	for _, sn := range snaps {
		batch.Queue(query, sn.LeagueID, sn.UserID, sn.PeriodIndex, sn.Points, sn.PnL, sn.PortfolioValue, sn.Rank, sn.CapturedAt)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: upsert snapshots: %w", err)
	}
	return nil
}

// ListByUser returns a user's snapshots in period order.
func (s *SnapshotStore) ListByUser(ctx context.Context, leagueID, userID string) ([]domain.ScoreSnapshot, error) {
	const query = `
		SELECT league_id, user_id, period_index, points, pnl::text, portfolio_value::text, rank, captured_at
		FROM score_snapshots
		WHERE league_id = $1 AND user_id = $2
		ORDER BY period_index`

	rows, err := s.pool.Query(ctx, query, leagueID, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots %s/%s: %w", leagueID, userID, err)
	}
	defer rows.Close()

	var snaps []domain.ScoreSnapshot
	for rows.Next() {
		var sn domain.ScoreSnapshot
		if err := rows.Scan(&sn.LeagueID, &sn.UserID, &sn.PeriodIndex, &sn.Points, &sn.PnL, &sn.PortfolioValue, &sn.Rank, &sn.CapturedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		snaps = append(snaps, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate snapshots: %w", err)
	}
	return snaps, nil
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
