package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// ScoreStore implements domain.ScoreStore using PostgreSQL. UpsertPoints
// owns the ranking columns and PatchSettlement owns the settlement columns;
// neither statement touches the other's.
type ScoreStore struct {
	pool *pgxpool.Pool
}

// NewScoreStore creates a new ScoreStore backed by the given connection pool.
func NewScoreStore(pool *pgxpool.Pool) *ScoreStore {
	return &ScoreStore{pool: pool}
}

// UpsertPoints writes the aggregator's columns for each (league, user).
func (s *ScoreStore) UpsertPoints(ctx context.Context, patches []domain.ScorePointsPatch) error {
	if len(patches) == 0 {
		return nil
	}
	const query = `
		INSERT INTO scores (league_id, user_id, points, rank, is_winner, correct_picks, total_picks, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (league_id, user_id) DO UPDATE SET
			points        = EXCLUDED.points,
			rank          = EXCLUDED.rank,
			is_winner     = EXCLUDED.is_winner,
			correct_picks = EXCLUDED.correct_picks,
			total_picks   = EXCLUDED.total_picks,
			updated_at    = NOW()`

	batch := &pgx.Batch{}
	for _, p := range patches {
		batch.Queue(query, p.LeagueID, p.UserID, p.Points, p.Rank, p.IsWinner, p.CorrectPicks, p.TotalPicks)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: upsert scores: %w", err)
	}
	return nil
}

// PatchSettlement updates the non-nil settlement fields of one score row.
func (s *ScoreStore) PatchSettlement(ctx context.Context, leagueID, userID string, patch domain.SettlementPatch) error {
	const query = `
		UPDATE scores SET
			settled_points     = COALESCE($3, settled_points),
			settlement_status  = COALESCE($4, settlement_status),
			settlement_tx_hash = COALESCE($5, settlement_tx_hash),
			settlement_error   = COALESCE($6, settlement_error),
			settlement_target  = COALESCE($7, settlement_target),
			updated_at         = NOW()
		WHERE league_id = $1 AND user_id = $2`

	var status *string
	if patch.Status != nil {
		v := string(*patch.Status)
		status = &v
	}
	tag, err := s.pool.Exec(ctx, query, leagueID, userID, patch.SettledPoints, status, patch.TxHash, patch.Error, patch.Target)
	if err != nil {
		return fmt.Errorf("postgres: patch settlement %s/%s: %w", leagueID, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: patch settlement %s/%s: %w", leagueID, userID, domain.ErrNotFound)
	}
	return nil
}

// ListByLeague returns a league's scores in rank order.
func (s *ScoreStore) ListByLeague(ctx context.Context, leagueID string) ([]domain.Score, error) {
	const query = `
		SELECT league_id, user_id, points, rank, is_winner, correct_picks, total_picks,
		       settled_points, settlement_status, settlement_tx_hash, settlement_error, settlement_target, updated_at
		FROM scores
		WHERE league_id = $1
		ORDER BY rank, user_id`

	rows, err := s.pool.Query(ctx, query, leagueID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list scores %s: %w", leagueID, err)
	}
	defer rows.Close()

	var scores []domain.Score
	for rows.Next() {
		var (
			sc     domain.Score
			status string
		)
		if err := rows.Scan(
			&sc.LeagueID, &sc.UserID, &sc.Points, &sc.Rank, &sc.IsWinner, &sc.CorrectPicks, &sc.TotalPicks,
			&sc.SettledPoints, &status, &sc.SettlementTxHash, &sc.SettlementError, &sc.SettlementTarget, &sc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan score: %w", err)
		}
		sc.SettlementStatus = domain.SettlementStatus(status)
		scores = append(scores, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate scores: %w", err)
	}
	return scores, nil
}

var _ domain.ScoreStore = (*ScoreStore)(nil)
