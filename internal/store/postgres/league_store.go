package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// LeagueStore implements domain.LeagueStore using PostgreSQL.
type LeagueStore struct {
	pool *pgxpool.Pool
}

// NewLeagueStore creates a new LeagueStore backed by the given connection pool.
func NewLeagueStore(pool *pgxpool.Pool) *LeagueStore {
	return &LeagueStore{pool: pool}
}

// GetByID returns a league or domain.ErrNotFound.
func (s *LeagueStore) GetByID(ctx context.Context, id string) (domain.League, error) {
	const query = `
		SELECT id, name, cadence, start_time, status, entry_fee::text, created_at, updated_at
		FROM leagues WHERE id = $1`

	var (
		l       domain.League
		cadence string
		status  string
		fee     string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&l.ID, &l.Name, &cadence, &l.StartTime, &status, &fee, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return domain.League{}, fmt.Errorf("postgres: get league %s: %w", id, mapErr(err))
	}
	l.Cadence = domain.Cadence(cadence)
	l.Status = domain.LeagueStatus(status)
	if l.EntryFee, err = decimal.NewFromString(fee); err != nil {
		return domain.League{}, fmt.Errorf("postgres: parse entry fee for %s: %w", id, err)
	}
	return l, nil
}

// UpdateStatus moves a league through its lifecycle.
func (s *LeagueStore) UpdateStatus(ctx context.Context, id string, status domain.LeagueStatus) error {
	const query = `UPDATE leagues SET status = $2, updated_at = NOW() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update league status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update league status %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetMember returns a league membership or domain.ErrNotFound.
func (s *LeagueStore) GetMember(ctx context.Context, leagueID, userID string) (domain.LeagueMember, error) {
	const query = `
		SELECT league_id, user_id, wallet_address, settlement_address, joined_at
		FROM league_members WHERE league_id = $1 AND user_id = $2`

	var m domain.LeagueMember
	err := s.pool.QueryRow(ctx, query, leagueID, userID).Scan(
		&m.LeagueID, &m.UserID, &m.WalletAddress, &m.SettlementAddress, &m.JoinedAt,
	)
	if err != nil {
		return domain.LeagueMember{}, fmt.Errorf("postgres: get member %s/%s: %w", leagueID, userID, mapErr(err))
	}
	return m, nil
}

var _ domain.LeagueStore = (*LeagueStore)(nil)
