package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// ProxyStore implements domain.ProxyStore using PostgreSQL.
type ProxyStore struct {
	pool *pgxpool.Pool
}

// NewProxyStore creates a new ProxyStore backed by the given connection pool.
func NewProxyStore(pool *pgxpool.Pool) *ProxyStore {
	return &ProxyStore{pool: pool}
}

const proxyCols = `id, user_id, wallet_address, proxy_address, status, error, created_at, updated_at`

func scanProxy(row pgx.Row) (domain.UserProxy, error) {
	var (
		p      domain.UserProxy
		status string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.WalletAddress, &p.ProxyAddress, &status, &p.Error, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.UserProxy{}, err
	}
	p.Status = domain.ProxyStatus(status)
	return p, nil
}

// GetByUser returns the user's most recent proxy.
func (s *ProxyStore) GetByUser(ctx context.Context, userID string) (domain.UserProxy, error) {
	query := `SELECT ` + proxyCols + ` FROM user_proxies WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`
	p, err := scanProxy(s.pool.QueryRow(ctx, query, userID))
	if err != nil {
		return domain.UserProxy{}, fmt.Errorf("postgres: get proxy for user %s: %w", userID, mapErr(err))
	}
	return p, nil
}

// GetByWallet matches the wallet address case-insensitively.
func (s *ProxyStore) GetByWallet(ctx context.Context, wallet string) (domain.UserProxy, error) {
	query := `SELECT ` + proxyCols + ` FROM user_proxies WHERE LOWER(wallet_address) = LOWER($1) ORDER BY created_at DESC LIMIT 1`
	p, err := scanProxy(s.pool.QueryRow(ctx, query, wallet))
	if err != nil {
		return domain.UserProxy{}, fmt.Errorf("postgres: get proxy for wallet %s: %w", wallet, mapErr(err))
	}
	return p, nil
}

// Create inserts a proxy row, returning the existing one for a known
// (user, wallet) pair.
func (s *ProxyStore) Create(ctx context.Context, p domain.UserProxy) (domain.UserProxy, error) {
	query := `
		INSERT INTO user_proxies (id, user_id, wallet_address, proxy_address, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, wallet_address) DO NOTHING
		RETURNING ` + proxyCols

	created, err := scanProxy(s.pool.QueryRow(ctx, query,
		p.ID, p.UserID, p.WalletAddress, p.ProxyAddress, string(p.Status), p.Error, p.CreatedAt, p.UpdatedAt,
	))
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.UserProxy{}, fmt.Errorf("postgres: create proxy for %s: %w", p.UserID, err)
	}

	query = `SELECT ` + proxyCols + ` FROM user_proxies WHERE user_id = $1 AND wallet_address = $2`
	existing, err := scanProxy(s.pool.QueryRow(ctx, query, p.UserID, p.WalletAddress))
	if err != nil {
		return domain.UserProxy{}, fmt.Errorf("postgres: reload proxy for %s: %w", p.UserID, mapErr(err))
	}
	return existing, nil
}

// UpdateStatus sets the provisioning state. An empty proxyAddress keeps the
// stored address.
func (s *ProxyStore) UpdateStatus(ctx context.Context, id string, status domain.ProxyStatus, proxyAddress, errMsg string) error {
	const query = `
		UPDATE user_proxies SET
			status        = $2,
			proxy_address = COALESCE(NULLIF($3, ''), proxy_address),
			error         = $4,
			updated_at    = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(status), proxyAddress, errMsg)
	if err != nil {
		return fmt.Errorf("postgres: update proxy %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update proxy %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

var _ domain.ProxyStore = (*ProxyStore)(nil)
