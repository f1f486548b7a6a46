package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// TransferStore implements domain.TransferStore using PostgreSQL.
type TransferStore struct {
	pool *pgxpool.Pool
}

// NewTransferStore creates a new TransferStore backed by the given connection pool.
func NewTransferStore(pool *pgxpool.Pool) *TransferStore {
	return &TransferStore{pool: pool}
}

const transferCols = `id, user_id, amount::text, source_chain, destination_chain, destination_address,
	status, bridge_state, provider_ref, tx_hash_from, tx_hash_to, error,
	COALESCE(idempotency_key, ''), created_at, updated_at`

func scanTransfer(row pgx.Row) (domain.TransferRecord, error) {
	var (
		r      domain.TransferRecord
		amount string
		status string
	)
	if err := row.Scan(
		&r.ID, &r.UserID, &amount, &r.SourceChain, &r.DestinationChain, &r.DestinationAddress,
		&status, &r.BridgeState, &r.ProviderRef, &r.TxHashFrom, &r.TxHashTo, &r.Error,
		&r.IdempotencyKey, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return domain.TransferRecord{}, err
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.TransferRecord{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	r.Amount = amt
	r.Status = domain.TransferStatus(status)
	return r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreateOrGet inserts rec. When its idempotency key is already taken the
// existing row is returned with created=false.
func (s *TransferStore) CreateOrGet(ctx context.Context, rec domain.TransferRecord) (domain.TransferRecord, bool, error) {
	query := `
		INSERT INTO transfers (
			id, user_id, amount, source_chain, destination_chain, destination_address,
			status, idempotency_key, created_at, updated_at
		) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		RETURNING ` + transferCols

	stored, err := scanTransfer(s.pool.QueryRow(ctx, query,
		rec.ID, rec.UserID, rec.Amount.String(), rec.SourceChain, rec.DestinationChain, rec.DestinationAddress,
		string(rec.Status), nullable(rec.IdempotencyKey), rec.CreatedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.TransferRecord{}, false, fmt.Errorf("postgres: create transfer %s: %w", rec.ID, mapErr(err))
	}

	existing, err := s.GetByIdempotencyKey(ctx, rec.IdempotencyKey)
	if err != nil {
		return domain.TransferRecord{}, false, err
	}
	return existing, false, nil
}

// GetByID returns a transfer or domain.ErrNotFound.
func (s *TransferStore) GetByID(ctx context.Context, id string) (domain.TransferRecord, error) {
	r, err := scanTransfer(s.pool.QueryRow(ctx, `SELECT `+transferCols+` FROM transfers WHERE id = $1`, id))
	if err != nil {
		return domain.TransferRecord{}, fmt.Errorf("postgres: get transfer %s: %w", id, mapErr(err))
	}
	return r, nil
}

// GetByIdempotencyKey returns the transfer created under key or
// domain.ErrNotFound.
func (s *TransferStore) GetByIdempotencyKey(ctx context.Context, key string) (domain.TransferRecord, error) {
	r, err := scanTransfer(s.pool.QueryRow(ctx, `SELECT `+transferCols+` FROM transfers WHERE idempotency_key = $1`, key))
	if err != nil {
		return domain.TransferRecord{}, fmt.Errorf("postgres: get transfer by key: %w", mapErr(err))
	}
	return r, nil
}

// ListByUser returns a user's transfers, newest first.
func (s *TransferStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.TransferRecord, error) {
	query := `SELECT ` + transferCols + ` FROM transfers WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY created_at DESC, id"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transfers %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.TransferRecord
	for rows.Next() {
		r, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transfer: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate transfers: %w", err)
	}
	return out, nil
}

// Update applies the non-empty fields of upd. Terminal rows are never
// touched; updating one returns domain.ErrInvalidState.
func (s *TransferStore) Update(ctx context.Context, id string, upd domain.TransferUpdate) (domain.TransferRecord, error) {
	query := `
		UPDATE transfers SET
			status       = COALESCE(NULLIF($2, ''), status),
			bridge_state = COALESCE(NULLIF($3, ''), bridge_state),
			provider_ref = COALESCE(NULLIF($4, ''), provider_ref),
			tx_hash_from = COALESCE(NULLIF($5, ''), tx_hash_from),
			tx_hash_to   = COALESCE(NULLIF($6, ''), tx_hash_to),
			error        = COALESCE(NULLIF($7, ''), error),
			updated_at   = NOW()
		WHERE id = $1 AND status NOT IN ('minted', 'failed')
		RETURNING ` + transferCols

	r, err := scanTransfer(s.pool.QueryRow(ctx, query,
		id, string(upd.Status), upd.BridgeState, upd.ProviderRef, upd.TxHashFrom, upd.TxHashTo, upd.Error,
	))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.TransferRecord{}, fmt.Errorf("postgres: update transfer %s: %w", id, err)
	}

	current, getErr := s.GetByID(ctx, id)
	if getErr != nil {
		return domain.TransferRecord{}, getErr
	}
	return current, fmt.Errorf("postgres: transfer %s is %s: %w", id, current.Status, domain.ErrInvalidState)
}

var _ domain.TransferStore = (*TransferStore)(nil)
