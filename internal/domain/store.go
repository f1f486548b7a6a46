package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LeagueStore reads leagues and memberships. League CRUD lives elsewhere;
// this engine only moves the status through finalization.
type LeagueStore interface {
	GetByID(ctx context.Context, id string) (League, error)
	UpdateStatus(ctx context.Context, id string, status LeagueStatus) error
	GetMember(ctx context.Context, leagueID, userID string) (LeagueMember, error)
}

// PickStore persists picks and swaps. Create returns ErrConflict when the
// (league, user, market, side) pick already exists.
type PickStore interface {
	Create(ctx context.Context, pick Pick) error
	GetByID(ctx context.Context, id string) (Pick, error)
	ListByLeague(ctx context.Context, leagueID string) ([]Pick, error)
	CountByUserPeriod(ctx context.Context, leagueID, userID string, period int) (int, error)
	Swap(ctx context.Context, swap PickSwap) error
	CountSwaps(ctx context.Context, leagueID, userID string, period int) (int, error)
}

// MarketStore exposes ingested market data to the engine.
type MarketStore interface {
	// GetPrice returns the side-A price, or ErrNotFound when no price has
	// been ingested.
	GetPrice(ctx context.Context, marketID string) (float64, error)
	ListResolutions(ctx context.Context, marketIDs []string) (map[string]MarketResolution, error)
}

// ScoreStore persists scores. The two write methods touch disjoint columns.
type ScoreStore interface {
	UpsertPoints(ctx context.Context, patches []ScorePointsPatch) error
	PatchSettlement(ctx context.Context, leagueID, userID string, patch SettlementPatch) error
	ListByLeague(ctx context.Context, leagueID string) ([]Score, error)
}

// SnapshotStore persists per-period score snapshots.
type SnapshotStore interface {
	Upsert(ctx context.Context, snaps []ScoreSnapshot) error
	ListByUser(ctx context.Context, leagueID, userID string) ([]ScoreSnapshot, error)
}

// TransferStore persists bridge transfers. CreateOrGet inserts rec unless a
// record with the same idempotency key exists, in which case the existing
// record is returned with created=false.
type TransferStore interface {
	CreateOrGet(ctx context.Context, rec TransferRecord) (stored TransferRecord, created bool, err error)
	GetByID(ctx context.Context, id string) (TransferRecord, error)
	GetByIdempotencyKey(ctx context.Context, key string) (TransferRecord, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]TransferRecord, error)
	// Update applies upd unless the stored record is already terminal, in
	// which case it returns ErrInvalidState.
	Update(ctx context.Context, id string, upd TransferUpdate) (TransferRecord, error)
}

// ProxyStore persists user proxy addresses. Create returns the existing row
// when the (user, wallet) pair is already present.
type ProxyStore interface {
	GetByUser(ctx context.Context, userID string) (UserProxy, error)
	GetByWallet(ctx context.Context, wallet string) (UserProxy, error)
	Create(ctx context.Context, proxy UserProxy) (UserProxy, error)
	UpdateStatus(ctx context.Context, id string, status ProxyStatus, proxyAddress, errMsg string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
