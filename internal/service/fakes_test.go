package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

// --- leagues ---

type fakeLeagues struct {
	mu       sync.Mutex
	leagues  map[string]domain.League
	members  map[string]domain.LeagueMember
	statuses []domain.LeagueStatus
}

func newFakeLeagues(leagues ...domain.League) *fakeLeagues {
	f := &fakeLeagues{leagues: map[string]domain.League{}, members: map[string]domain.LeagueMember{}}
	for _, l := range leagues {
		f.leagues[l.ID] = l
	}
	return f
}

func (f *fakeLeagues) addMember(m domain.LeagueMember) {
	f.members[m.LeagueID+"/"+m.UserID] = m
}

func (f *fakeLeagues) GetByID(_ context.Context, id string) (domain.League, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leagues[id]
	if !ok {
		return domain.League{}, domain.ErrNotFound
	}
	return l, nil
}

func (f *fakeLeagues) UpdateStatus(_ context.Context, id string, status domain.LeagueStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leagues[id]
	if !ok {
		return domain.ErrNotFound
	}
	l.Status = status
	f.leagues[id] = l
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeLeagues) GetMember(_ context.Context, leagueID, userID string) (domain.LeagueMember, error) {
	m, ok := f.members[leagueID+"/"+userID]
	if !ok {
		return domain.LeagueMember{}, domain.ErrNotFound
	}
	return m, nil
}

// --- picks ---

type fakePicks struct {
	mu    sync.Mutex
	picks []domain.Pick
	swaps []domain.PickSwap
}

func (f *fakePicks) Create(_ context.Context, p domain.Pick) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.picks {
		if e.LeagueID == p.LeagueID && e.UserID == p.UserID && e.MarketID == p.MarketID && e.Side == p.Side {
			return domain.ErrConflict
		}
	}
	f.picks = append(f.picks, p)
	return nil
}

func (f *fakePicks) GetByID(_ context.Context, id string) (domain.Pick, error) {
	for _, p := range f.picks {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Pick{}, domain.ErrNotFound
}

func (f *fakePicks) ListByLeague(_ context.Context, leagueID string) ([]domain.Pick, error) {
	var out []domain.Pick
	for _, p := range f.picks {
		if p.LeagueID == leagueID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePicks) CountByUserPeriod(_ context.Context, leagueID, userID string, period int) (int, error) {
	n := 0
	for _, p := range f.picks {
		if p.LeagueID == leagueID && p.UserID == userID && p.PeriodIndex == period {
			n++
		}
	}
	return n, nil
}

func (f *fakePicks) Swap(_ context.Context, s domain.PickSwap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.picks {
		if p.ID == s.PickID {
			f.picks[i].MarketID = s.NewMarketID
			f.picks[i].Side = s.NewSide
			f.swaps = append(f.swaps, s)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakePicks) CountSwaps(_ context.Context, leagueID, userID string, period int) (int, error) {
	n := 0
	for _, s := range f.swaps {
		if s.LeagueID == leagueID && s.UserID == userID && s.PeriodIndex == period {
			n++
		}
	}
	return n, nil
}

// --- markets ---

type fakeMarkets struct {
	prices      map[string]float64
	resolutions map[string]domain.MarketResolution
}

func (f *fakeMarkets) GetPrice(_ context.Context, marketID string) (float64, error) {
	p, ok := f.prices[marketID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeMarkets) ListResolutions(_ context.Context, ids []string) (map[string]domain.MarketResolution, error) {
	out := map[string]domain.MarketResolution{}
	for _, id := range ids {
		if r, ok := f.resolutions[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

// --- scores ---

type fakeScores struct {
	mu      sync.Mutex
	rows    map[string]*domain.Score
	order   []string
	upserts int
	patches []domain.SettlementPatch

	// failSettled fails that many patches that carry SettledPoints.
	failSettled int
}

func newFakeScores() *fakeScores {
	return &fakeScores{rows: map[string]*domain.Score{}}
}

func (f *fakeScores) UpsertPoints(_ context.Context, patches []domain.ScorePointsPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	for _, p := range patches {
		key := p.LeagueID + "/" + p.UserID
		row, ok := f.rows[key]
		if !ok {
			row = &domain.Score{LeagueID: p.LeagueID, UserID: p.UserID, SettlementStatus: domain.SettlementPending}
			f.rows[key] = row
			f.order = append(f.order, key)
		}
		row.Points = p.Points
		row.Rank = p.Rank
		row.IsWinner = p.IsWinner
		row.CorrectPicks = p.CorrectPicks
		row.TotalPicks = p.TotalPicks
	}
	return nil
}

func (f *fakeScores) PatchSettlement(_ context.Context, leagueID, userID string, p domain.SettlementPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[leagueID+"/"+userID]
	if !ok {
		return domain.ErrNotFound
	}
	if p.SettledPoints != nil && f.failSettled > 0 {
		f.failSettled--
		return fmt.Errorf("db down")
	}
	f.patches = append(f.patches, p)
	if p.SettledPoints != nil {
		row.SettledPoints = *p.SettledPoints
	}
	if p.Status != nil {
		row.SettlementStatus = *p.Status
	}
	if p.TxHash != nil {
		row.SettlementTxHash = *p.TxHash
	}
	if p.Error != nil {
		row.SettlementError = *p.Error
	}
	if p.Target != nil {
		row.SettlementTarget = *p.Target
	}
	return nil
}

func (f *fakeScores) ListByLeague(_ context.Context, leagueID string) ([]domain.Score, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Score
	for _, key := range f.order {
		if row := f.rows[key]; row.LeagueID == leagueID {
			out = append(out, *row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

func (f *fakeScores) get(leagueID, userID string) domain.Score {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[leagueID+"/"+userID]
}

// --- snapshots ---

type fakeSnapshots struct {
	mu   sync.Mutex
	rows map[string]domain.ScoreSnapshot
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{rows: map[string]domain.ScoreSnapshot{}}
}

func (f *fakeSnapshots) Upsert(_ context.Context, snaps []domain.ScoreSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range snaps {
		f.rows[fmt.Sprintf("%s/%s/%d", s.LeagueID, s.UserID, s.PeriodIndex)] = s
	}
	return nil
}

func (f *fakeSnapshots) ListByUser(_ context.Context, leagueID, userID string) ([]domain.ScoreSnapshot, error) {
	var out []domain.ScoreSnapshot
	for _, s := range f.rows {
		if s.LeagueID == leagueID && s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodIndex < out[j].PeriodIndex })
	return out, nil
}

// --- chain ---

type chainCall struct {
	Action  string
	Address string
	Amount  int64
}

type fakeChain struct {
	mu          sync.Mutex
	calls       []chainCall
	failSubmits map[string]int // address -> remaining failures
	failConfirm map[string]error
	waits       []string
	seq         int
}

func newFakeChain() *fakeChain {
	return &fakeChain{failSubmits: map[string]int{}, failConfirm: map[string]error{}}
}

func (f *fakeChain) submit(action, address string, amount int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chainCall{Action: action, Address: address, Amount: amount})
	if n := f.failSubmits[address]; n != 0 {
		if n > 0 {
			f.failSubmits[address] = n - 1
		}
		return "", fmt.Errorf("rpc unavailable")
	}
	f.seq++
	return fmt.Sprintf("0xtx%d", f.seq), nil
}

func (f *fakeChain) SubmitMint(_ context.Context, address string, amount int64) (string, error) {
	return f.submit("mint", address, amount)
}

func (f *fakeChain) SubmitBurn(_ context.Context, address string, amount int64) (string, error) {
	return f.submit("burn", address, amount)
}

func (f *fakeChain) WaitForConfirmation(_ context.Context, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, txHash)
	return f.failConfirm[txHash]
}

// --- transfers ---

type fakeTransfers struct {
	mu      sync.Mutex
	rows    map[string]domain.TransferRecord
	creates int
}

func newFakeTransfers() *fakeTransfers {
	return &fakeTransfers{rows: map[string]domain.TransferRecord{}}
}

func (f *fakeTransfers) CreateOrGet(_ context.Context, rec domain.TransferRecord) (domain.TransferRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.IdempotencyKey != "" {
		for _, r := range f.rows {
			if r.IdempotencyKey == rec.IdempotencyKey {
				return r, false, nil
			}
		}
	}
	f.creates++
	f.rows[rec.ID] = rec
	return rec, true, nil
}

func (f *fakeTransfers) GetByID(_ context.Context, id string) (domain.TransferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return domain.TransferRecord{}, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeTransfers) GetByIdempotencyKey(_ context.Context, key string) (domain.TransferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.IdempotencyKey == key {
			return r, nil
		}
	}
	return domain.TransferRecord{}, domain.ErrNotFound
}

func (f *fakeTransfers) ListByUser(_ context.Context, userID string, _ domain.ListOpts) ([]domain.TransferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TransferRecord
	for _, r := range f.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeTransfers) Update(_ context.Context, id string, upd domain.TransferUpdate) (domain.TransferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return domain.TransferRecord{}, domain.ErrNotFound
	}
	if r.Status.Terminal() {
		return r, domain.ErrInvalidState
	}
	if upd.Status != "" {
		r.Status = upd.Status
	}
	if upd.BridgeState != "" {
		r.BridgeState = upd.BridgeState
	}
	if upd.ProviderRef != "" {
		r.ProviderRef = upd.ProviderRef
	}
	if upd.TxHashFrom != "" {
		r.TxHashFrom = upd.TxHashFrom
	}
	if upd.TxHashTo != "" {
		r.TxHashTo = upd.TxHashTo
	}
	if upd.Error != "" {
		r.Error = upd.Error
	}
	f.rows[id] = r
	return r, nil
}

// --- proxies ---

type fakeProxies struct {
	mu   sync.Mutex
	rows map[string]domain.UserProxy
}

func newFakeProxies(rows ...domain.UserProxy) *fakeProxies {
	f := &fakeProxies{rows: map[string]domain.UserProxy{}}
	for _, r := range rows {
		f.rows[r.ID] = r
	}
	return f
}

func (f *fakeProxies) GetByUser(_ context.Context, userID string) (domain.UserProxy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.UserID == userID {
			return r, nil
		}
	}
	return domain.UserProxy{}, domain.ErrNotFound
}

func (f *fakeProxies) GetByWallet(_ context.Context, wallet string) (domain.UserProxy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.WalletAddress == wallet {
			return r, nil
		}
	}
	return domain.UserProxy{}, domain.ErrNotFound
}

func (f *fakeProxies) Create(_ context.Context, p domain.UserProxy) (domain.UserProxy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.UserID == p.UserID && r.WalletAddress == p.WalletAddress {
			return r, nil
		}
	}
	f.rows[p.ID] = p
	return p, nil
}

func (f *fakeProxies) UpdateStatus(_ context.Context, id string, status domain.ProxyStatus, addr, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Status = status
	if addr != "" {
		r.ProxyAddress = addr
	}
	r.Error = errMsg
	f.rows[id] = r
	return nil
}

type fakeDeriver struct {
	addr string
	err  error
}

func (f fakeDeriver) DeriveProxy(context.Context, string) (string, error) {
	return f.addr, f.err
}

// --- bridge provider ---

type fakeProvider struct {
	mu          sync.Mutex
	initiateRes domain.BridgeResult
	initiateErr error
	statusRes   domain.BridgeResult
	statusErr   error
	initiated   []domain.BridgeRequest
}

func (f *fakeProvider) Initiate(_ context.Context, req domain.BridgeRequest) (domain.BridgeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiated = append(f.initiated, req)
	return f.initiateRes, f.initiateErr
}

func (f *fakeProvider) Status(context.Context, string) (domain.BridgeResult, error) {
	return f.statusRes, f.statusErr
}

// --- queue ---

type pollJob struct {
	TransferID string
	Attempt    int
	Delay      time.Duration
}

type fakeJobs struct {
	mu        sync.Mutex
	transfers []string
	polls     []pollJob
	err       error
}

func (f *fakeJobs) EnqueueTransfer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.transfers = append(f.transfers, id)
	return nil
}

func (f *fakeJobs) EnqueuePoll(_ context.Context, id string, attempt int, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls = append(f.polls, pollJob{TransferID: id, Attempt: attempt, Delay: delay})
	return nil
}

// --- limiter ---

type fakeLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func (f *fakeLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	if f.counts[key] >= limit {
		return false, nil
	}
	f.counts[key]++
	return true, nil
}

// --- balances ---

type fakeBalances struct {
	balances map[string]*big.Int
	err      error
}

func (f fakeBalances) BalanceOf(_ context.Context, addr string) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.balances[addr]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f fakeBalances) Decimals() int32 { return 6 }

// --- bus, audit, alerts, locks, archive ---

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = map[string][][]byte{}
	}
	f.published[channel] = append(f.published[channel], payload)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (f *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (f *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeAlerts struct {
	events []string
}

func (f *fakeAlerts) Notify(_ context.Context, event, _, _ string) error {
	f.events = append(f.events, event)
	return nil
}

type fakeLocks struct {
	mu      sync.Mutex
	held    map[string]bool
	extends int

	// loseAfter makes Extend fail once it has succeeded that many times.
	loseAfter int
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (domain.Lock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held == nil {
		f.held = map[string]bool{}
	}
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	return &fakeLock{locks: f, key: key}, nil
}

type fakeLock struct {
	locks *fakeLocks
	key   string
}

func (l *fakeLock) Extend(_ context.Context, _ time.Duration) error {
	f := l.locks
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loseAfter > 0 && f.extends >= f.loseAfter {
		return fmt.Errorf("lock %s lost: %w", l.key, domain.ErrLockHeld)
	}
	f.extends++
	return nil
}

func (l *fakeLock) Release() {
	f := l.locks
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, l.key)
}

type fakeArchiver struct {
	reports []any
}

func (f *fakeArchiver) ArchiveSettlement(_ context.Context, leagueID string, report any, at time.Time) (string, error) {
	f.reports = append(f.reports, report)
	return fmt.Sprintf("settlements/%s/%d.json", leagueID, at.Unix()), nil
}

type fakePrices map[string]float64

func (f fakePrices) SetPrice(context.Context, string, float64, time.Time) error { return nil }

func (f fakePrices) GetPrices(_ context.Context, keys []string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, k := range keys {
		if p, ok := f[k]; ok {
			out[k] = p
		}
	}
	return out, nil
}
