package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fantasymarket/internal/crypto"
	"github.com/alanyoungcy/fantasymarket/internal/domain"
	"github.com/alanyoungcy/fantasymarket/internal/metrics"
	"github.com/alanyoungcy/fantasymarket/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePicks struct {
	created service.PickRequest
	swapped service.SwapRequest
	err     error
}

func (f *fakePicks) CreatePick(_ context.Context, req service.PickRequest) (domain.Pick, error) {
	f.created = req
	if f.err != nil {
		return domain.Pick{}, f.err
	}
	return domain.Pick{ID: "p-1", LeagueID: req.LeagueID, UserID: req.UserID, MarketID: req.MarketID, Side: req.Side}, nil
}

func (f *fakePicks) SwapPick(_ context.Context, req service.SwapRequest) (domain.Pick, error) {
	f.swapped = req
	if f.err != nil {
		return domain.Pick{}, f.err
	}
	return domain.Pick{ID: req.PickID, MarketID: req.NewMarketID, Side: req.NewSide}, nil
}

type fakeScores struct {
	scores []domain.Score
}

func (f *fakeScores) ComputeAndStore(_ context.Context, leagueID string) (service.ScoreRun, error) {
	return service.ScoreRun{LeagueID: leagueID, PeriodIndex: 2}, nil
}

func (f *fakeScores) Leaderboard(context.Context, string) ([]domain.Score, error) {
	return f.scores, nil
}

func (f *fakeScores) Snapshots(_ context.Context, leagueID, userID string) ([]domain.ScoreSnapshot, error) {
	return []domain.ScoreSnapshot{{LeagueID: leagueID, UserID: userID, PnL: "1.5000"}}, nil
}

type fakeFinalizer struct {
	res service.FinalizeResult
	err error
	ctx context.Context
}

func (f *fakeFinalizer) Finalize(ctx context.Context, leagueID string) (service.FinalizeResult, error) {
	f.ctx = ctx
	f.res.LeagueID = leagueID
	return f.res, f.err
}

func newLeagueHandler(p *fakePicks, s *fakeScores, f *fakeFinalizer) *LeagueHandler {
	return NewLeagueHandler(p, s, f, nil, discardLogger())
}

func do(h http.HandlerFunc, method, target, body string, pathValues ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreatePick(t *testing.T) {
	picks := &fakePicks{}
	h := newLeagueHandler(picks, &fakeScores{}, &fakeFinalizer{})

	rec := do(h.CreatePick, http.MethodPost, "/api/leagues/l1/picks", `{"userId":"u1","marketId":"m1","side":"b"}`, "id", "l1")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "l1", picks.created.LeagueID)
	assert.Equal(t, domain.SideB, picks.created.Side)
	assert.Equal(t, "p-1", decode(t, rec)["id"])

	rec = do(h.CreatePick, http.MethodPost, "/api/leagues/l1/picks", `{`, "id", "l1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPickErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", domain.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("x: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", domain.ErrPeriodCapReached), http.StatusConflict},
		{fmt.Errorf("x: %w", domain.ErrSlippage), http.StatusConflict},
		{fmt.Errorf("x: %w", domain.ErrConflict), http.StatusConflict},
		{fmt.Errorf("db exploded"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := newLeagueHandler(&fakePicks{err: tc.err}, &fakeScores{}, &fakeFinalizer{})
		rec := do(h.SwapPick, http.MethodPost, "/", `{"userId":"u1","marketId":"m2","side":"A","quotedPrice":0.4}`, "id", "l1", "pickId", "p-1")
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}

	h := newLeagueHandler(&fakePicks{err: fmt.Errorf("db exploded")}, &fakeScores{}, &fakeFinalizer{})
	rec := do(h.CreatePick, http.MethodPost, "/", `{}`, "id", "l1")
	assert.Equal(t, "internal server error", decode(t, rec)["error"])
}

func TestSwapPickPassesPathValues(t *testing.T) {
	picks := &fakePicks{}
	h := newLeagueHandler(picks, &fakeScores{}, &fakeFinalizer{})
	rec := do(h.SwapPick, http.MethodPost, "/", `{"userId":"u1","marketId":"m2","side":"a","quotedPrice":0.42}`, "id", "l1", "pickId", "p-9")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p-9", picks.swapped.PickID)
	assert.Equal(t, domain.SideA, picks.swapped.NewSide)
	assert.InDelta(t, 0.42, picks.swapped.QuotedPrice, 1e-9)
}

func TestScoresAndSnapshots(t *testing.T) {
	h := newLeagueHandler(&fakePicks{}, &fakeScores{}, &fakeFinalizer{})

	rec := do(h.ComputeScores, http.MethodPost, "/", "", "id", "l1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["periodIndex"])

	rec = do(h.ListScores, http.MethodGet, "/", "", "id", "l1")
	assert.JSONEq(t, `{"scores":[]}`, rec.Body.String())

	rec = do(h.ListSnapshots, http.MethodGet, "/api/leagues/l1/snapshots", "", "id", "l1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h.ListSnapshots, http.MethodGet, "/api/leagues/l1/snapshots?user_id=u1", "", "id", "l1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pnl":"1.5000"`)
}

func TestFinalizeStatusCodes(t *testing.T) {
	f := &fakeFinalizer{res: service.FinalizeResult{Results: []service.SettlementResult{{UserID: "u1", Delta: 5, Action: service.ActionMint}}}}
	h := newLeagueHandler(&fakePicks{}, &fakeScores{}, f)

	rec := do(h.Finalize, http.MethodPost, "/", "", "id", "l1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, f.ctx.Done(), "finalize must not inherit request cancellation")

	f.res.AnyFailed = true
	f.res.Results[0].Error = "reverted"
	rec = do(h.Finalize, http.MethodPost, "/", "", "id", "l1")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["anyFailed"])
	assert.Len(t, body["results"], 1)

	f.err = fmt.Errorf("settlement_service: lock l1: %w", domain.ErrLockHeld)
	rec = do(h.Finalize, http.MethodPost, "/", "", "id", "l1")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

type fakeReports struct{}

func (fakeReports) ListSettlements(_ context.Context, leagueID string) ([]domain.BlobInfo, error) {
	return []domain.BlobInfo{{Path: "settlements/" + leagueID + "/a.json"}}, nil
}

func (fakeReports) OpenSettlement(_ context.Context, leagueID, p string) ([]byte, error) {
	if p != "settlements/"+leagueID+"/a.json" {
		return nil, domain.ErrNotFound
	}
	return []byte(`{"anyFailed":false}`), nil
}

func TestSettlementReports(t *testing.T) {
	h := newLeagueHandler(&fakePicks{}, &fakeScores{}, &fakeFinalizer{})
	assert.Equal(t, http.StatusNotFound, do(h.ListSettlementReports, http.MethodGet, "/", "", "id", "l1").Code)

	h = NewLeagueHandler(&fakePicks{}, &fakeScores{}, &fakeFinalizer{}, fakeReports{}, discardLogger())
	rec := do(h.ListSettlementReports, http.MethodGet, "/", "", "id", "l1")
	assert.Contains(t, rec.Body.String(), "settlements/l1/a.json")

	rec = do(h.GetSettlementReport, http.MethodGet, "/?path=settlements/l1/a.json", "", "id", "l1")
	assert.JSONEq(t, `{"anyFailed":false}`, rec.Body.String())

	rec = do(h.GetSettlementReport, http.MethodGet, "/?path=settlements/l2/a.json", "", "id", "l1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeBridge struct {
	clientID string
	req      service.InitiateRequest
	events   []domain.WebhookEvent
	err      error
}

func (f *fakeBridge) Initiate(_ context.Context, clientID string, req service.InitiateRequest) (domain.TransferRecord, error) {
	f.clientID, f.req = clientID, req
	if f.err != nil {
		return domain.TransferRecord{}, f.err
	}
	return domain.TransferRecord{ID: "t-1", Amount: decimal.RequireFromString(req.Amount), Status: domain.TransferPending}, nil
}

func (f *fakeBridge) Get(_ context.Context, id string) (domain.TransferRecord, error) {
	if id != "t-1" {
		return domain.TransferRecord{}, domain.ErrNotFound
	}
	return domain.TransferRecord{ID: id, Status: domain.TransferAttesting}, nil
}

func (f *fakeBridge) ListByUser(_ context.Context, userID string, opts domain.ListOpts, withBalance bool) (service.TransferList, error) {
	out := service.TransferList{Transfers: []domain.TransferRecord{{ID: "t-1", UserID: userID}}}
	if withBalance {
		out.BalanceFormatted = "12.5"
	}
	return out, nil
}

func (f *fakeBridge) HandleWebhook(_ context.Context, evt domain.WebhookEvent) (bool, error) {
	f.events = append(f.events, evt)
	return true, f.err
}

type fakeReadiness struct {
	q service.ReadinessQuery
}

func (f *fakeReadiness) Check(_ context.Context, q service.ReadinessQuery) (domain.Readiness, error) {
	f.q = q
	if q.UserID == "" && q.WalletAddress == "" {
		return domain.Readiness{}, domain.ErrValidation
	}
	return domain.Readiness{Ready: true, ProxyStatus: domain.ProxyReady}, nil
}

func TestInitiateTransfer(t *testing.T) {
	b := &fakeBridge{}
	h := NewBridgeHandler(b, &fakeReadiness{}, nil, nil, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/bridge/transfers", strings.NewReader(`{"amount":"25","userId":"u1"}`))
	req.Header.Set("Idempotency-Key", "idem-1")
	req.RemoteAddr = "192.0.2.1:4000"
	rec := httptest.NewRecorder()
	h.Initiate(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "idem-1", b.req.IdempotencyKey)
	assert.Equal(t, "192.0.2.1", b.clientID)
	assert.Equal(t, "pending", decode(t, rec)["status"])

	b.err = fmt.Errorf("bridge_service: client x: %w", domain.ErrRateLimited)
	rec = do(h.Initiate, http.MethodPost, "/", `{"amount":"1"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestGetAndListTransfers(t *testing.T) {
	h := NewBridgeHandler(&fakeBridge{}, &fakeReadiness{}, nil, nil, discardLogger())

	assert.Equal(t, http.StatusOK, do(h.GetTransfer, http.MethodGet, "/", "", "id", "t-1").Code)
	assert.Equal(t, http.StatusNotFound, do(h.GetTransfer, http.MethodGet, "/", "", "id", "t-2").Code)

	assert.Equal(t, http.StatusBadRequest, do(h.ListTransfers, http.MethodGet, "/api/bridge/transfers", "").Code)
	rec := do(h.ListTransfers, http.MethodGet, "/api/bridge/transfers?user_id=u1&with_balance=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12.5", decode(t, rec)["balanceFormatted"])
}

func TestWebhook(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	b := &fakeBridge{}
	h := NewBridgeHandler(b, &fakeReadiness{}, crypto.NewWebhookVerifier("whsec", ""), m, discardLogger())
	body := `{"transferId":"t-1","status":"complete","txHashTo":"0xabc"}`

	req := httptest.NewRequest(http.MethodPost, "/api/bridge/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookEvents.WithLabelValues("unauthorized")))
	assert.Empty(t, b.events)

	req = httptest.NewRequest(http.MethodPost, "/api/bridge/webhook", strings.NewReader(body))
	req.Header.Set("X-Webhook-Secret", "whsec")
	rec = httptest.NewRecorder()
	h.Webhook(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	require.Len(t, b.events, 1)
	assert.Equal(t, "0xabc", b.events[0].TxHashTo)

	req = httptest.NewRequest(http.MethodPost, "/api/bridge/webhook", strings.NewReader(`not json`))
	req.Header.Set("X-Webhook-Secret", "whsec")
	rec = httptest.NewRecorder()
	h.Webhook(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadiness(t *testing.T) {
	r := &fakeReadiness{}
	h := NewBridgeHandler(&fakeBridge{}, r, nil, nil, discardLogger())

	rec := do(h.Readiness, http.MethodGet, "/api/bridge/readiness?wallet_address=0xabc&required_amount=10&league_id=l1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.ReadinessQuery{WalletAddress: "0xabc", RequiredAmount: "10", LeagueID: "l1"}, r.q)
	assert.Equal(t, true, decode(t, rec)["ready"])

	assert.Equal(t, http.StatusBadRequest, do(h.Readiness, http.MethodGet, "/api/bridge/readiness", "").Code)
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler("full", map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	}, discardLogger())
	rec := do(h.HealthCheck, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	h = NewHealthHandler("full", map[string]HealthCheck{
		"redis": func(context.Context) error { return fmt.Errorf("connection refused") },
	}, discardLogger())
	rec = do(h.HealthCheck, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}
