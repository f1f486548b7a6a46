package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
	"github.com/alanyoungcy/fantasymarket/internal/metrics"
)

// BridgeSettings are the orchestrator's limits and defaults.
type BridgeSettings struct {
	SourceChain         string
	DestinationChain    string
	MaxAmount           decimal.Decimal
	RateLimit           int
	RateWindow          time.Duration
	FallbackDestination string
	PollInterval        time.Duration
	PollMaxAttempts     int
}

// InitiateRequest is a client's request to bridge funds.
type InitiateRequest struct {
	Amount             string `json:"amount"`
	DestinationAddress string `json:"destinationAddress,omitempty"`
	UserID             string `json:"userId,omitempty"`
	WalletAddress      string `json:"walletAddress,omitempty"`
	IdempotencyKey     string `json:"idempotencyKey,omitempty"`
}

// TransferList is a user's transfers, optionally with their live
// destination balance.
type TransferList struct {
	Transfers        []domain.TransferRecord `json:"transfers"`
	Balance          string                  `json:"balance,omitempty"`
	BalanceFormatted string                  `json:"balanceFormatted,omitempty"`
}

// BridgeDeps groups the optional collaborators of a BridgeService.
type BridgeDeps struct {
	Balances domain.BalanceReader
	Bus      domain.SignalBus
	Audit    domain.AuditStore
	Alerts   Alerter
	Metrics  *metrics.Metrics
}

// BridgeService orchestrates cross-chain transfers: it persists the record
// up front, hands the provider call to a background job and reconciles
// worker, poll and webhook updates through ApplyTransition.
type BridgeService struct {
	transfers domain.TransferStore
	proxies   *ProxyService
	provider  domain.BridgeProvider
	limiter   domain.RateLimiter
	jobs      domain.JobQueue
	balances  domain.BalanceReader
	bus       domain.SignalBus
	audit     domain.AuditStore
	alerts    Alerter
	metrics   *metrics.Metrics
	cfg       BridgeSettings
	now       func() time.Time
	logger    *slog.Logger
}

// NewBridgeService creates a BridgeService.
func NewBridgeService(
	transfers domain.TransferStore,
	proxies *ProxyService,
	provider domain.BridgeProvider,
	limiter domain.RateLimiter,
	jobs domain.JobQueue,
	deps BridgeDeps,
	cfg BridgeSettings,
	logger *slog.Logger,
) *BridgeService {
	return &BridgeService{
		transfers: transfers,
		proxies:   proxies,
		provider:  provider,
		limiter:   limiter,
		jobs:      jobs,
		balances:  deps.Balances,
		bus:       deps.Bus,
		audit:     deps.Audit,
		alerts:    deps.Alerts,
		metrics:   deps.Metrics,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// Initiate validates and persists a transfer in pending state and enqueues
// the provider call. A request whose idempotency key was seen before returns
// the stored record untouched.
func (s *BridgeService) Initiate(ctx context.Context, clientID string, req InitiateRequest) (domain.TransferRecord, error) {
	if err := s.checkRate(ctx, clientID); err != nil {
		return domain.TransferRecord{}, err
	}

	amount, err := s.parseAmount(req.Amount)
	if err != nil {
		return domain.TransferRecord{}, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		existing, err := s.transfers.GetByIdempotencyKey(ctx, key)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.TransferRecord{}, fmt.Errorf("bridge_service: lookup idempotency key: %w", err)
		}
	}

	dest, err := s.resolveDestination(ctx, req)
	if err != nil {
		return domain.TransferRecord{}, err
	}

	now := s.now()
	rec := domain.TransferRecord{
		ID:                 uuid.NewString(),
		UserID:             req.UserID,
		Amount:             amount,
		SourceChain:        s.cfg.SourceChain,
		DestinationChain:   s.cfg.DestinationChain,
		DestinationAddress: dest,
		Status:             domain.TransferPending,
		IdempotencyKey:     key,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	stored, created, err := s.transfers.CreateOrGet(ctx, rec)
	if err != nil {
		return domain.TransferRecord{}, fmt.Errorf("bridge_service: create transfer: %w", err)
	}
	if !created {
		return stored, nil
	}

	s.logAudit(ctx, "bridge_initiate", map[string]any{
		"transfer_id": stored.ID,
		"user_id":     stored.UserID,
		"amount":      stored.Amount.String(),
		"destination": stored.DestinationAddress,
	})

	if err := s.jobs.EnqueueTransfer(ctx, stored.ID); err != nil {
		s.logger.ErrorContext(ctx, "bridge_service: enqueue transfer failed",
			slog.String("transfer_id", stored.ID),
			slog.String("error", err.Error()),
		)
		failed, applyErr := s.ApplyTransition(ctx, stored.ID, domain.TransferUpdate{
			Status: domain.TransferFailed,
			Error:  "enqueue: " + err.Error(),
		}, domain.SourceWorker)
		if applyErr != nil {
			return stored, fmt.Errorf("bridge_service: enqueue %s: %w", stored.ID, err)
		}
		return failed, nil
	}

	s.logger.InfoContext(ctx, "bridge_service: transfer accepted",
		slog.String("transfer_id", stored.ID),
		slog.String("amount", stored.Amount.String()),
		slog.String("destination", stored.DestinationAddress),
	)
	return stored, nil
}

func (s *BridgeService) checkRate(ctx context.Context, clientID string) error {
	if s.limiter == nil || s.cfg.RateLimit <= 0 {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, "bridge:"+clientID, s.cfg.RateLimit, s.cfg.RateWindow)
	if err != nil {
		// Fail open like the HTTP middleware.
		s.logger.WarnContext(ctx, "bridge_service: rate limiter error",
			slog.String("client", clientID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !allowed {
		s.metrics.RateLimited("bridge_initiate")
		return fmt.Errorf("bridge_service: client %s: %w", clientID, domain.ErrRateLimited)
	}
	return nil
}

// amountDecimals is the USDC scale transfers are stored at.
const amountDecimals = 6

func (s *BridgeService) parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("bridge_service: amount %q is not a number: %w", raw, domain.ErrValidation)
	}
	if !amount.Equal(amount.Truncate(amountDecimals)) {
		return decimal.Decimal{}, fmt.Errorf("bridge_service: amount %q has more than %d decimals: %w", raw, amountDecimals, domain.ErrValidation)
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("bridge_service: amount must be positive: %w", domain.ErrValidation)
	}
	if !s.cfg.MaxAmount.IsZero() && amount.GreaterThan(s.cfg.MaxAmount) {
		return decimal.Decimal{}, fmt.Errorf("bridge_service: amount %s exceeds max %s: %w", amount, s.cfg.MaxAmount, domain.ErrValidation)
	}
	return amount, nil
}

// resolveDestination picks the explicit address, then the user's proxy,
// then the configured fallback.
func (s *BridgeService) resolveDestination(ctx context.Context, req InitiateRequest) (string, error) {
	if addr := strings.TrimSpace(req.DestinationAddress); addr != "" {
		if !common.IsHexAddress(addr) {
			return "", fmt.Errorf("bridge_service: invalid destination %q: %w", addr, domain.ErrValidation)
		}
		return addr, nil
	}

	if s.proxies != nil && (req.UserID != "" || req.WalletAddress != "") {
		p, err := s.proxies.EnsureProxy(ctx, req.UserID, req.WalletAddress)
		switch {
		case err == nil && p.Status == domain.ProxyReady && p.ProxyAddress != "":
			return p.ProxyAddress, nil
		case err != nil && !errors.Is(err, domain.ErrValidation):
			s.logger.WarnContext(ctx, "bridge_service: proxy lookup failed",
				slog.String("user_id", req.UserID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.cfg.FallbackDestination != "" {
		return s.cfg.FallbackDestination, nil
	}
	return "", fmt.Errorf("bridge_service: no destination address: %w", domain.ErrValidation)
}

// Execute is the background body of a transfer: it calls the provider and
// records the reported state. Provider errors mark the transfer failed.
func (s *BridgeService) Execute(ctx context.Context, transferID string) error {
	rec, err := s.transfers.GetByID(ctx, transferID)
	if err != nil {
		return fmt.Errorf("bridge_service: get %s: %w", transferID, err)
	}
	if rec.Status.Terminal() {
		return nil
	}
	if rec.ProviderRef != "" {
		// Already handed to the provider by an earlier attempt.
		_, err := s.Poll(ctx, transferID, 0)
		return err
	}

	res, err := s.provider.Initiate(ctx, domain.BridgeRequest{
		ClientRef:          rec.ID,
		Amount:             rec.Amount,
		SourceChain:        rec.SourceChain,
		DestinationChain:   rec.DestinationChain,
		DestinationAddress: rec.DestinationAddress,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "bridge_service: provider initiate failed",
			slog.String("transfer_id", transferID),
			slog.String("error", err.Error()),
		)
		_, applyErr := s.ApplyTransition(ctx, transferID, domain.TransferUpdate{
			Status: domain.TransferFailed,
			Error:  err.Error(),
		}, domain.SourceWorker)
		return applyErr
	}

	after, err := s.ApplyTransition(ctx, transferID, updateFromResult(res), domain.SourceWorker)
	if err != nil {
		return err
	}
	s.schedulePoll(ctx, after, 1)
	return nil
}

// Poll fetches the provider's view of a transfer and applies it. attempt is
// the number of polls already made; the next poll is scheduled until the
// transfer is terminal or the budget is spent. It reports whether the
// transfer is terminal.
func (s *BridgeService) Poll(ctx context.Context, transferID string, attempt int) (bool, error) {
	rec, err := s.transfers.GetByID(ctx, transferID)
	if err != nil {
		return false, fmt.Errorf("bridge_service: get %s: %w", transferID, err)
	}
	if rec.Status.Terminal() {
		return true, nil
	}
	if rec.ProviderRef == "" {
		return false, nil
	}

	res, err := s.provider.Status(ctx, rec.ProviderRef)
	if err != nil {
		return false, fmt.Errorf("bridge_service: provider status %s: %w", transferID, err)
	}
	after, err := s.ApplyTransition(ctx, transferID, updateFromResult(res), domain.SourcePoll)
	if err != nil {
		return false, err
	}
	s.schedulePoll(ctx, after, attempt+1)
	return after.Status.Terminal(), nil
}

func (s *BridgeService) schedulePoll(ctx context.Context, rec domain.TransferRecord, attempt int) {
	if rec.Status.Terminal() || s.jobs == nil {
		return
	}
	if s.cfg.PollMaxAttempts > 0 && attempt > s.cfg.PollMaxAttempts {
		s.logger.WarnContext(ctx, "bridge_service: poll budget exhausted",
			slog.String("transfer_id", rec.ID),
			slog.String("status", string(rec.Status)),
		)
		return
	}
	if err := s.jobs.EnqueuePoll(ctx, rec.ID, attempt, s.cfg.PollInterval); err != nil {
		s.logger.WarnContext(ctx, "bridge_service: enqueue poll failed",
			slog.String("transfer_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

// HandleWebhook applies a provider notification. Unknown transfers and
// updates to finished transfers are acknowledged without error so the
// sender stops retrying.
func (s *BridgeService) HandleWebhook(ctx context.Context, evt domain.WebhookEvent) (bool, error) {
	if strings.TrimSpace(evt.TransferID) == "" {
		s.metrics.Webhook("invalid")
		return false, fmt.Errorf("bridge_service: webhook without transfer id: %w", domain.ErrValidation)
	}

	_, err := s.ApplyTransition(ctx, evt.TransferID, domain.TransferUpdate{
		Status:      MapProviderState(evt.Status),
		BridgeState: evt.Status,
		TxHashFrom:  evt.TxHashFrom,
		TxHashTo:    evt.TxHashTo,
		Error:       evt.Error,
	}, domain.SourceWebhook)
	switch {
	case err == nil:
		s.metrics.Webhook("applied")
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		s.metrics.Webhook("unknown_transfer")
		s.logger.WarnContext(ctx, "bridge_service: webhook for unknown transfer",
			slog.String("transfer_id", evt.TransferID),
			slog.String("status", evt.Status),
		)
		return true, nil
	case errors.Is(err, domain.ErrInvalidState):
		s.metrics.Webhook("stale")
		s.logger.InfoContext(ctx, "bridge_service: webhook for finished transfer",
			slog.String("transfer_id", evt.TransferID),
			slog.String("status", evt.Status),
		)
		return true, nil
	default:
		s.metrics.Webhook("error")
		return false, err
	}
}

// ApplyTransition is the only writer of transfer status. It never moves a
// transfer backwards or out of a terminal state; a repeated terminal update
// is a no-op, a conflicting one returns ErrInvalidState.
func (s *BridgeService) ApplyTransition(ctx context.Context, id string, upd domain.TransferUpdate, source domain.TransferSource) (domain.TransferRecord, error) {
	cur, err := s.transfers.GetByID(ctx, id)
	if err != nil {
		return domain.TransferRecord{}, fmt.Errorf("bridge_service: get %s: %w", id, err)
	}
	if cur.Status.Terminal() {
		if upd.Status == cur.Status || upd.Status == "" {
			return cur, nil
		}
		return cur, fmt.Errorf("bridge_service: transfer %s is %s: %w", id, cur.Status, domain.ErrInvalidState)
	}

	upd.Status = nextStatus(cur.Status, upd.Status)
	after, err := s.transfers.Update(ctx, id, upd)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			// A concurrent writer finished the transfer first.
			latest, getErr := s.transfers.GetByID(ctx, id)
			if getErr == nil && latest.Status == upd.Status {
				return latest, nil
			}
			return latest, fmt.Errorf("bridge_service: update %s: %w", id, err)
		}
		return domain.TransferRecord{}, fmt.Errorf("bridge_service: update %s: %w", id, err)
	}

	if after.Status != cur.Status {
		s.onTransition(ctx, cur, after, source)
	}
	return after, nil
}

func (s *BridgeService) onTransition(ctx context.Context, before, after domain.TransferRecord, source domain.TransferSource) {
	s.metrics.Transition(string(before.Status), string(after.Status), string(source))
	s.logger.InfoContext(ctx, "bridge_service: transfer status changed",
		slog.String("transfer_id", after.ID),
		slog.String("from", string(before.Status)),
		slog.String("to", string(after.Status)),
		slog.String("source", string(source)),
	)

	if s.bus != nil {
		evt, _ := json.Marshal(domain.TransferEvent{
			TransferID: after.ID,
			UserID:     after.UserID,
			From:       before.Status,
			To:         after.Status,
			Source:     source,
			At:         s.now(),
		})
		if err := s.bus.Publish(ctx, domain.ChannelTransfers, evt); err != nil {
			s.logger.WarnContext(ctx, "bridge_service: publish event failed",
				slog.String("transfer_id", after.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logAudit(ctx, "bridge_transition", map[string]any{
		"transfer_id": after.ID,
		"from":        string(before.Status),
		"to":          string(after.Status),
		"source":      string(source),
	})

	if after.Status == domain.TransferFailed && s.alerts != nil {
		msg := fmt.Sprintf("Transfer %s of %s to %s failed: %s",
			after.ID, after.Amount, after.DestinationAddress, after.Error)
		if err := s.alerts.Notify(ctx, "transfer_failed", "Bridge transfer failed", msg); err != nil {
			s.logger.WarnContext(ctx, "bridge_service: notify failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

// Get returns one transfer.
func (s *BridgeService) Get(ctx context.Context, id string) (domain.TransferRecord, error) {
	rec, err := s.transfers.GetByID(ctx, id)
	if err != nil {
		return domain.TransferRecord{}, fmt.Errorf("bridge_service: get %s: %w", id, err)
	}
	return rec, nil
}

// ListByUser returns a user's transfers, newest first. With withBalance the
// live balance of the user's proxy is attached when it can be read.
func (s *BridgeService) ListByUser(ctx context.Context, userID string, opts domain.ListOpts, withBalance bool) (TransferList, error) {
	if userID == "" {
		return TransferList{}, fmt.Errorf("bridge_service: user id required: %w", domain.ErrValidation)
	}
	recs, err := s.transfers.ListByUser(ctx, userID, opts)
	if err != nil {
		return TransferList{}, fmt.Errorf("bridge_service: list %s: %w", userID, err)
	}
	out := TransferList{Transfers: recs}
	if out.Transfers == nil {
		out.Transfers = []domain.TransferRecord{}
	}
	if !withBalance || s.balances == nil || s.proxies == nil {
		return out, nil
	}

	p, err := s.proxies.Lookup(ctx, userID, "")
	if err != nil || p.ProxyAddress == "" {
		return out, nil
	}
	bal, err := s.balances.BalanceOf(ctx, p.ProxyAddress)
	if err != nil {
		s.logger.WarnContext(ctx, "bridge_service: balance read failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return out, nil
	}
	out.Balance = bal.String()
	out.BalanceFormatted = formatUnits(bal, s.balances.Decimals())
	return out, nil
}

func (s *BridgeService) logAudit(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "bridge_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func updateFromResult(res domain.BridgeResult) domain.TransferUpdate {
	return domain.TransferUpdate{
		Status:      MapProviderState(res.State),
		BridgeState: res.State,
		ProviderRef: res.ProviderRef,
		TxHashFrom:  res.TxHashFrom,
		TxHashTo:    res.TxHashTo,
		Error:       res.Error,
	}
}
