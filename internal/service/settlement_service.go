package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
	"github.com/alanyoungcy/fantasymarket/internal/metrics"
)

// SettlementAction is what the reconciler did for one user.
type SettlementAction string

const (
	ActionMint           SettlementAction = "mint"
	ActionBurn           SettlementAction = "burn"
	ActionNone           SettlementAction = "none"
	ActionAlreadySettled SettlementAction = "already_settled"
)

// SettlementResult reports one user's outcome within a finalize run.
type SettlementResult struct {
	UserID         string           `json:"userId"`
	Delta          int64            `json:"delta"`
	Action         SettlementAction `json:"action"`
	TxHash         string           `json:"txHash,omitempty"`
	Error          string           `json:"error,omitempty"`
	AlreadySettled bool             `json:"alreadySettled,omitempty"`
}

// FinalizeResult is the aggregate outcome of a finalize run.
type FinalizeResult struct {
	LeagueID   string              `json:"leagueId"`
	Status     domain.LeagueStatus `json:"status"`
	Results    []SettlementResult  `json:"results"`
	AnyFailed  bool                `json:"anyFailed"`
	ReportPath string              `json:"reportPath,omitempty"`
	FinishedAt time.Time           `json:"finishedAt"`
}

// Scorer recomputes a league's scores.
type Scorer interface {
	ComputeAndStore(ctx context.Context, leagueID string) (ScoreRun, error)
}

// ReportArchiver stores a finalize report and returns its path.
type ReportArchiver interface {
	ArchiveSettlement(ctx context.Context, leagueID string, report any, at time.Time) (string, error)
}

// Alerter delivers operator notifications.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SettlementService reconciles league scores against on-chain reward token
// balances by minting or burning the unsettled delta.
type SettlementService struct {
	leagues domain.LeagueStore
	scores  domain.ScoreStore
	scorer  Scorer
	chain   domain.ChainClient
	locks   domain.LockManager
	bus     domain.SignalBus
	audit   domain.AuditStore
	reports ReportArchiver
	alerts  Alerter
	metrics *metrics.Metrics
	retry   RetryPolicy
	lockTTL time.Duration
	sleep   Sleeper
	now     func() time.Time
	logger  *slog.Logger
}

// SettlementDeps groups the optional collaborators of a SettlementService.
// Nil members are skipped.
type SettlementDeps struct {
	Locks   domain.LockManager
	Bus     domain.SignalBus
	Audit   domain.AuditStore
	Reports ReportArchiver
	Alerts  Alerter
	Metrics *metrics.Metrics
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(
	leagues domain.LeagueStore,
	scores domain.ScoreStore,
	scorer Scorer,
	chain domain.ChainClient,
	deps SettlementDeps,
	retry RetryPolicy,
	lockTTL time.Duration,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		leagues: leagues,
		scores:  scores,
		scorer:  scorer,
		chain:   chain,
		locks:   deps.Locks,
		bus:     deps.Bus,
		audit:   deps.Audit,
		reports: deps.Reports,
		alerts:  deps.Alerts,
		metrics: deps.Metrics,
		retry:   retry,
		lockTTL: lockTTL,
		sleep:   sleepCtx,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// WithSleeper replaces the backoff sleeper.
func (s *SettlementService) WithSleeper(sleep Sleeper) *SettlementService {
	s.sleep = sleep
	return s
}

// Finalize rescores the league and settles every user's delta on-chain.
// Users are processed sequentially in the order the scores are listed; one
// user's failure does not stop the rest. The league is only marked
// finalized when no user failed.
func (s *SettlementService) Finalize(ctx context.Context, leagueID string) (FinalizeResult, error) {
	hold := func(context.Context) error { return nil }
	if s.locks != nil {
		lock, err := s.locks.Acquire(ctx, "finalize:"+leagueID, s.lockTTL)
		if err != nil {
			return FinalizeResult{}, fmt.Errorf("settlement_service: lock %s: %w", leagueID, err)
		}
		defer lock.Release()
		hold = func(ctx context.Context) error { return lock.Extend(ctx, s.lockTTL) }
	}

	if _, err := s.scorer.ComputeAndStore(ctx, leagueID); err != nil {
		return FinalizeResult{}, fmt.Errorf("settlement_service: score %s: %w", leagueID, err)
	}
	if err := s.leagues.UpdateStatus(ctx, leagueID, domain.LeagueStatusFinalizing); err != nil {
		return FinalizeResult{}, fmt.Errorf("settlement_service: mark finalizing %s: %w", leagueID, err)
	}

	scores, err := s.scores.ListByLeague(ctx, leagueID)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("settlement_service: list scores %s: %w", leagueID, err)
	}

	out := FinalizeResult{
		LeagueID: leagueID,
		Status:   domain.LeagueStatusFinalizing,
		Results:  make([]SettlementResult, 0, len(scores)),
	}
	failed := 0
	for i, sc := range scores {
		// Each user gets a fresh lock ttl. A lost lock means another run may
		// be settling the same rows, so nothing further is submitted.
		if err := hold(ctx); err != nil {
			s.logger.ErrorContext(ctx, "settlement_service: finalize lock lost",
				slog.String("league_id", leagueID),
				slog.Int("remaining", len(scores)-i),
				slog.String("error", err.Error()),
			)
			for _, rest := range scores[i:] {
				out.Results = append(out.Results, SettlementResult{
					UserID: rest.UserID,
					Delta:  rest.Delta(),
					Action: ActionNone,
					Error:  fmt.Sprintf("finalize lock lost: %v", err),
				})
				failed++
			}
			break
		}
		res := s.settleUser(ctx, sc, hold)
		if res.Error != "" {
			failed++
		}
		out.Results = append(out.Results, res)
	}
	out.AnyFailed = failed > 0
	out.FinishedAt = s.now()

	if !out.AnyFailed {
		if err := s.leagues.UpdateStatus(ctx, leagueID, domain.LeagueStatusFinalized); err != nil {
			return out, fmt.Errorf("settlement_service: mark finalized %s: %w", leagueID, err)
		}
		out.Status = domain.LeagueStatusFinalized
	}

	s.afterFinalize(ctx, &out, failed)
	return out, nil
}

func actionFor(delta int64) SettlementAction {
	switch {
	case delta > 0:
		return ActionMint
	case delta < 0:
		return ActionBurn
	}
	return ActionNone
}

func (s *SettlementService) settleUser(ctx context.Context, sc domain.Score, hold func(context.Context) error) SettlementResult {
	res := SettlementResult{UserID: sc.UserID, Delta: sc.Delta(), Action: ActionNone}

	// A row left sent carries a transaction that may already have moved
	// tokens. It is resolved before anything new is submitted.
	if sc.SettlementStatus == domain.SettlementSent && sc.SettlementTxHash != "" {
		confirmed, err := s.resolveSent(ctx, sc)
		if err != nil {
			res.Action = actionFor(sc.SettlementTarget - sc.SettledPoints)
			res.TxHash = sc.SettlementTxHash
			return s.unresolved(ctx, sc, res, sc.SettlementTxHash, sc.SettlementTarget, err)
		}
		if confirmed {
			res.Action = actionFor(sc.SettlementTarget - sc.SettledPoints)
			res.TxHash = sc.SettlementTxHash
			sc.SettledPoints = sc.SettlementTarget
			sc.SettlementStatus = domain.SettlementConfirmed
			if sc.Delta() == 0 {
				s.metrics.Settlement(string(res.Action), "confirmed")
				return res
			}
			if err := hold(ctx); err != nil {
				return s.fail(ctx, sc, res, fmt.Errorf("finalize lock lost: %w", err))
			}
		}
	}

	delta := sc.Delta()
	if delta == 0 {
		if sc.SettlementStatus == domain.SettlementConfirmed || sc.SettlementStatus == domain.SettlementSent {
			res.Action = ActionAlreadySettled
			res.AlreadySettled = true
		}
		return res
	}

	submit := s.chain.SubmitMint
	res.Action = ActionMint
	amount := delta
	if delta < 0 {
		submit = s.chain.SubmitBurn
		res.Action = ActionBurn
		amount = -delta
	}

	address, err := s.settlementAddress(ctx, sc.LeagueID, sc.UserID)
	if err != nil {
		return s.fail(ctx, sc, res, err)
	}

	var txHash string
	err = Retry(ctx, s.retry, s.sleep, func(ctx context.Context) error {
		h, err := submit(ctx, address, amount)
		if err != nil {
			s.logger.WarnContext(ctx, "settlement_service: submit failed",
				slog.String("league_id", sc.LeagueID),
				slog.String("user_id", sc.UserID),
				slog.String("action", string(res.Action)),
				slog.String("error", err.Error()),
			)
			return err
		}
		txHash = h
		return nil
	})
	if err != nil {
		return s.fail(ctx, sc, res, fmt.Errorf("submit %s: %w", res.Action, err))
	}
	res.TxHash = txHash

	target := sc.Points
	sent := domain.SettlementSent
	if err := s.scores.PatchSettlement(ctx, sc.LeagueID, sc.UserID, domain.SettlementPatch{
		Status: &sent,
		TxHash: &txHash,
		Target: &target,
	}); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: mark sent failed",
			slog.String("user_id", sc.UserID),
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
	}

	if err := s.chain.WaitForConfirmation(ctx, txHash); err != nil {
		if errors.Is(err, domain.ErrTxReverted) {
			return s.fail(ctx, sc, res, fmt.Errorf("confirm %s: %w", txHash, err))
		}
		return s.unresolved(ctx, sc, res, txHash, target, fmt.Errorf("confirm %s: %w", txHash, err))
	}

	if err := s.recordConfirmed(ctx, sc, txHash, target); err != nil {
		return s.unresolved(ctx, sc, res, txHash, target, fmt.Errorf("confirmed on-chain but not recorded: %w", err))
	}

	s.metrics.Settlement(string(res.Action), "confirmed")
	s.logger.InfoContext(ctx, "settlement_service: user settled",
		slog.String("league_id", sc.LeagueID),
		slog.String("user_id", sc.UserID),
		slog.String("action", string(res.Action)),
		slog.Int64("delta", delta),
		slog.String("tx_hash", txHash),
	)
	return res
}

// resolveSent waits on the transaction stored on a sent row. It reports
// true once the transaction is confirmed and recorded, and false when it
// reverted and the delta is still owed.
func (s *SettlementService) resolveSent(ctx context.Context, sc domain.Score) (bool, error) {
	err := s.chain.WaitForConfirmation(ctx, sc.SettlementTxHash)
	if errors.Is(err, domain.ErrTxReverted) {
		s.logger.WarnContext(ctx, "settlement_service: previous transaction reverted",
			slog.String("league_id", sc.LeagueID),
			slog.String("user_id", sc.UserID),
			slog.String("tx_hash", sc.SettlementTxHash),
		)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("previous transaction %s unresolved: %w", sc.SettlementTxHash, err)
	}
	if err := s.recordConfirmed(ctx, sc, sc.SettlementTxHash, sc.SettlementTarget); err != nil {
		return false, fmt.Errorf("previous transaction %s confirmed on-chain but not recorded: %w", sc.SettlementTxHash, err)
	}
	s.logger.InfoContext(ctx, "settlement_service: recorded previous transaction",
		slog.String("league_id", sc.LeagueID),
		slog.String("user_id", sc.UserID),
		slog.String("tx_hash", sc.SettlementTxHash),
		slog.Int64("settled_points", sc.SettlementTarget),
	)
	return true, nil
}

func (s *SettlementService) recordConfirmed(ctx context.Context, sc domain.Score, txHash string, target int64) error {
	confirmed := domain.SettlementConfirmed
	noError := ""
	return s.scores.PatchSettlement(ctx, sc.LeagueID, sc.UserID, domain.SettlementPatch{
		SettledPoints: &target,
		Status:        &confirmed,
		TxHash:        &txHash,
		Error:         &noError,
	})
}

// unresolved records a submitted transaction whose outcome is not known
// yet. The row stays sent with its hash and target so the next run resolves
// that transaction instead of submitting the delta again.
func (s *SettlementService) unresolved(ctx context.Context, sc domain.Score, res SettlementResult, txHash string, target int64, cause error) SettlementResult {
	res.Error = cause.Error()
	sent := domain.SettlementSent
	msg := res.Error
	if err := s.scores.PatchSettlement(ctx, sc.LeagueID, sc.UserID, domain.SettlementPatch{
		Status: &sent,
		TxHash: &txHash,
		Target: &target,
		Error:  &msg,
	}); err != nil {
		s.logger.ErrorContext(ctx, "settlement_service: record pending transaction failed",
			slog.String("user_id", sc.UserID),
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
	}
	s.metrics.Settlement(string(res.Action), "unresolved")
	s.logger.ErrorContext(ctx, "settlement_service: settlement unresolved",
		slog.String("league_id", sc.LeagueID),
		slog.String("user_id", sc.UserID),
		slog.String("tx_hash", txHash),
		slog.String("error", res.Error),
	)
	return res
}

func (s *SettlementService) settlementAddress(ctx context.Context, leagueID, userID string) (string, error) {
	member, err := s.leagues.GetMember(ctx, leagueID, userID)
	if err != nil {
		return "", fmt.Errorf("lookup member: %w", err)
	}
	if member.SettlementAddress != "" {
		return member.SettlementAddress, nil
	}
	if member.WalletAddress != "" {
		return member.WalletAddress, nil
	}
	return "", fmt.Errorf("no settlement address for user %s: %w", userID, domain.ErrValidation)
}

// fail records a failed settlement. SettledPoints is left untouched so the
// delta stays visible to the next run.
func (s *SettlementService) fail(ctx context.Context, sc domain.Score, res SettlementResult, cause error) SettlementResult {
	res.Error = cause.Error()
	status := domain.SettlementFailed
	msg := res.Error
	if err := s.scores.PatchSettlement(ctx, sc.LeagueID, sc.UserID, domain.SettlementPatch{
		Status: &status,
		Error:  &msg,
	}); err != nil {
		s.logger.ErrorContext(ctx, "settlement_service: record failure failed",
			slog.String("user_id", sc.UserID),
			slog.String("error", err.Error()),
		)
	}
	s.metrics.Settlement(string(res.Action), "failed")
	s.logger.WarnContext(ctx, "settlement_service: user settlement failed",
		slog.String("league_id", sc.LeagueID),
		slog.String("user_id", sc.UserID),
		slog.Int64("delta", res.Delta),
		slog.String("error", res.Error),
	)
	return res
}

func (s *SettlementService) afterFinalize(ctx context.Context, out *FinalizeResult, failed int) {
	if s.reports != nil {
		path, err := s.reports.ArchiveSettlement(ctx, out.LeagueID, out, out.FinishedAt)
		if err != nil {
			s.logger.WarnContext(ctx, "settlement_service: archive report failed",
				slog.String("league_id", out.LeagueID),
				slog.String("error", err.Error()),
			)
		} else {
			out.ReportPath = path
		}
	}

	if s.bus != nil {
		evt, _ := json.Marshal(domain.SettlementEvent{
			LeagueID:  out.LeagueID,
			Settled:   len(out.Results) - failed,
			Failed:    failed,
			AnyFailed: out.AnyFailed,
			At:        out.FinishedAt,
		})
		if err := s.bus.Publish(ctx, domain.ChannelSettlements, evt); err != nil {
			s.logger.WarnContext(ctx, "settlement_service: publish event failed",
				slog.String("league_id", out.LeagueID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, "league_finalize", map[string]any{
			"league_id": out.LeagueID,
			"users":     len(out.Results),
			"failed":    failed,
			"status":    string(out.Status),
			"report":    out.ReportPath,
		}); err != nil {
			s.logger.WarnContext(ctx, "settlement_service: audit log failed",
				slog.String("error", err.Error()),
			)
		}
	}

	if out.AnyFailed && s.alerts != nil {
		msg := fmt.Sprintf("League %s: %d of %d settlements failed; league left %s.",
			out.LeagueID, failed, len(out.Results), out.Status)
		if err := s.alerts.Notify(ctx, "settlement_failed", "Settlement failures", msg); err != nil {
			s.logger.WarnContext(ctx, "settlement_service: notify failed",
				slog.String("error", err.Error()),
			)
		}
	}
}
