package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// ReadinessQuery identifies the user to check. One of UserID and
// WalletAddress is required. RequiredAmount overrides the league entry fee.
type ReadinessQuery struct {
	UserID         string
	WalletAddress  string
	RequiredAmount string
	LeagueID       string
}

// ReadinessService reports whether a user's destination proxy is
// provisioned and funded.
type ReadinessService struct {
	proxies  *ProxyService
	leagues  domain.LeagueStore
	balances domain.BalanceReader
	logger   *slog.Logger
}

// NewReadinessService creates a ReadinessService.
func NewReadinessService(proxies *ProxyService, leagues domain.LeagueStore, balances domain.BalanceReader, logger *slog.Logger) *ReadinessService {
	return &ReadinessService{
		proxies:  proxies,
		leagues:  leagues,
		balances: balances,
		logger:   logger,
	}
}

// Check evaluates readiness. Only bad input and store failures are
// returned as errors; every other outcome is a not-ready result with a
// message.
func (s *ReadinessService) Check(ctx context.Context, q ReadinessQuery) (domain.Readiness, error) {
	if q.UserID == "" && q.WalletAddress == "" {
		return domain.Readiness{}, fmt.Errorf("readiness_service: user id or wallet address required: %w", domain.ErrValidation)
	}
	required, err := s.requiredAmount(ctx, q)
	if err != nil {
		return domain.Readiness{}, err
	}

	proxy, err := s.proxies.Lookup(ctx, q.UserID, q.WalletAddress)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Readiness{
			Message: "No proxy wallet found. Set up your wallet before joining.",
		}, nil
	}
	if err != nil {
		return domain.Readiness{}, fmt.Errorf("readiness_service: lookup proxy: %w", err)
	}

	out := domain.Readiness{ProxyAddress: proxy.ProxyAddress, ProxyStatus: proxy.Status}
	switch {
	case proxy.Status == domain.ProxyError:
		out.Message = "Proxy wallet setup failed"
		if proxy.Error != "" {
			out.Message += ": " + proxy.Error
		}
		return out, nil
	case proxy.Status != domain.ProxyReady || proxy.ProxyAddress == "":
		out.Message = "Proxy wallet setup in progress"
		return out, nil
	}

	if s.balances == nil {
		out.Retryable = true
		out.Message = "Balance checks are not configured"
		return out, nil
	}
	raw, err := s.balances.BalanceOf(ctx, proxy.ProxyAddress)
	if err != nil {
		s.logger.WarnContext(ctx, "readiness_service: balance read failed",
			slog.String("proxy", proxy.ProxyAddress),
			slog.String("error", err.Error()),
		)
		out.Retryable = true
		out.Message = "Unable to verify balance right now. Try again shortly."
		return out, nil
	}
	balance := decimal.NewFromBigInt(raw, -s.balances.Decimals())
	out.Balance = raw.String()
	out.BalanceFormatted = formatUnits(raw, s.balances.Decimals())

	if balance.LessThan(required) {
		out.Message = fmt.Sprintf("Insufficient balance: have %s, need %s (short %s)",
			balance.String(), required.String(), required.Sub(balance).String())
		return out, nil
	}
	out.Ready = true
	out.Message = "Ready"
	return out, nil
}

func (s *ReadinessService) requiredAmount(ctx context.Context, q ReadinessQuery) (decimal.Decimal, error) {
	if raw := strings.TrimSpace(q.RequiredAmount); raw != "" {
		amt, err := decimal.NewFromString(raw)
		if err != nil || amt.IsNegative() {
			return decimal.Decimal{}, fmt.Errorf("readiness_service: invalid required amount %q: %w", raw, domain.ErrValidation)
		}
		return amt, nil
	}
	if q.LeagueID != "" {
		league, err := s.leagues.GetByID(ctx, q.LeagueID)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("readiness_service: get league %s: %w", q.LeagueID, err)
		}
		return league.EntryFee, nil
	}
	return decimal.Zero, nil
}

// formatUnits renders a base-unit amount with the token's decimals.
func formatUnits(v *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(v, -decimals).String()
}
