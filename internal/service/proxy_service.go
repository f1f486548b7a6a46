package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// ProxyDeriver computes a wallet's destination-chain proxy address.
type ProxyDeriver interface {
	DeriveProxy(ctx context.Context, wallet string) (string, error)
}

// ProxyService looks up and provisions per-user destination addresses.
type ProxyService struct {
	proxies domain.ProxyStore
	deriver ProxyDeriver
	now     func() time.Time
	logger  *slog.Logger
}

// NewProxyService creates a ProxyService. With a nil deriver new proxies
// stay pending until marked ready out of band.
func NewProxyService(proxies domain.ProxyStore, deriver ProxyDeriver, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		proxies: proxies,
		deriver: deriver,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// Lookup finds a proxy by user ID, falling back to wallet address.
func (s *ProxyService) Lookup(ctx context.Context, userID, wallet string) (domain.UserProxy, error) {
	if userID != "" {
		p, err := s.proxies.GetByUser(ctx, userID)
		if err == nil || !errors.Is(err, domain.ErrNotFound) || wallet == "" {
			return p, err
		}
	}
	if wallet == "" {
		return domain.UserProxy{}, fmt.Errorf("proxy_service: user or wallet required: %w", domain.ErrValidation)
	}
	return s.proxies.GetByWallet(ctx, wallet)
}

// EnsureProxy returns the user's proxy, creating and provisioning one when
// none exists. Provisioning errors are stored on the row, not returned.
func (s *ProxyService) EnsureProxy(ctx context.Context, userID, wallet string) (domain.UserProxy, error) {
	existing, err := s.Lookup(ctx, userID, wallet)
	switch {
	case err == nil:
		if existing.Status == domain.ProxyPending && existing.ProxyAddress == "" {
			return s.provision(ctx, existing), nil
		}
		return existing, nil
	case !errors.Is(err, domain.ErrNotFound):
		return domain.UserProxy{}, fmt.Errorf("proxy_service: lookup %s: %w", userID, err)
	}
	if wallet == "" {
		return domain.UserProxy{}, fmt.Errorf("proxy_service: wallet required to create proxy: %w", domain.ErrValidation)
	}

	now := s.now()
	created, err := s.proxies.Create(ctx, domain.UserProxy{
		ID:            uuid.NewString(),
		UserID:        userID,
		WalletAddress: wallet,
		Status:        domain.ProxyPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return domain.UserProxy{}, fmt.Errorf("proxy_service: create %s: %w", userID, err)
	}
	return s.provision(ctx, created), nil
}

func (s *ProxyService) provision(ctx context.Context, p domain.UserProxy) domain.UserProxy {
	if s.deriver == nil {
		return p
	}
	addr, err := s.deriver.DeriveProxy(ctx, p.WalletAddress)
	if err != nil {
		if markErr := s.MarkError(ctx, p.ID, err.Error()); markErr != nil {
			s.logger.WarnContext(ctx, "proxy_service: mark error failed",
				slog.String("proxy_id", p.ID),
				slog.String("error", markErr.Error()),
			)
		}
		p.Status = domain.ProxyError
		p.Error = err.Error()
		return p
	}
	if err := s.MarkReady(ctx, p.ID, addr); err != nil {
		s.logger.WarnContext(ctx, "proxy_service: mark ready failed",
			slog.String("proxy_id", p.ID),
			slog.String("error", err.Error()),
		)
		return p
	}
	p.Status = domain.ProxyReady
	p.ProxyAddress = addr
	p.Error = ""
	return p
}

// MarkReady records the provisioned address.
func (s *ProxyService) MarkReady(ctx context.Context, id, address string) error {
	if err := s.proxies.UpdateStatus(ctx, id, domain.ProxyReady, address, ""); err != nil {
		return fmt.Errorf("proxy_service: mark ready %s: %w", id, err)
	}
	return nil
}

// MarkError records a provisioning failure.
func (s *ProxyService) MarkError(ctx context.Context, id, msg string) error {
	if err := s.proxies.UpdateStatus(ctx, id, domain.ProxyError, "", msg); err != nil {
		return fmt.Errorf("proxy_service: mark error %s: %w", id, err)
	}
	return nil
}
