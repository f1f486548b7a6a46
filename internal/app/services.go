package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/alanyoungcy/fantasymarket/internal/crypto"
	"github.com/alanyoungcy/fantasymarket/internal/domain"
	"github.com/alanyoungcy/fantasymarket/internal/platform/bridge"
	"github.com/alanyoungcy/fantasymarket/internal/platform/chain"
	"github.com/alanyoungcy/fantasymarket/internal/queue"
	"github.com/alanyoungcy/fantasymarket/internal/service"
)

// Bridge provider breaker tuning.
const (
	breakerTripAfter = 5
	breakerOpenFor   = 30 * time.Second
)

// Services are the engine's service objects for one process.
type Services struct {
	Picks      *service.PickService
	Scores     *service.ScoreService
	Settlement *service.SettlementService // nil in worker mode
	Bridge     *service.BridgeService
	Readiness  *service.ReadinessService
	River      *river.Client[pgx.Tx]
}

// lateRunner lets the river client exist before the bridge service that
// both enqueues into it and executes its jobs.
type lateRunner struct {
	svc *service.BridgeService
}

func (r *lateRunner) Execute(ctx context.Context, transferID string) error {
	return r.svc.Execute(ctx, transferID)
}

func (r *lateRunner) Poll(ctx context.Context, transferID string, attempt int) (bool, error) {
	return r.svc.Poll(ctx, transferID, attempt)
}

// buildServices wires the services a mode needs. withWorkers registers the
// river workers; withSettlement loads the operator key and connects the
// reward-token chain client.
func (a *App) buildServices(ctx context.Context, deps *Dependencies, withWorkers, withSettlement bool) (*Services, func(), error) {
	cfg := a.cfg
	logger := a.logger
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Services, func(), error) {
		cleanup()
		return nil, nil, err
	}

	out := &Services{}

	// --- Proxies and destination balances ---
	var deriver service.ProxyDeriver
	if cfg.Chain.ProxyFactory != "" {
		d, err := chain.NewProxyDeriver(cfg.Chain.ProxyFactory, cfg.Chain.ProxyInitCodeHash)
		if err != nil {
			return fail(fmt.Errorf("services: proxy deriver: %w", err))
		}
		deriver = d
	}
	proxies := service.NewProxyService(deps.Proxies, deriver, logger.With(slog.String("component", "proxy_service")))

	var balances domain.BalanceReader
	if cfg.Chain.DestinationRPCURL != "" {
		network, ok := chain.Lookup(cfg.Chain.DestinationChain)
		if !ok {
			return fail(fmt.Errorf("services: unknown destination chain %q", cfg.Chain.DestinationChain))
		}
		dest, err := chain.Dial(ctx, cfg.Chain.DestinationRPCURL)
		if err != nil {
			return fail(fmt.Errorf("services: destination rpc: %w", err))
		}
		closers = append(closers, dest.Close)
		balances = chain.NewBalanceReader(dest, network.USDC, network.USDCDecimals)
	}

	// --- Scoring and picks ---
	out.Scores = service.NewScoreService(
		deps.Leagues, deps.Picks, deps.Markets, deps.Scores, deps.Snapshots,
		deps.PriceCache, deps.Metrics, logger.With(slog.String("component", "score_service")),
	)
	out.Picks = service.NewPickService(
		deps.Leagues, deps.Picks, deps.Markets, deps.PriceCache,
		service.PickLimits{
			MaxPicksPerPeriod: cfg.League.MaxPicksPerPeriod,
			MaxSwapsPerPeriod: cfg.League.MaxSwapsPerPeriod,
			SlippageTolerance: cfg.League.SlippageTolerance,
		},
		logger.With(slog.String("component", "pick_service")),
	)
	out.Readiness = service.NewReadinessService(proxies, deps.Leagues, balances, logger.With(slog.String("component", "readiness_service")))

	// --- Bridge orchestration over river ---
	runner := &lateRunner{}
	rcfg := queue.ClientConfig{MaxWorkers: cfg.Queue.MaxWorkers}
	if withWorkers {
		rcfg.Runner = runner
	}
	riverClient, err := queue.NewClient(deps.Pool, rcfg, logger)
	if err != nil {
		return fail(fmt.Errorf("services: %w", err))
	}
	out.River = riverClient

	maxAmount, err := cfg.MaxBridgeAmount()
	if err != nil {
		return fail(fmt.Errorf("services: bridge max amount: %w", err))
	}
	provider := bridge.NewClient(bridge.Config{
		BaseURL:   cfg.Bridge.ProviderURL,
		APIKey:    cfg.Bridge.ProviderAPIKey,
		Timeout:   cfg.Bridge.RequestTimeout.Duration,
		TripAfter: breakerTripAfter,
		OpenFor:   breakerOpenFor,
	}, deps.Metrics, logger)

	out.Bridge = service.NewBridgeService(
		deps.Transfers, proxies, provider, deps.RateLimiter,
		queue.New(riverClient, logger),
		service.BridgeDeps{
			Balances: balances,
			Bus:      deps.SignalBus,
			Audit:    deps.Audit,
			Alerts:   deps.Notifier,
			Metrics:  deps.Metrics,
		},
		service.BridgeSettings{
			SourceChain:         cfg.Bridge.SourceChain,
			DestinationChain:    cfg.Chain.DestinationChain,
			MaxAmount:           maxAmount,
			RateLimit:           cfg.Bridge.RateLimitCount,
			RateWindow:          cfg.Bridge.RateLimitWindow.Duration,
			FallbackDestination: cfg.Bridge.FallbackDestination,
			PollInterval:        cfg.Bridge.PollInterval.Duration,
			PollMaxAttempts:     cfg.Bridge.PollMaxAttempts,
		},
		logger.With(slog.String("component", "bridge_service")),
	)
	runner.svc = out.Bridge

	if !withSettlement {
		return out, cleanup, nil
	}

	// --- Settlement against the reward token ---
	key, err := crypto.LoadOperatorKey(crypto.KeySource{
		RawPrivateKey:    cfg.Operator.PrivateKey,
		EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
		KeyPassword:      cfg.Operator.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("services: operator key: %w", err))
	}
	rpc, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fail(fmt.Errorf("services: reward rpc: %w", err))
	}
	closers = append(closers, rpc.Close)

	chainClient, err := chain.NewClient(ctx, rpc, key, chain.ClientConfig{
		Token:          common.HexToAddress(cfg.Chain.RewardToken),
		Decimals:       int32(cfg.Chain.RewardDecimals),
		GasLimit:       cfg.Chain.GasLimit,
		Confirmations:  cfg.Chain.Confirmations,
		ConfirmTimeout: cfg.Chain.ConfirmTimeout.Duration,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("services: %w", err))
	}
	logger.InfoContext(ctx, "services: reward token client ready",
		slog.String("operator", chainClient.Operator().Hex()),
		slog.String("token", cfg.Chain.RewardToken),
	)

	sdeps := service.SettlementDeps{
		Locks:   deps.LockManager,
		Bus:     deps.SignalBus,
		Audit:   deps.Audit,
		Alerts:  deps.Notifier,
		Metrics: deps.Metrics,
	}
	if deps.Reports != nil {
		sdeps.Reports = deps.Reports
	}
	out.Settlement = service.NewSettlementService(
		deps.Leagues, deps.Scores, out.Scores, chainClient, sdeps,
		service.RetryPolicy{
			Attempts: cfg.Settlement.MaxAttempts,
			Delay:    cfg.Settlement.RetryDelay.Duration,
		},
		cfg.Settlement.LockTTL.Duration,
		logger.With(slog.String("component", "settlement_service")),
	)
	return out, cleanup, nil
}
