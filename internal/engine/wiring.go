package engine

import (
	"log/slog"
	"net/http"

	"github.com/coldbell/dex/trader/internal/chain"
	"github.com/coldbell/dex/trader/internal/config"
	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/coldbell/dex/trader/internal/executor"
	"github.com/coldbell/dex/trader/internal/quote"
	"github.com/coldbell/dex/trader/internal/router"
	"github.com/coldbell/dex/trader/internal/venue"
)

// NewFromConfig wires the RPC client, every venue, the router and the
// executor from cfg.
func NewFromConfig(cfg config.TraderConfig, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := chain.NewRPC(chain.Config{
		URL:            cfg.RPCURL,
		Commitment:     cfg.Commitment,
		Timeout:        cfg.RPCTimeout,
		MaxRetries:     cfg.RPCMaxRetries,
		RetryBaseDelay: cfg.RPCRetryBaseDelay,
		RetryMaxDelay:  cfg.RPCRetryMaxDelay,
	}, logger)

	registry := venue.NewDefault(client, venue.Options{
		JupiterURL:  cfg.JupiterURL,
		HTTPClient:  &http.Client{Timeout: cfg.RPCTimeout},
		ProbeAmount: cfg.ProbeLamports,
	}, logger)

	r := router.New(registry, router.Config{
		Priority:         cfg.VenuePriority,
		TTL:              cfg.CacheTTL,
		NegativeTTL:      cfg.NegativeCacheTTL,
		DiscoveryTimeout: cfg.DiscoveryTimeout,
	}, logger)

	exec := executor.New(client, executor.Config{
		ComputeUnitLimit: cfg.ComputeUnitLimit,
		SkipPreflight:    cfg.SkipPreflight,
		MaxRetries:       cfg.SendMaxRetries,
		ConfirmTimeout:   cfg.ConfirmTimeout,
		PollInterval:     cfg.PollInterval,
	}, logger)

	retry := executor.RetryPolicy{
		MaxAttempts:      cfg.MaxAttempts,
		BaseFee:          cfg.PriorityFeeBase,
		FloorFee:         cfg.PriorityFeeFloor,
		CeilingFee:       cfg.PriorityFeeCeiling,
		FeeMultiplierPct: cfg.FeeMultiplierPct,
		SlippageStepBps:  cfg.SlippageStepBps,
		SlippageCapBps:   cfg.SlippageCapBps,
	}
	if err := retry.Validate(); err != nil {
		return nil, err
	}

	slippage := quote.DefaultPolicy()
	slippage.BaseBps = cfg.SlippageBaseBps
	slippage.CapBps = cfg.SlippageCapBps

	return New(r, exec, Config{
		Retry:       retry,
		Slippage:    slippage,
		MaxReroutes: cfg.MaxReroutes,
		Concurrency: cfg.Concurrency,
	}, logger), nil
}

// Venues lists the registered venues in probe order.
func (e *Engine) Venues() []dex.VenueKind {
	return e.router.Venues()
}
