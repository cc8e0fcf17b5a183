// Package engine is the caller contract of the trade engine: resolve the
// venue, quote, build and execute one trade or many.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/coldbell/dex/trader/internal/executor"
	"github.com/coldbell/dex/trader/internal/quote"
	"github.com/coldbell/dex/trader/internal/router"
	"github.com/coldbell/dex/trader/internal/venue"
	"github.com/gagliardetto/solana-go"
)

const (
	DefaultMaxReroutes = 2
	DefaultConcurrency = 8
)

type Config struct {
	Retry       executor.RetryPolicy
	Slippage    quote.Policy
	MaxReroutes int
	Concurrency int
}

type Options struct {
	// SlippageBps overrides the adaptive tolerance; still bounded by the cap.
	SlippageBps uint32
	// MaxAttempts bounds submissions for this trade; zero uses the engine's
	// retry policy.
	MaxAttempts int
	VenueHint   dex.VenueKind
	// Known is a user-controlled address that helps vault disambiguation.
	Known solana.PublicKey
}

// TradeRequest is one trade. Amount is lamports for buys and token base units
// for sells.
type TradeRequest struct {
	Mint    solana.PublicKey
	Side    dex.Side
	Amount  uint64
	Signer  solana.PrivateKey
	Options Options
}

type Result struct {
	TradeID   string
	Success   bool
	Signature solana.Signature
	// CounterAmount is the quoted output of the attempt that landed, or of the
	// last attempt on failure.
	CounterAmount    *big.Int
	MinCounterAmount *big.Int
	Venue            dex.VenueKind
	Attempts         []executor.Attempt
	Reroutes         int
	Ambiguous        bool
	Err              error
}

// TradeError is the terminal failure of a trade: the venue attempted and the
// parameters of its last attempt.
type TradeError struct {
	TradeID     string
	Venue       dex.VenueKind
	LastAttempt *executor.Attempt
	Ambiguous   bool
	Err         error
}

func (e *TradeError) Error() string {
	if e.LastAttempt == nil {
		return fmt.Sprintf("trade %s on %s: %v", e.TradeID, e.venueName(), e.Err)
	}
	a := e.LastAttempt
	return fmt.Sprintf("trade %s on %s failed at attempt %d (priority_fee=%d slippage_bps=%d): %v",
		e.TradeID, e.venueName(), a.Index, a.PriorityFee, a.SlippageBps, e.Err)
}

func (e *TradeError) Unwrap() error {
	return e.Err
}

func (e *TradeError) venueName() string {
	if e.Venue == "" {
		return "no venue"
	}
	return string(e.Venue)
}

type Engine struct {
	router   *router.Router
	executor *executor.Executor
	cfg      Config
	logger   *slog.Logger
}

func New(r *router.Router, exec *executor.Executor, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = executor.DefaultRetryPolicy()
	}
	if cfg.Slippage.CapBps == 0 {
		cfg.Slippage = quote.DefaultPolicy()
	}
	if cfg.Retry.SlippageCapBps == 0 || cfg.Retry.SlippageCapBps > cfg.Slippage.CapBps {
		cfg.Retry.SlippageCapBps = cfg.Slippage.CapBps
	}
	if cfg.MaxReroutes <= 0 {
		cfg.MaxReroutes = DefaultMaxReroutes
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Engine{router: r, executor: exec, cfg: cfg, logger: logger}
}

// ExecuteTrade runs one trade to a terminal result. A venue that reports
// migration mid-trade is replaced by its successor, at most MaxReroutes times.
func (e *Engine) ExecuteTrade(ctx context.Context, req TradeRequest) Result {
	result := Result{TradeID: uuid.NewString()}
	logger := e.logger.With("trade_id", result.TradeID, "mint", req.Mint, "side", req.Side.String())

	if err := validateRequest(req); err != nil {
		return e.fail(result, nil, err)
	}
	resolved, err := e.router.ResolveVenue(ctx, req.Mint, router.ResolveOptions{Hint: req.Options.VenueHint, Known: req.Options.Known})
	if err != nil {
		return e.fail(result, nil, err)
	}

	for {
		result.Venue = resolved.Venue.Kind()
		venueLog := logger.With("venue", result.Venue, "pool", resolved.Pool.Pool)
		venueLog.Info("trade started", "amount", req.Amount, "cached_venue", resolved.Cached)

		run, err := e.runOnVenue(ctx, resolved, req, venueLog)
		result.Attempts = append(result.Attempts, run.Attempts...)
		result.CounterAmount, result.MinCounterAmount = run.counter, run.minCounter
		result.Ambiguous = run.Ambiguous
		e.router.RecordVenueOutcome(req.Mint, result.Venue, err)

		if err == nil {
			result.Success = true
			result.Signature = run.Signature
			venueLog.Info("trade succeeded", "signature", run.Signature, "counter_amount", result.CounterAmount, "attempts", len(result.Attempts))
			return result
		}
		result.Signature = run.Signature
		if !errors.Is(err, dex.ErrVenueMigrated) || result.Reroutes >= e.cfg.MaxReroutes || result.Ambiguous {
			lastAttempt, _ := run.LastAttempt()
			return e.fail(result, &lastAttempt, err)
		}

		result.Reroutes++
		venueLog.Warn("venue migrated, rerouting", "reroute", result.Reroutes, "err", err)
		next, rerr := e.router.ResolveVenue(ctx, req.Mint, router.ResolveOptions{Known: req.Options.Known})
		if rerr != nil {
			lastAttempt, _ := run.LastAttempt()
			return e.fail(result, &lastAttempt, fmt.Errorf("reroute after %v: %w", err, rerr))
		}
		resolved = next
	}
}

func (e *Engine) fail(result Result, last *executor.Attempt, err error) Result {
	if last != nil && last.Index == 0 {
		last = nil
	}
	result.Err = &TradeError{
		TradeID:     result.TradeID,
		Venue:       result.Venue,
		LastAttempt: last,
		Ambiguous:   result.Ambiguous,
		Err:         err,
	}
	e.logger.Warn("trade failed", "trade_id", result.TradeID, "venue", result.Venue, "ambiguous", result.Ambiguous, "err", err)
	return result
}

type venueRun struct {
	executor.Result
	counter    *big.Int
	minCounter *big.Int
}

// runOnVenue quotes once to pick the base tolerance, then lets the executor
// drive attempts. Attempts after the first re-quote against fresh reserves at
// the escalated tolerance.
func (e *Engine) runOnVenue(ctx context.Context, resolved router.Resolution, req TradeRequest, logger *slog.Logger) (venueRun, error) {
	v, desc := resolved.Venue, resolved.Pool
	amount := new(big.Int).SetUint64(req.Amount)
	initial, err := v.Quote(ctx, desc, venue.QuoteRequest{
		Side:        req.Side,
		Amount:      amount,
		SlippageBps: req.Options.SlippageBps,
		Policy:      e.cfg.Slippage,
	})
	if err != nil {
		return venueRun{}, err
	}
	logger.Info("trade quoted",
		"output", initial.OutputAmount,
		"min_output", initial.MinOutput,
		"slippage_bps", initial.SlippageBps,
		"price_impact_pct", initial.PriceImpactPct,
	)

	policy := e.cfg.Retry
	if req.Options.MaxAttempts > 0 {
		policy.MaxAttempts = req.Options.MaxAttempts
	}
	run := venueRun{counter: initial.OutputAmount, minCounter: initial.MinOutput}
	user := req.Signer.PublicKey()

	build := func(ctx context.Context, params executor.AttemptParams) (executor.Plan, error) {
		q := initial.WithSlippage(params.SlippageBps)
		if params.Attempt > 1 {
			fresh, err := v.Quote(ctx, desc, venue.QuoteRequest{Side: req.Side, Amount: amount, SlippageBps: params.SlippageBps, Policy: e.cfg.Slippage})
			if err != nil {
				return executor.Plan{}, attemptError(ctx, "re-quote", err)
			}
			q = fresh
		}
		if !q.MinOutput.IsUint64() {
			return executor.Plan{}, fmt.Errorf("minimum output %s overflows u64", q.MinOutput)
		}
		run.counter, run.minCounter = q.OutputAmount, q.MinOutput
		built, err := v.BuildInstructions(ctx, desc, venue.TradeParams{
			Side:     req.Side,
			User:     user,
			AmountIn: req.Amount,
			MinOut:   q.MinOutput.Uint64(),
			Quote:    q,
		})
		if err != nil {
			return executor.Plan{}, attemptError(ctx, "build", err)
		}
		return executor.Plan{
			Instructions: built.Instructions,
			LookupTables: built.LookupTables,
			MinOut:       q.MinOutput.Uint64(),
			Program:      v.Layout().Program,
		}, nil
	}

	res, err := e.executor.Execute(ctx, executor.Request{
		Signer:          req.Signer,
		Side:            req.Side,
		BaseSlippageBps: initial.SlippageBps,
		Policy:          policy,
		Build:           build,
		Classify:        v.ClassifyError,
		Logger:          logger,
	})
	run.Result = res
	return run, err
}

// attemptError keeps venue outcomes as they are and turns transport failures
// (RPC or HTTP) during an attempt into retryable submission failures.
func attemptError(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil {
		return err
	}
	for _, outcome := range []error{
		dex.ErrDecode,
		dex.ErrNotFound,
		dex.ErrInsufficientLiquidity,
		dex.ErrSlippageExceeded,
		dex.ErrVenueMigrated,
		dex.ErrUnsupportedVenue,
		quote.ErrInvalidAmount,
	} {
		if errors.Is(err, outcome) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %v", dex.ErrSubmission, step, err)
}

// ExecuteMany runs trades independently with bounded concurrency. Results are
// in request order; one trade's failure never cancels another.
func (e *Engine) ExecuteMany(ctx context.Context, reqs []TradeRequest) []Result {
	results := make([]Result, len(reqs))
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = e.ExecuteTrade(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type QuoteResult struct {
	Venue dex.VenueKind
	Pool  *dex.PoolDescriptor
	Quote quote.Quote
}

// Quote resolves the venue and prices a trade without signing anything.
func (e *Engine) Quote(ctx context.Context, mint solana.PublicKey, side dex.Side, amount uint64, opts Options) (QuoteResult, error) {
	if amount == 0 {
		return QuoteResult{}, quote.ErrInvalidAmount
	}
	resolved, err := e.router.ResolveVenue(ctx, mint, router.ResolveOptions{Hint: opts.VenueHint, Known: opts.Known})
	if err != nil {
		return QuoteResult{}, err
	}
	q, err := resolved.Venue.Quote(ctx, resolved.Pool, venue.QuoteRequest{
		Side:        side,
		Amount:      new(big.Int).SetUint64(amount),
		SlippageBps: opts.SlippageBps,
		Policy:      e.cfg.Slippage,
	})
	if err != nil {
		e.router.RecordVenueOutcome(mint, resolved.Venue.Kind(), err)
		return QuoteResult{}, err
	}
	return QuoteResult{Venue: resolved.Venue.Kind(), Pool: resolved.Pool, Quote: q}, nil
}

func (e *Engine) ResolveVenue(ctx context.Context, mint solana.PublicKey, opts Options) (router.Resolution, error) {
	return e.router.ResolveVenue(ctx, mint, router.ResolveOptions{Hint: opts.VenueHint, Known: opts.Known})
}

func validateRequest(req TradeRequest) error {
	if req.Mint.IsZero() {
		return errors.New("trade has no mint")
	}
	if req.Amount == 0 {
		return quote.ErrInvalidAmount
	}
	if len(req.Signer) != 64 {
		return errors.New("trade has no signing key")
	}
	if req.Side != dex.SideBuy && req.Side != dex.SideSell {
		return fmt.Errorf("invalid side %s", req.Side)
	}
	return nil
}
