// Package executor signs, submits and confirms trade transactions, retrying
// with escalating priority fees and slippage.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coldbell/dex/trader/internal/chain"
	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
)

const (
	DefaultConfirmTimeout = 45 * time.Second
	DefaultPollInterval   = 700 * time.Millisecond
)

type Config struct {
	ComputeUnitLimit uint32
	SkipPreflight    bool
	MaxRetries       *uint
	ConfirmTimeout   time.Duration
	PollInterval     time.Duration
}

// State is where one attempt stopped.
type State uint8

const (
	StateBuilt State = iota
	StateSigned
	StateSubmitted
	StateConfirmed
	StateFailed
	StateTimedOut
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateSigned:
		return "signed"
	case StateSubmitted:
		return "submitted"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

type Attempt struct {
	Index       int
	PriorityFee uint64
	SlippageBps uint32
	MinOut      uint64
	Signature   solana.Signature
	State       State
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
}

// AttemptParams are the escalated values a plan is built for.
type AttemptParams struct {
	Attempt     int
	PriorityFee uint64
	SlippageBps uint32
}

// Plan is the venue part of one attempt's transaction.
type Plan struct {
	Instructions []solana.Instruction
	LookupTables []solana.PublicKey
	MinOut       uint64
	// Program is the venue program whose custom errors Classify maps. When
	// zero, every plan instruction counts as the venue's.
	Program solana.PublicKey
}

// BuildFunc is called once per attempt, so every attempt prices against
// fresh reserves.
type BuildFunc func(ctx context.Context, params AttemptParams) (Plan, error)

type Request struct {
	Signer          solana.PrivateKey
	Side            dex.Side
	BaseSlippageBps uint32
	Policy          RetryPolicy
	Build           BuildFunc
	// Classify maps a custom program error code to a venue error, or nil.
	Classify func(code uint32) error
	Logger   *slog.Logger
}

type Result struct {
	Confirmed bool
	Signature solana.Signature
	Attempts  []Attempt
	// Ambiguous is set when a submitted transaction's fate is unknown; it may
	// still land after the result is returned.
	Ambiguous bool
	Err       error
}

// LastAttempt returns the final attempt, if any ran.
func (r Result) LastAttempt() (Attempt, bool) {
	if len(r.Attempts) == 0 {
		return Attempt{}, false
	}
	return r.Attempts[len(r.Attempts)-1], true
}

type Executor struct {
	client chain.Client
	cfg    Config
	logger *slog.Logger
}

func New(client chain.Client, cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Executor{client: client, cfg: cfg, logger: logger}
}

// Execute runs attempts until one confirms, a non-retryable error occurs, the
// policy is exhausted, or ctx is cancelled. Cancellation never cancels an
// already-submitted transaction; the result is then Abandoned and Ambiguous.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	if req.Build == nil {
		return Result{}, errors.New("execute: no build function")
	}
	if err := req.Policy.Validate(); err != nil {
		return Result{}, err
	}
	logger := req.Logger
	if logger == nil {
		logger = e.logger
	}

	var (
		result           Result
		pending          []solana.Signature
		slippageFailures int
		lastErr          error
	)
	for i := 1; i <= req.Policy.MaxAttempts; i++ {
		if ctx.Err() != nil {
			return e.abandon(result, pending, lastErr, ctx.Err())
		}
		// A timed-out attempt may have landed since; paying twice is worse than
		// one extra status read.
		if sig, ok := e.landedEarlier(ctx, pending); ok {
			result.Confirmed, result.Signature, result.Ambiguous = true, sig, false
			logger.Info("earlier attempt landed", "signature", sig)
			return result, nil
		}

		params := AttemptParams{
			Attempt:     i,
			PriorityFee: req.Policy.Fee(i),
			SlippageBps: req.Policy.Slippage(i, req.Side, req.BaseSlippageBps, slippageFailures),
		}
		attempt := e.runAttempt(ctx, req, params)
		result.Attempts = append(result.Attempts, attempt)
		attemptLog := logger.With(
			"attempt", attempt.Index,
			"priority_fee", attempt.PriorityFee,
			"slippage_bps", attempt.SlippageBps,
			"state", attempt.State.String(),
		)
		if !attempt.Signature.IsZero() {
			attemptLog = attemptLog.With("signature", attempt.Signature)
		}

		if attempt.State == StateConfirmed {
			attemptLog.Info("trade confirmed")
			result.Confirmed, result.Signature, result.Ambiguous = true, attempt.Signature, false
			return result, nil
		}
		if attempt.State == StateTimedOut || attempt.State == StateAbandoned {
			pending = append(pending, attempt.Signature)
			result.Ambiguous = true
		}
		if attempt.State == StateAbandoned || ctx.Err() != nil {
			attemptLog.Warn("trade abandoned", "err", attempt.Err)
			return e.abandon(result, pending, attempt.Err, ctx.Err())
		}

		lastErr = attempt.Err
		if errors.Is(attempt.Err, dex.ErrSlippageExceeded) {
			slippageFailures++
		}
		if !dex.Retryable(attempt.Err) {
			attemptLog.Warn("trade failed", "err", attempt.Err)
			result.Err = attempt.Err
			return result, attempt.Err
		}
		attemptLog.Warn("attempt failed, retrying", "err", attempt.Err)
	}

	if sig, ok := e.landedEarlier(ctx, pending); ok {
		result.Confirmed, result.Signature, result.Ambiguous = true, sig, false
		return result, nil
	}
	err := fmt.Errorf("trade failed after %d attempts: %w", len(result.Attempts), lastErr)
	result.Err = err
	return result, err
}

func (e *Executor) abandon(result Result, pending []solana.Signature, lastErr, cause error) (Result, error) {
	if cause == nil {
		cause = context.Canceled
	}
	err := fmt.Errorf("%w: %v", dex.ErrAbandoned, cause)
	if len(pending) > 0 {
		result.Signature = pending[len(pending)-1]
		result.Ambiguous = true
		err = fmt.Errorf("%w: %v; transaction %s may still land", dex.ErrAbandoned, cause, result.Signature)
	}
	if lastErr != nil && !errors.Is(lastErr, cause) {
		err = fmt.Errorf("%w (last error: %v)", err, lastErr)
	}
	result.Err = err
	return result, err
}

func (e *Executor) landedEarlier(ctx context.Context, pending []solana.Signature) (solana.Signature, bool) {
	for _, sig := range pending {
		status, err := e.client.GetSignatureStatus(ctx, sig)
		if err == nil && status.Landed() && status.Err == nil {
			return sig, true
		}
	}
	return solana.Signature{}, false
}

func (e *Executor) runAttempt(ctx context.Context, req Request, params AttemptParams) Attempt {
	attempt := Attempt{
		Index:       params.Attempt,
		PriorityFee: params.PriorityFee,
		SlippageBps: params.SlippageBps,
		State:       StateBuilt,
		StartedAt:   time.Now(),
	}
	finish := func(state State, err error) Attempt {
		attempt.State, attempt.Err, attempt.FinishedAt = state, err, time.Now()
		return attempt
	}

	plan, err := req.Build(ctx, params)
	if err != nil {
		return finish(StateFailed, err)
	}
	attempt.MinOut = plan.MinOut

	instructions, prelude, err := e.withComputeBudget(params.PriorityFee, plan)
	if err != nil {
		return finish(StateFailed, err)
	}
	classify := venueClassifier(instructions, prelude, plan.Program, req.Classify)

	tx, err := e.signTransaction(ctx, req.Signer, instructions, plan.LookupTables)
	if err != nil {
		return finish(StateFailed, err)
	}
	attempt.State = StateSigned

	sig, err := e.client.SendTransaction(ctx, tx, chain.SendOptions{
		SkipPreflight: e.cfg.SkipPreflight,
		MaxRetries:    e.cfg.MaxRetries,
	})
	if err != nil {
		return finish(StateFailed, classifyFailure(err, classify, dex.ErrSubmission))
	}
	attempt.Signature = sig
	attempt.State = StateSubmitted

	state, err := e.waitForConfirmation(ctx, sig, classify)
	return finish(state, err)
}

// withComputeBudget prepends the compute budget instructions to the plan and
// reports how many it added.
func (e *Executor) withComputeBudget(priorityFee uint64, plan Plan) ([]solana.Instruction, int, error) {
	instructions := make([]solana.Instruction, 0, len(plan.Instructions)+2)
	if e.cfg.ComputeUnitLimit > 0 {
		cuLimitIx, err := computebudget.NewSetComputeUnitLimitInstruction(e.cfg.ComputeUnitLimit).ValidateAndBuild()
		if err != nil {
			return nil, 0, fmt.Errorf("build compute unit limit instruction: %w", err)
		}
		instructions = append(instructions, cuLimitIx)
	}
	if priorityFee > 0 {
		cuPriceIx, err := computebudget.NewSetComputeUnitPriceInstruction(priorityFee).ValidateAndBuild()
		if err != nil {
			return nil, 0, fmt.Errorf("build compute unit price instruction: %w", err)
		}
		instructions = append(instructions, cuPriceIx)
	}
	prelude := len(instructions)
	return append(instructions, plan.Instructions...), prelude, nil
}

// signTransaction compiles instructions against a fresh blockhash and signs.
func (e *Executor) signTransaction(ctx context.Context, signer solana.PrivateKey, instructions []solana.Instruction, lookupTables []solana.PublicKey) (*solana.Transaction, error) {
	opts := []solana.TransactionOption{solana.TransactionPayer(signer.PublicKey())}
	if len(lookupTables) > 0 {
		tables, err := chain.LoadLookupTables(ctx, e.client, lookupTables)
		if err != nil {
			return nil, fmt.Errorf("%w: load lookup tables: %v", dex.ErrSubmission, err)
		}
		opts = append(opts, solana.TransactionAddressTables(tables))
	}

	recent, err := e.client.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: get latest blockhash: %v", dex.ErrSubmission, err)
	}
	tx, err := solana.NewTransaction(instructions, recent, opts...)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if signer.PublicKey().Equals(key) {
			return &signer
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, nil
}

// waitForConfirmation polls until the transaction lands, fails, or the window
// closes. With no status at all past half the window it gives up early: the
// transaction was most likely never accepted.
func (e *Executor) waitForConfirmation(ctx context.Context, sig solana.Signature, classify func(chain.InstructionError) error) (State, error) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	started := time.Now()
	deadline := started.Add(e.cfg.ConfirmTimeout)
	failFast := started.Add(e.cfg.ConfirmTimeout / 2)
	seen := false
	for {
		select {
		case <-ctx.Done():
			return StateAbandoned, fmt.Errorf("%w: stopped polling %s: %v", dex.ErrAbandoned, sig, ctx.Err())
		case now := <-ticker.C:
			status, err := e.client.GetSignatureStatus(ctx, sig)
			if err == nil && status.Found {
				seen = true
				if status.Err != nil {
					return StateFailed, classifyFailure(
						fmt.Errorf("transaction %s failed: %s", sig, chain.DescribeStatusErr(status.Err)),
						classify, dex.ErrSubmission, status.Err)
				}
				if status.Landed() {
					return StateConfirmed, nil
				}
			}
			if !now.Before(deadline) {
				return StateTimedOut, fmt.Errorf("%w: %s unconfirmed after %s", dex.ErrConfirmationTimeout, sig, e.cfg.ConfirmTimeout)
			}
			if !seen && !now.Before(failFast) {
				return StateTimedOut, fmt.Errorf("%w: no status for %s after %s", dex.ErrConfirmationTimeout, sig, now.Sub(started).Round(time.Millisecond))
			}
		}
	}
}

// venueClassifier limits classify to instructions that call the venue
// program. Codes raised by the compute budget prelude or by token and ATA
// setup keep their generic meaning; an error naming no instruction is the
// venue's.
func venueClassifier(instructions []solana.Instruction, prelude int, program solana.PublicKey, classify func(uint32) error) func(chain.InstructionError) error {
	if classify == nil {
		return nil
	}
	return func(ixErr chain.InstructionError) error {
		if ixErr.Index >= 0 {
			if ixErr.Index < prelude || ixErr.Index >= len(instructions) {
				return nil
			}
			if !program.IsZero() && !instructions[ixErr.Index].ProgramID().Equals(program) {
				return nil
			}
		}
		return classify(ixErr.Code)
	}
}

// classifyFailure maps a venue program error to the venue's meaning, and any
// other failure to fallback. sources are tried in order for an instruction
// error; err itself is tried last.
func classifyFailure(err error, classify func(chain.InstructionError) error, fallback error, sources ...any) error {
	for _, source := range append(sources, err) {
		ixErr, ok := chain.ParseInstructionError(source)
		if !ok {
			continue
		}
		if classify != nil {
			if venueErr := classify(ixErr); venueErr != nil {
				return fmt.Errorf("%w (instruction %d): %v", venueErr, ixErr.Index, err)
			}
		}
		break
	}
	return fmt.Errorf("%w: %v", fallback, err)
}
