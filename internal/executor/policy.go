package executor

import (
	"fmt"
	"math"

	"github.com/coldbell/dex/trader/internal/dex"
)

// RetryPolicy is the escalation curve of one trade. Priority fees are in
// micro-lamports per compute unit.
type RetryPolicy struct {
	MaxAttempts int
	BaseFee     uint64
	FloorFee    uint64
	CeilingFee  uint64
	// FeeMultiplierPct scales the fee between attempts; 150 means ×1.5.
	FeeMultiplierPct uint64
	SlippageStepBps  uint32
	SlippageCapBps   uint32
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      3,
		BaseFee:          100_000,
		FloorFee:         10_000,
		CeilingFee:       5_000_000,
		FeeMultiplierPct: 200,
		SlippageStepBps:  200,
		SlippageCapBps:   2_500,
	}
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy needs at least one attempt, got %d", p.MaxAttempts)
	}
	if p.FeeMultiplierPct <= 100 {
		return fmt.Errorf("fee multiplier %d%% does not escalate", p.FeeMultiplierPct)
	}
	if p.CeilingFee == 0 {
		return fmt.Errorf("retry policy needs a priority fee ceiling")
	}
	if p.FloorFee > p.CeilingFee {
		return fmt.Errorf("fee floor %d above ceiling %d", p.FloorFee, p.CeilingFee)
	}
	return nil
}

// Fee returns the priority fee for a 1-based attempt. Each attempt pays
// strictly more than the previous one until the ceiling is reached.
func (p RetryPolicy) Fee(attempt int) uint64 {
	fee := p.clampFee(p.BaseFee)
	for i := 1; i < attempt; i++ {
		next := uint64(math.MaxUint64)
		if fee <= math.MaxUint64/p.FeeMultiplierPct {
			next = fee * p.FeeMultiplierPct / 100
		}
		if next <= fee && fee < math.MaxUint64 {
			next = fee + 1
		}
		fee = p.clampFee(next)
	}
	return fee
}

func (p RetryPolicy) clampFee(fee uint64) uint64 {
	if fee < p.FloorFee {
		fee = p.FloorFee
	}
	if p.CeilingFee > 0 && fee > p.CeilingFee {
		fee = p.CeilingFee
	}
	return fee
}

// Slippage returns the tolerance for a 1-based attempt. Sells widen by one
// step on every retry; buys widen only once per slippage failure observed.
func (p RetryPolicy) Slippage(attempt int, side dex.Side, baseBps uint32, slippageFailures int) uint32 {
	steps := slippageFailures
	if side == dex.SideSell {
		steps = attempt - 1
	}
	if steps < 0 {
		steps = 0
	}
	slippage := uint64(baseBps) + uint64(steps)*uint64(p.SlippageStepBps)
	ceiling := uint64(p.SlippageCapBps)
	if ceiling == 0 || ceiling > 10_000 {
		ceiling = 10_000
	}
	if slippage > ceiling {
		slippage = ceiling
	}
	return uint32(slippage)
}
