// Package quote prices trades against pool reserves. All amount arithmetic is
// on big.Int; floats appear only in reported percentages.
package quote

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/coldbell/dex/trader/internal/dex"
)

const BpsDenominator = 10_000

var (
	bpsDenom = big.NewInt(BpsDenominator)

	ErrInvalidAmount = errors.New("trade amount must be positive")
)

type Quote struct {
	Venue          dex.VenueKind
	Side           dex.Side
	InputAmount    *big.Int
	OutputAmount   *big.Int
	MinOutput      *big.Int
	SlippageBps    uint32
	FeeBps         uint32
	PriceImpactPct float64
	// RouteData is the aggregator's opaque route, replayed when building the
	// swap. Nil for direct venues.
	RouteData json.RawMessage
}

// WithSlippage recomputes the minimum output for a new tolerance.
func (q Quote) WithSlippage(slippageBps uint32) Quote {
	q.SlippageBps = slippageBps
	q.MinOutput = MinOutput(q.OutputAmount, slippageBps)
	return q
}

// AmountAfterFee returns amount − amount·feeBps/10000.
func AmountAfterFee(amount *big.Int, feeBps uint32) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(int64(feeBps)))
	fee.Quo(fee, bpsDenom)
	return fee.Sub(amount, fee)
}

// ConstantProduct returns reserveOut − ceil(reserveIn·reserveOut / (reserveIn
// + amountAfterFee)). Rounding the remaining reserve up keeps the product of
// the post-trade reserves at or above the pre-trade product.
func ConstantProduct(reserveIn, reserveOut, amountIn *big.Int, feeBps uint32) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, fmt.Errorf("%w: empty reserves", dex.ErrInsufficientLiquidity)
	}
	if feeBps >= BpsDenominator {
		return nil, fmt.Errorf("invalid fee %d bps", feeBps)
	}

	effective := AmountAfterFee(amountIn, feeBps)
	k := new(big.Int).Mul(reserveIn, reserveOut)
	denominator := new(big.Int).Add(reserveIn, effective)
	remaining := ceilDiv(k, denominator)

	out := new(big.Int).Sub(reserveOut, remaining)
	if out.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s in yields no output against reserves %s/%s", dex.ErrInsufficientLiquidity, amountIn, reserveIn, reserveOut)
	}
	return out, nil
}

// MinOutput returns out·(10000−slippageBps)/10000, floored.
func MinOutput(out *big.Int, slippageBps uint32) *big.Int {
	if out == nil {
		return new(big.Int)
	}
	if slippageBps >= BpsDenominator {
		return new(big.Int)
	}
	bound := new(big.Int).Mul(out, big.NewInt(int64(BpsDenominator-slippageBps)))
	return bound.Quo(bound, bpsDenom)
}

// ImpactBps is amountIn relative to the input-side reserve, in basis points.
func ImpactBps(amountIn, reserveIn *big.Int) uint64 {
	if reserveIn == nil || reserveIn.Sign() <= 0 {
		return BpsDenominator
	}
	impact := new(big.Int).Mul(amountIn, bpsDenom)
	impact.Quo(impact, reserveIn)
	if !impact.IsUint64() {
		return ^uint64(0)
	}
	return impact.Uint64()
}

func impactPct(amountIn, reserveIn *big.Int) float64 {
	if reserveIn == nil || reserveIn.Sign() <= 0 {
		return 100
	}
	pct, _ := new(big.Rat).SetFrac(new(big.Int).Mul(amountIn, big.NewInt(100)), reserveIn).Float64()
	return pct
}

// Orient returns (reserveIn, reserveOut) for side: buys spend native for
// tokens, sells spend tokens for native.
func Orient(reserves dex.ReserveSnapshot, side dex.Side) (*big.Int, *big.Int) {
	if side == dex.SideBuy {
		return reserves.Native, reserves.Token
	}
	return reserves.Token, reserves.Native
}

// Compute quotes amount on side against a fresh reserve snapshot. A buy never
// returns more tokens than the snapshot's TokenCap.
func Compute(venue dex.VenueKind, reserves dex.ReserveSnapshot, side dex.Side, amount *big.Int, feeBps, slippageBps uint32) (Quote, error) {
	if reserves.Empty() {
		return Quote{}, fmt.Errorf("%w: %s reserves are empty", dex.ErrInsufficientLiquidity, venue)
	}
	reserveIn, reserveOut := Orient(reserves, side)
	out, err := ConstantProduct(reserveIn, reserveOut, amount, feeBps)
	if err != nil {
		return Quote{}, err
	}
	if side == dex.SideBuy && reserves.TokenCap != nil && out.Cmp(reserves.TokenCap) > 0 {
		if reserves.TokenCap.Sign() <= 0 {
			return Quote{}, fmt.Errorf("%w: %s has no tokens left to sell", dex.ErrInsufficientLiquidity, venue)
		}
		out = new(big.Int).Set(reserves.TokenCap)
	}
	return Quote{
		Venue:          venue,
		Side:           side,
		InputAmount:    new(big.Int).Set(amount),
		OutputAmount:   out,
		MinOutput:      MinOutput(out, slippageBps),
		SlippageBps:    slippageBps,
		FeeBps:         feeBps,
		PriceImpactPct: impactPct(amount, reserveIn),
	}, nil
}

func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
