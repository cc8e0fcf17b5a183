package quote

import (
	"math/big"

	"github.com/coldbell/dex/trader/internal/dex"
)

type ImpactTier struct {
	AboveBps uint64
	FloorBps uint32
}

type LiquidityTier struct {
	BelowNative uint64
	BonusBps    uint32
}

// Policy picks a slippage tolerance for a trade. The result is
// min(Cap, max(Base, impact floor) + thin-pool bonus); it never decreases as
// impact grows and never exceeds Cap.
type Policy struct {
	BaseBps   uint32
	CapBps    uint32
	Impact    []ImpactTier
	Liquidity []LiquidityTier
}

func DefaultPolicy() Policy {
	return Policy{
		BaseBps: 300,
		CapBps:  2_500,
		Impact: []ImpactTier{
			{AboveBps: 100, FloorBps: 500},
			{AboveBps: 200, FloorBps: 800},
			{AboveBps: 500, FloorBps: 1_500},
		},
		Liquidity: []LiquidityTier{
			{BelowNative: 5_000_000_000, BonusBps: 300},
			{BelowNative: 1_000_000_000, BonusBps: 700},
		},
	}
}

func (p Policy) Adaptive(impactBps uint64, nativeDepth *big.Int) uint32 {
	slippage := p.BaseBps
	for _, tier := range p.Impact {
		if impactBps > tier.AboveBps && tier.FloorBps > slippage {
			slippage = tier.FloorBps
		}
	}
	var bonus uint32
	for _, tier := range p.Liquidity {
		if nativeDepth != nil && nativeDepth.Cmp(new(big.Int).SetUint64(tier.BelowNative)) < 0 && tier.BonusBps > bonus {
			bonus = tier.BonusBps
		}
	}
	return p.Clamp(slippage + bonus)
}

// ForTrade is Adaptive for amount on side against reserves.
func (p Policy) ForTrade(reserves dex.ReserveSnapshot, side dex.Side, amount *big.Int) uint32 {
	reserveIn, _ := Orient(reserves, side)
	return p.Adaptive(ImpactBps(amount, reserveIn), reserves.Native)
}

// Clamp bounds a tolerance by the hard cap.
func (p Policy) Clamp(slippageBps uint32) uint32 {
	ceiling := p.CapBps
	if ceiling == 0 || ceiling > BpsDenominator {
		ceiling = BpsDenominator
	}
	if slippageBps > ceiling {
		return ceiling
	}
	return slippageBps
}
