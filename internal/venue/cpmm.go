package venue

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/coldbell/dex/trader/internal/chain"
	"github.com/coldbell/dex/trader/internal/codec"
	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/coldbell/dex/trader/internal/quote"
	"github.com/gagliardetto/solana-go"
)

const (
	cpmmToken0ProgramOffset   = 232
	cpmmToken1ProgramOffset   = 264
	cpmmObservationOffset     = 296
	cpmmProtocolFees0Offset   = 341
	cpmmProtocolFees1Offset   = 349
	cpmmFundFees0Offset       = 357
	cpmmFundFees1Offset       = 365
	cpmmStatusSwapDisabledBit = 1 << 2
)

// RaydiumCPMM is Raydium's constant-product AMM. The token may sit in either
// mint slot; the descriptor's TokenIsBase records which.
type RaydiumCPMM struct {
	base
}

func NewRaydiumCPMM(client chain.Client, logger *slog.Logger) *RaydiumCPMM {
	return &RaydiumCPMM{base: newBase(dex.VenueRaydiumCPMM, client, logger)}
}

func (v *RaydiumCPMM) deriveVault(pool, mint solana.PublicKey) (solana.PublicKey, error) {
	vault, _, err := dex.DeriveCPMMVaultPDA(v.layout.Program, pool, mint)
	return vault, err
}

func (v *RaydiumCPMM) Discover(ctx context.Context, mint, known solana.PublicKey) (*dex.PoolDescriptor, error) {
	pool, err := v.findPool(ctx, mint, known, v.deriveVault)
	if err != nil {
		return nil, err
	}
	data := pool.Candidate.Account.Data
	desc, err := v.poolDescriptor(ctx, mint, pool)
	if err != nil {
		return nil, err
	}
	tokenProgramOffset := cpmmToken0ProgramOffset
	if !desc.TokenIsBase {
		tokenProgramOffset = cpmmToken1ProgramOffset
	}
	tokenProgram, err := codec.ReadAddress(data, tokenProgramOffset)
	if err != nil {
		return nil, err
	}
	if dex.IsTokenProgram(tokenProgram) {
		desc.TokenProgram = tokenProgram
	}
	if desc.Config, err = readAddressAt(data, v.layout.ConfigOffset); err != nil {
		return nil, err
	}
	if desc.PriceFeed, err = codec.ReadAddress(data, cpmmObservationOffset); err != nil {
		return nil, err
	}
	authority, _, err := dex.DeriveCPMMAuthorityPDA(v.layout.Program)
	if err != nil {
		return nil, fmt.Errorf("derive cpmm authority: %w", err)
	}
	desc.Authority = authority
	v.logger.Debug("pool discovered", "mint", mint, "pool", desc.Pool, "token_is_base", desc.TokenIsBase, "derived_vaults", pool.Vaults.Derived)
	return desc, nil
}

// Reserves are the vault balances net of protocol and fund fees the pool has
// accrued but not yet collected.
func (v *RaydiumCPMM) Reserves(ctx context.Context, desc *dex.PoolDescriptor) (dex.ReserveSnapshot, error) {
	acc, err := v.poolAccount(ctx, desc)
	if err != nil {
		return dex.ReserveSnapshot{}, err
	}
	status, err := codec.ReadU8(acc.Data, v.layout.StatusOffset)
	if err != nil {
		return dex.ReserveSnapshot{}, err
	}
	if status&cpmmStatusSwapDisabledBit != 0 {
		return dex.ReserveSnapshot{}, fmt.Errorf("%w: cpmm pool %s has swaps disabled", dex.ErrInsufficientLiquidity, desc.Pool)
	}

	tokenFees, nativeFees := [2]int{cpmmProtocolFees0Offset, cpmmFundFees0Offset}, [2]int{cpmmProtocolFees1Offset, cpmmFundFees1Offset}
	if !desc.TokenIsBase {
		tokenFees, nativeFees = nativeFees, tokenFees
	}
	tokenReserve, nativeReserve, err := v.vaultReserves(ctx, desc.TokenVault, desc.NativeVault)
	if err != nil {
		return dex.ReserveSnapshot{}, err
	}
	if err := subtractFees(tokenReserve, acc.Data, tokenFees); err != nil {
		return dex.ReserveSnapshot{}, err
	}
	if err := subtractFees(nativeReserve, acc.Data, nativeFees); err != nil {
		return dex.ReserveSnapshot{}, err
	}
	return dex.ReserveSnapshot{Token: tokenReserve, Native: nativeReserve, CapturedAt: time.Now()}, nil
}

func subtractFees(reserve *big.Int, data []byte, offsets [2]int) error {
	for _, offset := range offsets {
		fee, err := codec.ReadU64Big(data, offset)
		if err != nil {
			return err
		}
		reserve.Sub(reserve, fee)
	}
	if reserve.Sign() < 0 {
		reserve.SetInt64(0)
	}
	return nil
}

func (v *RaydiumCPMM) Quote(ctx context.Context, desc *dex.PoolDescriptor, req QuoteRequest) (quote.Quote, error) {
	reserves, err := v.Reserves(ctx, desc)
	if err != nil {
		return quote.Quote{}, err
	}
	return v.quoteSnapshot(reserves, req)
}

func (v *RaydiumCPMM) BuildInstructions(_ context.Context, desc *dex.PoolDescriptor, params TradeParams) (Build, error) {
	if err := checkTradeParams(params); err != nil {
		return Build{}, err
	}
	swap, err := v.swapInstruction(desc, params)
	if err != nil {
		return Build{}, err
	}
	return Build{Instructions: swapEnvelope(params, desc, swap)}, nil
}
