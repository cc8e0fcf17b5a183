package venue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coldbell/dex/trader/internal/chain"
	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/coldbell/dex/trader/internal/quote"
	"github.com/gagliardetto/solana-go"
)

// PumpSwap is the AMM pump.fun tokens graduate to. Pools pair the token as
// base with WSOL as quote; reserves are the vault balances.
type PumpSwap struct {
	base
}

func NewPumpSwap(client chain.Client, logger *slog.Logger) *PumpSwap {
	return &PumpSwap{base: newBase(dex.VenuePumpSwap, client, logger)}
}

func (v *PumpSwap) Discover(ctx context.Context, mint, known solana.PublicKey) (*dex.PoolDescriptor, error) {
	pool, err := v.findPool(ctx, mint, known, nil)
	if err != nil {
		return nil, err
	}
	desc, err := v.poolDescriptor(ctx, mint, pool)
	if err != nil {
		return nil, err
	}
	creator, err := readAddressAt(pool.Candidate.Account.Data, v.layout.CreatorOffset)
	if err != nil {
		return nil, err
	}
	globalConfig, _, err := dex.DerivePumpSwapGlobalConfigPDA(v.layout.Program)
	if err != nil {
		return nil, fmt.Errorf("derive pumpswap global config: %w", err)
	}
	creatorVault, _, err := dex.DerivePumpSwapCreatorVaultAuthorityPDA(v.layout.Program, creator)
	if err != nil {
		return nil, fmt.Errorf("derive pumpswap creator vault: %w", err)
	}

	desc.Config = globalConfig
	desc.Extra[dex.RoleFeeRecipient] = dex.PumpSwapFeeRecipient
	desc.Extra[dex.RoleFeeRecipientToken] = dex.MustDeriveAssociatedTokenAddress(dex.PumpSwapFeeRecipient, dex.NativeMint, dex.TokenProgramID)
	desc.Extra[dex.RoleCreatorVault] = creatorVault
	desc.Extra[dex.RoleCreatorVaultToken] = dex.MustDeriveAssociatedTokenAddress(creatorVault, dex.NativeMint, dex.TokenProgramID)
	v.logger.Debug("pool discovered", "mint", mint, "pool", desc.Pool, "derived_vaults", pool.Vaults.Derived)
	return desc, nil
}

func (v *PumpSwap) Reserves(ctx context.Context, desc *dex.PoolDescriptor) (dex.ReserveSnapshot, error) {
	if _, err := v.poolAccount(ctx, desc); err != nil {
		return dex.ReserveSnapshot{}, err
	}
	tokenReserve, nativeReserve, err := v.vaultReserves(ctx, desc.TokenVault, desc.NativeVault)
	if err != nil {
		return dex.ReserveSnapshot{}, err
	}
	return dex.ReserveSnapshot{Token: tokenReserve, Native: nativeReserve, CapturedAt: time.Now()}, nil
}

func (v *PumpSwap) Quote(ctx context.Context, desc *dex.PoolDescriptor, req QuoteRequest) (quote.Quote, error) {
	reserves, err := v.Reserves(ctx, desc)
	if err != nil {
		return quote.Quote{}, err
	}
	return v.quoteSnapshot(reserves, req)
}

func (v *PumpSwap) BuildInstructions(_ context.Context, desc *dex.PoolDescriptor, params TradeParams) (Build, error) {
	if err := checkTradeParams(params); err != nil {
		return Build{}, err
	}
	swap, err := v.swapInstruction(desc, params)
	if err != nil {
		return Build{}, err
	}
	return Build{Instructions: swapEnvelope(params, desc, swap)}, nil
}
