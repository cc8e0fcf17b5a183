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
	launchLabTotalBaseSellOffset  = 29
	launchLabPlatformConfigOffset = 173
)

// LaunchLab is Raydium's bonding-curve launchpad. A pool leaves the curve
// (status != 0) once its funding target is reached and trades on CPMM after.
type LaunchLab struct {
	base
}

func NewLaunchLab(client chain.Client, logger *slog.Logger) *LaunchLab {
	return &LaunchLab{base: newBase(dex.VenueLaunchLab, client, logger)}
}

func (v *LaunchLab) deriveVault(pool, mint solana.PublicKey) (solana.PublicKey, error) {
	vault, _, err := dex.DeriveLaunchLabVaultPDA(v.layout.Program, pool, mint)
	return vault, err
}

func (v *LaunchLab) Discover(ctx context.Context, mint, known solana.PublicKey) (*dex.PoolDescriptor, error) {
	pool, err := v.findPool(ctx, mint, known, v.deriveVault)
	if err != nil {
		return nil, err
	}
	data := pool.Candidate.Account.Data
	status, err := codec.ReadU8(data, v.layout.StatusOffset)
	if err != nil {
		return nil, err
	}
	if status != 0 {
		return nil, fmt.Errorf("%w: launchlab pool %s has status %d", dex.ErrVenueMigrated, pool.Address(), status)
	}
	desc, err := v.poolDescriptor(ctx, mint, pool)
	if err != nil {
		return nil, err
	}
	if desc.Config, err = readAddressAt(data, v.layout.ConfigOffset); err != nil {
		return nil, err
	}
	platformConfig, err := readAddressAt(data, launchLabPlatformConfigOffset)
	if err != nil {
		return nil, err
	}
	authority, _, err := dex.DeriveLaunchLabAuthorityPDA(v.layout.Program)
	if err != nil {
		return nil, fmt.Errorf("derive launchlab authority: %w", err)
	}
	desc.Authority = authority
	desc.Extra[dex.RolePlatformConfig] = platformConfig
	v.logger.Debug("pool discovered", "mint", mint, "pool", desc.Pool, "derived_vaults", pool.Vaults.Derived)
	return desc, nil
}

// Reserves returns the curve's effective reserves: virtual base minus what
// has been sold, virtual quote plus what has been raised. The buy cap is the
// remaining sellable supply.
func (v *LaunchLab) Reserves(ctx context.Context, desc *dex.PoolDescriptor) (dex.ReserveSnapshot, error) {
	acc, err := v.poolAccount(ctx, desc)
	if err != nil {
		return dex.ReserveSnapshot{}, err
	}
	data := acc.Data
	status, err := codec.ReadU8(data, v.layout.StatusOffset)
	if err != nil {
		return dex.ReserveSnapshot{}, err
	}
	if status != 0 {
		return dex.ReserveSnapshot{}, fmt.Errorf("%w: launchlab pool %s has status %d", dex.ErrVenueMigrated, desc.Pool, status)
	}

	var fields [5]*big.Int
	for i, offset := range []int{
		v.layout.TokenReserveOffset,
		v.layout.NativeReserveOffset,
		v.layout.RealTokenReserveOffset,
		v.layout.RealNativeReserveOffset,
		launchLabTotalBaseSellOffset,
	} {
		if fields[i], err = codec.ReadU64Big(data, offset); err != nil {
			return dex.ReserveSnapshot{}, err
		}
	}
	virtualBase, virtualQuote, realBase, realQuote, totalSell := fields[0], fields[1], fields[2], fields[3], fields[4]

	tokenCap := new(big.Int).Sub(totalSell, realBase)
	if tokenCap.Sign() < 0 {
		tokenCap.SetInt64(0)
	}
	return dex.ReserveSnapshot{
		Token:      new(big.Int).Sub(virtualBase, realBase),
		Native:     new(big.Int).Add(virtualQuote, realQuote),
		TokenCap:   tokenCap,
		CapturedAt: time.Now(),
	}, nil
}

func (v *LaunchLab) Quote(ctx context.Context, desc *dex.PoolDescriptor, req QuoteRequest) (quote.Quote, error) {
	reserves, err := v.Reserves(ctx, desc)
	if err != nil {
		return quote.Quote{}, err
	}
	return v.quoteSnapshot(reserves, req)
}

func (v *LaunchLab) BuildInstructions(_ context.Context, desc *dex.PoolDescriptor, params TradeParams) (Build, error) {
	if err := checkTradeParams(params); err != nil {
		return Build{}, err
	}
	swap, err := v.swapInstruction(desc, params)
	if err != nil {
		return Build{}, err
	}
	return Build{Instructions: swapEnvelope(params, desc, swap)}, nil
}
