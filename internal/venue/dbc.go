package venue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coldbell/dex/trader/internal/chain"
	"github.com/coldbell/dex/trader/internal/codec"
	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/coldbell/dex/trader/internal/quote"
	"github.com/gagliardetto/solana-go"
)

// MeteoraDBC is Meteora's dynamic bonding curve. Base and quote reserves are
// tracked in the pool account; the quote mint lives in the pool's config, so
// the native side is verified by classifying the quote vault.
type MeteoraDBC struct {
	base
}

func NewMeteoraDBC(client chain.Client, logger *slog.Logger) *MeteoraDBC {
	return &MeteoraDBC{base: newBase(dex.VenueMeteoraDBC, client, logger)}
}

func (v *MeteoraDBC) deriveVault(pool, mint solana.PublicKey) (solana.PublicKey, error) {
	vault, _, err := dex.DeriveDBCVaultPDA(v.layout.Program, mint, pool)
	return vault, err
}

func (v *MeteoraDBC) migrated(data []byte, pool solana.PublicKey) error {
	migrated, err := codec.ReadBool(data, v.layout.StatusOffset)
	if err != nil {
		return err
	}
	if migrated {
		return fmt.Errorf("%w: dbc pool %s is migrated", dex.ErrVenueMigrated, pool)
	}
	return nil
}

func (v *MeteoraDBC) Discover(ctx context.Context, mint, known solana.PublicKey) (*dex.PoolDescriptor, error) {
	pool, err := v.findPool(ctx, mint, known, v.deriveVault)
	if err != nil {
		return nil, err
	}
	data := pool.Candidate.Account.Data
	if err := v.migrated(data, pool.Address()); err != nil {
		return nil, err
	}
	desc, err := v.poolDescriptor(ctx, mint, pool)
	if err != nil {
		return nil, err
	}
	if desc.Config, err = readAddressAt(data, v.layout.ConfigOffset); err != nil {
		return nil, err
	}
	authority, _, err := dex.DeriveDBCPoolAuthorityPDA(v.layout.Program)
	if err != nil {
		return nil, fmt.Errorf("derive dbc pool authority: %w", err)
	}
	desc.Authority = authority
	// The program id stands in for the absent optional referral account.
	desc.Extra[dex.RoleReferral] = v.layout.Program
	v.logger.Debug("pool discovered", "mint", mint, "pool", desc.Pool, "derived_vaults", pool.Vaults.Derived)
	return desc, nil
}

func (v *MeteoraDBC) Reserves(ctx context.Context, desc *dex.PoolDescriptor) (dex.ReserveSnapshot, error) {
	acc, err := v.poolAccount(ctx, desc)
	if err != nil {
		return dex.ReserveSnapshot{}, err
	}
	if err := v.migrated(acc.Data, desc.Pool); err != nil {
		return dex.ReserveSnapshot{}, err
	}
	tokenReserve, err := codec.ReadU64Big(acc.Data, v.layout.TokenReserveOffset)
	if err != nil {
		return dex.ReserveSnapshot{}, err
	}
	nativeReserve, err := codec.ReadU64Big(acc.Data, v.layout.NativeReserveOffset)
	if err != nil {
		return dex.ReserveSnapshot{}, err
	}
	return dex.ReserveSnapshot{Token: tokenReserve, Native: nativeReserve, CapturedAt: time.Now()}, nil
}

func (v *MeteoraDBC) Quote(ctx context.Context, desc *dex.PoolDescriptor, req QuoteRequest) (quote.Quote, error) {
	reserves, err := v.Reserves(ctx, desc)
	if err != nil {
		return quote.Quote{}, err
	}
	return v.quoteSnapshot(reserves, req)
}

func (v *MeteoraDBC) BuildInstructions(_ context.Context, desc *dex.PoolDescriptor, params TradeParams) (Build, error) {
	if err := checkTradeParams(params); err != nil {
		return Build{}, err
	}
	swap, err := v.swapInstruction(desc, params)
	if err != nil {
		return Build{}, err
	}
	return Build{Instructions: swapEnvelope(params, desc, swap)}, nil
}
