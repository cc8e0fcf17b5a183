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

// PumpFun trades the bonding curve before the token graduates. The curve
// account is a PDA of the mint; the curve itself holds the native side and
// its associated token account holds the token side.
type PumpFun struct {
	base
}

func NewPumpFun(client chain.Client, logger *slog.Logger) *PumpFun {
	return &PumpFun{base: newBase(dex.VenuePumpFun, client, logger)}
}

type pumpFunCurve struct {
	virtualToken uint64
	virtualSOL   uint64
	realToken    uint64
	complete     bool
	creator      solana.PublicKey
}

func (v *PumpFun) decodeCurve(acc *chain.Account) (pumpFunCurve, error) {
	l := v.layout
	if !acc.Owner.Equals(l.Program) || !codec.HasDiscriminator(acc.Data, l.Discriminator) {
		return pumpFunCurve{}, fmt.Errorf("%w: %s is not a bonding curve account", dex.ErrDecode, acc.Address)
	}
	var (
		curve pumpFunCurve
		err   error
	)
	if curve.virtualToken, err = codec.ReadU64LE(acc.Data, l.TokenReserveOffset); err != nil {
		return pumpFunCurve{}, err
	}
	if curve.virtualSOL, err = codec.ReadU64LE(acc.Data, l.NativeReserveOffset); err != nil {
		return pumpFunCurve{}, err
	}
	if curve.realToken, err = codec.ReadU64LE(acc.Data, l.RealTokenReserveOffset); err != nil {
		return pumpFunCurve{}, err
	}
	if curve.complete, err = codec.ReadBool(acc.Data, l.StatusOffset); err != nil {
		return pumpFunCurve{}, err
	}
	if curve.creator, err = codec.ReadAddress(acc.Data, l.CreatorOffset); err != nil {
		return pumpFunCurve{}, err
	}
	return curve, nil
}

func (v *PumpFun) Discover(ctx context.Context, mint, _ solana.PublicKey) (*dex.PoolDescriptor, error) {
	curveAddress, _, err := dex.DerivePumpFunBondingCurvePDA(v.layout.Program, mint)
	if err != nil {
		return nil, fmt.Errorf("derive bonding curve for %s: %w", mint, err)
	}
	acc, err := v.client.GetAccount(ctx, curveAddress)
	if err != nil {
		if chain.IsAccountNotFound(err) {
			return nil, fmt.Errorf("%w: no pump.fun bonding curve for %s", dex.ErrNotFound, mint)
		}
		return nil, fmt.Errorf("load bonding curve %s: %w", curveAddress, err)
	}
	curve, err := v.decodeCurve(acc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dex.ErrNotFound, err)
	}
	if curve.complete {
		return nil, fmt.Errorf("%w: pump.fun curve for %s is complete", dex.ErrVenueMigrated, mint)
	}
	tokenProgram, err := chain.MintProgram(ctx, v.client, mint)
	if err != nil {
		return nil, err
	}
	creatorVault, _, err := dex.DerivePumpFunCreatorVaultPDA(v.layout.Program, curve.creator)
	if err != nil {
		return nil, fmt.Errorf("derive creator vault: %w", err)
	}

	desc := v.descriptor(mint, curveAddress, tokenProgram)
	desc.TokenVault = dex.MustDeriveAssociatedTokenAddress(curveAddress, mint, tokenProgram)
	desc.NativeVault = curveAddress
	desc.Extra[dex.RoleGlobal] = dex.PumpFunGlobalAccount
	desc.Extra[dex.RoleFeeRecipient] = dex.PumpFunFeeRecipient
	desc.Extra[dex.RoleCreatorVault] = creatorVault
	v.logger.Debug("pool discovered", "mint", mint, "pool", curveAddress, "creator", curve.creator)
	return desc, nil
}

// Reserves quotes on the virtual reserves; the buy cap is the real token
// reserve still held by the curve.
func (v *PumpFun) Reserves(ctx context.Context, desc *dex.PoolDescriptor) (dex.ReserveSnapshot, error) {
	acc, err := v.poolAccount(ctx, desc)
	if err != nil {
		return dex.ReserveSnapshot{}, err
	}
	curve, err := v.decodeCurve(acc)
	if err != nil {
		return dex.ReserveSnapshot{}, err
	}
	if curve.complete {
		return dex.ReserveSnapshot{}, fmt.Errorf("%w: pump.fun curve %s is complete", dex.ErrVenueMigrated, desc.Pool)
	}
	return dex.ReserveSnapshot{
		Token:      new(big.Int).SetUint64(curve.virtualToken),
		Native:     new(big.Int).SetUint64(curve.virtualSOL),
		TokenCap:   new(big.Int).SetUint64(curve.realToken),
		CapturedAt: time.Now(),
	}, nil
}

func (v *PumpFun) Quote(ctx context.Context, desc *dex.PoolDescriptor, req QuoteRequest) (quote.Quote, error) {
	reserves, err := v.Reserves(ctx, desc)
	if err != nil {
		return quote.Quote{}, err
	}
	return v.quoteSnapshot(reserves, req)
}

// BuildInstructions pays and receives native lamports directly, so only the
// user's token account needs an idempotent create.
func (v *PumpFun) BuildInstructions(_ context.Context, desc *dex.PoolDescriptor, params TradeParams) (Build, error) {
	if err := checkTradeParams(params); err != nil {
		return Build{}, err
	}
	swap, err := v.swapInstruction(desc, params)
	if err != nil {
		return Build{}, err
	}
	var ixs []solana.Instruction
	if params.Side == dex.SideBuy {
		ixs = append(ixs, createATAIdempotent(params.User, params.User, desc.Mint, desc.TokenProgram))
	}
	return Build{Instructions: append(ixs, swap)}, nil
}
