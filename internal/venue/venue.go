// Package venue implements one capability per on-chain venue family:
// discovery, quoting, and instruction assembly.
package venue

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/coldbell/dex/trader/internal/chain"
	"github.com/coldbell/dex/trader/internal/codec"
	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/coldbell/dex/trader/internal/discovery"
	"github.com/coldbell/dex/trader/internal/quote"
	"github.com/gagliardetto/solana-go"
)

type QuoteRequest struct {
	Side   dex.Side
	Amount *big.Int
	// SlippageBps overrides the adaptive policy when non-zero; it is still
	// clamped by the policy cap.
	SlippageBps uint32
	Policy      quote.Policy
}

func (r QuoteRequest) policy() quote.Policy {
	if r.Policy.BaseBps == 0 && r.Policy.CapBps == 0 {
		return quote.DefaultPolicy()
	}
	return r.Policy
}

type TradeParams struct {
	Side     dex.Side
	User     solana.PublicKey
	AmountIn uint64
	MinOut   uint64
	Quote    quote.Quote
}

// Build is the venue part of a transaction. The executor prepends the
// compute budget instructions.
type Build struct {
	Instructions []solana.Instruction
	LookupTables []solana.PublicKey
}

type Venue interface {
	Kind() dex.VenueKind
	Layout() dex.Layout
	// Discover resolves the pool for mint. known is an optional
	// user-controlled address used to disambiguate vault candidates.
	Discover(ctx context.Context, mint, known solana.PublicKey) (*dex.PoolDescriptor, error)
	Reserves(ctx context.Context, desc *dex.PoolDescriptor) (dex.ReserveSnapshot, error)
	// Quote takes a fresh reserve snapshot on every call.
	Quote(ctx context.Context, desc *dex.PoolDescriptor, req QuoteRequest) (quote.Quote, error)
	BuildInstructions(ctx context.Context, desc *dex.PoolDescriptor, params TradeParams) (Build, error)
	// ClassifyError maps a custom program error code to ErrSlippageExceeded or
	// ErrVenueMigrated, or nil when the code has no special meaning.
	ClassifyError(code uint32) error
}

type base struct {
	layout dex.Layout
	client chain.Client
	logger *slog.Logger
}

func newBase(kind dex.VenueKind, client chain.Client, logger *slog.Logger) base {
	if logger == nil {
		logger = slog.Default()
	}
	return base{
		layout: dex.Layouts[kind],
		client: client,
		logger: logger.With("venue", string(kind)),
	}
}

func (b base) Kind() dex.VenueKind {
	return b.layout.Kind
}

func (b base) Layout() dex.Layout {
	return b.layout
}

func (b base) ClassifyError(code uint32) error {
	switch {
	case b.layout.IsSlippageCode(code):
		return fmt.Errorf("%w: %s custom error %d", dex.ErrSlippageExceeded, b.layout.Kind, code)
	case b.layout.IsMigratedCode(code):
		return fmt.Errorf("%w: %s custom error %d", dex.ErrVenueMigrated, b.layout.Kind, code)
	default:
		return nil
	}
}

// quoteSnapshot prices req against reserves with the request's slippage, or
// the policy's adaptive choice when none was given.
func (b base) quoteSnapshot(reserves dex.ReserveSnapshot, req QuoteRequest) (quote.Quote, error) {
	policy := req.policy()
	slippage := policy.Clamp(req.SlippageBps)
	if req.SlippageBps == 0 {
		slippage = policy.ForTrade(reserves, req.Side, req.Amount)
	}
	return quote.Compute(b.layout.Kind, reserves, req.Side, req.Amount, b.layout.FeeBps, slippage)
}

// vaultReserves reads both vault balances in one call. Missing vaults hold
// zero.
func (b base) vaultReserves(ctx context.Context, tokenVault, nativeVault solana.PublicKey) (*big.Int, *big.Int, error) {
	accounts, err := b.client.GetMultipleAccounts(ctx, []solana.PublicKey{tokenVault, nativeVault})
	if err != nil {
		return nil, nil, fmt.Errorf("load %s vaults: %w", b.layout.Kind, err)
	}
	amounts := [2]*big.Int{new(big.Int), new(big.Int)}
	for i, acc := range accounts {
		if i > 1 || acc == nil {
			continue
		}
		decoded, err := chain.DecodeTokenAccount(acc)
		if err != nil {
			return nil, nil, err
		}
		amounts[i].SetUint64(decoded.Amount)
	}
	return amounts[0], amounts[1], nil
}

func (b base) poolAccount(ctx context.Context, desc *dex.PoolDescriptor) (*chain.Account, error) {
	acc, err := b.client.GetAccount(ctx, desc.Pool)
	if err != nil {
		if chain.IsAccountNotFound(err) {
			return nil, fmt.Errorf("%w: %s pool %s closed", dex.ErrVenueMigrated, b.layout.Kind, desc.Pool)
		}
		return nil, fmt.Errorf("load %s pool %s: %w", b.layout.Kind, desc.Pool, err)
	}
	if len(acc.Data) < b.layout.MinDataSize {
		return nil, fmt.Errorf("%w: %s pool %s has %d bytes", dex.ErrDecode, b.layout.Kind, desc.Pool, len(acc.Data))
	}
	return acc, nil
}

// tradeAccounts resolves every role a venue instruction may name for one
// trade: descriptor accounts, the user's accounts, fixed programs, and the
// side-dependent input/output roles.
func (b base) tradeAccounts(desc *dex.PoolDescriptor, params TradeParams) map[dex.AccountRole]solana.PublicKey {
	accounts := map[dex.AccountRole]solana.PublicKey{
		dex.RoleProgram:                b.layout.Program,
		dex.RoleSystemProgram:          dex.SystemProgramID,
		dex.RoleAssociatedTokenProgram: dex.AssociatedTokenProgramID,
		dex.RoleUser:                   params.User,
		dex.RoleUserToken:              dex.MustDeriveAssociatedTokenAddress(params.User, desc.Mint, desc.TokenProgram),
		dex.RoleUserNative:             dex.MustDeriveAssociatedTokenAddress(params.User, dex.NativeMint, dex.TokenProgramID),
	}
	for _, role := range []dex.AccountRole{
		dex.RolePool, dex.RoleMint, dex.RoleNativeMint, dex.RoleTokenVault, dex.RoleNativeVault,
		dex.RoleAuthority, dex.RoleEventAuthority, dex.RoleConfig, dex.RolePriceFeed,
		dex.RoleTokenProgram, dex.RoleNativeTokenProgram,
	} {
		if key, ok := desc.Account(role); ok {
			accounts[role] = key
		}
	}
	for role, key := range desc.Extra {
		accounts[role] = key
	}

	tokenSide := [4]dex.AccountRole{dex.RoleUserToken, dex.RoleTokenVault, dex.RoleMint, dex.RoleTokenProgram}
	nativeSide := [4]dex.AccountRole{dex.RoleUserNative, dex.RoleNativeVault, dex.RoleNativeMint, dex.RoleNativeTokenProgram}
	in, out := nativeSide, tokenSide
	if params.Side == dex.SideSell {
		in, out = tokenSide, nativeSide
	}
	accounts[dex.RoleInputTokenAccount] = accounts[in[0]]
	accounts[dex.RoleInputVault] = accounts[in[1]]
	accounts[dex.RoleInputMint] = accounts[in[2]]
	accounts[dex.RoleInputTokenProgram] = accounts[in[3]]
	accounts[dex.RoleOutputTokenAccount] = accounts[out[0]]
	accounts[dex.RoleOutputVault] = accounts[out[1]]
	accounts[dex.RoleOutputMint] = accounts[out[2]]
	accounts[dex.RoleOutputTokenProgram] = accounts[out[3]]
	return accounts
}

func (b base) swapInstruction(desc *dex.PoolDescriptor, params TradeParams) (solana.Instruction, error) {
	format, err := formatFor(b.layout.Kind, params.Side)
	if err != nil {
		return nil, err
	}
	ix, err := format.build(b.layout.Program, b.tradeAccounts(desc, params), params.AmountIn, params.MinOut)
	if err != nil {
		return nil, fmt.Errorf("build %s %s instruction: %w", b.layout.Kind, params.Side, err)
	}
	return ix, nil
}

func (b base) descriptor(mint, pool, tokenProgram solana.PublicKey) *dex.PoolDescriptor {
	return &dex.PoolDescriptor{
		Venue:              b.layout.Kind,
		Pool:               pool,
		Mint:               mint,
		NativeMint:         dex.NativeMint,
		EventAuthority:     dex.MustDeriveEventAuthorityPDA(b.layout.Program),
		TokenProgram:       tokenProgram,
		NativeTokenProgram: dex.TokenProgramID,
		TokenIsBase:        true,
		Extra:              make(map[dex.AccountRole]solana.PublicKey),
		DiscoveredAt:       time.Now(),
	}
}

func (b base) findPool(ctx context.Context, mint, known solana.PublicKey, derive func(pool, mint solana.PublicKey) (solana.PublicKey, error)) (discovery.Pool, error) {
	return discovery.FindPool(ctx, b.client, discovery.Query{
		Layout:      b.layout,
		Mint:        mint,
		Known:       known,
		DeriveVault: derive,
	}, b.logger)
}

// poolDescriptor fills the vault side of a descriptor from a scanned pool.
// The token program is the token vault's owner, or the mint's owner when the
// vault does not exist yet.
func (b base) poolDescriptor(ctx context.Context, mint solana.PublicKey, pool discovery.Pool) (*dex.PoolDescriptor, error) {
	tokenProgram := pool.Vaults.Token.Program
	if tokenProgram.IsZero() {
		var err error
		if tokenProgram, err = chain.MintProgram(ctx, b.client, mint); err != nil {
			return nil, err
		}
	}
	desc := b.descriptor(mint, pool.Address(), tokenProgram)
	desc.TokenVault = pool.Vaults.Token.Address
	desc.NativeVault = pool.Vaults.Native.Address
	desc.TokenIsBase = pool.Candidate.Slot.TokenIsBase
	return desc, nil
}

func readAddressAt(data []byte, offset int) (solana.PublicKey, error) {
	if offset < 0 {
		return solana.PublicKey{}, nil
	}
	return codec.ReadAddress(data, offset)
}

func checkTradeParams(params TradeParams) error {
	if params.User.IsZero() {
		return fmt.Errorf("trade has no signer")
	}
	if params.AmountIn == 0 {
		return quote.ErrInvalidAmount
	}
	return nil
}

type Options struct {
	JupiterURL  string
	HTTPClient  *http.Client
	ProbeAmount uint64
}

// NewDefault registers every supported venue against client.
func NewDefault(client chain.Client, opts Options, logger *slog.Logger) *Registry {
	return NewRegistry(
		NewJupiter(client, opts.JupiterURL, opts.HTTPClient, opts.ProbeAmount, logger),
		NewPumpFun(client, logger),
		NewPumpSwap(client, logger),
		NewLaunchLab(client, logger),
		NewRaydiumCPMM(client, logger),
		NewMeteoraDBC(client, logger),
	)
}
