// Package venuetest provides a scriptable venue.Venue for router and engine
// tests.
package venuetest

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/coldbell/dex/trader/internal/quote"
	"github.com/coldbell/dex/trader/internal/venue"
	"github.com/gagliardetto/solana-go"
)

type Fake struct {
	kind         dex.VenueKind
	DiscoverFunc func(ctx context.Context, mint solana.PublicKey) (*dex.PoolDescriptor, error)
	QuoteFunc    func(req venue.QuoteRequest) (quote.Quote, error)
	BuildFunc    func(params venue.TradeParams) (venue.Build, error)

	mu     sync.Mutex
	calls  map[string]int
	builds []venue.TradeParams
}

// New returns a fake that discovers a pool for every mint and quotes
// output = amount with the requested slippage.
func New(kind dex.VenueKind) *Fake {
	return &Fake{kind: kind, calls: make(map[string]int)}
}

// Found returns a descriptor for mint on kind with placeholder addresses.
func Found(kind dex.VenueKind, mint solana.PublicKey) *dex.PoolDescriptor {
	return &dex.PoolDescriptor{
		Venue:        kind,
		Pool:         solana.NewWallet().PublicKey(),
		Mint:         mint,
		NativeMint:   dex.NativeMint,
		TokenVault:   solana.NewWallet().PublicKey(),
		NativeVault:  solana.NewWallet().PublicKey(),
		TokenProgram: dex.TokenProgramID,
		TokenIsBase:  true,
	}
}

// NotFound makes every discovery fail with dex.ErrNotFound.
func (f *Fake) NotFound() *Fake {
	f.DiscoverFunc = func(_ context.Context, mint solana.PublicKey) (*dex.PoolDescriptor, error) {
		return nil, fmt.Errorf("%w: %s has no pool for %s", dex.ErrNotFound, f.kind, mint)
	}
	return f
}

func (f *Fake) record(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Builds returns the parameters of every BuildInstructions call.
func (f *Fake) Builds() []venue.TradeParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]venue.TradeParams(nil), f.builds...)
}

func (f *Fake) Kind() dex.VenueKind { return f.kind }

func (f *Fake) Layout() dex.Layout { return dex.Layouts[f.kind] }

func (f *Fake) Discover(ctx context.Context, mint, _ solana.PublicKey) (*dex.PoolDescriptor, error) {
	f.record("discover")
	if f.DiscoverFunc != nil {
		return f.DiscoverFunc(ctx, mint)
	}
	return Found(f.kind, mint), nil
}

func (f *Fake) Reserves(context.Context, *dex.PoolDescriptor) (dex.ReserveSnapshot, error) {
	f.record("reserves")
	return dex.ReserveSnapshot{}, fmt.Errorf("%w: fake has no reserves", dex.ErrUnsupportedVenue)
}

func (f *Fake) Quote(_ context.Context, _ *dex.PoolDescriptor, req venue.QuoteRequest) (quote.Quote, error) {
	f.record("quote")
	if f.QuoteFunc != nil {
		return f.QuoteFunc(req)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return quote.Quote{}, quote.ErrInvalidAmount
	}
	slippage := req.SlippageBps
	if slippage == 0 {
		slippage = quote.DefaultPolicy().BaseBps
	}
	q := quote.Quote{
		Venue:        f.kind,
		Side:         req.Side,
		InputAmount:  req.Amount,
		OutputAmount: req.Amount,
	}
	return q.WithSlippage(slippage), nil
}

func (f *Fake) BuildInstructions(_ context.Context, _ *dex.PoolDescriptor, params venue.TradeParams) (venue.Build, error) {
	f.record("build")
	f.mu.Lock()
	f.builds = append(f.builds, params)
	f.mu.Unlock()
	if f.BuildFunc != nil {
		return f.BuildFunc(params)
	}
	data := binary.LittleEndian.AppendUint64([]byte{byte(params.Side)}, params.MinOut)
	data = append(data, f.kind...)
	return venue.Build{Instructions: []solana.Instruction{
		solana.NewInstruction(f.Layout().Program, solana.AccountMetaSlice{solana.NewAccountMeta(params.User, true, true)}, data),
	}}, nil
}

func (f *Fake) ClassifyError(code uint32) error {
	l := f.Layout()
	switch {
	case l.IsSlippageCode(code):
		return fmt.Errorf("%w: %s custom error %d", dex.ErrSlippageExceeded, f.kind, code)
	case l.IsMigratedCode(code):
		return fmt.Errorf("%w: %s custom error %d", dex.ErrVenueMigrated, f.kind, code)
	}
	return nil
}
