package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coldbell/dex/trader/internal/chain"
	"github.com/coldbell/dex/trader/internal/chain/chaintest"
	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/coldbell/dex/trader/internal/executor"
	"github.com/coldbell/dex/trader/internal/quote"
	"github.com/coldbell/dex/trader/internal/router"
	"github.com/coldbell/dex/trader/internal/venue"
	"github.com/coldbell/dex/trader/internal/venue/venuetest"
	"github.com/gagliardetto/solana-go"
)

type harness struct {
	engine *Engine
	router *router.Router
	ledger *chaintest.Ledger
	fakes  map[dex.VenueKind]*venuetest.Fake
}

// newHarness registers a fake for every kind; kinds not in found report
// dex.ErrNotFound for every mint.
func newHarness(found ...dex.VenueKind) *harness {
	h := &harness{ledger: chaintest.NewLedger(), fakes: make(map[dex.VenueKind]*venuetest.Fake)}
	var list []venue.Venue
	for _, kind := range dex.DefaultVenuePriority {
		f := venuetest.New(kind).NotFound()
		h.fakes[kind] = f
		list = append(list, f)
	}
	for _, kind := range found {
		h.fakes[kind].DiscoverFunc = nil
	}
	h.router = router.New(venue.NewRegistry(list...), router.Config{}, nil)
	exec := executor.New(h.ledger, executor.Config{
		ConfirmTimeout: time.Second,
		PollInterval:   5 * time.Millisecond,
	}, nil)
	h.engine = New(h.router, exec, Config{}, nil)
	return h
}

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func buyRequest(mint solana.PublicKey, amount uint64) TradeRequest {
	return TradeRequest{
		Mint:   mint,
		Side:   dex.SideBuy,
		Amount: amount,
		Signer: solana.NewWallet().PrivateKey,
	}
}

func TestExecuteTradeUsesFirstVenueInPriority(t *testing.T) {
	h := newHarness(dex.VenuePumpFun, dex.VenueMeteoraDBC)
	mint := newKey()

	result := h.engine.ExecuteTrade(context.Background(), buyRequest(mint, 1_000_000))
	if result.Err != nil {
		t.Fatalf("ExecuteTrade() error = %v", result.Err)
	}
	if !result.Success || result.Venue != dex.VenuePumpFun {
		t.Fatalf("result = success %v venue %s, want pumpfun success", result.Success, result.Venue)
	}
	if result.TradeID == "" {
		t.Fatal("result has no trade id")
	}
	if result.Signature.IsZero() || len(result.Attempts) != 1 {
		t.Fatalf("signature %s with %d attempts", result.Signature, len(result.Attempts))
	}
	if got := result.MinCounterAmount.Uint64(); got != 970_000 {
		t.Fatalf("MinCounterAmount = %d, want 970000", got)
	}
	builds := h.fakes[dex.VenuePumpFun].Builds()
	if len(builds) != 1 || builds[0].MinOut != 970_000 || builds[0].AmountIn != 1_000_000 {
		t.Fatalf("builds = %+v", builds)
	}
	if n := h.fakes[dex.VenueMeteoraDBC].Calls("discover"); n != 0 {
		t.Fatalf("meteora_dbc discovered %d times after an earlier hit", n)
	}
	if state := h.router.State(mint); state != router.StateConfirmed {
		t.Fatalf("router state = %s, want confirmed", state)
	}
}

func TestExecuteTradeRequotesEveryRetry(t *testing.T) {
	h := newHarness(dex.VenuePumpSwap)
	var sends int
	h.ledger.SendFunc = func(tx *solana.Transaction) (solana.Signature, error) {
		sends++
		if sends < 3 {
			return solana.Signature{}, errors.New("blockhash not found")
		}
		return tx.Signatures[0], nil
	}
	req := buyRequest(newKey(), 1_000_000)
	req.Side = dex.SideSell

	result := h.engine.ExecuteTrade(context.Background(), req)
	if result.Err != nil {
		t.Fatalf("ExecuteTrade() error = %v", result.Err)
	}
	fake := h.fakes[dex.VenuePumpSwap]
	if n := fake.Calls("quote"); n != 3 {
		t.Fatalf("quotes = %d, want 3 (initial plus one per retry)", n)
	}
	builds := fake.Builds()
	want := []uint64{970_000, 950_000, 930_000}
	if len(builds) != len(want) {
		t.Fatalf("builds = %d, want %d", len(builds), len(want))
	}
	for i, b := range builds {
		if b.MinOut != want[i] {
			t.Errorf("attempt %d MinOut = %d, want %d", i+1, b.MinOut, want[i])
		}
	}
	if result.MinCounterAmount.Uint64() != 930_000 {
		t.Fatalf("MinCounterAmount = %s, want the landed attempt's 930000", result.MinCounterAmount)
	}
}

func TestExecuteTradeRequoteFailures(t *testing.T) {
	tests := []struct {
		name         string
		requoteErr   error
		wantErr      error
		wantAttempts int
	}{
		{name: "transport failure is retried", requoteErr: errors.New("read tcp: connection reset by peer"), wantAttempts: 3},
		{name: "drained pool is terminal", requoteErr: fmt.Errorf("%w: vault empty", dex.ErrInsufficientLiquidity), wantErr: dex.ErrInsufficientLiquidity, wantAttempts: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(dex.VenuePumpSwap)
			var sends int
			h.ledger.SendFunc = func(tx *solana.Transaction) (solana.Signature, error) {
				sends++
				if sends == 1 {
					return solana.Signature{}, errors.New("blockhash not found")
				}
				return tx.Signatures[0], nil
			}
			var quotes int
			plain := venuetest.New(dex.VenuePumpSwap)
			h.fakes[dex.VenuePumpSwap].QuoteFunc = func(req venue.QuoteRequest) (quote.Quote, error) {
				quotes++
				if quotes == 2 {
					return quote.Quote{}, tt.requoteErr
				}
				return plain.Quote(context.Background(), nil, req)
			}

			result := h.engine.ExecuteTrade(context.Background(), buyRequest(newKey(), 1_000_000))
			if tt.wantErr == nil && result.Err != nil {
				t.Fatalf("ExecuteTrade() error = %v", result.Err)
			}
			if tt.wantErr != nil && !errors.Is(result.Err, tt.wantErr) {
				t.Fatalf("ExecuteTrade() error = %v, want %v", result.Err, tt.wantErr)
			}
			if len(result.Attempts) != tt.wantAttempts {
				t.Fatalf("attempts = %d, want %d", len(result.Attempts), tt.wantAttempts)
			}
			if tt.wantErr == nil && !errors.Is(result.Attempts[1].Err, dex.ErrSubmission) {
				t.Fatalf("attempt 2 error = %v, want a retryable submission failure", result.Attempts[1].Err)
			}
		})
	}
}

func TestExecuteTradeReroutesAfterMigration(t *testing.T) {
	h := newHarness(dex.VenuePumpFun, dex.VenuePumpSwap)
	var (
		mu    sync.Mutex
		first solana.Signature
	)
	h.ledger.SendFunc = func(tx *solana.Transaction) (solana.Signature, error) {
		mu.Lock()
		defer mu.Unlock()
		if first.IsZero() {
			first = tx.Signatures[0]
		}
		return tx.Signatures[0], nil
	}
	h.ledger.StatusFunc = func(sig solana.Signature, _ int) (chain.SignatureStatus, error) {
		mu.Lock()
		defer mu.Unlock()
		if sig == first {
			return chain.SignatureStatus{Found: true, Err: map[string]any{"InstructionError": []any{float64(1), map[string]any{"Custom": float64(6005)}}}}, nil
		}
		return chain.SignatureStatus{Found: true, Confirmation: "confirmed"}, nil
	}
	mint := newKey()

	result := h.engine.ExecuteTrade(context.Background(), buyRequest(mint, 500_000))
	if result.Err != nil {
		t.Fatalf("ExecuteTrade() error = %v", result.Err)
	}
	if result.Venue != dex.VenuePumpSwap || result.Reroutes != 1 {
		t.Fatalf("venue %s after %d reroutes, want pumpswap after 1", result.Venue, result.Reroutes)
	}
	if len(result.Attempts) != 2 {
		t.Fatalf("attempts = %d, want one per venue", len(result.Attempts))
	}
	if !errors.Is(result.Attempts[0].Err, dex.ErrVenueMigrated) {
		t.Fatalf("first attempt error = %v, want migrated", result.Attempts[0].Err)
	}
	if n := h.fakes[dex.VenuePumpFun].Calls("build"); n != 1 {
		t.Fatalf("pumpfun built %d times, want 1", n)
	}
	res, err := h.engine.ResolveVenue(context.Background(), mint, Options{})
	if err != nil || res.Venue.Kind() != dex.VenuePumpSwap || !res.Cached {
		t.Fatalf("ResolveVenue() = %v cached %v, %v; want cached pumpswap", res.Venue, res.Cached, err)
	}
}

func TestExecuteTradeStopsRerouting(t *testing.T) {
	h := newHarness(dex.VenuePumpFun, dex.VenuePumpSwap)
	h.ledger.StatusFunc = func(solana.Signature, int) (chain.SignatureStatus, error) {
		return chain.SignatureStatus{Found: true, Err: map[string]any{"InstructionError": []any{float64(1), map[string]any{"Custom": float64(6005)}}}}, nil
	}
	registry := venue.NewRegistry(migratingVenue{h.fakes[dex.VenuePumpFun]}, migratingVenue{h.fakes[dex.VenuePumpSwap]})
	h.engine.router = router.New(registry, router.Config{Priority: []dex.VenueKind{dex.VenuePumpFun}}, nil)
	h.engine.cfg.MaxReroutes = 1

	result := h.engine.ExecuteTrade(context.Background(), buyRequest(newKey(), 1_000))
	if !errors.Is(result.Err, dex.ErrVenueMigrated) {
		t.Fatalf("ExecuteTrade() error = %v, want migrated", result.Err)
	}
	if result.Reroutes != 1 {
		t.Fatalf("reroutes = %d, want 1", result.Reroutes)
	}
	var tradeErr *TradeError
	if !errors.As(result.Err, &tradeErr) || tradeErr.Venue != dex.VenuePumpSwap || tradeErr.LastAttempt == nil {
		t.Fatalf("trade error = %#v", result.Err)
	}
}

// migratingVenue treats 6005 as migration regardless of the wrapped kind.
type migratingVenue struct {
	*venuetest.Fake
}

func (m migratingVenue) ClassifyError(code uint32) error {
	if code == 6005 {
		return fmt.Errorf("%w: custom error %d", dex.ErrVenueMigrated, code)
	}
	return nil
}

func TestExecuteTradeNoVenue(t *testing.T) {
	h := newHarness()
	result := h.engine.ExecuteTrade(context.Background(), buyRequest(newKey(), 1_000))
	if result.Success || !errors.Is(result.Err, dex.ErrNotFound) {
		t.Fatalf("ExecuteTrade() = success %v err %v, want not found", result.Success, result.Err)
	}
	var tradeErr *TradeError
	if !errors.As(result.Err, &tradeErr) {
		t.Fatalf("error %T is not a *TradeError", result.Err)
	}
	if tradeErr.LastAttempt != nil || tradeErr.TradeID != result.TradeID {
		t.Fatalf("trade error = %+v", tradeErr)
	}
	if n := h.ledger.Calls("sendTransaction"); n != 0 {
		t.Fatalf("sent %d transactions without a venue", n)
	}
}

func TestExecuteTradeRejectsInvalidRequests(t *testing.T) {
	mint := newKey()
	tests := []struct {
		name string
		req  TradeRequest
	}{
		{name: "zero amount", req: buyRequest(mint, 0)},
		{name: "no mint", req: buyRequest(solana.PublicKey{}, 10)},
		{name: "no signer", req: TradeRequest{Mint: mint, Side: dex.SideBuy, Amount: 10}},
		{name: "bad side", req: TradeRequest{Mint: mint, Side: dex.Side(9), Amount: 10, Signer: solana.NewWallet().PrivateKey}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(dex.VenuePumpFun)
			result := h.engine.ExecuteTrade(context.Background(), tt.req)
			if result.Err == nil {
				t.Fatal("ExecuteTrade() error = nil")
			}
			if n := h.fakes[dex.VenuePumpFun].Calls("discover"); n != 0 {
				t.Fatalf("discover called %d times for an invalid request", n)
			}
		})
	}
}

func TestExecuteManyIsolatesFailures(t *testing.T) {
	h := newHarness(dex.VenueLaunchLab)
	missing := newKey()
	h.fakes[dex.VenueLaunchLab].DiscoverFunc = func(_ context.Context, mint solana.PublicKey) (*dex.PoolDescriptor, error) {
		if mint == missing {
			return nil, dex.ErrNotFound
		}
		return venuetest.Found(dex.VenueLaunchLab, mint), nil
	}
	reqs := []TradeRequest{
		buyRequest(newKey(), 1_000),
		buyRequest(missing, 2_000),
		buyRequest(newKey(), 3_000),
	}

	results := h.engine.ExecuteMany(context.Background(), reqs)
	if len(results) != len(reqs) {
		t.Fatalf("results = %d, want %d", len(results), len(reqs))
	}
	for i, want := range []bool{true, false, true} {
		if results[i].Success != want {
			t.Errorf("trade %d success = %v, want %v (err %v)", i, results[i].Success, want, results[i].Err)
		}
	}
	if !errors.Is(results[1].Err, dex.ErrNotFound) {
		t.Fatalf("trade 1 error = %v, want not found", results[1].Err)
	}
	if results[0].TradeID == results[2].TradeID {
		t.Fatal("trades share a trade id")
	}
}

func TestQuoteHonoursOverride(t *testing.T) {
	h := newHarness(dex.VenueRaydiumCPMM)
	got, err := h.engine.Quote(context.Background(), newKey(), dex.SideBuy, 10_000, Options{SlippageBps: 100})
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}
	if got.Venue != dex.VenueRaydiumCPMM || got.Quote.MinOutput.Uint64() != 9_900 {
		t.Fatalf("Quote() = %s min %s, want raydium_cpmm min 9900", got.Venue, got.Quote.MinOutput)
	}
	if n := h.ledger.Calls("sendTransaction"); n != 0 {
		t.Fatalf("Quote sent %d transactions", n)
	}
	if _, err := h.engine.Quote(context.Background(), newKey(), dex.SideBuy, 0, Options{}); err == nil {
		t.Fatal("Quote(0) error = nil")
	}
}

func TestTradeErrorMessage(t *testing.T) {
	err := &TradeError{
		TradeID:     "t-1",
		Venue:       dex.VenuePumpSwap,
		LastAttempt: &executor.Attempt{Index: 3, PriorityFee: 40_000, SlippageBps: 700},
		Err:         dex.ErrSlippageExceeded,
	}
	msg := err.Error()
	for _, want := range []string{"t-1", "pumpswap", "attempt 3", "priority_fee=40000", "slippage_bps=700"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if !errors.Is(err, dex.ErrSlippageExceeded) {
		t.Fatal("TradeError does not unwrap")
	}
}
