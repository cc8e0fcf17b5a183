package venue

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coldbell/dex/trader/internal/chain/chaintest"
	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/gagliardetto/solana-go"
)

type jupiterFake struct {
	tradable     solana.PublicKey
	lookupTable  solana.PublicKey
	gotSlippage  uint32
	gotThreshold string
	gotUser      string
}

func (f *jupiterFake) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("outputMint") != f.tradable.String() && q.Get("inputMint") != f.tradable.String() {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"Could not find any route","errorCode":"COULD_NOT_FIND_ANY_ROUTE"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"inputMint":            q.Get("inputMint"),
			"inAmount":             q.Get("amount"),
			"outputMint":           q.Get("outputMint"),
			"outAmount":            "5000000",
			"otherAmountThreshold": "4975000",
			"swapMode":             "ExactIn",
			"slippageBps":          50,
			"priceImpactPct":       "0.012",
			"routePlan":            []any{map[string]any{"percent": 100}},
		})
	})
	mux.HandleFunc("/swap-instructions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("swap-instructions method = %s, want POST", r.Method)
		}
		var body struct {
			QuoteResponse struct {
				SlippageBps          uint32          `json:"slippageBps"`
				OtherAmountThreshold string          `json:"otherAmountThreshold"`
				RoutePlan            json.RawMessage `json:"routePlan"`
			} `json:"quoteResponse"`
			UserPublicKey string `json:"userPublicKey"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode swap-instructions body: %v", err)
		}
		if len(body.QuoteResponse.RoutePlan) == 0 {
			t.Errorf("route plan was not replayed")
		}
		f.gotSlippage = body.QuoteResponse.SlippageBps
		f.gotThreshold = body.QuoteResponse.OtherAmountThreshold
		f.gotUser = body.UserPublicKey

		ix := func(program solana.PublicKey) map[string]any {
			return map[string]any{
				"programId": program.String(),
				"accounts":  []any{map[string]any{"pubkey": body.UserPublicKey, "isSigner": true, "isWritable": true}},
				"data":      "AQID",
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"computeBudgetInstructions":   []any{ix(dex.ComputeBudgetProgramID)},
			"setupInstructions":           []any{ix(dex.AssociatedTokenProgramID)},
			"swapInstruction":             ix(dex.JupiterProgramID),
			"cleanupInstruction":          ix(dex.TokenProgramID),
			"addressLookupTableAddresses": []string{f.lookupTable.String()},
		})
	})
	return mux
}

func TestJupiterRoundTrip(t *testing.T) {
	fake := &jupiterFake{tradable: newKey(), lookupTable: newKey()}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	ledger := chaintest.NewLedger()
	ledger.PutMint(fake.tradable, dex.Token2022ProgramID)
	v := NewJupiter(ledger, srv.URL, srv.Client(), 0, nil)
	ctx := context.Background()

	desc, err := v.Discover(ctx, fake.tradable, solana.PublicKey{})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if desc.Venue != dex.VenueJupiter || !desc.TokenProgram.Equals(dex.Token2022ProgramID) {
		t.Fatalf("descriptor = %+v", desc)
	}

	q, err := v.Quote(ctx, desc, QuoteRequest{Side: dex.SideBuy, Amount: big.NewInt(1_000_000_000)})
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}
	// 1.2% impact lands in the first impact tier.
	if q.SlippageBps != 500 || q.MinOutput.Int64() != 4_750_000 {
		t.Fatalf("quote slippage = %d min = %s, want 500 and 4750000", q.SlippageBps, q.MinOutput)
	}
	if len(q.RouteData) == 0 {
		t.Fatalf("quote has no route data")
	}

	user := newKey()
	wider := q.WithSlippage(800)
	build, err := v.BuildInstructions(ctx, desc, TradeParams{
		Side:     dex.SideBuy,
		User:     user,
		AmountIn: 1_000_000_000,
		MinOut:   wider.MinOutput.Uint64(),
		Quote:    wider,
	})
	if err != nil {
		t.Fatalf("BuildInstructions() error = %v", err)
	}
	if fake.gotSlippage != 800 || fake.gotThreshold != "4600000" || fake.gotUser != user.String() {
		t.Fatalf("replayed slippage = %d threshold = %q user = %s", fake.gotSlippage, fake.gotThreshold, fake.gotUser)
	}
	if len(build.Instructions) != 3 {
		t.Fatalf("instructions = %d, want setup, swap, cleanup", len(build.Instructions))
	}
	for _, ix := range build.Instructions {
		if ix.ProgramID().Equals(dex.ComputeBudgetProgramID) {
			t.Fatalf("aggregator compute budget instruction was kept")
		}
	}
	if data, _ := build.Instructions[1].Data(); string(data) != "\x01\x02\x03" {
		t.Fatalf("swap data = %x, want 010203", data)
	}
	if len(build.LookupTables) != 1 || !build.LookupTables[0].Equals(fake.lookupTable) {
		t.Fatalf("lookup tables = %v, want [%s]", build.LookupTables, fake.lookupTable)
	}
}

func TestJupiterNoRoute(t *testing.T) {
	fake := &jupiterFake{tradable: newKey()}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	v := NewJupiter(chaintest.NewLedger(), srv.URL, srv.Client(), 0, nil)
	if _, err := v.Discover(context.Background(), newKey(), solana.PublicKey{}); !errors.Is(err, dex.ErrNotFound) {
		t.Fatalf("Discover() error = %v, want ErrNotFound", err)
	}
}

func TestJupiterServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	v := NewJupiter(chaintest.NewLedger(), srv.URL, srv.Client(), 0, nil)
	_, err := v.Discover(context.Background(), newKey(), solana.PublicKey{})
	if err == nil || errors.Is(err, dex.ErrNotFound) {
		t.Fatalf("Discover() error = %v, want a non-NotFound failure", err)
	}
}

func TestPatchRouteRequiresRoute(t *testing.T) {
	if _, err := patchRoute(nil, 100, 1); err == nil {
		t.Fatalf("patchRoute(nil) succeeded")
	}
}
