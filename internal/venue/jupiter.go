package venue

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coldbell/dex/trader/internal/chain"
	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/coldbell/dex/trader/internal/quote"
	"github.com/gagliardetto/solana-go"
)

const (
	DefaultJupiterURL         = "https://quote-api.jup.ag/v6"
	DefaultJupiterProbeAmount = 10_000_000

	jupiterUserAgent     = "dex-trader/1.0"
	jupiterProbeSlippage = 50
)

var errNoRoute = errors.New("no route")

// Jupiter routes through the aggregator's HTTP API. Discovery is a probe
// quote; the route returned by Quote is replayed when building the swap.
type Jupiter struct {
	base
	baseURL     string
	http        *http.Client
	probeAmount uint64
}

func NewJupiter(client chain.Client, baseURL string, httpClient *http.Client, probeAmount uint64, logger *slog.Logger) *Jupiter {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultJupiterURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if probeAmount == 0 {
		probeAmount = DefaultJupiterProbeAmount
	}
	return &Jupiter{
		base:        newBase(dex.VenueJupiter, client, logger),
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        httpClient,
		probeAmount: probeAmount,
	}
}

type jupiterQuote struct {
	InAmount             string `json:"inAmount"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	SlippageBps          uint32 `json:"slippageBps"`
	PriceImpactPct       string `json:"priceImpactPct"`
}

type jupiterAccount struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type jupiterInstruction struct {
	ProgramID string           `json:"programId"`
	Accounts  []jupiterAccount `json:"accounts"`
	Data      string           `json:"data"`
}

type jupiterSwapInstructions struct {
	ComputeBudgetInstructions   []jupiterInstruction `json:"computeBudgetInstructions"`
	SetupInstructions           []jupiterInstruction `json:"setupInstructions"`
	SwapInstruction             *jupiterInstruction  `json:"swapInstruction"`
	CleanupInstruction          *jupiterInstruction  `json:"cleanupInstruction"`
	AddressLookupTableAddresses []string             `json:"addressLookupTableAddresses"`
}

type jupiterError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

func (v *Jupiter) Discover(ctx context.Context, mint, _ solana.PublicKey) (*dex.PoolDescriptor, error) {
	amount := new(big.Int).SetUint64(v.probeAmount)
	if _, _, err := v.fetchQuote(ctx, dex.NativeMint, mint, amount, jupiterProbeSlippage); err != nil {
		if errors.Is(err, errNoRoute) {
			return nil, fmt.Errorf("%w: jupiter has no route for %s: %v", dex.ErrNotFound, mint, err)
		}
		return nil, err
	}
	tokenProgram, err := chain.MintProgram(ctx, v.client, mint)
	if err != nil {
		return nil, err
	}
	desc := v.descriptor(mint, solana.PublicKey{}, tokenProgram)
	desc.EventAuthority = solana.PublicKey{}
	v.logger.Debug("route discovered", "mint", mint)
	return desc, nil
}

func (v *Jupiter) Reserves(context.Context, *dex.PoolDescriptor) (dex.ReserveSnapshot, error) {
	return dex.ReserveSnapshot{}, fmt.Errorf("%w: jupiter exposes no reserves", dex.ErrUnsupportedVenue)
}

// Quote asks the aggregator for a route. The tolerance is the request's
// override, or the adaptive policy applied to the route's reported impact.
func (v *Jupiter) Quote(ctx context.Context, desc *dex.PoolDescriptor, req QuoteRequest) (quote.Quote, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return quote.Quote{}, quote.ErrInvalidAmount
	}
	inputMint, outputMint := dex.NativeMint, desc.Mint
	if req.Side == dex.SideSell {
		inputMint, outputMint = desc.Mint, dex.NativeMint
	}
	policy := req.policy()
	route, raw, err := v.fetchQuote(ctx, inputMint, outputMint, req.Amount, policy.Clamp(req.SlippageBps))
	if err != nil {
		if errors.Is(err, errNoRoute) {
			return quote.Quote{}, fmt.Errorf("%w: %v", dex.ErrInsufficientLiquidity, err)
		}
		return quote.Quote{}, err
	}
	out, ok := new(big.Int).SetString(route.OutAmount, 10)
	if !ok || out.Sign() <= 0 {
		return quote.Quote{}, fmt.Errorf("%w: jupiter quoted output %q", dex.ErrInsufficientLiquidity, route.OutAmount)
	}
	impactPct, _ := strconv.ParseFloat(route.PriceImpactPct, 64)
	impactPct *= 100

	slippage := policy.Clamp(req.SlippageBps)
	if req.SlippageBps == 0 {
		slippage = policy.Adaptive(uint64(math.Round(impactPct*100)), nil)
	}
	return quote.Quote{
		Venue:          dex.VenueJupiter,
		Side:           req.Side,
		InputAmount:    new(big.Int).Set(req.Amount),
		OutputAmount:   out,
		MinOutput:      quote.MinOutput(out, slippage),
		SlippageBps:    slippage,
		PriceImpactPct: impactPct,
		RouteData:      raw,
	}, nil
}

// BuildInstructions replays the quoted route with the attempt's tolerance.
// The aggregator's compute budget instructions are dropped; the executor
// sets its own.
func (v *Jupiter) BuildInstructions(ctx context.Context, _ *dex.PoolDescriptor, params TradeParams) (Build, error) {
	if err := checkTradeParams(params); err != nil {
		return Build{}, err
	}
	route, err := patchRoute(params.Quote.RouteData, params.Quote.SlippageBps, params.MinOut)
	if err != nil {
		return Build{}, err
	}
	body := map[string]any{
		"quoteResponse":    route,
		"userPublicKey":    params.User.String(),
		"wrapAndUnwrapSol": true,
	}
	var resp jupiterSwapInstructions
	if err := v.doJSON(ctx, http.MethodPost, v.baseURL+"/swap-instructions", body, &resp); err != nil {
		return Build{}, fmt.Errorf("jupiter swap-instructions: %w", err)
	}
	if resp.SwapInstruction == nil {
		return Build{}, fmt.Errorf("%w: jupiter returned no swap instruction", dex.ErrSubmission)
	}

	var out Build
	parts := append([]jupiterInstruction(nil), resp.SetupInstructions...)
	parts = append(parts, *resp.SwapInstruction)
	if resp.CleanupInstruction != nil {
		parts = append(parts, *resp.CleanupInstruction)
	}
	for _, part := range parts {
		ix, err := part.decode()
		if err != nil {
			return Build{}, err
		}
		out.Instructions = append(out.Instructions, ix)
	}
	for _, raw := range resp.AddressLookupTableAddresses {
		table, err := solana.PublicKeyFromBase58(raw)
		if err != nil {
			return Build{}, fmt.Errorf("jupiter lookup table %q: %w", raw, err)
		}
		out.LookupTables = append(out.LookupTables, table)
	}
	return out, nil
}

func (ix jupiterInstruction) decode() (solana.Instruction, error) {
	program, err := solana.PublicKeyFromBase58(ix.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("jupiter instruction program %q: %w", ix.ProgramID, err)
	}
	data, err := base64.StdEncoding.DecodeString(ix.Data)
	if err != nil {
		return nil, fmt.Errorf("jupiter instruction data: %w", err)
	}
	metas := make(solana.AccountMetaSlice, 0, len(ix.Accounts))
	for _, acc := range ix.Accounts {
		key, err := solana.PublicKeyFromBase58(acc.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("jupiter instruction account %q: %w", acc.Pubkey, err)
		}
		metas = append(metas, solana.NewAccountMeta(key, acc.IsWritable, acc.IsSigner))
	}
	return solana.NewInstruction(program, metas, data), nil
}

// patchRoute rewrites the tolerance fields of a stored quote response and
// leaves every other field as the aggregator sent it.
func patchRoute(raw json.RawMessage, slippageBps uint32, minOut uint64) (map[string]json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("jupiter trade has no quoted route")
	}
	var route map[string]json.RawMessage
	if err := json.Unmarshal(raw, &route); err != nil {
		return nil, fmt.Errorf("decode jupiter route: %w", err)
	}
	route["slippageBps"] = json.RawMessage(strconv.FormatUint(uint64(slippageBps), 10))
	route["otherAmountThreshold"] = json.RawMessage(strconv.Quote(strconv.FormatUint(minOut, 10)))
	return route, nil
}

func (v *Jupiter) fetchQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount *big.Int, slippageBps uint32) (jupiterQuote, json.RawMessage, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint.String())
	params.Set("outputMint", outputMint.String())
	params.Set("amount", amount.String())
	params.Set("slippageBps", strconv.FormatUint(uint64(slippageBps), 10))
	params.Set("swapMode", "ExactIn")

	var raw json.RawMessage
	if err := v.doJSON(ctx, http.MethodGet, v.baseURL+"/quote?"+params.Encode(), nil, &raw); err != nil {
		return jupiterQuote{}, nil, err
	}
	var route jupiterQuote
	if err := json.Unmarshal(raw, &route); err != nil {
		return jupiterQuote{}, nil, fmt.Errorf("decode jupiter quote: %w", err)
	}
	return route, raw, nil
}

func (v *Jupiter) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", jupiterUserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := v.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr jupiterError
		if json.Unmarshal(raw, &apiErr) == nil && isNoRoute(apiErr) {
			return fmt.Errorf("%w: %s", errNoRoute, apiErr.Error)
		}
		return fmt.Errorf("request failed (%d): %s", resp.StatusCode, string(raw))
	}
	return json.Unmarshal(raw, out)
}

func isNoRoute(apiErr jupiterError) bool {
	switch apiErr.ErrorCode {
	case "COULD_NOT_FIND_ANY_ROUTE", "TOKEN_NOT_TRADABLE", "NO_ROUTES_FOUND":
		return true
	}
	return strings.Contains(strings.ToLower(apiErr.Error), "route")
}
