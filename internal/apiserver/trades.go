package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/coldbell/dex/trader/internal/engine"
	"github.com/coldbell/dex/trader/internal/executor"
	"github.com/coldbell/dex/trader/internal/router"
	"github.com/coldbell/dex/trader/internal/wallet"
	"github.com/gagliardetto/solana-go"
)

const (
	lamportsDecimals = 9
	maxTradeBody     = 64 << 10
)

type venuesResponse struct {
	Venues []dex.VenueKind `json:"venues"`
}

type walletsResponse struct {
	Wallets []string `json:"wallets"`
}

type resolveResponse struct {
	Venue        dex.VenueKind `json:"venue"`
	Pool         string        `json:"pool"`
	TokenVault   string        `json:"token_vault,omitempty"`
	NativeVault  string        `json:"native_vault,omitempty"`
	TokenProgram string        `json:"token_program"`
	Cached       bool          `json:"cached"`
}

type quoteResponse struct {
	Venue          dex.VenueKind `json:"venue"`
	Pool           string        `json:"pool,omitempty"`
	Side           string        `json:"side"`
	InputAmount    string        `json:"input_amount"`
	OutputAmount   string        `json:"output_amount"`
	MinOutput      string        `json:"min_output"`
	SlippageBps    uint32        `json:"slippage_bps"`
	FeeBps         uint32        `json:"fee_bps"`
	PriceImpactPct float64       `json:"price_impact_pct"`
	// NativeSOL is the native leg of the trade in SOL.
	NativeSOL string `json:"native_sol"`
}

type tradeRequest struct {
	Mint        string   `json:"mint"`
	Side        string   `json:"side"`
	Amount      uint64   `json:"amount,string"`
	SlippageBps uint32   `json:"slippage_bps"`
	MaxAttempts int      `json:"max_attempts"`
	Venue       string   `json:"venue"`
	Wallet      string   `json:"wallet"`
	Wallets     []string `json:"wallets"`
}

type attemptResponse struct {
	Index       int    `json:"index"`
	PriorityFee uint64 `json:"priority_fee"`
	SlippageBps uint32 `json:"slippage_bps"`
	MinOut      uint64 `json:"min_out,string"`
	Signature   string `json:"signature,omitempty"`
	State       string `json:"state"`
	Error       string `json:"error,omitempty"`
}

type tradeResponse struct {
	TradeID          string            `json:"trade_id"`
	Wallet           string            `json:"wallet"`
	Success          bool              `json:"success"`
	Signature        string            `json:"signature,omitempty"`
	Venue            dex.VenueKind     `json:"venue,omitempty"`
	CounterAmount    string            `json:"counter_amount,omitempty"`
	MinCounterAmount string            `json:"min_counter_amount,omitempty"`
	NativeSOL        string            `json:"native_sol,omitempty"`
	Reroutes         int               `json:"reroutes"`
	Ambiguous        bool              `json:"ambiguous"`
	Attempts         []attemptResponse `json:"attempts"`
	Error            string            `json:"error,omitempty"`
}

type tradesResponse struct {
	Trades []tradeResponse `json:"trades"`
}

func (s *Service) handleVenues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	s.respondJSON(w, http.StatusOK, venuesResponse{Venues: s.engine.Venues()})
}

func (s *Service) handleWallets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	keys := s.wallets.PublicKeys()
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key.String())
	}
	s.respondJSON(w, http.StatusOK, walletsResponse{Wallets: out})
}

func (s *Service) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	mint, opts, err := parseMarketQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.engine.ResolveVenue(r.Context(), mint, opts)
	if err != nil {
		s.respondEngineError(w, "resolve venue", err)
		return
	}
	s.respondJSON(w, http.StatusOK, presentResolution(res))
}

func (s *Service) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	mint, opts, err := parseMarketQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	side, err := dex.ParseSide(r.URL.Query().Get("side"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseRequiredUint64(r, "amount")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if opts.SlippageBps, err = parseOptionalUint32(r, "slippage_bps"); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.engine.Quote(r.Context(), mint, side, amount, opts)
	if err != nil {
		s.respondEngineError(w, "quote", err)
		return
	}
	s.respondJSON(w, http.StatusOK, presentQuote(result))
}

func (s *Service) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}

	var body tradeRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxTradeBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid trade request: %v", err))
		return
	}
	reqs, err := s.tradeRequests(body)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, wallet.ErrUnknownWallet) {
			status = http.StatusForbidden
		}
		s.respondError(w, status, err.Error())
		return
	}

	// A trade outlives a disconnected client; cancelling it mid-flight only
	// makes its outcome ambiguous.
	ctx := context.WithoutCancel(r.Context())
	if s.cfg.TradeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TradeTimeout)
		defer cancel()
	}

	var results []engine.Result
	if len(reqs) == 1 {
		results = []engine.Result{s.engine.ExecuteTrade(ctx, reqs[0])}
	} else {
		results = s.engine.ExecuteMany(ctx, reqs)
	}

	out := tradesResponse{Trades: make([]tradeResponse, 0, len(results))}
	for i, res := range results {
		out.Trades = append(out.Trades, presentTrade(reqs[i], res))
	}
	status := http.StatusOK
	if len(results) == 1 && !results[0].Success {
		status = statusForError(results[0].Err)
	}
	s.respondJSON(w, status, out)
}

// tradeRequests expands one body into a trade per selected wallet. "*" in
// wallets selects every loaded wallet.
func (s *Service) tradeRequests(body tradeRequest) ([]engine.TradeRequest, error) {
	mint, err := solana.PublicKeyFromBase58(strings.TrimSpace(body.Mint))
	if err != nil {
		return nil, fmt.Errorf("invalid mint: %w", err)
	}
	side, err := dex.ParseSide(body.Side)
	if err != nil {
		return nil, err
	}
	if body.Amount == 0 {
		return nil, errors.New("amount must be positive")
	}
	opts := engine.Options{SlippageBps: body.SlippageBps, MaxAttempts: body.MaxAttempts}
	if strings.TrimSpace(body.Venue) != "" {
		if opts.VenueHint, err = dex.ParseVenueKind(body.Venue); err != nil {
			return nil, err
		}
	}

	selected := body.Wallets
	if len(selected) == 0 {
		selected = []string{body.Wallet}
	}
	if len(selected) == 1 && strings.TrimSpace(selected[0]) == "*" {
		selected = selected[:0]
		for _, key := range s.wallets.PublicKeys() {
			selected = append(selected, key.String())
		}
	}

	reqs := make([]engine.TradeRequest, 0, len(selected))
	for _, raw := range selected {
		signer, err := s.wallets.Get(raw)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, engine.TradeRequest{
			Mint:    mint,
			Side:    side,
			Amount:  body.Amount,
			Signer:  signer,
			Options: opts,
		})
	}
	return reqs, nil
}

func parseMarketQuery(r *http.Request) (solana.PublicKey, engine.Options, error) {
	query := r.URL.Query()
	mint, err := solana.PublicKeyFromBase58(strings.TrimSpace(query.Get("mint")))
	if err != nil {
		return solana.PublicKey{}, engine.Options{}, fmt.Errorf("invalid mint: %w", err)
	}
	var opts engine.Options
	if raw := strings.TrimSpace(query.Get("venue")); raw != "" {
		if opts.VenueHint, err = dex.ParseVenueKind(raw); err != nil {
			return solana.PublicKey{}, engine.Options{}, err
		}
	}
	return mint, opts, nil
}

func (s *Service) respondEngineError(w http.ResponseWriter, op string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "err", err)
	}
	s.respondError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, dex.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dex.ErrUnsupportedVenue):
		return http.StatusBadRequest
	case errors.Is(err, dex.ErrInsufficientLiquidity),
		errors.Is(err, dex.ErrSlippageExceeded),
		errors.Is(err, dex.ErrVenueMigrated):
		return http.StatusUnprocessableEntity
	case errors.Is(err, dex.ErrAbandoned), errors.Is(err, dex.ErrConfirmationTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func presentResolution(res router.Resolution) resolveResponse {
	out := resolveResponse{
		Venue:        res.Venue.Kind(),
		Pool:         res.Pool.Pool.String(),
		TokenProgram: res.Pool.TokenProgram.String(),
		Cached:       res.Cached,
	}
	if !res.Pool.TokenVault.IsZero() {
		out.TokenVault = res.Pool.TokenVault.String()
	}
	if !res.Pool.NativeVault.IsZero() {
		out.NativeVault = res.Pool.NativeVault.String()
	}
	return out
}

func presentQuote(res engine.QuoteResult) quoteResponse {
	q := res.Quote
	out := quoteResponse{
		Venue:          res.Venue,
		Side:           q.Side.String(),
		InputAmount:    q.InputAmount.String(),
		OutputAmount:   q.OutputAmount.String(),
		MinOutput:      q.MinOutput.String(),
		SlippageBps:    q.SlippageBps,
		FeeBps:         q.FeeBps,
		PriceImpactPct: q.PriceImpactPct,
		NativeSOL:      lamportsToSOL(nativeLeg(q.Side, q.InputAmount, q.OutputAmount)),
	}
	if res.Pool != nil && !res.Pool.Pool.IsZero() {
		out.Pool = res.Pool.Pool.String()
	}
	return out
}

func presentTrade(req engine.TradeRequest, res engine.Result) tradeResponse {
	out := tradeResponse{
		TradeID:   res.TradeID,
		Wallet:    req.Signer.PublicKey().String(),
		Success:   res.Success,
		Venue:     res.Venue,
		Reroutes:  res.Reroutes,
		Ambiguous: res.Ambiguous,
		Attempts:  make([]attemptResponse, 0, len(res.Attempts)),
	}
	if !res.Signature.IsZero() {
		out.Signature = res.Signature.String()
	}
	if res.CounterAmount != nil {
		out.CounterAmount = res.CounterAmount.String()
		out.NativeSOL = lamportsToSOL(nativeLeg(req.Side, new(big.Int).SetUint64(req.Amount), res.CounterAmount))
	}
	if res.MinCounterAmount != nil {
		out.MinCounterAmount = res.MinCounterAmount.String()
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	for _, a := range res.Attempts {
		out.Attempts = append(out.Attempts, presentAttempt(a))
	}
	return out
}

func presentAttempt(a executor.Attempt) attemptResponse {
	out := attemptResponse{
		Index:       a.Index,
		PriorityFee: a.PriorityFee,
		SlippageBps: a.SlippageBps,
		MinOut:      a.MinOut,
		State:       a.State.String(),
	}
	if !a.Signature.IsZero() {
		out.Signature = a.Signature.String()
	}
	if a.Err != nil {
		out.Error = a.Err.Error()
	}
	return out
}

// nativeLeg picks the SOL side of a trade: the input of a buy, the output of
// a sell.
func nativeLeg(side dex.Side, input, output *big.Int) *big.Int {
	if side == dex.SideBuy {
		return input
	}
	return output
}

func lamportsToSOL(lamports *big.Int) string {
	if lamports == nil {
		return ""
	}
	return decimal.NewFromBigInt(lamports, -lamportsDecimals).String()
}
