package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/coldbell/dex/trader/internal/config"
	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/coldbell/dex/trader/internal/engine"
	"github.com/coldbell/dex/trader/internal/logging"
	"github.com/coldbell/dex/trader/internal/wallet"
	"github.com/gagliardetto/solana-go"
)

const lamportsDecimals = 9

type app struct {
	cfg    config.TraderConfig
	logger *slog.Logger
	engine *engine.Engine
	close  func() error
}

func newApp() (*app, error) {
	cfg, err := config.LoadTraderConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, closeLogger, err := logging.New("trader", cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	eng, err := engine.NewFromConfig(cfg, logger)
	if err != nil {
		_ = closeLogger()
		return nil, fmt.Errorf("init engine: %w", err)
	}
	return &app{cfg: cfg, logger: logger, engine: eng, close: closeLogger}, nil
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); closeErr != nil {
			fmt.Fprintln(os.Stderr, "close logger:", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}

func runVenues(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(_ context.Context, a *app) error {
		venues := a.engine.Venues()
		if jsonOutput(cmd) {
			return printJSON(cmd.OutOrStdout(), venues)
		}
		for i, kind := range venues {
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", i+1, kind)
		}
		return nil
	})
}

func runDetect(cmd *cobra.Command, args []string) error {
	mint, err := parseMint(args[0])
	if err != nil {
		return err
	}
	opts, err := tradeOptions(cmd)
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		res, err := a.engine.ResolveVenue(ctx, mint, opts)
		if err != nil {
			return err
		}
		desc := res.Pool
		if jsonOutput(cmd) {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"venue":         res.Venue.Kind(),
				"pool":          desc.Pool.String(),
				"token_vault":   desc.TokenVault.String(),
				"native_vault":  desc.NativeVault.String(),
				"token_program": desc.TokenProgram.String(),
			})
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "venue\t%s\n", res.Venue.Kind())
		fmt.Fprintf(w, "pool\t%s\n", desc.Pool)
		fmt.Fprintf(w, "token vault\t%s\n", desc.TokenVault)
		fmt.Fprintf(w, "native vault\t%s\n", desc.NativeVault)
		fmt.Fprintf(w, "token program\t%s\n", desc.TokenProgram)
		return w.Flush()
	})
}

func runQuote(cmd *cobra.Command, args []string) error {
	mint, err := parseMint(args[0])
	if err != nil {
		return err
	}
	rawSide, _ := cmd.Flags().GetString("side")
	side, err := dex.ParseSide(rawSide)
	if err != nil {
		return err
	}
	amount, err := amountFromFlags(cmd, side)
	if err != nil {
		return err
	}
	opts, err := tradeOptions(cmd)
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		res, err := a.engine.Quote(ctx, mint, side, amount, opts)
		if err != nil {
			return err
		}
		q := res.Quote
		if jsonOutput(cmd) {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"venue":            res.Venue,
				"side":             side.String(),
				"input_amount":     q.InputAmount.String(),
				"output_amount":    q.OutputAmount.String(),
				"min_output":       q.MinOutput.String(),
				"slippage_bps":     q.SlippageBps,
				"price_impact_pct": q.PriceImpactPct,
			})
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "venue\t%s\n", res.Venue)
		fmt.Fprintf(w, "input\t%s\n", displayAmount(side == dex.SideBuy, q.InputAmount))
		fmt.Fprintf(w, "output\t%s\n", displayAmount(side == dex.SideSell, q.OutputAmount))
		fmt.Fprintf(w, "min output\t%s\n", displayAmount(side == dex.SideSell, q.MinOutput))
		fmt.Fprintf(w, "slippage\t%s%%\n", decimal.New(int64(q.SlippageBps), -2))
		fmt.Fprintf(w, "price impact\t%s%%\n", decimal.NewFromFloat(q.PriceImpactPct).Round(4))
		return w.Flush()
	})
}

func runTrade(rawSide string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		side, err := dex.ParseSide(rawSide)
		if err != nil {
			return err
		}
		mint, err := parseMint(args[0])
		if err != nil {
			return err
		}
		amount, err := amountFromFlags(cmd, side)
		if err != nil {
			return err
		}
		opts, err := tradeOptions(cmd)
		if err != nil {
			return err
		}
		opts.MaxAttempts, _ = cmd.Flags().GetInt("max-attempts")

		return withApp(cmd, func(ctx context.Context, a *app) error {
			signers, err := selectSigners(cmd, a.cfg.KeypairPaths)
			if err != nil {
				return err
			}
			reqs := make([]engine.TradeRequest, 0, len(signers))
			for _, signer := range signers {
				reqs = append(reqs, engine.TradeRequest{Mint: mint, Side: side, Amount: amount, Signer: signer, Options: opts})
			}

			results := a.engine.ExecuteMany(ctx, reqs)
			if jsonOutput(cmd) {
				out := make([]map[string]any, 0, len(results))
				for i, res := range results {
					out = append(out, resultJSON(reqs[i], res))
				}
				if err := printJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else {
				printResults(cmd.OutOrStdout(), side, reqs, results)
			}

			var failed int
			for _, res := range results {
				if !res.Success {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d trades failed", failed, len(results))
			}
			return nil
		})
	}
}

func printResults(out io.Writer, side dex.Side, reqs []engine.TradeRequest, results []engine.Result) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "wallet\tvenue\tresult\tsignature\tattempts\treceived (quoted)")
	for i, res := range results {
		status := "ok"
		if !res.Success {
			status = "failed"
			if res.Ambiguous {
				status = "ambiguous"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			shortKey(reqs[i].Signer.PublicKey()),
			res.Venue,
			status,
			signatureText(res.Signature),
			len(res.Attempts),
			displayAmount(side == dex.SideSell, res.CounterAmount),
		)
	}
	_ = w.Flush()
	for i, res := range results {
		if res.Err != nil {
			fmt.Fprintf(out, "%s: %v\n", shortKey(reqs[i].Signer.PublicKey()), res.Err)
		}
	}
}

func resultJSON(req engine.TradeRequest, res engine.Result) map[string]any {
	attempts := make([]map[string]any, 0, len(res.Attempts))
	for _, a := range res.Attempts {
		attempt := map[string]any{
			"index":        a.Index,
			"priority_fee": a.PriorityFee,
			"slippage_bps": a.SlippageBps,
			"min_out":      a.MinOut,
			"state":        a.State.String(),
			"signature":    signatureText(a.Signature),
		}
		if a.Err != nil {
			attempt["error"] = a.Err.Error()
		}
		attempts = append(attempts, attempt)
	}
	out := map[string]any{
		"trade_id":  res.TradeID,
		"wallet":    req.Signer.PublicKey().String(),
		"success":   res.Success,
		"venue":     res.Venue,
		"signature": signatureText(res.Signature),
		"ambiguous": res.Ambiguous,
		"reroutes":  res.Reroutes,
		"attempts":  attempts,
	}
	if res.CounterAmount != nil {
		out["counter_amount"] = res.CounterAmount.String()
	}
	if res.MinCounterAmount != nil {
		out["min_counter_amount"] = res.MinCounterAmount.String()
	}
	if res.Err != nil {
		out["error"] = res.Err.Error()
	}
	return out
}

func selectSigners(cmd *cobra.Command, paths []string) ([]solana.PrivateKey, error) {
	set, err := wallet.Load(paths)
	if err != nil {
		return nil, err
	}
	if all, _ := cmd.Flags().GetBool("all-wallets"); all {
		keys := set.PublicKeys()
		out := make([]solana.PrivateKey, 0, len(keys))
		for _, key := range keys {
			signer, err := set.Get(key.String())
			if err != nil {
				return nil, err
			}
			out = append(out, signer)
		}
		return out, nil
	}
	selected, _ := cmd.Flags().GetStringSlice("wallet")
	if len(selected) == 0 {
		selected = []string{""}
	}
	out := make([]solana.PrivateKey, 0, len(selected))
	for _, raw := range selected {
		signer, err := set.Get(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, signer)
	}
	return out, nil
}

func tradeOptions(cmd *cobra.Command) (engine.Options, error) {
	var opts engine.Options
	if cmd.Flags().Lookup("slippage-bps") != nil {
		opts.SlippageBps, _ = cmd.Flags().GetUint32("slippage-bps")
	}
	rawVenue, _ := cmd.Flags().GetString("venue")
	if strings.TrimSpace(rawVenue) != "" {
		kind, err := dex.ParseVenueKind(rawVenue)
		if err != nil {
			return engine.Options{}, err
		}
		opts.VenueHint = kind
	}
	return opts, nil
}

// amountFromFlags reads --amount in base units, or --sol for the native leg
// of a buy.
func amountFromFlags(cmd *cobra.Command, side dex.Side) (uint64, error) {
	rawSOL, _ := cmd.Flags().GetString("sol")
	amount, _ := cmd.Flags().GetUint64("amount")
	switch {
	case rawSOL != "" && amount != 0:
		return 0, errors.New("use either --sol or --amount")
	case rawSOL != "":
		if side != dex.SideBuy {
			return 0, errors.New("--sol only applies to buys; sell amounts are token base units")
		}
		return solToLamports(rawSOL)
	case amount == 0:
		return 0, errors.New("an amount is required (--amount or --sol)")
	}
	return amount, nil
}

func solToLamports(raw string) (uint64, error) {
	sol, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid --sol %q: %w", raw, err)
	}
	lamports := sol.Shift(lamportsDecimals)
	if !lamports.IsInteger() || lamports.Sign() <= 0 {
		return 0, fmt.Errorf("invalid --sol %q: must be positive with at most 9 decimals", raw)
	}
	if !lamports.BigInt().IsUint64() {
		return 0, fmt.Errorf("invalid --sol %q: too large", raw)
	}
	return lamports.BigInt().Uint64(), nil
}

// displayAmount renders native amounts in SOL and token amounts in base units.
func displayAmount(native bool, amount *big.Int) string {
	if amount == nil {
		return "-"
	}
	if native {
		return decimal.NewFromBigInt(amount, -lamportsDecimals).String() + " SOL"
	}
	return amount.String()
}

func parseMint(raw string) (solana.PublicKey, error) {
	mint, err := solana.PublicKeyFromBase58(strings.TrimSpace(raw))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid mint %q: %w", raw, err)
	}
	return mint, nil
}

func shortKey(key solana.PublicKey) string {
	s := key.String()
	if len(s) <= 12 {
		return s
	}
	return s[:4] + ".." + s[len(s)-4:]
}

func signatureText(sig solana.Signature) string {
	if sig.IsZero() {
		return "-"
	}
	return sig.String()
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
