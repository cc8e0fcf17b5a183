package main

import (
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "trader",
		Short:        "Multi-venue Solana trade execution",
		SilenceUsage: true,
	}
	root.PersistentFlags().Bool("json", false, "print results as JSON")

	root.AddCommand(&cobra.Command{
		Use:   "venues",
		Short: "List registered venues in probe order",
		Args:  cobra.NoArgs,
		RunE:  runVenues,
	})

	detectCmd := &cobra.Command{
		Use:   "detect <mint>",
		Short: "Resolve which venue holds a mint",
		Args:  cobra.ExactArgs(1),
		RunE:  runDetect,
	}
	detectCmd.Flags().String("venue", "", "probe only this venue")
	root.AddCommand(detectCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote <mint>",
		Short: "Price a trade without signing",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuote,
	}
	quoteCmd.Flags().String("side", "buy", "buy or sell")
	addAmountFlags(quoteCmd)
	addTradeFlags(quoteCmd)
	root.AddCommand(quoteCmd)

	buyCmd := &cobra.Command{
		Use:   "buy <mint>",
		Short: "Buy a token with SOL",
		Args:  cobra.ExactArgs(1),
		RunE:  runTrade("buy"),
	}
	addAmountFlags(buyCmd)
	addTradeFlags(buyCmd)
	addWalletFlags(buyCmd)
	root.AddCommand(buyCmd)

	sellCmd := &cobra.Command{
		Use:   "sell <mint>",
		Short: "Sell a token for SOL",
		Args:  cobra.ExactArgs(1),
		RunE:  runTrade("sell"),
	}
	addAmountFlags(sellCmd)
	addTradeFlags(sellCmd)
	addWalletFlags(sellCmd)
	root.AddCommand(sellCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addAmountFlags(cmd *cobra.Command) {
	cmd.Flags().String("sol", "", "native amount in SOL (buys)")
	cmd.Flags().Uint64("amount", 0, "amount in base units: lamports for buys, token units for sells")
}

func addTradeFlags(cmd *cobra.Command) {
	cmd.Flags().Uint32("slippage-bps", 0, "fixed slippage tolerance; 0 uses the adaptive policy")
	cmd.Flags().String("venue", "", "skip probing and trade on this venue")
}

func addWalletFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("wallet", nil, "wallet public keys to trade from (comma-separated)")
	cmd.Flags().Bool("all-wallets", false, "trade from every configured wallet")
	cmd.Flags().Int("max-attempts", 0, "submission attempts; 0 uses TRADER_MAX_ATTEMPTS")
}
