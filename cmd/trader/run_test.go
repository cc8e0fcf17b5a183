package main

import (
	"math/big"
	"testing"

	"github.com/spf13/cobra"

	"github.com/coldbell/dex/trader/internal/dex"
)

func TestSolToLamports(t *testing.T) {
	tests := []struct {
		raw     string
		want    uint64
		wantErr bool
	}{
		{raw: "1", want: 1_000_000_000},
		{raw: "0.5", want: 500_000_000},
		{raw: " 0.000000001 ", want: 1},
		{raw: "0.0000000001", wantErr: true},
		{raw: "0", wantErr: true},
		{raw: "-1", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "20000000000", wantErr: true},
	}
	for _, tt := range tests {
		got, err := solToLamports(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Fatalf("solToLamports(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("solToLamports(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestAmountFromFlags(t *testing.T) {
	newCmd := func(args ...string) *cobra.Command {
		cmd := &cobra.Command{Use: "x"}
		addAmountFlags(cmd)
		if err := cmd.ParseFlags(args); err != nil {
			t.Fatal(err)
		}
		return cmd
	}

	if got, err := amountFromFlags(newCmd("--sol", "0.25"), dex.SideBuy); err != nil || got != 250_000_000 {
		t.Fatalf("buy --sol 0.25 = %d, %v", got, err)
	}
	if got, err := amountFromFlags(newCmd("--amount", "42"), dex.SideSell); err != nil || got != 42 {
		t.Fatalf("sell --amount 42 = %d, %v", got, err)
	}
	for name, cmd := range map[string]*cobra.Command{
		"both":     newCmd("--sol", "1", "--amount", "5"),
		"neither":  newCmd(),
		"sell sol": newCmd("--sol", "1"),
	} {
		side := dex.SideBuy
		if name == "sell sol" {
			side = dex.SideSell
		}
		if _, err := amountFromFlags(cmd, side); err == nil {
			t.Errorf("%s: error = nil", name)
		}
	}
}

func TestDisplayAmount(t *testing.T) {
	if got := displayAmount(true, big.NewInt(1_500_000_000)); got != "1.5 SOL" {
		t.Errorf("native = %q", got)
	}
	if got := displayAmount(false, big.NewInt(123)); got != "123" {
		t.Errorf("token = %q", got)
	}
	if got := displayAmount(true, nil); got != "-" {
		t.Errorf("nil = %q", got)
	}
}
