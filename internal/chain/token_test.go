package chain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/coldbell/dex/trader/internal/chain"
	"github.com/coldbell/dex/trader/internal/chain/chaintest"
	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/gagliardetto/solana-go"
)

func TestDecodeTokenAccount(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	address := solana.NewWallet().PublicKey()

	acc := &chain.Account{
		Address: address,
		Owner:   dex.TokenProgramID,
		Data:    chaintest.TokenAccountData(mint, owner, 123_456_789),
	}
	got, err := chain.DecodeTokenAccount(acc)
	if err != nil {
		t.Fatalf("DecodeTokenAccount() error = %v", err)
	}
	if !got.Mint.Equals(mint) || !got.Owner.Equals(owner) || got.Amount != 123_456_789 {
		t.Fatalf("DecodeTokenAccount() = %+v", got)
	}

	acc.Owner = dex.SystemProgramID
	if _, err := chain.DecodeTokenAccount(acc); !errors.Is(err, dex.ErrDecode) {
		t.Fatalf("non token owner error = %v, want ErrDecode", err)
	}

	short := &chain.Account{Address: address, Owner: dex.TokenProgramID, Data: make([]byte, 100)}
	if chain.IsTokenAccount(short) {
		t.Fatalf("100 byte account classified as token account")
	}
}

func TestToken2022Classification(t *testing.T) {
	data := make([]byte, 200)
	data[165] = 2
	acc := &chain.Account{Owner: dex.Token2022ProgramID, Data: data}
	if !chain.IsTokenAccount(acc) || chain.IsMintAccount(acc) {
		t.Fatalf("extended token account misclassified")
	}
	data[165] = 1
	if chain.IsTokenAccount(acc) || !chain.IsMintAccount(acc) {
		t.Fatalf("extended mint misclassified")
	}
}

func TestMintProgram(t *testing.T) {
	ledger := chaintest.NewLedger()
	mint := solana.NewWallet().PublicKey()
	ledger.PutMint(mint, dex.Token2022ProgramID)

	got, err := chain.MintProgram(context.Background(), ledger, mint)
	if err != nil || !got.Equals(dex.Token2022ProgramID) {
		t.Fatalf("MintProgram() = %s, %v", got, err)
	}
	if got, _ := chain.MintProgram(context.Background(), ledger, dex.NativeMint); !got.Equals(dex.TokenProgramID) {
		t.Fatalf("native mint program = %s", got)
	}
}
