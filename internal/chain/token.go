package chain

import (
	"context"
	"fmt"

	"github.com/coldbell/dex/trader/internal/dex"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

const (
	TokenAccountSize = 165
	MintAccountSize  = 82

	// Token-2022 accounts carry extensions after the base layout; the byte at
	// this offset tags the account type.
	token2022AccountTypeOffset = 165
	token2022AccountTypeMint   = 1
	token2022AccountTypeToken  = 2
)

type TokenAccount struct {
	Address solana.PublicKey
	Program solana.PublicKey
	Mint    solana.PublicKey
	Owner   solana.PublicKey
	Amount  uint64
}

// IsTokenAccount reports whether acc is an SPL token holding account.
func IsTokenAccount(acc *Account) bool {
	if acc == nil || !dex.IsTokenProgram(acc.Owner) {
		return false
	}
	switch {
	case len(acc.Data) == TokenAccountSize:
		return true
	case len(acc.Data) > token2022AccountTypeOffset:
		return acc.Data[token2022AccountTypeOffset] == token2022AccountTypeToken
	default:
		return false
	}
}

func IsMintAccount(acc *Account) bool {
	if acc == nil || !dex.IsTokenProgram(acc.Owner) {
		return false
	}
	switch {
	case len(acc.Data) == MintAccountSize:
		return true
	case len(acc.Data) > token2022AccountTypeOffset:
		return acc.Data[token2022AccountTypeOffset] == token2022AccountTypeMint
	default:
		return false
	}
}

func DecodeTokenAccount(acc *Account) (TokenAccount, error) {
	if !IsTokenAccount(acc) {
		if acc == nil {
			return TokenAccount{}, fmt.Errorf("%w: nil token account", dex.ErrDecode)
		}
		return TokenAccount{}, fmt.Errorf("%w: %s is not a token account (owner=%s len=%d)", dex.ErrDecode, acc.Address, acc.Owner, len(acc.Data))
	}
	var decoded token.Account
	if err := bin.NewBinDecoder(acc.Data[:TokenAccountSize]).Decode(&decoded); err != nil {
		return TokenAccount{}, fmt.Errorf("%w: decode token account %s: %v", dex.ErrDecode, acc.Address, err)
	}
	return TokenAccount{
		Address: acc.Address,
		Program: acc.Owner,
		Mint:    decoded.Mint,
		Owner:   decoded.Owner,
		Amount:  decoded.Amount,
	}, nil
}

// MintProgram returns the token program that owns mint.
func MintProgram(ctx context.Context, client Client, mint solana.PublicKey) (solana.PublicKey, error) {
	if mint.Equals(dex.NativeMint) {
		return dex.TokenProgramID, nil
	}
	acc, err := client.GetAccount(ctx, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("load mint %s: %w", mint, err)
	}
	if !IsMintAccount(acc) {
		return solana.PublicKey{}, fmt.Errorf("%w: %s is not a mint (owner=%s)", dex.ErrDecode, mint, acc.Owner)
	}
	return acc.Owner, nil
}
