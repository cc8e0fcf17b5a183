package discovery

import (
	"context"
	"fmt"

	"github.com/coldbell/dex/trader/internal/chain"
	"github.com/coldbell/dex/trader/internal/codec"
	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/gagliardetto/solana-go"
)

type AddressClass uint8

const (
	ClassMissing AddressClass = iota
	ClassTokenAccount
	ClassNativeAccount
	ClassMint
	ClassControl
	ClassOther
)

func (c AddressClass) String() string {
	switch c {
	case ClassMissing:
		return "missing"
	case ClassTokenAccount:
		return "token_account"
	case ClassNativeAccount:
		return "native_account"
	case ClassMint:
		return "mint"
	case ClassControl:
		return "control"
	default:
		return "other"
	}
}

// EmbeddedAddress is a 32-byte window of an account buffer that may be an
// address.
type EmbeddedAddress struct {
	Offset  int
	Address solana.PublicKey
}

// Classified is an embedded address after asking the ledger what it is.
type Classified struct {
	EmbeddedAddress
	Class   AddressClass
	Account *chain.Account
	Token   chain.TokenAccount
}

// Balance is the token amount for token-holding classes.
func (c Classified) Balance() uint64 {
	if c.Class == ClassTokenAccount || c.Class == ClassNativeAccount {
		return c.Token.Amount
	}
	return 0
}

// maxZeroBytes filters out windows that straddle integer fields; a random
// 32-byte key almost never has this many zero bytes.
const maxZeroBytes = 4

// EmbeddedAddresses scans data after the discriminator at every byte offset
// and returns the distinct windows that look like addresses. Well-known
// program addresses and skip entries are left out.
func EmbeddedAddresses(data []byte, skip ...solana.PublicKey) []EmbeddedAddress {
	excluded := make(map[solana.PublicKey]struct{}, len(skip))
	for _, key := range skip {
		excluded[key] = struct{}{}
	}
	seen := make(map[solana.PublicKey]struct{})
	var out []EmbeddedAddress
	for offset := codec.DiscriminatorLength; offset+codec.AddressLength <= len(data); offset++ {
		address, err := codec.ReadAddress(data, offset)
		if err != nil {
			break
		}
		if !plausibleAddress(address) || dex.WellKnownProgram(address) {
			continue
		}
		if _, ok := excluded[address]; ok {
			continue
		}
		if _, ok := seen[address]; ok {
			continue
		}
		seen[address] = struct{}{}
		out = append(out, EmbeddedAddress{Offset: offset, Address: address})
	}
	return out
}

func plausibleAddress(address solana.PublicKey) bool {
	zeros := 0
	for _, b := range address {
		if b == 0 {
			zeros++
		}
	}
	return zeros <= maxZeroBytes
}

// Classify fetches every address in one batched read and labels it relative
// to mint: a token account holding mint, a token account holding the native
// mint, a mint, an account owned by the venue program, or something else.
func Classify(ctx context.Context, client chain.Client, program, mint solana.PublicKey, addresses []EmbeddedAddress) ([]Classified, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	keys := make([]solana.PublicKey, len(addresses))
	for i, embedded := range addresses {
		keys[i] = embedded.Address
	}
	accounts, err := client.GetMultipleAccounts(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("classify %d embedded addresses: %w", len(keys), err)
	}
	out := make([]Classified, 0, len(addresses))
	for i, embedded := range addresses {
		item := Classified{EmbeddedAddress: embedded, Class: ClassMissing}
		if i < len(accounts) && accounts[i] != nil {
			item.Account = accounts[i]
			item.Class, item.Token = classifyAccount(accounts[i], program, mint)
		}
		out = append(out, item)
	}
	return out, nil
}

func classifyAccount(acc *chain.Account, program, mint solana.PublicKey) (AddressClass, chain.TokenAccount) {
	switch {
	case chain.IsTokenAccount(acc):
		decoded, err := chain.DecodeTokenAccount(acc)
		if err != nil {
			return ClassOther, chain.TokenAccount{}
		}
		switch {
		case decoded.Mint.Equals(mint):
			return ClassTokenAccount, decoded
		case decoded.Mint.Equals(dex.NativeMint):
			return ClassNativeAccount, decoded
		default:
			return ClassOther, decoded
		}
	case chain.IsMintAccount(acc):
		return ClassMint, chain.TokenAccount{}
	case acc.Owner.Equals(program):
		return ClassControl, chain.TokenAccount{}
	default:
		return ClassOther, chain.TokenAccount{}
	}
}

// Filter keeps the classified entries of one class, in offset order.
func Filter(items []Classified, class AddressClass) []Classified {
	var out []Classified
	for _, item := range items {
		if item.Class == class {
			out = append(out, item)
		}
	}
	return out
}
