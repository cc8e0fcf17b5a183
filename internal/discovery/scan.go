package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/coldbell/dex/trader/internal/chain"
	"github.com/coldbell/dex/trader/internal/codec"
	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/gagliardetto/solana-go"
)

// Candidate is a program-owned account whose bytes at one of the layout's
// mint offsets equal the requested mint.
type Candidate struct {
	Account *chain.Account
	Slot    dex.MintSlot
	// Counter is the counter-side mint embedded in the pool, zero when the
	// layout does not store it.
	Counter solana.PublicKey
}

// Scan queries the venue program for accounts of the layout's exact size
// whose mint field matches. Each mint slot is a separate offset-specific
// query; the same 32 bytes at any other offset never match.
func Scan(ctx context.Context, client chain.Client, layout dex.Layout, mint solana.PublicKey) ([]Candidate, error) {
	if len(layout.MintSlots) == 0 {
		return nil, fmt.Errorf("%s layout has no mint slots to scan", layout.Kind)
	}
	var out []Candidate
	seen := make(map[solana.PublicKey]struct{})
	for _, slot := range layout.MintSlots {
		accounts, err := client.GetProgramAccounts(ctx, layout.Program, chain.ProgramFilter{
			DataSize:     layout.AccountSize,
			MemcmpOffset: uint64(slot.MintOffset),
			MemcmpBytes:  mint.Bytes(),
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s pools for mint %s: %w", layout.Kind, mint, err)
		}
		for _, acc := range accounts {
			if _, ok := seen[acc.Address]; ok {
				continue
			}
			candidate, err := MatchCandidate(layout, slot, acc, mint)
			if err != nil {
				// Malformed candidates never abort the scan.
				continue
			}
			seen[acc.Address] = struct{}{}
			out = append(out, candidate)
		}
	}
	return out, nil
}

// MatchCandidate re-checks a scanned account locally: owner, size,
// discriminator and the mint bytes at the slot offset.
func MatchCandidate(layout dex.Layout, slot dex.MintSlot, acc *chain.Account, mint solana.PublicKey) (Candidate, error) {
	if acc == nil {
		return Candidate{}, fmt.Errorf("%w: nil account", dex.ErrDecode)
	}
	if !acc.Owner.Equals(layout.Program) {
		return Candidate{}, fmt.Errorf("%w: %s owned by %s, want %s", dex.ErrDecode, acc.Address, acc.Owner, layout.Program)
	}
	if layout.AccountSize > 0 && uint64(len(acc.Data)) != layout.AccountSize {
		return Candidate{}, fmt.Errorf("%w: %s has %d bytes, want %d", dex.ErrDecode, acc.Address, len(acc.Data), layout.AccountSize)
	}
	if len(acc.Data) < layout.MinDataSize {
		return Candidate{}, fmt.Errorf("%w: %s has %d bytes, need at least %d", dex.ErrDecode, acc.Address, len(acc.Data), layout.MinDataSize)
	}
	if layout.Discriminator != ([8]byte{}) && !codec.HasDiscriminator(acc.Data, layout.Discriminator) {
		return Candidate{}, fmt.Errorf("%w: %s discriminator mismatch", dex.ErrDecode, acc.Address)
	}
	got, err := codec.ReadAddress(acc.Data, slot.MintOffset)
	if err != nil {
		return Candidate{}, err
	}
	if !got.Equals(mint) {
		return Candidate{}, fmt.Errorf("%w: %s mint at %d is %s", dex.ErrDecode, acc.Address, slot.MintOffset, got)
	}
	candidate := Candidate{Account: acc, Slot: slot}
	if slot.CounterMintOffset >= 0 {
		counter, err := codec.ReadAddress(acc.Data, slot.CounterMintOffset)
		if err != nil {
			return Candidate{}, err
		}
		candidate.Counter = counter
	}
	return candidate, nil
}

// IsDecodeError reports whether err marks a candidate as non-matching.
func IsDecodeError(err error) bool {
	return errors.Is(err, dex.ErrDecode)
}
