package discovery

import (
	"context"
	"fmt"

	"github.com/coldbell/dex/trader/internal/chain"
	"github.com/coldbell/dex/trader/internal/codec"
	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/gagliardetto/solana-go"
)

// VaultQuery describes how to resolve the two vaults of one pool candidate.
type VaultQuery struct {
	Layout    dex.Layout
	Candidate Candidate
	Mint      solana.PublicKey
	// Known is an optional user-controlled address. A token account at this
	// address wins disambiguation; token accounts owned by it are never vaults.
	Known solana.PublicKey
	// DeriveVault computes the program-derived vault for mint when the pool
	// has fewer than two embedded candidates. Nil when the venue has no
	// deterministic vault seeds.
	DeriveVault func(mint solana.PublicKey) (solana.PublicKey, error)
}

type Vaults struct {
	Token  chain.TokenAccount
	Native chain.TokenAccount
	// Derived is set when either side came from the PDA fallback.
	Derived bool
}

// ResolveVaults reads the vaults at the layout offsets and verifies them. When
// the offsets do not hold the expected token accounts, it falls back to
// classifying every embedded address, disambiguating by balance, and finally
// to the PDA fallback.
func ResolveVaults(ctx context.Context, client chain.Client, q VaultQuery) (Vaults, error) {
	data := q.Candidate.Account.Data
	slot := q.Candidate.Slot

	if q.Layout.VaultRule == dex.VaultFromOffsets && slot.VaultOffset >= 0 && slot.CounterVaultOffset >= 0 {
		tokenVault, errToken := codec.ReadAddress(data, slot.VaultOffset)
		nativeVault, errNative := codec.ReadAddress(data, slot.CounterVaultOffset)
		if errToken == nil && errNative == nil {
			classified, err := Classify(ctx, client, q.Layout.Program, q.Mint, []EmbeddedAddress{
				{Offset: slot.VaultOffset, Address: tokenVault},
				{Offset: slot.CounterVaultOffset, Address: nativeVault},
			})
			if err != nil {
				return Vaults{}, err
			}
			if len(classified) == 2 && classified[0].Class == ClassTokenAccount && classified[1].Class == ClassNativeAccount {
				return Vaults{Token: classified[0].Token, Native: classified[1].Token}, nil
			}
		}
	}

	embedded := EmbeddedAddresses(data, q.Candidate.Account.Address, q.Mint, dex.NativeMint)
	classified, err := Classify(ctx, client, q.Layout.Program, q.Mint, embedded)
	if err != nil {
		return Vaults{}, err
	}

	var out Vaults
	var derived bool
	if out.Token, derived, err = pickOrDerive(ctx, client, q, Filter(classified, ClassTokenAccount), q.Mint); err != nil {
		return Vaults{}, err
	}
	out.Derived = derived
	if out.Native, derived, err = pickOrDerive(ctx, client, q, Filter(classified, ClassNativeAccount), dex.NativeMint); err != nil {
		return Vaults{}, err
	}
	out.Derived = out.Derived || derived

	if out.Token.Address.Equals(out.Native.Address) {
		return Vaults{}, fmt.Errorf("%w: %s pool %s resolved one account for both vaults", dex.ErrNotFound, q.Layout.Kind, q.Candidate.Account.Address)
	}
	return out, nil
}

// PickVault chooses the vault among token accounts holding the same mint. A
// candidate at the known address wins; candidates owned by the known address
// are user accounts and are dropped; otherwise the highest balance wins, ties
// going to the lowest offset. This is a heuristic: on a brand-new pool with a
// single funded recipient it can pick the recipient.
func PickVault(candidates []Classified, known solana.PublicKey) (chain.TokenAccount, bool) {
	var best *Classified
	for i := range candidates {
		c := &candidates[i]
		if !known.IsZero() {
			if c.Address.Equals(known) {
				return c.Token, true
			}
			if c.Token.Owner.Equals(known) {
				continue
			}
		}
		if best == nil || c.Balance() > best.Balance() {
			best = c
		}
	}
	if best == nil {
		return chain.TokenAccount{}, false
	}
	return best.Token, true
}

// pickOrDerive prefers the deterministic vault when the embedded scan found
// at most one candidate, since a lone candidate on a fresh pool may be a
// recipient rather than the vault.
func pickOrDerive(ctx context.Context, client chain.Client, q VaultQuery, candidates []Classified, mint solana.PublicKey) (chain.TokenAccount, bool, error) {
	if len(candidates) <= 1 && q.DeriveVault != nil {
		vault, err := deriveVault(ctx, client, q, mint)
		return vault, true, err
	}
	if vault, ok := PickVault(candidates, q.Known); ok {
		return vault, false, nil
	}
	vault, err := deriveVault(ctx, client, q, mint)
	return vault, true, err
}

func deriveVault(ctx context.Context, client chain.Client, q VaultQuery, mint solana.PublicKey) (chain.TokenAccount, error) {
	if q.DeriveVault == nil {
		return chain.TokenAccount{}, fmt.Errorf("%w: %s pool %s has no %s vault candidate", dex.ErrNotFound, q.Layout.Kind, q.Candidate.Account.Address, mint)
	}
	address, err := q.DeriveVault(mint)
	if err != nil {
		return chain.TokenAccount{}, fmt.Errorf("derive %s vault for %s: %w", q.Layout.Kind, mint, err)
	}
	acc, err := client.GetAccount(ctx, address)
	if err != nil {
		if chain.IsAccountNotFound(err) {
			// Not created yet; an empty vault quotes as zero liquidity.
			return chain.TokenAccount{Address: address, Mint: mint}, nil
		}
		return chain.TokenAccount{}, err
	}
	decoded, err := chain.DecodeTokenAccount(acc)
	if err != nil {
		return chain.TokenAccount{}, err
	}
	if !decoded.Mint.Equals(mint) {
		return chain.TokenAccount{}, fmt.Errorf("%w: derived vault %s holds %s, want %s", dex.ErrDecode, address, decoded.Mint, mint)
	}
	return decoded, nil
}
