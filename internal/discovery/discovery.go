// Package discovery locates a mint's pool account on one venue program by
// raw account scanning and resolves the pool's vaults.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coldbell/dex/trader/internal/chain"
	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/gagliardetto/solana-go"
)

type Query struct {
	Layout dex.Layout
	Mint   solana.PublicKey
	Known  solana.PublicKey
	// DeriveVault receives the pool address and a mint.
	DeriveVault func(pool, mint solana.PublicKey) (solana.PublicKey, error)
}

type Pool struct {
	Candidate Candidate
	Vaults    Vaults
}

func (p Pool) Address() solana.PublicKey {
	return p.Candidate.Account.Address
}

// FindPool scans the venue for pools of q.Mint paired with the native mint and
// returns the one with the deepest native vault. Candidates that fail to
// decode or resolve are skipped.
func FindPool(ctx context.Context, client chain.Client, q Query, logger *slog.Logger) (Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	candidates, err := Scan(ctx, client, q.Layout, q.Mint)
	if err != nil {
		return Pool{}, err
	}

	var (
		best  Pool
		found bool
	)
	for _, candidate := range candidates {
		if !candidate.Counter.IsZero() && !candidate.Counter.Equals(dex.NativeMint) {
			continue
		}
		vq := VaultQuery{
			Layout:    q.Layout,
			Candidate: candidate,
			Mint:      q.Mint,
			Known:     q.Known,
		}
		if q.DeriveVault != nil {
			pool := candidate.Account.Address
			vq.DeriveVault = func(mint solana.PublicKey) (solana.PublicKey, error) {
				return q.DeriveVault(pool, mint)
			}
		}
		vaults, err := ResolveVaults(ctx, client, vq)
		if err != nil {
			if IsDecodeError(err) || errors.Is(err, dex.ErrNotFound) {
				logger.Debug("skip pool candidate",
					"venue", q.Layout.Kind,
					"pool", candidate.Account.Address,
					"err", err,
				)
				continue
			}
			return Pool{}, err
		}
		if !found || vaults.Native.Amount > best.Vaults.Native.Amount {
			best = Pool{Candidate: candidate, Vaults: vaults}
			found = true
		}
	}
	if !found {
		return Pool{}, fmt.Errorf("%w: %s has no pool for %s", dex.ErrNotFound, q.Layout.Kind, q.Mint)
	}
	return best, nil
}
