package chain

import (
	"context"
	"fmt"

	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
)

// LoadLookupTables fetches and decodes address lookup tables for a v0 message.
func LoadLookupTables(ctx context.Context, client Client, tables []solana.PublicKey) (map[solana.PublicKey]solana.PublicKeySlice, error) {
	out := make(map[solana.PublicKey]solana.PublicKeySlice, len(tables))
	if len(tables) == 0 {
		return out, nil
	}
	accounts, err := client.GetMultipleAccounts(ctx, tables)
	if err != nil {
		return nil, fmt.Errorf("load lookup tables: %w", err)
	}
	for i, acc := range accounts {
		if acc == nil {
			return nil, fmt.Errorf("%w: lookup table %s", ErrAccountNotFound, tables[i])
		}
		if !acc.Owner.Equals(dex.AddressLookupTableProgram) {
			return nil, fmt.Errorf("%w: %s is not a lookup table (owner=%s)", dex.ErrDecode, tables[i], acc.Owner)
		}
		state, err := addresslookuptable.DecodeAddressLookupTableState(acc.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: decode lookup table %s: %v", dex.ErrDecode, tables[i], err)
		}
		out[tables[i]] = state.Addresses
	}
	return out, nil
}
