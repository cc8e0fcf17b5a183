package chain

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// MaxMultipleAccounts is the getMultipleAccounts batch limit.
const MaxMultipleAccounts = 100

var ErrAccountNotFound = errors.New("account not found")

type Account struct {
	Address  solana.PublicKey
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

// ProgramFilter narrows a program account scan. A zero DataSize or nil
// MemcmpBytes disables that filter.
type ProgramFilter struct {
	DataSize     uint64
	MemcmpOffset uint64
	MemcmpBytes  []byte
}

type SignatureStatus struct {
	Found        bool
	Slot         uint64
	Err          any
	Confirmation rpc.ConfirmationStatusType
}

// Landed reports whether the transaction reached at least confirmed.
func (s SignatureStatus) Landed() bool {
	return s.Found && (s.Confirmation == rpc.ConfirmationStatusConfirmed || s.Confirmation == rpc.ConfirmationStatusFinalized)
}

type SendOptions struct {
	SkipPreflight bool
	MaxRetries    *uint
}

// Client is the ledger RPC boundary. Every call may time out or fail
// independently of the others.
type Client interface {
	GetAccount(ctx context.Context, address solana.PublicKey) (*Account, error)
	// GetMultipleAccounts returns one entry per address; missing accounts are nil.
	GetMultipleAccounts(ctx context.Context, addresses []solana.PublicKey) ([]*Account, error)
	GetProgramAccounts(ctx context.Context, program solana.PublicKey, filter ProgramFilter) ([]*Account, error)
	GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error)
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOptions) (solana.Signature, error)
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (SignatureStatus, error)
}
