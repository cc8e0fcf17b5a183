// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/coldbell/dex/trader/internal/chain"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

type Ledger struct {
	mu         sync.Mutex
	accounts   map[solana.PublicKey]*chain.Account
	calls      map[string]int
	blockhash  solana.Hash
	sent       []*solana.Transaction
	SendFunc   func(tx *solana.Transaction) (solana.Signature, error)
	StatusFunc func(sig solana.Signature, poll int) (chain.SignatureStatus, error)
	polls      map[solana.Signature]int
}

func NewLedger() *Ledger {
	return &Ledger{
		accounts:  make(map[solana.PublicKey]*chain.Account),
		calls:     make(map[string]int),
		polls:     make(map[solana.Signature]int),
		blockhash: solana.HashFromBytes(bytes.Repeat([]byte{7}, 32)),
	}
}

func (l *Ledger) Put(acc *chain.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *acc
	cp.Data = append([]byte(nil), acc.Data...)
	l.accounts[acc.Address] = &cp
}

func (l *Ledger) PutTokenAccount(address, owner, mint, program solana.PublicKey, amount uint64) {
	l.Put(&chain.Account{
		Address:  address,
		Owner:    program,
		Lamports: 2_039_280,
		Data:     TokenAccountData(mint, owner, amount),
	})
}

func (l *Ledger) PutMint(mint, program solana.PublicKey) {
	data := make([]byte, chain.MintAccountSize)
	data[44] = 6
	data[45] = 1
	l.Put(&chain.Account{Address: mint, Owner: program, Lamports: 1_461_600, Data: data})
}

// Calls returns how many times op was invoked.
func (l *Ledger) Calls(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[op]
}

func (l *Ledger) Sent() []*solana.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*solana.Transaction(nil), l.sent...)
}

func (l *Ledger) record(op string) {
	l.mu.Lock()
	l.calls[op]++
	l.mu.Unlock()
}

func (l *Ledger) GetAccount(_ context.Context, address solana.PublicKey) (*chain.Account, error) {
	l.record("getAccountInfo")
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chain.ErrAccountNotFound, address)
	}
	cp := *acc
	return &cp, nil
}

func (l *Ledger) GetMultipleAccounts(_ context.Context, addresses []solana.PublicKey) ([]*chain.Account, error) {
	l.record("getMultipleAccounts")
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*chain.Account, len(addresses))
	for i, address := range addresses {
		if acc, ok := l.accounts[address]; ok {
			cp := *acc
			out[i] = &cp
		}
	}
	return out, nil
}

func (l *Ledger) GetProgramAccounts(_ context.Context, program solana.PublicKey, filter chain.ProgramFilter) ([]*chain.Account, error) {
	l.record("getProgramAccounts")
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*chain.Account
	for _, acc := range l.accounts {
		if !acc.Owner.Equals(program) {
			continue
		}
		if filter.DataSize > 0 && uint64(len(acc.Data)) != filter.DataSize {
			continue
		}
		if len(filter.MemcmpBytes) > 0 {
			end := int(filter.MemcmpOffset) + len(filter.MemcmpBytes)
			if end > len(acc.Data) || !bytes.Equal(acc.Data[filter.MemcmpOffset:end], filter.MemcmpBytes) {
				continue
			}
		}
		cp := *acc
		out = append(out, &cp)
	}
	return out, nil
}

func (l *Ledger) GetBalance(_ context.Context, address solana.PublicKey) (uint64, error) {
	l.record("getBalance")
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[address]; ok {
		return acc.Lamports, nil
	}
	return 0, nil
}

func (l *Ledger) GetLatestBlockhash(context.Context) (solana.Hash, error) {
	l.record("getLatestBlockhash")
	return l.blockhash, nil
}

func (l *Ledger) SendTransaction(_ context.Context, tx *solana.Transaction, _ chain.SendOptions) (solana.Signature, error) {
	l.record("sendTransaction")
	l.mu.Lock()
	l.sent = append(l.sent, tx)
	send := l.SendFunc
	l.mu.Unlock()
	if send != nil {
		return send(tx)
	}
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, fmt.Errorf("unsigned transaction")
	}
	return tx.Signatures[0], nil
}

func (l *Ledger) GetSignatureStatus(_ context.Context, sig solana.Signature) (chain.SignatureStatus, error) {
	l.record("getSignatureStatuses")
	l.mu.Lock()
	l.polls[sig]++
	poll := l.polls[sig]
	statusFn := l.StatusFunc
	l.mu.Unlock()
	if statusFn != nil {
		return statusFn(sig, poll)
	}
	return chain.SignatureStatus{Found: true, Confirmation: rpc.ConfirmationStatusConfirmed}, nil
}

// TokenAccountData encodes an initialized SPL token account with no
// delegate and no close authority.
func TokenAccountData(mint, owner solana.PublicKey, amount uint64) []byte {
	data := make([]byte, chain.TokenAccountSize)
	copy(data[0:32], mint[:])
	copy(data[32:64], owner[:])
	binary.LittleEndian.PutUint64(data[64:72], amount)
	data[108] = 1
	return data
}
