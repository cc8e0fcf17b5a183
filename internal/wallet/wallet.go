// Package wallet loads the signing keys trades are executed with.
package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

var ErrUnknownWallet = errors.New("unknown wallet")

// Set is an ordered collection of signing keys indexed by public key.
type Set struct {
	keys  map[solana.PublicKey]solana.PrivateKey
	order []solana.PublicKey
}

// Load reads solana-keygen JSON keypair files. Duplicate keys are kept once.
func Load(paths []string) (*Set, error) {
	if len(paths) == 0 {
		return nil, errors.New("no keypair paths configured")
	}
	keys := make([]solana.PrivateKey, 0, len(paths))
	for _, path := range paths {
		key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
		if err != nil {
			return nil, fmt.Errorf("load keypair %q: %w", path, err)
		}
		keys = append(keys, key)
	}
	return New(keys...), nil
}

func New(keys ...solana.PrivateKey) *Set {
	s := &Set{keys: make(map[solana.PublicKey]solana.PrivateKey, len(keys))}
	for _, key := range keys {
		pub := key.PublicKey()
		if _, ok := s.keys[pub]; ok {
			continue
		}
		s.keys[pub] = key
		s.order = append(s.order, pub)
	}
	return s
}

func (s *Set) Len() int {
	return len(s.order)
}

func (s *Set) PublicKeys() []solana.PublicKey {
	return append([]solana.PublicKey(nil), s.order...)
}

// Default is the first loaded wallet.
func (s *Set) Default() (solana.PrivateKey, error) {
	if len(s.order) == 0 {
		return nil, ErrUnknownWallet
	}
	return s.keys[s.order[0]], nil
}

// Get resolves a base58 public key; an empty string selects Default.
func (s *Set) Get(raw string) (solana.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.Default()
	}
	pub, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet %q: %w", raw, err)
	}
	key, ok := s.keys[pub]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWallet, pub)
	}
	return key, nil
}
