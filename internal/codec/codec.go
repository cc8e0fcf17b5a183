package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
)

const (
	AddressLength       = 32
	DiscriminatorLength = 8
)

var (
	ErrDecode      = errors.New("decode error")
	ErrOutOfBounds = errors.New("out of bounds")
)

// DecodeError reports a field that could not be read or written at the given
// offset. It matches both ErrDecode and ErrOutOfBounds.
type DecodeError struct {
	Field  string
	Offset int
	Need   int
	Len    int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: need %d bytes at offset %d, buffer has %d: %v", e.Field, e.Need, e.Offset, e.Len, ErrOutOfBounds)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrOutOfBounds, ErrDecode}
}

func checkBounds(field string, buf []byte, offset, need int) error {
	if offset < 0 || need < 0 || offset > len(buf) || len(buf)-offset < need {
		return &DecodeError{Field: field, Offset: offset, Need: need, Len: len(buf)}
	}
	return nil
}

func ReadAddress(buf []byte, offset int) (solana.PublicKey, error) {
	if err := checkBounds("address", buf, offset, AddressLength); err != nil {
		return solana.PublicKey{}, err
	}
	var out solana.PublicKey
	copy(out[:], buf[offset:offset+AddressLength])
	return out, nil
}

func ReadU64LE(buf []byte, offset int) (uint64, error) {
	if err := checkBounds("u64", buf, offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[offset : offset+8]), nil
}

func ReadU8(buf []byte, offset int) (uint8, error) {
	if err := checkBounds("u8", buf, offset, 1); err != nil {
		return 0, err
	}
	return buf[offset], nil
}

// ReadBool treats any non-zero byte as true.
func ReadBool(buf []byte, offset int) (bool, error) {
	v, err := ReadU8(buf, offset)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// ReadU64Big is ReadU64LE lifted into a big.Int for reserve arithmetic.
func ReadU64Big(buf []byte, offset int) (*big.Int, error) {
	v, err := ReadU64LE(buf, offset)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(v), nil
}

func HasDiscriminator(data []byte, disc [8]byte) bool {
	return len(data) >= DiscriminatorLength && bytes.Equal(data[:DiscriminatorLength], disc[:])
}

func AnchorInstructionDiscriminator(ixName string) [8]byte {
	return anchorDiscriminator("global:" + ixName)
}

func AnchorAccountDiscriminator(accountName string) [8]byte {
	return anchorDiscriminator("account:" + accountName)
}

func anchorDiscriminator(preimage string) [8]byte {
	hash := sha256.Sum256([]byte(preimage))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

// WriteDiscriminator copies disc into the first eight bytes of buf.
func WriteDiscriminator(buf []byte, disc [8]byte) error {
	if err := checkBounds("discriminator", buf, 0, DiscriminatorLength); err != nil {
		return err
	}
	copy(buf, disc[:])
	return nil
}

func WriteU64LE(buf []byte, offset int, value uint64) error {
	if err := checkBounds("u64", buf, offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(buf[offset:offset+8], value)
	return nil
}

// EncodeArgs lays out disc followed by each value as a little-endian u64.
func EncodeArgs(disc [8]byte, values ...uint64) ([]byte, error) {
	buf := make([]byte, DiscriminatorLength+8*len(values))
	if err := WriteDiscriminator(buf, disc); err != nil {
		return nil, fmt.Errorf("write discriminator: %w", err)
	}
	for i, value := range values {
		if err := WriteU64LE(buf, DiscriminatorLength+8*i, value); err != nil {
			return nil, fmt.Errorf("write arg %d: %w", i, err)
		}
	}
	return buf, nil
}
