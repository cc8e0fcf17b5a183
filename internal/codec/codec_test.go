package codec

import (
	"errors"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestU64RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 255, 256, 1 << 32, math.MaxUint32, math.MaxInt64, math.MaxUint64 - 1, math.MaxUint64}
	for _, v := range values {
		for _, offset := range []int{0, 3, 24} {
			buf := make([]byte, offset+8)
			if err := WriteU64LE(buf, offset, v); err != nil {
				t.Fatalf("WriteU64LE(%d): %v", offset, err)
			}
			got, err := ReadU64LE(buf, offset)
			if err != nil {
				t.Fatalf("ReadU64LE(%d): %v", offset, err)
			}
			if got != v {
				t.Errorf("round trip at offset %d = %d, want %d", offset, got, v)
			}
			wide, err := ReadU64Big(buf, offset)
			if err != nil || !wide.IsUint64() || wide.Uint64() != v {
				t.Errorf("ReadU64Big at offset %d = %v, %v, want %d", offset, wide, err, v)
			}
		}
	}
}

func TestReadAddressOutOfBounds(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		offset int
	}{
		{name: "empty", size: 0, offset: 0},
		{name: "one short", size: 31, offset: 0},
		{name: "offset pushes past end", size: 40, offset: 9},
		{name: "negative offset", size: 64, offset: -1},
		{name: "offset beyond buffer", size: 10, offset: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pk, err := ReadAddress(make([]byte, tt.size), tt.offset)
			if err == nil {
				t.Fatalf("ReadAddress returned %s, want error", pk)
			}
			if !errors.Is(err, ErrOutOfBounds) {
				t.Errorf("error %v does not match ErrOutOfBounds", err)
			}
			if !errors.Is(err, ErrDecode) {
				t.Errorf("error %v does not match ErrDecode", err)
			}
			if !pk.IsZero() {
				t.Errorf("ReadAddress returned partial key %s", pk)
			}
		})
	}
}

func TestReadAddressExactFit(t *testing.T) {
	want := solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")
	buf := make([]byte, 40)
	copy(buf[8:], want[:])

	got, err := ReadAddress(buf, 8)
	if err != nil {
		t.Fatalf("ReadAddress: %v", err)
	}
	if !got.Equals(want) {
		t.Errorf("ReadAddress = %s, want %s", got, want)
	}
}

func TestReadU64ShortBuffer(t *testing.T) {
	if _, err := ReadU64Big(make([]byte, 7), 0); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("ReadU64Big short buffer err = %v, want ErrOutOfBounds", err)
	}
	if _, err := ReadU8(nil, 0); !errors.Is(err, ErrDecode) {
		t.Errorf("ReadU8(nil) err = %v, want ErrDecode", err)
	}
}

func TestWriteOutOfBounds(t *testing.T) {
	buf := make([]byte, 12)
	if err := WriteU64LE(buf, 5, 1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("WriteU64LE past end error = %v, want ErrOutOfBounds", err)
	}
	if err := WriteDiscriminator(buf[:7], [8]byte{1}); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("WriteDiscriminator short buffer error = %v, want ErrOutOfBounds", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("failed write touched byte %d", i)
		}
	}
}

func TestHasDiscriminator(t *testing.T) {
	disc := AnchorInstructionDiscriminator("buy")
	if HasDiscriminator(disc[:4], disc) {
		t.Errorf("HasDiscriminator matched a 4-byte buffer")
	}
	buf := make([]byte, 24)
	copy(buf, disc[:])
	if !HasDiscriminator(buf, disc) {
		t.Errorf("buffer prefix %v, want %v", buf[:8], disc)
	}
}

func TestAnchorInstructionDiscriminator(t *testing.T) {
	tests := []struct {
		name string
		want [8]byte
	}{
		{name: "buy", want: [8]byte{102, 6, 61, 18, 1, 218, 235, 234}},
		{name: "sell", want: [8]byte{51, 230, 133, 164, 1, 127, 131, 173}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AnchorInstructionDiscriminator(tt.name); got != tt.want {
				t.Errorf("AnchorInstructionDiscriminator(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestEncodeArgs(t *testing.T) {
	disc := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	data, err := EncodeArgs(disc, 1_000_000_000, math.MaxUint64, 0)
	if err != nil {
		t.Fatalf("EncodeArgs: %v", err)
	}
	if len(data) != 32 {
		t.Fatalf("len(data) = %d, want 32", len(data))
	}
	if !HasDiscriminator(data, disc) {
		t.Errorf("payload prefix %v, want %v", data[:8], disc)
	}
	for i, want := range []uint64{1_000_000_000, math.MaxUint64, 0} {
		got, err := ReadU64LE(data, 8+8*i)
		if err != nil {
			t.Fatalf("ReadU64LE arg %d: %v", i, err)
		}
		if got != want {
			t.Errorf("arg %d = %d, want %d", i, got, want)
		}
	}
}
