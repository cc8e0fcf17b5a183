package dex

import (
	"github.com/coldbell/dex/trader/internal/codec"
	"github.com/gagliardetto/solana-go"
)

type Family uint8

const (
	FamilyAggregator Family = iota
	FamilyBondingCurve
	FamilyConstantProduct
)

type VaultRule uint8

const (
	// VaultNone: the venue exposes no vaults (aggregator routes).
	VaultNone VaultRule = iota
	// VaultFromOffsets: vault addresses sit at fixed offsets in the pool account.
	VaultFromOffsets
	// VaultFromPDA: vaults are derived from seeds; the pool account does not embed them.
	VaultFromPDA
)

// MintSlot is one position the traded mint may occupy in a pool account.
// Offsets of -1 mean the field is not embedded.
type MintSlot struct {
	MintOffset         int
	CounterMintOffset  int
	VaultOffset        int
	CounterVaultOffset int
	TokenIsBase        bool
}

// Layout is the reverse-engineered structure of a venue's pool account and
// its custom program error codes. Offsets of -1 mean the field is absent.
type Layout struct {
	Kind          VenueKind
	Family        Family
	Program       solana.PublicKey
	Discriminator [8]byte
	// AccountSize is the exact data size used as a scan filter; zero when the
	// pool account is located by PDA rather than by scanning.
	AccountSize   uint64
	MinDataSize   int
	MintSlots     []MintSlot
	VaultRule     VaultRule
	ConfigOffset  int
	CreatorOffset int
	StatusOffset  int
	// Reserve fields embedded in the pool account. Venues that read vault
	// balances leave these at -1.
	TokenReserveOffset      int
	NativeReserveOffset     int
	RealTokenReserveOffset  int
	RealNativeReserveOffset int
	FeeBps                  uint32
	SlippageCodes           []uint32
	MigratedCodes           []uint32
	Successors              []VenueKind
}

func (l Layout) IsSlippageCode(code uint32) bool {
	return containsCode(l.SlippageCodes, code)
}

func (l Layout) IsMigratedCode(code uint32) bool {
	return containsCode(l.MigratedCodes, code)
}

func containsCode(codes []uint32, code uint32) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

var Layouts = map[VenueKind]Layout{
	VenueJupiter: {
		Kind:                    VenueJupiter,
		Family:                  FamilyAggregator,
		Program:                 JupiterProgramID,
		ConfigOffset:            -1,
		CreatorOffset:           -1,
		StatusOffset:            -1,
		TokenReserveOffset:      -1,
		NativeReserveOffset:     -1,
		RealTokenReserveOffset:  -1,
		RealNativeReserveOffset: -1,
		SlippageCodes:           []uint32{6001},
	},
	VenuePumpFun: {
		Kind:                    VenuePumpFun,
		Family:                  FamilyBondingCurve,
		Program:                 PumpFunProgramID,
		Discriminator:           codec.AnchorAccountDiscriminator("BondingCurve"),
		MinDataSize:             81,
		VaultRule:               VaultFromPDA,
		ConfigOffset:            -1,
		CreatorOffset:           49,
		StatusOffset:            48,
		TokenReserveOffset:      8,
		NativeReserveOffset:     16,
		RealTokenReserveOffset:  24,
		RealNativeReserveOffset: 32,
		FeeBps:                  100,
		SlippageCodes:           []uint32{6002, 6003},
		MigratedCodes:           []uint32{6005},
		Successors:              []VenueKind{VenuePumpSwap, VenueJupiter},
	},
	VenuePumpSwap: {
		Kind:          VenuePumpSwap,
		Family:        FamilyConstantProduct,
		Program:       PumpSwapProgramID,
		Discriminator: codec.AnchorAccountDiscriminator("Pool"),
		AccountSize:   301,
		MinDataSize:   243,
		MintSlots: []MintSlot{
			{MintOffset: 43, CounterMintOffset: 75, VaultOffset: 139, CounterVaultOffset: 171, TokenIsBase: true},
		},
		VaultRule:               VaultFromOffsets,
		ConfigOffset:            -1,
		CreatorOffset:           211,
		StatusOffset:            -1,
		TokenReserveOffset:      -1,
		NativeReserveOffset:     -1,
		RealTokenReserveOffset:  -1,
		RealNativeReserveOffset: -1,
		FeeBps:                  25,
		SlippageCodes:           []uint32{6004, 6040},
		Successors:              []VenueKind{VenueJupiter},
	},
	VenueLaunchLab: {
		Kind:          VenueLaunchLab,
		Family:        FamilyBondingCurve,
		Program:       LaunchLabProgramID,
		Discriminator: codec.AnchorAccountDiscriminator("PoolState"),
		AccountSize:   429,
		MinDataSize:   365,
		MintSlots: []MintSlot{
			{MintOffset: 205, CounterMintOffset: 237, VaultOffset: 269, CounterVaultOffset: 301, TokenIsBase: true},
		},
		VaultRule:               VaultFromOffsets,
		ConfigOffset:            141,
		CreatorOffset:           333,
		StatusOffset:            17,
		TokenReserveOffset:      37,
		NativeReserveOffset:     45,
		RealTokenReserveOffset:  53,
		RealNativeReserveOffset: 61,
		FeeBps:                  100,
		SlippageCodes:           []uint32{6003},
		MigratedCodes:           []uint32{6001, 6002},
		Successors:              []VenueKind{VenueRaydiumCPMM, VenueJupiter},
	},
	VenueRaydiumCPMM: {
		Kind:          VenueRaydiumCPMM,
		Family:        FamilyConstantProduct,
		Program:       RaydiumCPMMProgramID,
		Discriminator: codec.AnchorAccountDiscriminator("PoolState"),
		AccountSize:   637,
		MinDataSize:   373,
		MintSlots: []MintSlot{
			{MintOffset: 168, CounterMintOffset: 200, VaultOffset: 72, CounterVaultOffset: 104, TokenIsBase: true},
			{MintOffset: 200, CounterMintOffset: 168, VaultOffset: 104, CounterVaultOffset: 72, TokenIsBase: false},
		},
		VaultRule:               VaultFromOffsets,
		ConfigOffset:            8,
		CreatorOffset:           40,
		StatusOffset:            329,
		TokenReserveOffset:      -1,
		NativeReserveOffset:     -1,
		RealTokenReserveOffset:  -1,
		RealNativeReserveOffset: -1,
		FeeBps:                  25,
		SlippageCodes:           []uint32{6005},
		Successors:              []VenueKind{VenueJupiter},
	},
	VenueMeteoraDBC: {
		Kind:          VenueMeteoraDBC,
		Family:        FamilyBondingCurve,
		Program:       MeteoraDBCProgramID,
		Discriminator: codec.AnchorAccountDiscriminator("VirtualPool"),
		AccountSize:   424,
		MinDataSize:   309,
		MintSlots: []MintSlot{
			{MintOffset: 136, CounterMintOffset: -1, VaultOffset: 168, CounterVaultOffset: 200, TokenIsBase: true},
		},
		VaultRule:               VaultFromOffsets,
		ConfigOffset:            72,
		CreatorOffset:           104,
		StatusOffset:            305,
		TokenReserveOffset:      232,
		NativeReserveOffset:     240,
		RealTokenReserveOffset:  -1,
		RealNativeReserveOffset: -1,
		FeeBps:                  100,
		SlippageCodes:           []uint32{6003},
		MigratedCodes:           []uint32{6022},
		Successors:              []VenueKind{VenueJupiter},
	},
}
