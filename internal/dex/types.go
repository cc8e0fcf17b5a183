package dex

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

type VenueKind string

const (
	VenueJupiter     VenueKind = "jupiter"
	VenuePumpFun     VenueKind = "pumpfun"
	VenuePumpSwap    VenueKind = "pumpswap"
	VenueLaunchLab   VenueKind = "launchlab"
	VenueRaydiumCPMM VenueKind = "raydium_cpmm"
	VenueMeteoraDBC  VenueKind = "meteora_dbc"
)

var DefaultVenuePriority = []VenueKind{
	VenueJupiter,
	VenuePumpFun,
	VenuePumpSwap,
	VenueLaunchLab,
	VenueRaydiumCPMM,
	VenueMeteoraDBC,
}

func ParseVenueKind(raw string) (VenueKind, error) {
	kind := VenueKind(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := Layouts[kind]; ok {
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedVenue, raw)
}

type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	default:
		return 0, fmt.Errorf("invalid side %q (expected buy|sell)", raw)
	}
}

type AccountRole string

const (
	RoleProgram                AccountRole = "program"
	RolePool                   AccountRole = "pool"
	RoleTokenVault             AccountRole = "token_vault"
	RoleNativeVault            AccountRole = "native_vault"
	RoleAuthority              AccountRole = "authority"
	RoleEventAuthority         AccountRole = "event_authority"
	RoleConfig                 AccountRole = "config"
	RolePlatformConfig         AccountRole = "platform_config"
	RolePriceFeed              AccountRole = "price_feed"
	RoleGlobal                 AccountRole = "global"
	RoleFeeRecipient           AccountRole = "fee_recipient"
	RoleFeeRecipientToken      AccountRole = "fee_recipient_token"
	RoleCreatorVault           AccountRole = "creator_vault"
	RoleCreatorVaultToken      AccountRole = "creator_vault_token"
	RoleMint                   AccountRole = "mint"
	RoleNativeMint             AccountRole = "native_mint"
	RoleTokenProgram           AccountRole = "token_program"
	RoleNativeTokenProgram     AccountRole = "native_token_program"
	RoleSystemProgram          AccountRole = "system_program"
	RoleAssociatedTokenProgram AccountRole = "associated_token_program"
	RoleUser                   AccountRole = "user"
	RoleUserToken              AccountRole = "user_token"
	RoleUserNative             AccountRole = "user_native"
	RoleInputTokenAccount      AccountRole = "input_token_account"
	RoleOutputTokenAccount     AccountRole = "output_token_account"
	RoleInputVault             AccountRole = "input_vault"
	RoleOutputVault            AccountRole = "output_vault"
	RoleInputMint              AccountRole = "input_mint"
	RoleOutputMint             AccountRole = "output_mint"
	RoleInputTokenProgram      AccountRole = "input_token_program"
	RoleOutputTokenProgram     AccountRole = "output_token_program"
	RoleReferral               AccountRole = "referral"
)

// PoolDescriptor is the resolved account set of one pool instance. Addresses
// never change for the life of a pool, so descriptors are safe to cache.
type PoolDescriptor struct {
	Venue              VenueKind
	Pool               solana.PublicKey
	Mint               solana.PublicKey
	NativeMint         solana.PublicKey
	TokenVault         solana.PublicKey
	NativeVault        solana.PublicKey
	Authority          solana.PublicKey
	EventAuthority     solana.PublicKey
	Config             solana.PublicKey
	PriceFeed          solana.PublicKey
	TokenProgram       solana.PublicKey
	NativeTokenProgram solana.PublicKey
	// TokenIsBase is false when the token sits in the pool's second mint slot.
	TokenIsBase  bool
	Extra        map[AccountRole]solana.PublicKey
	LookupTables []solana.PublicKey
	DiscoveredAt time.Time
}

func (d *PoolDescriptor) Clone() *PoolDescriptor {
	if d == nil {
		return nil
	}
	out := *d
	if d.Extra != nil {
		out.Extra = make(map[AccountRole]solana.PublicKey, len(d.Extra))
		for role, key := range d.Extra {
			out.Extra[role] = key
		}
	}
	if d.LookupTables != nil {
		out.LookupTables = append([]solana.PublicKey(nil), d.LookupTables...)
	}
	return &out
}

// Account resolves a role against the descriptor's fixed fields first and
// Extra second.
func (d *PoolDescriptor) Account(role AccountRole) (solana.PublicKey, bool) {
	var key solana.PublicKey
	switch role {
	case RoleSystemProgram:
		return SystemProgramID, true
	case RolePool:
		key = d.Pool
	case RoleMint:
		key = d.Mint
	case RoleNativeMint:
		key = d.NativeMint
	case RoleTokenVault:
		key = d.TokenVault
	case RoleNativeVault:
		key = d.NativeVault
	case RoleAuthority:
		key = d.Authority
	case RoleEventAuthority:
		key = d.EventAuthority
	case RoleConfig:
		key = d.Config
	case RolePriceFeed:
		key = d.PriceFeed
	case RoleTokenProgram:
		key = d.TokenProgram
	case RoleNativeTokenProgram:
		key = d.NativeTokenProgram
	default:
		key = d.Extra[role]
	}
	if key.IsZero() {
		return solana.PublicKey{}, false
	}
	return key, true
}

func (d *PoolDescriptor) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil pool descriptor", ErrNotFound)
	}
	if d.Mint.IsZero() {
		return fmt.Errorf("pool descriptor for %s has no mint", d.Venue)
	}
	family := Layouts[d.Venue].Family
	if family == FamilyAggregator {
		return nil
	}
	if d.Pool.IsZero() || d.TokenVault.IsZero() || d.NativeVault.IsZero() {
		return fmt.Errorf("incomplete %s pool descriptor for mint %s (pool=%s token_vault=%s native_vault=%s)",
			d.Venue, d.Mint, d.Pool, d.TokenVault, d.NativeVault)
	}
	if d.TokenVault.Equals(d.NativeVault) {
		return fmt.Errorf("%s pool %s token and native vault are the same account %s", d.Venue, d.Pool, d.TokenVault)
	}
	return nil
}

// ReserveSnapshot is never cached; reserves move with every trade.
type ReserveSnapshot struct {
	Token  *big.Int
	Native *big.Int
	// TokenCap bounds the tokens a buy can take out when it differs from Token
	// (bonding curves quote on virtual reserves but sell real ones).
	TokenCap   *big.Int
	CapturedAt time.Time
}

func (r ReserveSnapshot) Empty() bool {
	return r.Token == nil || r.Native == nil || r.Token.Sign() <= 0 || r.Native.Sign() <= 0
}
