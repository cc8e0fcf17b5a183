package venue

import (
	"fmt"

	"github.com/coldbell/dex/trader/internal/codec"
	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/gagliardetto/solana-go"
)

type argField uint8

const (
	argAmountIn argField = iota
	argMinOut
	// argZero is a trailing reserved u64 the program expects as zero.
	argZero
)

type accountSlot struct {
	role     dex.AccountRole
	writable bool
	signer   bool
}

func readonly(role dex.AccountRole) accountSlot { return accountSlot{role: role} }
func writable(role dex.AccountRole) accountSlot { return accountSlot{role: role, writable: true} }
func payer(role dex.AccountRole) accountSlot {
	return accountSlot{role: role, writable: true, signer: true}
}

// instructionFormat is the wire contract of one venue instruction: the
// discriminator, the u64 payload fields in order, and the ordered accounts.
type instructionFormat struct {
	discriminator [8]byte
	args          []argField
	accounts      []accountSlot
}

var (
	pumpFunBuyDisc     = codec.AnchorInstructionDiscriminator("buy")
	pumpFunSellDisc    = codec.AnchorInstructionDiscriminator("sell")
	launchLabBuyDisc   = [8]byte{250, 234, 13, 123, 213, 156, 19, 236}
	launchLabSellDisc  = [8]byte{149, 39, 222, 155, 211, 124, 152, 26}
	cpmmSwapBaseInDisc = [8]byte{143, 190, 90, 218, 196, 30, 51, 222}
	dbcSwapDisc        = [8]byte{248, 198, 158, 145, 225, 117, 135, 200}
)

var pumpSwapAccountList = []accountSlot{
	readonly(dex.RolePool),
	payer(dex.RoleUser),
	readonly(dex.RoleConfig),
	readonly(dex.RoleMint),
	readonly(dex.RoleNativeMint),
	writable(dex.RoleUserToken),
	writable(dex.RoleUserNative),
	writable(dex.RoleTokenVault),
	writable(dex.RoleNativeVault),
	readonly(dex.RoleFeeRecipient),
	writable(dex.RoleFeeRecipientToken),
	readonly(dex.RoleTokenProgram),
	readonly(dex.RoleNativeTokenProgram),
	readonly(dex.RoleSystemProgram),
	readonly(dex.RoleAssociatedTokenProgram),
	readonly(dex.RoleEventAuthority),
	readonly(dex.RoleProgram),
	writable(dex.RoleCreatorVaultToken),
	readonly(dex.RoleCreatorVault),
}

var launchLabAccountList = []accountSlot{
	payer(dex.RoleUser),
	readonly(dex.RoleAuthority),
	readonly(dex.RoleConfig),
	readonly(dex.RolePlatformConfig),
	writable(dex.RolePool),
	writable(dex.RoleUserToken),
	writable(dex.RoleUserNative),
	writable(dex.RoleTokenVault),
	writable(dex.RoleNativeVault),
	readonly(dex.RoleMint),
	readonly(dex.RoleNativeMint),
	readonly(dex.RoleTokenProgram),
	readonly(dex.RoleNativeTokenProgram),
	readonly(dex.RoleEventAuthority),
	readonly(dex.RoleProgram),
}

var cpmmAccountList = []accountSlot{
	payer(dex.RoleUser),
	readonly(dex.RoleAuthority),
	readonly(dex.RoleConfig),
	writable(dex.RolePool),
	writable(dex.RoleInputTokenAccount),
	writable(dex.RoleOutputTokenAccount),
	writable(dex.RoleInputVault),
	writable(dex.RoleOutputVault),
	readonly(dex.RoleInputTokenProgram),
	readonly(dex.RoleOutputTokenProgram),
	readonly(dex.RoleInputMint),
	readonly(dex.RoleOutputMint),
	writable(dex.RolePriceFeed),
}

var dbcAccountList = []accountSlot{
	readonly(dex.RoleAuthority),
	readonly(dex.RoleConfig),
	writable(dex.RolePool),
	writable(dex.RoleInputTokenAccount),
	writable(dex.RoleOutputTokenAccount),
	writable(dex.RoleTokenVault),
	writable(dex.RoleNativeVault),
	readonly(dex.RoleMint),
	readonly(dex.RoleNativeMint),
	payer(dex.RoleUser),
	readonly(dex.RoleTokenProgram),
	readonly(dex.RoleNativeTokenProgram),
	readonly(dex.RoleReferral),
	readonly(dex.RoleEventAuthority),
	readonly(dex.RoleProgram),
}

// instructionFormats holds every direct venue's buy and sell format. Pump.fun
// and PumpSwap buys take the token amount first and the native spend cap
// second.
var instructionFormats = map[dex.VenueKind]map[dex.Side]instructionFormat{
	dex.VenuePumpFun: {
		dex.SideBuy: {
			discriminator: pumpFunBuyDisc,
			args:          []argField{argMinOut, argAmountIn},
			accounts: []accountSlot{
				readonly(dex.RoleGlobal),
				writable(dex.RoleFeeRecipient),
				readonly(dex.RoleMint),
				writable(dex.RolePool),
				writable(dex.RoleTokenVault),
				writable(dex.RoleUserToken),
				payer(dex.RoleUser),
				readonly(dex.RoleSystemProgram),
				readonly(dex.RoleTokenProgram),
				writable(dex.RoleCreatorVault),
				readonly(dex.RoleEventAuthority),
				readonly(dex.RoleProgram),
			},
		},
		dex.SideSell: {
			discriminator: pumpFunSellDisc,
			args:          []argField{argAmountIn, argMinOut},
			accounts: []accountSlot{
				readonly(dex.RoleGlobal),
				writable(dex.RoleFeeRecipient),
				readonly(dex.RoleMint),
				writable(dex.RolePool),
				writable(dex.RoleTokenVault),
				writable(dex.RoleUserToken),
				payer(dex.RoleUser),
				readonly(dex.RoleSystemProgram),
				writable(dex.RoleCreatorVault),
				readonly(dex.RoleTokenProgram),
				readonly(dex.RoleEventAuthority),
				readonly(dex.RoleProgram),
			},
		},
	},
	dex.VenuePumpSwap: {
		dex.SideBuy:  {discriminator: pumpFunBuyDisc, args: []argField{argMinOut, argAmountIn}, accounts: pumpSwapAccountList},
		dex.SideSell: {discriminator: pumpFunSellDisc, args: []argField{argAmountIn, argMinOut}, accounts: pumpSwapAccountList},
	},
	dex.VenueLaunchLab: {
		dex.SideBuy:  {discriminator: launchLabBuyDisc, args: []argField{argAmountIn, argMinOut, argZero}, accounts: launchLabAccountList},
		dex.SideSell: {discriminator: launchLabSellDisc, args: []argField{argAmountIn, argMinOut, argZero}, accounts: launchLabAccountList},
	},
	dex.VenueRaydiumCPMM: {
		dex.SideBuy:  {discriminator: cpmmSwapBaseInDisc, args: []argField{argAmountIn, argMinOut}, accounts: cpmmAccountList},
		dex.SideSell: {discriminator: cpmmSwapBaseInDisc, args: []argField{argAmountIn, argMinOut}, accounts: cpmmAccountList},
	},
	dex.VenueMeteoraDBC: {
		dex.SideBuy:  {discriminator: dbcSwapDisc, args: []argField{argAmountIn, argMinOut}, accounts: dbcAccountList},
		dex.SideSell: {discriminator: dbcSwapDisc, args: []argField{argAmountIn, argMinOut}, accounts: dbcAccountList},
	},
}

func formatFor(kind dex.VenueKind, side dex.Side) (instructionFormat, error) {
	sides, ok := instructionFormats[kind]
	if !ok {
		return instructionFormat{}, fmt.Errorf("%w: no instruction table for %s", dex.ErrUnsupportedVenue, kind)
	}
	format, ok := sides[side]
	if !ok {
		return instructionFormat{}, fmt.Errorf("%w: %s has no %s instruction", dex.ErrUnsupportedVenue, kind, side)
	}
	return format, nil
}

// encode lays out the discriminator followed by the format's u64 fields.
func (s instructionFormat) encode(amountIn, minOut uint64) ([]byte, error) {
	values := make([]uint64, len(s.args))
	for i, arg := range s.args {
		switch arg {
		case argAmountIn:
			values[i] = amountIn
		case argMinOut:
			values[i] = minOut
		case argZero:
			values[i] = 0
		default:
			return nil, fmt.Errorf("unknown payload field %d", arg)
		}
	}
	return codec.EncodeArgs(s.discriminator, values...)
}

func (s instructionFormat) build(program solana.PublicKey, accounts map[dex.AccountRole]solana.PublicKey, amountIn, minOut uint64) (solana.Instruction, error) {
	metas := make(solana.AccountMetaSlice, 0, len(s.accounts))
	for i, slot := range s.accounts {
		key, ok := accounts[slot.role]
		// The system program id is the all-zero key.
		if !ok || (key.IsZero() && slot.role != dex.RoleSystemProgram) {
			return nil, fmt.Errorf("account %d (%s) is not resolved", i, slot.role)
		}
		metas = append(metas, solana.NewAccountMeta(key, slot.writable, slot.signer))
	}
	data, err := s.encode(amountIn, minOut)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(program, metas, data), nil
}
