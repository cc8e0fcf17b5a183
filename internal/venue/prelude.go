package venue

import (
	"github.com/coldbell/dex/trader/internal/dex"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// createATAIdempotent is the associated token program's CreateIdempotent
// instruction (tag 1); it succeeds when the account already exists.
func createATAIdempotent(payer, wallet, mint, tokenProgram solana.PublicKey) solana.Instruction {
	ata := dex.MustDeriveAssociatedTokenAddress(wallet, mint, tokenProgram)
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(ata, true, false),
		solana.NewAccountMeta(wallet, false, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(dex.SystemProgramID, false, false),
		solana.NewAccountMeta(tokenProgram, false, false),
	}
	return solana.NewInstruction(dex.AssociatedTokenProgramID, accounts, []byte{1})
}

// wrapNative funds the user's WSOL account with lamports and syncs its
// token balance.
func wrapNative(user, wsolAccount solana.PublicKey, lamports uint64) []solana.Instruction {
	return []solana.Instruction{
		system.NewTransferInstruction(lamports, user, wsolAccount).Build(),
		token.NewSyncNativeInstruction(wsolAccount).Build(),
	}
}

// unwrapNative closes the user's WSOL account, returning every lamport to
// the user.
func unwrapNative(user, wsolAccount solana.PublicKey) solana.Instruction {
	return token.NewCloseAccountInstruction(wsolAccount, user, user, nil).Build()
}

// swapEnvelope wraps a WSOL-quoted swap: the token and WSOL accounts are
// created if missing, buys wrap the principal first, and the WSOL account is
// closed afterwards so proceeds land as native lamports.
func swapEnvelope(params TradeParams, desc *dex.PoolDescriptor, swap solana.Instruction) []solana.Instruction {
	userNative := dex.MustDeriveAssociatedTokenAddress(params.User, dex.NativeMint, dex.TokenProgramID)
	out := []solana.Instruction{
		createATAIdempotent(params.User, params.User, desc.Mint, desc.TokenProgram),
		createATAIdempotent(params.User, params.User, dex.NativeMint, dex.TokenProgramID),
	}
	if params.Side == dex.SideBuy {
		out = append(out, wrapNative(params.User, userNative, params.AmountIn)...)
	}
	out = append(out, swap, unwrapNative(params.User, userNative))
	return out
}
