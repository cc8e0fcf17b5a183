package dex

import "github.com/gagliardetto/solana-go"

var (
	PumpFunProgramID          = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")
	PumpFunGlobalAccount      = solana.MustPublicKeyFromBase58("4wTV1YmiEkRvAtNtsSGPtUrqRYQMe5SKy2uB4Jjaxnjf")
	PumpFunFeeRecipient       = solana.MustPublicKeyFromBase58("CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM")
	PumpSwapProgramID         = solana.MustPublicKeyFromBase58("pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA")
	PumpSwapFeeRecipient      = solana.MustPublicKeyFromBase58("62qc2CNXwrYqQScmEdiZFFAnJR262PxWEuNQtxfafNgV")
	LaunchLabProgramID        = solana.MustPublicKeyFromBase58("LanMV9sAd7wArD4vJFi2qDdfnVhFxYSUg6eADduJ3uj")
	RaydiumCPMMProgramID      = solana.MustPublicKeyFromBase58("CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C")
	MeteoraDBCProgramID       = solana.MustPublicKeyFromBase58("dbcij3LWUppWqq96dh6gJWwBifmcGfLSB5D4DuSMaqN")
	JupiterProgramID          = solana.MustPublicKeyFromBase58("JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4")
	NativeMint                = solana.WrappedSol
	TokenProgramID            = solana.TokenProgramID
	Token2022ProgramID        = solana.Token2022ProgramID
	AssociatedTokenProgramID  = solana.SPLAssociatedTokenAccountProgramID
	SystemProgramID           = solana.SystemProgramID
	ComputeBudgetProgramID    = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
	AddressLookupTableProgram = solana.MustPublicKeyFromBase58("AddressLookupTab1e1111111111111111111111111")
	MemoProgramID             = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")
)

// IsTokenProgram reports whether owner is one of the SPL token programs.
func IsTokenProgram(owner solana.PublicKey) bool {
	return owner.Equals(TokenProgramID) || owner.Equals(Token2022ProgramID)
}

// WellKnownProgram filters program and sysvar addresses out of embedded
// address scans.
func WellKnownProgram(key solana.PublicKey) bool {
	for _, known := range []solana.PublicKey{
		TokenProgramID,
		Token2022ProgramID,
		AssociatedTokenProgramID,
		SystemProgramID,
		ComputeBudgetProgramID,
		AddressLookupTableProgram,
		MemoProgramID,
		solana.SysVarRentPubkey,
		solana.SysVarClockPubkey,
	} {
		if key.Equals(known) {
			return true
		}
	}
	return false
}
