package dex

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

func DeriveEventAuthorityPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("__event_authority")}, programID)
}

func DerivePumpFunBondingCurvePDA(programID, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("bonding-curve"), mint.Bytes()}, programID)
}

func DerivePumpFunCreatorVaultPDA(programID, creator solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("creator-vault"), creator.Bytes()}, programID)
}

func DerivePumpSwapGlobalConfigPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("global_config")}, programID)
}

func DerivePumpSwapCreatorVaultAuthorityPDA(programID, coinCreator solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("creator_vault"), coinCreator.Bytes()}, programID)
}

func DeriveLaunchLabAuthorityPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("vault_auth_seed")}, programID)
}

func DeriveLaunchLabVaultPDA(programID, pool, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("pool_vault"), pool.Bytes(), mint.Bytes()}, programID)
}

func DeriveCPMMAuthorityPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("vault_and_lp_mint_auth_seed")}, programID)
}

func DeriveCPMMVaultPDA(programID, pool, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("pool_vault"), pool.Bytes(), mint.Bytes()}, programID)
}

func DeriveDBCPoolAuthorityPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("pool_authority")}, programID)
}

// DeriveDBCVaultPDA puts the mint before the pool, unlike the Raydium vault seeds.
func DeriveDBCVaultPDA(programID, mint, pool solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("token_vault"), mint.Bytes(), pool.Bytes()}, programID)
}

// DeriveAssociatedTokenAddress supports both SPL Token and Token-2022 mints.
func DeriveAssociatedTokenAddress(wallet, mint, tokenProgram solana.PublicKey) (solana.PublicKey, uint8, error) {
	if tokenProgram.IsZero() {
		tokenProgram = TokenProgramID
	}
	return solana.FindProgramAddress([][]byte{wallet.Bytes(), tokenProgram.Bytes(), mint.Bytes()}, AssociatedTokenProgramID)
}

func MustDeriveAssociatedTokenAddress(wallet, mint, tokenProgram solana.PublicKey) solana.PublicKey {
	pk, _, err := DeriveAssociatedTokenAddress(wallet, mint, tokenProgram)
	if err != nil {
		panic(fmt.Errorf("derive associated token address: %w", err))
	}
	return pk
}

func MustDeriveEventAuthorityPDA(programID solana.PublicKey) solana.PublicKey {
	pk, _, err := DeriveEventAuthorityPDA(programID)
	if err != nil {
		panic(fmt.Errorf("derive event authority PDA for %s: %w", programID, err))
	}
	return pk
}
