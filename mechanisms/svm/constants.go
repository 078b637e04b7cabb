package svm

import (
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

// SchemeExact is the exact payment scheme identifier.
const SchemeExact = "exact"

// CAIP-2 network identifiers. The reference is the first 32 characters
// of the cluster's genesis hash.
const (
	SolanaMainnetCAIP2 = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	SolanaDevnetCAIP2  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	SolanaTestnetCAIP2 = "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"
)

// Protocol v1 network names.
const (
	SolanaMainnetV1 = "solana"
	SolanaDevnetV1  = "solana-devnet"
	SolanaTestnetV1 = "solana-testnet"
)

// USDC mint addresses.
const (
	USDCMainnetAddress = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCDevnetAddress  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

// DefaultDecimals is the decimal precision for USDC.
const DefaultDecimals = 6

// Transaction construction parameters.
const (
	// DefaultComputeUnitLimit covers the fixed instruction layout
	// (compute budget pair plus one TransferChecked).
	DefaultComputeUnitLimit uint32 = 6500

	// DefaultComputeUnitPrice is the priority fee in microlamports.
	DefaultComputeUnitPrice uint64 = 10_000
)

// Facilitator confirmation parameters.
const (
	MaxConfirmAttempts = 30
	ConfirmRetryDelay  = time.Second
)

// DefaultCommitment is used for simulation and confirmation.
const DefaultCommitment = rpc.CommitmentConfirmed

// Instruction layout bounds enforced by the facilitator. A valid
// payment carries the compute budget pair, one TransferChecked, and at
// most two optional Lighthouse or Memo instructions.
const (
	MinTransactionInstructions = 3
	MaxTransactionInstructions = 6
)

// SPL token instruction discriminators.
const (
	TokenInstructionTransferChecked = 12
)

// Compute budget instruction discriminators.
const (
	ComputeBudgetSetLimit = 2
	ComputeBudgetSetPrice = 3
)

// Auxiliary program addresses the facilitator recognizes.
const (
	MemoProgramAddress         = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"
	LighthouseProgramAddress   = "L2TExMFKdjpN9kozasaurPirfVy9vwRtYMGJ9HJaBVW"
	SwigProgramAddress         = "swigypWHEksbC64pWKwah1WTeh9JXwx8H1rJHLdbQMB"
	Secp256r1PrecompileAddress = "Secp256r1SigVerify1111111111111111111111111"
)

// SwigSignV2Discriminator identifies a Swig signV2 instruction in the
// first two little-endian bytes of its data.
const SwigSignV2Discriminator uint16 = 9

// Error codes returned in VerifyResponse.InvalidReason and
// SettleResponse.ErrorReason.
const (
	ErrSvmPayloadTransaction         = "invalid_exact_solana_payload_transaction"
	ErrTransactionInstructionsLength = "invalid_exact_solana_payload_transaction_instructions_length"
	ErrUnsupportedInstruction        = "invalid_exact_solana_payload_unsupported_instruction"
	ErrNoTransferInstruction         = "invalid_exact_solana_payload_no_transfer_instruction"
	ErrMultipleTransferInstructions  = "invalid_exact_solana_payload_multiple_transfer_instructions"
	ErrATANotFound                   = "invalid_exact_solana_payload_ata_not_found"
	ErrRecipientMismatch             = "invalid_exact_solana_payload_recipient_mismatch"
	ErrAssetMismatch                 = "invalid_exact_solana_payload_asset_mismatch"
	ErrInsufficientAmount            = "invalid_exact_solana_payload_insufficient_amount"
	ErrFeePayerMismatch              = "invalid_exact_solana_payload_fee_payer_mismatch"
	ErrSvmSignature                  = "invalid_exact_solana_payload_signature"
	ErrSimulationFailed              = "invalid_exact_solana_payload_simulation_failed"
)

// NetworkConfigs maps CAIP-2 identifiers to cluster configuration.
// Testnet carries no canonical USDC deployment and is not configured.
var NetworkConfigs = map[string]*NetworkConfig{
	SolanaMainnetCAIP2: {
		CAIP2:  SolanaMainnetCAIP2,
		RPCURL: rpc.MainNetBeta_RPC,
		DefaultAsset: AssetInfo{
			Address:  USDCMainnetAddress,
			Decimals: DefaultDecimals,
		},
		SupportedAssets: map[string]AssetInfo{
			"USDC": {
				Address:  USDCMainnetAddress,
				Decimals: DefaultDecimals,
			},
		},
	},
	SolanaDevnetCAIP2: {
		CAIP2:  SolanaDevnetCAIP2,
		RPCURL: rpc.DevNet_RPC,
		DefaultAsset: AssetInfo{
			Address:  USDCDevnetAddress,
			Decimals: DefaultDecimals,
		},
		SupportedAssets: map[string]AssetInfo{
			"USDC": {
				Address:  USDCDevnetAddress,
				Decimals: DefaultDecimals,
			},
		},
	},
}
