package evm

import (
	"math/big"
)

const (
	// SchemeExact is the exact payment scheme identifier.
	SchemeExact = "exact"

	// DefaultDecimals is the decimal precision of the default stablecoins.
	DefaultDecimals = 6

	// EIP-3009 function names.
	FunctionTransferWithAuthorization = "transferWithAuthorization"
	FunctionAuthorizationState        = "authorizationState"

	// FunctionSettle is the x402 Permit2 proxy settlement entrypoint.
	FunctionSettle = "settle"

	// Transaction receipt status values.
	TxStatusSuccess = 1
	TxStatusFailed  = 0

	// DefaultValidityPeriod is the default authorization lifetime in
	// seconds when requirements carry no timeout.
	DefaultValidityPeriod = 3600

	// ValidityCheckBuffer is the minimum remaining validity in seconds a
	// payment must still have at verification time. Covers block
	// inclusion latency between verify and settle.
	ValidityCheckBuffer = 6

	// ERC6492MagicValue is the trailing marker of a wrapped
	// counterfactual signature: bytes32 of "0x6492..." repeated.
	ERC6492MagicValue = "0x6492649264926492649264926492649264926492649264926492649264926492"

	// EIP1271MagicValue is returned by isValidSignature on success.
	EIP1271MagicValue = "0x1626ba7e"

	// PERMIT2Address is the canonical Uniswap Permit2 contract, deployed
	// at the same address on every EVM chain via CREATE2.
	PERMIT2Address = "0x000000000022D473030F116dDEE9F6B43aC78BA3"

	// X402ExactPermit2ProxyAddress is the x402 exact payment proxy that
	// executes permitWitnessTransferFrom against Permit2.
	X402ExactPermit2ProxyAddress = "0x4020615294c913F045dc10f0a5cdEbd86c280001"

	// UniversalSigValidatorAddress is the ERC-6492 singleton validator.
	// isValidSig simulates wallet deployment before checking EIP-1271.
	UniversalSigValidatorAddress = "0x164af34fAF9879394370C7f09064127C043A35E9"

	// Wire error reasons for EVM payload rejection.
	ErrInvalidSignature            = "invalid_exact_evm_payload_signature"
	ErrUndeployedSmartWallet       = "invalid_exact_evm_payload_undeployed_smart_wallet"
	ErrSmartWalletDeploymentFailed = "smart_wallet_deployment_failed"
	ErrUnsupportedPayloadType      = "unsupported_payload_type"

	// Wire error reasons for Permit2 payload rejection.
	ErrPermit2AllowanceRequired  = "permit2_allowance_required"
	ErrPermit2InvalidSpender     = "invalid_permit2_spender"
	ErrPermit2RecipientMismatch  = "invalid_permit2_recipient_mismatch"
	ErrPermit2DeadlineExpired    = "permit2_deadline_expired"
	ErrPermit2NotYetValid        = "permit2_not_yet_valid"
	ErrPermit2InsufficientAmount = "permit2_insufficient_amount"
	ErrPermit2TokenMismatch      = "permit2_token_mismatch"
	ErrPermit2InvalidSignature   = "invalid_permit2_signature"
	ErrPermit2InvalidDestination = "permit2_invalid_destination"
	ErrPermit2InvalidOwner       = "permit2_invalid_owner"
	ErrPermit2InvalidNonce       = "permit2_invalid_nonce"
)

var (
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)

	// usdcBase and usdcBaseSepolia deliberately differ in Name: the
	// on-chain EIP-712 domain of Base mainnet USDC is "USD Coin" while
	// the Sepolia deployment registered itself as "USDC".
	usdcBase = AssetInfo{
		Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Name:     "USD Coin",
		Version:  "2",
		Decimals: DefaultDecimals,
	}
	usdcBaseSepolia = AssetInfo{
		Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Name:     "USDC",
		Version:  "2",
		Decimals: DefaultDecimals,
	}

	// NetworkConfigs keys are CAIP-2 identifiers; v1 aliases and legacy
	// spellings resolve through GetNetworkConfig.
	NetworkConfigs = map[string]NetworkConfig{
		"eip155:8453": {
			ChainID:         ChainIDBase,
			DefaultAsset:    usdcBase,
			SupportedAssets: map[string]AssetInfo{"USDC": usdcBase},
		},
		"eip155:84532": {
			ChainID:         ChainIDBaseSepolia,
			DefaultAsset:    usdcBaseSepolia,
			SupportedAssets: map[string]AssetInfo{"USDC": usdcBaseSepolia},
		},
	}

	// TransferWithAuthorizationVRSABI settles EOA signatures split into
	// v, r, s components.
	TransferWithAuthorizationVRSABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// TransferWithAuthorizationBytesABI settles opaque signatures from
	// smart wallets (EIP-1271).
	TransferWithAuthorizationBytesABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "signature", "type": "bytes"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	AuthorizationStateABI = []byte(`[
		{
			"inputs": [
				{"name": "authorizer", "type": "address"},
				{"name": "nonce", "type": "bytes32"}
			],
			"name": "authorizationState",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	ERC20AllowanceABI = []byte(`[
		{
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"name": "allowance",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	ERC20BalanceOfABI = []byte(`[
		{
			"inputs": [
				{"name": "account", "type": "address"}
			],
			"name": "balanceOf",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// UniversalSigValidatorABI is nonpayable rather than view because
	// isValidSig may simulate a wallet deployment; it is only ever
	// invoked through eth_call.
	UniversalSigValidatorABI = []byte(`[
		{
			"inputs": [
				{"name": "_signer", "type": "address"},
				{"name": "_hash", "type": "bytes32"},
				{"name": "_signature", "type": "bytes"}
			],
			"name": "isValidSig",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	X402ExactPermit2ProxySettleABI = []byte(`[
		{
			"type": "function",
			"name": "settle",
			"inputs": [
				{
					"name": "permit",
					"type": "tuple",
					"components": [
						{
							"name": "permitted",
							"type": "tuple",
							"components": [
								{"name": "token", "type": "address"},
								{"name": "amount", "type": "uint256"}
							]
						},
						{"name": "nonce", "type": "uint256"},
						{"name": "deadline", "type": "uint256"}
					]
				},
				{"name": "owner", "type": "address"},
				{
					"name": "witness",
					"type": "tuple",
					"components": [
						{"name": "to", "type": "address"},
						{"name": "validAfter", "type": "uint256"},
						{"name": "extra", "type": "bytes"}
					]
				},
				{"name": "signature", "type": "bytes"}
			],
			"outputs": [],
			"stateMutability": "nonpayable"
		}
	]`)

	// EIP712DomainTypes is the Permit2 domain shape: name, chainId and
	// verifyingContract, no version field.
	EIP712DomainTypes = []TypedDataField{
		{Name: "name", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}

	// Permit2WitnessTypes mirrors the on-chain PermitWitnessTransferFrom
	// struct layout. Field order must not change.
	Permit2WitnessTypes = map[string][]TypedDataField{
		"PermitWitnessTransferFrom": {
			{Name: "permitted", Type: "TokenPermissions"},
			{Name: "spender", Type: "address"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
			{Name: "witness", Type: "Witness"},
		},
		"TokenPermissions": {
			{Name: "token", Type: "address"},
			{Name: "amount", Type: "uint256"},
		},
		"Witness": {
			{Name: "to", Type: "address"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "extra", Type: "bytes"},
		},
	}
)

// GetPermit2EIP712Types returns the complete type map for signing or
// verifying a PermitWitnessTransferFrom message.
func GetPermit2EIP712Types() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"EIP712Domain":              EIP712DomainTypes,
		"PermitWitnessTransferFrom": Permit2WitnessTypes["PermitWitnessTransferFrom"],
		"TokenPermissions":          Permit2WitnessTypes["TokenPermissions"],
		"Witness":                   Permit2WitnessTypes["Witness"],
	}
}
