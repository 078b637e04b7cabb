package evm

import (
	"context"
	"fmt"
	"math/big"
)

// ExactEIP3009Authorization is the transferWithAuthorization message a
// payer signs. All numeric fields are decimal strings, the nonce is a
// 32-byte hex string.
type ExactEIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEIP3009Payload is the exact scheme payload for EIP-3009 tokens:
// a signed authorization the facilitator can submit on-chain.
type ExactEIP3009Payload struct {
	Signature     string                    `json:"signature,omitempty"`
	Authorization ExactEIP3009Authorization `json:"authorization"`
}

// AssetTransferMethod selects the on-chain transfer mechanism.
// eip3009 uses the token's own transferWithAuthorization; permit2 routes
// any ERC-20 through Permit2 plus the x402 proxy.
type AssetTransferMethod string

const (
	AssetTransferMethodEIP3009 AssetTransferMethod = "eip3009"
	AssetTransferMethodPermit2 AssetTransferMethod = "permit2"
)

// Permit2TokenPermissions names the token and amount a Permit2 signature
// permits. Amount is a decimal string in atomic units.
type Permit2TokenPermissions struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// Permit2Witness is the x402 witness bound into the Permit2 signature
// and verified on-chain by the proxy. The upper time bound lives in the
// permit's deadline field, not here.
type Permit2Witness struct {
	To         string `json:"to"`
	ValidAfter string `json:"validAfter"`
	Extra      string `json:"extra"`
}

// Permit2Authorization is the PermitWitnessTransferFrom message a payer
// signs. Spender must be the x402 exact Permit2 proxy.
type Permit2Authorization struct {
	From      string                  `json:"from"`
	Permitted Permit2TokenPermissions `json:"permitted"`
	Spender   string                  `json:"spender"`
	Nonce     string                  `json:"nonce"`
	Deadline  string                  `json:"deadline"`
	Witness   Permit2Witness          `json:"witness"`
}

// ExactPermit2Payload is the exact scheme payload for Permit2 transfers.
type ExactPermit2Payload struct {
	Signature            string               `json:"signature"`
	Permit2Authorization Permit2Authorization `json:"permit2Authorization"`
}

// ToMap converts the payload into the generic scheme payload map.
func (p *ExactPermit2Payload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"signature": p.Signature,
		"permit2Authorization": map[string]interface{}{
			"from": p.Permit2Authorization.From,
			"permitted": map[string]interface{}{
				"token":  p.Permit2Authorization.Permitted.Token,
				"amount": p.Permit2Authorization.Permitted.Amount,
			},
			"spender":  p.Permit2Authorization.Spender,
			"nonce":    p.Permit2Authorization.Nonce,
			"deadline": p.Permit2Authorization.Deadline,
			"witness": map[string]interface{}{
				"to":         p.Permit2Authorization.Witness.To,
				"validAfter": p.Permit2Authorization.Witness.ValidAfter,
				"extra":      p.Permit2Authorization.Witness.Extra,
			},
		},
	}
}

// Permit2PayloadFromMap parses a generic scheme payload map into an
// ExactPermit2Payload, rejecting missing or mistyped fields.
func Permit2PayloadFromMap(data map[string]interface{}) (*ExactPermit2Payload, error) {
	payload := &ExactPermit2Payload{}

	if sig, ok := data["signature"].(string); ok {
		payload.Signature = sig
	}

	auth, ok := data["permit2Authorization"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid permit2Authorization field")
	}

	if from, ok := auth["from"].(string); ok {
		payload.Permit2Authorization.From = from
	} else {
		return nil, fmt.Errorf("missing or invalid permit2Authorization.from field")
	}

	if spender, ok := auth["spender"].(string); ok {
		payload.Permit2Authorization.Spender = spender
	} else {
		return nil, fmt.Errorf("missing or invalid permit2Authorization.spender field")
	}

	if nonce, ok := auth["nonce"].(string); ok {
		payload.Permit2Authorization.Nonce = nonce
	} else {
		return nil, fmt.Errorf("missing or invalid permit2Authorization.nonce field")
	}

	if deadline, ok := auth["deadline"].(string); ok {
		payload.Permit2Authorization.Deadline = deadline
	} else {
		return nil, fmt.Errorf("missing or invalid permit2Authorization.deadline field")
	}

	permitted, ok := auth["permitted"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid permit2Authorization.permitted field")
	}

	if token, ok := permitted["token"].(string); ok {
		payload.Permit2Authorization.Permitted.Token = token
	} else {
		return nil, fmt.Errorf("missing or invalid permit2Authorization.permitted.token field")
	}

	if amount, ok := permitted["amount"].(string); ok {
		payload.Permit2Authorization.Permitted.Amount = amount
	} else {
		return nil, fmt.Errorf("missing or invalid permit2Authorization.permitted.amount field")
	}

	witness, ok := auth["witness"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid permit2Authorization.witness field")
	}

	if to, ok := witness["to"].(string); ok {
		payload.Permit2Authorization.Witness.To = to
	} else {
		return nil, fmt.Errorf("missing or invalid permit2Authorization.witness.to field")
	}

	if validAfter, ok := witness["validAfter"].(string); ok {
		payload.Permit2Authorization.Witness.ValidAfter = validAfter
	} else {
		return nil, fmt.Errorf("missing or invalid permit2Authorization.witness.validAfter field")
	}

	if extra, ok := witness["extra"].(string); ok {
		payload.Permit2Authorization.Witness.Extra = extra
	} else {
		payload.Permit2Authorization.Witness.Extra = "0x"
	}

	return payload, nil
}

// IsPermit2Payload reports whether a scheme payload map carries a
// Permit2 authorization.
func IsPermit2Payload(data map[string]interface{}) bool {
	_, ok := data["permit2Authorization"]
	return ok
}

// IsEIP3009Payload reports whether a scheme payload map carries an
// EIP-3009 authorization.
func IsEIP3009Payload(data map[string]interface{}) bool {
	_, ok := data["authorization"]
	return ok
}

// ClientEvmSigner signs EIP-712 typed data on behalf of the payer.
// Implementations range from raw private keys to remote wallet APIs.
type ClientEvmSigner interface {
	// Address returns the payer's Ethereum address.
	Address() string

	// SignTypedData signs the EIP-712 digest of the given typed data.
	SignTypedData(ctx context.Context, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error)
}

// FacilitatorEvmSigner is the facilitator's chain access: reads,
// writes, signature checks and receipt tracking. Implementations may
// hold several keys for rotation and load spreading.
type FacilitatorEvmSigner interface {
	// GetAddresses returns every address this facilitator can settle from.
	GetAddresses() []string

	// ReadContract calls a view function and returns the decoded result.
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)

	// VerifyTypedData checks an EIP-712 signature against an address,
	// covering both EOA recovery and EIP-1271 contract wallets.
	VerifyTypedData(ctx context.Context, address string, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}, signature []byte) (bool, error)

	// WriteContract submits a state-changing call and returns the tx hash.
	WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error)

	// SendTransaction submits a raw transaction with pre-encoded calldata.
	// Used for counterfactual wallet deployment.
	SendTransaction(ctx context.Context, to string, data []byte) (string, error)

	// WaitForTransactionReceipt blocks until the transaction is mined or
	// ctx is done.
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)

	// GetBalance returns the ERC-20 balance of address for tokenAddress.
	GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error)

	// GetChainID returns the connected chain's ID.
	GetChainID(ctx context.Context) (*big.Int, error)

	// GetCode returns the bytecode at address, empty for EOAs.
	GetCode(ctx context.Context, address string) ([]byte, error)
}

// TypedDataDomain is the EIP-712 domain separator. An empty Version is
// omitted from the domain hash (Permit2 has no version field).
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField is one field of an EIP-712 struct type.
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TransactionReceipt is the mined-transaction summary settle reports on.
type TransactionReceipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
}

// AssetInfo describes an ERC-20 token: its address, EIP-712 domain
// name and version, and decimal precision.
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// NetworkConfig holds per-chain settlement configuration.
type NetworkConfig struct {
	ChainID         *big.Int
	DefaultAsset    AssetInfo
	SupportedAssets map[string]AssetInfo
}

// ToMap converts the payload into the generic scheme payload map.
func (p *ExactEIP3009Payload) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"authorization": map[string]interface{}{
			"from":        p.Authorization.From,
			"to":          p.Authorization.To,
			"value":       p.Authorization.Value,
			"validAfter":  p.Authorization.ValidAfter,
			"validBefore": p.Authorization.ValidBefore,
			"nonce":       p.Authorization.Nonce,
		},
	}
	if p.Signature != "" {
		result["signature"] = p.Signature
	}
	return result
}

// PayloadFromMap parses a generic scheme payload map into an
// ExactEIP3009Payload. Fields the map lacks stay zero; the facilitator
// validates completeness.
func PayloadFromMap(data map[string]interface{}) (*ExactEIP3009Payload, error) {
	payload := &ExactEIP3009Payload{}

	if sig, ok := data["signature"].(string); ok {
		payload.Signature = sig
	}

	if auth, ok := data["authorization"].(map[string]interface{}); ok {
		if from, ok := auth["from"].(string); ok {
			payload.Authorization.From = from
		}
		if to, ok := auth["to"].(string); ok {
			payload.Authorization.To = to
		}
		if value, ok := auth["value"].(string); ok {
			payload.Authorization.Value = value
		}
		if validAfter, ok := auth["validAfter"].(string); ok {
			payload.Authorization.ValidAfter = validAfter
		}
		if validBefore, ok := auth["validBefore"].(string); ok {
			payload.Authorization.ValidBefore = validBefore
		}
		if nonce, ok := auth["nonce"].(string); ok {
			payload.Authorization.Nonce = nonce
		}
	}

	return payload, nil
}

// ERC6492SignatureData is a parsed counterfactual signature wrapper:
// the factory that can deploy the wallet, its deployment calldata, and
// the wallet's inner EIP-1271 signature.
type ERC6492SignatureData struct {
	Factory         [20]byte
	FactoryCalldata []byte
	InnerSignature  []byte
}
