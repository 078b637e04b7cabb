package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// eip3009Types is the TransferWithAuthorization type set, including the
// standard EIP712Domain with a version field.
var eip3009Types = map[string][]TypedDataField{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// HashTypedData computes the EIP-712 digest
// keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
// The same digest is what EOAs sign and what EIP-1271 wallets validate.
func HashTypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{
				Name: field.Name,
				Type: field.Type,
			}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		typedData.Types["EIP712Domain"] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

// EIP3009TypedData assembles the domain, type set, and message for a
// transferWithAuthorization signature over the given token contract.
// Signing, verification and hashing all build the message here so the
// three paths can never drift apart.
func EIP3009TypedData(
	authorization ExactEIP3009Authorization,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) (TypedDataDomain, map[string][]TypedDataField, map[string]interface{}, error) {
	domain := TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}

	value, ok := new(big.Int).SetString(authorization.Value, 10)
	if !ok {
		return TypedDataDomain{}, nil, nil, fmt.Errorf("invalid authorization value: %s", authorization.Value)
	}
	validAfter, ok := new(big.Int).SetString(authorization.ValidAfter, 10)
	if !ok {
		return TypedDataDomain{}, nil, nil, fmt.Errorf("invalid validAfter: %s", authorization.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(authorization.ValidBefore, 10)
	if !ok {
		return TypedDataDomain{}, nil, nil, fmt.Errorf("invalid validBefore: %s", authorization.ValidBefore)
	}
	nonceBytes, err := HexToBytes(authorization.Nonce)
	if err != nil {
		return TypedDataDomain{}, nil, nil, fmt.Errorf("invalid nonce: %w", err)
	}
	if len(nonceBytes) != 32 {
		return TypedDataDomain{}, nil, nil, fmt.Errorf("nonce must be 32 bytes, got %d", len(nonceBytes))
	}

	message := map[string]interface{}{
		"from":        common.HexToAddress(authorization.From).Hex(),
		"to":          common.HexToAddress(authorization.To).Hex(),
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonceBytes,
	}

	return domain, eip3009Types, message, nil
}

// HashEIP3009Authorization computes the digest a payer signs for a
// transferWithAuthorization on the given token.
func HashEIP3009Authorization(
	authorization ExactEIP3009Authorization,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) ([]byte, error) {
	domain, types, message, err := EIP3009TypedData(authorization, chainID, verifyingContract, tokenName, tokenVersion)
	if err != nil {
		return nil, err
	}
	return HashTypedData(domain, types, "TransferWithAuthorization", message)
}

// Permit2TypedData assembles the domain, type set, and message for a
// PermitWitnessTransferFrom signature. The domain is Permit2's fixed
// name with no version field.
func Permit2TypedData(
	authorization Permit2Authorization,
	chainID *big.Int,
) (TypedDataDomain, map[string][]TypedDataField, map[string]interface{}, error) {
	domain := TypedDataDomain{
		Name:              "Permit2",
		ChainID:           chainID,
		VerifyingContract: PERMIT2Address,
	}

	amount, ok := new(big.Int).SetString(authorization.Permitted.Amount, 10)
	if !ok {
		return TypedDataDomain{}, nil, nil, fmt.Errorf("invalid permitted amount: %s", authorization.Permitted.Amount)
	}
	nonce, ok := new(big.Int).SetString(authorization.Nonce, 10)
	if !ok {
		return TypedDataDomain{}, nil, nil, fmt.Errorf("invalid nonce: %s", authorization.Nonce)
	}
	deadline, ok := new(big.Int).SetString(authorization.Deadline, 10)
	if !ok {
		return TypedDataDomain{}, nil, nil, fmt.Errorf("invalid deadline: %s", authorization.Deadline)
	}
	validAfter, ok := new(big.Int).SetString(authorization.Witness.ValidAfter, 10)
	if !ok {
		return TypedDataDomain{}, nil, nil, fmt.Errorf("invalid validAfter: %s", authorization.Witness.ValidAfter)
	}
	extraBytes, err := HexToBytes(authorization.Witness.Extra)
	if err != nil {
		return TypedDataDomain{}, nil, nil, fmt.Errorf("invalid witness extra: %w", err)
	}

	message := map[string]interface{}{
		"permitted": map[string]interface{}{
			"token":  common.HexToAddress(authorization.Permitted.Token).Hex(),
			"amount": amount,
		},
		"spender":  common.HexToAddress(authorization.Spender).Hex(),
		"nonce":    nonce,
		"deadline": deadline,
		"witness": map[string]interface{}{
			"to":         common.HexToAddress(authorization.Witness.To).Hex(),
			"validAfter": validAfter,
			"extra":      extraBytes,
		},
	}

	return domain, GetPermit2EIP712Types(), message, nil
}

// HashPermit2Authorization computes the digest a payer signs for a
// PermitWitnessTransferFrom through the x402 proxy.
func HashPermit2Authorization(
	authorization Permit2Authorization,
	chainID *big.Int,
) ([]byte, error) {
	domain, types, message, err := Permit2TypedData(authorization, chainID)
	if err != nil {
		return nil, err
	}
	return HashTypedData(domain, types, "PermitWitnessTransferFrom", message)
}
