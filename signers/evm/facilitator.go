package evm

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	x402evm "github.com/x402-foundation/x402-go/v2/mechanisms/evm"
)

const (
	// settleGasLimit covers transferWithAuthorization and the Permit2
	// proxy settle call with headroom for contract wallet checks.
	settleGasLimit = 300_000

	receiptPollInterval = time.Second
	receiptPollAttempts = 30
)

// eip1271MagicValue is the bytes4 a contract wallet returns from
// isValidSignature when the signature is accepted.
var eip1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

var eip1271ABI = []byte(`[
	{
		"inputs": [
			{"internalType": "bytes32", "name": "hash", "type": "bytes32"},
			{"internalType": "bytes", "name": "signature", "type": "bytes"}
		],
		"name": "isValidSignature",
		"outputs": [{"internalType": "bytes4", "name": "", "type": "bytes4"}],
		"stateMutability": "view",
		"type": "function"
	}
]`)

// FacilitatorSigner implements x402evm.FacilitatorEvmSigner against a
// single EVM chain. It reads token state, verifies payment signatures
// and submits settlement transactions with a local ECDSA key.
type FacilitatorSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	client     *ethclient.Client

	mu      sync.Mutex
	chainID *big.Int
}

var _ x402evm.FacilitatorEvmSigner = (*FacilitatorSigner)(nil)

// NewFacilitatorSigner creates a facilitator signer from a hex-encoded
// private key and an RPC endpoint. The endpoint is not contacted until
// the first chain operation.
func NewFacilitatorSigner(privateKeyHex, rpcURL string) (*FacilitatorSigner, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", rpcURL, err)
	}
	return NewFacilitatorSignerWithClient(privateKeyHex, client)
}

// NewFacilitatorSignerWithClient creates a facilitator signer on an
// existing RPC client.
func NewFacilitatorSignerWithClient(privateKeyHex string, client *ethclient.Client) (*FacilitatorSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &FacilitatorSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		client:     client,
	}, nil
}

// GetAddresses returns the settlement addresses held by this signer.
func (s *FacilitatorSigner) GetAddresses() []string {
	return []string{s.address.Hex()}
}

// GetChainID returns the chain id of the connected endpoint, cached
// after the first successful fetch.
func (s *FacilitatorSigner) GetChainID(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chainID != nil {
		return new(big.Int).Set(s.chainID), nil
	}

	chainID, err := s.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	s.chainID = chainID
	return new(big.Int).Set(chainID), nil
}

// ReadContract calls a contract function through eth_call and returns
// its first decoded output. Arguments must already carry their ABI
// types (common.Address, *big.Int, [32]byte and so on).
func (s *FacilitatorSigner) ReadContract(
	ctx context.Context,
	address string,
	abiJSON []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse abi: %w", err)
	}

	data, err := parsed.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", functionName, err)
	}

	contract := common.HexToAddress(address)
	output, err := s.client.CallContract(ctx, ethereum.CallMsg{
		To:   &contract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", functionName, err)
	}

	results, err := parsed.Methods[functionName].Outputs.Unpack(output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", functionName, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// VerifyTypedData checks an EIP-712 signature against the expected
// signer address. A 65-byte signature is verified by ECDSA recovery
// first; on mismatch, or for any other length, the check falls back to
// the wallet's on-chain isValidSignature when code exists at the
// address.
func (s *FacilitatorSigner) VerifyTypedData(
	ctx context.Context,
	address string,
	domain x402evm.TypedDataDomain,
	typedDataTypes map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
	signature []byte,
) (bool, error) {
	digest, err := x402evm.HashTypedData(domain, typedDataTypes, primaryType, message)
	if err != nil {
		return false, fmt.Errorf("failed to hash typed data: %w", err)
	}

	if len(signature) == 65 {
		recovered, err := recoverAddress(digest, signature)
		if err == nil && recovered == common.HexToAddress(address) {
			return true, nil
		}
	}

	code, err := s.GetCode(ctx, address)
	if err != nil {
		return false, err
	}
	if len(code) == 0 {
		return false, nil
	}
	return s.checkEIP1271(ctx, address, [32]byte(digest), signature)
}

func recoverAddress(digest, signature []byte) (common.Address, error) {
	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

func (s *FacilitatorSigner) checkEIP1271(ctx context.Context, address string, hash [32]byte, signature []byte) (bool, error) {
	result, err := s.ReadContract(ctx, address, eip1271ABI, "isValidSignature", hash, signature)
	if err != nil {
		// Wallets that reject a signature revert rather than return.
		return false, nil
	}
	magic, ok := result.([4]byte)
	if !ok {
		return false, nil
	}
	return magic == eip1271MagicValue, nil
}

// WriteContract packs a contract call, signs it with the settlement key
// and submits it. Returns the transaction hash.
func (s *FacilitatorSigner) WriteContract(
	ctx context.Context,
	address string,
	abiJSON []byte,
	functionName string,
	args ...interface{},
) (string, error) {
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return "", fmt.Errorf("failed to parse abi: %w", err)
	}

	data, err := parsed.Pack(functionName, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack %s: %w", functionName, err)
	}
	return s.submitTransaction(ctx, common.HexToAddress(address), data)
}

// SendTransaction signs and submits a transaction with pre-encoded
// calldata, as used for counterfactual wallet deployment.
func (s *FacilitatorSigner) SendTransaction(ctx context.Context, to string, data []byte) (string, error) {
	return s.submitTransaction(ctx, common.HexToAddress(to), data)
}

func (s *FacilitatorSigner) submitTransaction(ctx context.Context, to common.Address, data []byte) (string, error) {
	chainID, err := s.GetChainID(ctx)
	if err != nil {
		return "", err
	}

	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      settleGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

// WaitForTransactionReceipt polls for the receipt of a submitted
// transaction until it lands, ctx is done or the poll budget runs out.
func (s *FacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*x402evm.TransactionReceipt, error) {
	hash := common.HexToHash(txHash)

	for attempt := 0; attempt < receiptPollAttempts; attempt++ {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return &x402evm.TransactionReceipt{
				Status:      receipt.Status,
				BlockNumber: receipt.BlockNumber.Uint64(),
				TxHash:      receipt.TxHash.Hex(),
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to get receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(receiptPollInterval):
		}
	}
	return nil, fmt.Errorf("transaction %s not mined after %d attempts", txHash, receiptPollAttempts)
}

// GetBalance returns the ERC-20 token balance of an address.
func (s *FacilitatorSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	result, err := s.ReadContract(ctx, tokenAddress, x402evm.ERC20BalanceOfABI, "balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}

	balance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from balanceOf")
	}
	return balance, nil
}

// GetCode returns the deployed bytecode at an address, empty for EOAs.
func (s *FacilitatorSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	code, err := s.client.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get code: %w", err)
	}
	return code, nil
}
