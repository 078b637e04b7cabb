package svm

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"
	"strconv"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// ExactSvmClient implements x402.SchemeNetworkClient for the exact
// scheme on Solana clusters. It builds an SPL TransferChecked
// transaction, partially signs it, and leaves the fee-payer slot for
// the facilitator.
type ExactSvmClient struct {
	signer ClientSvmSigner
	config *ClientConfig
}

// NewExactSvmClient creates a client-side exact scheme handler. An
// optional ClientConfig overrides the network's default RPC endpoint.
func NewExactSvmClient(signer ClientSvmSigner, config ...*ClientConfig) *ExactSvmClient {
	c := &ExactSvmClient{signer: signer}
	if len(config) > 0 {
		c.config = config[0]
	}
	return c
}

// Scheme returns the scheme identifier.
func (c *ExactSvmClient) Scheme() string {
	return SchemeExact
}

// CreatePaymentPayload builds and partially signs the payment
// transaction for the selected requirements.
func (c *ExactSvmClient) CreatePaymentPayload(
	ctx context.Context,
	version int,
	requirements x402.PaymentRequirements,
) (x402.PaymentPayload, error) {
	if !slices.Contains(x402.SupportedVersions, version) {
		return x402.PaymentPayload{}, fmt.Errorf("unsupported x402 version: %d", version)
	}

	networkStr := string(requirements.Network)
	config, err := GetNetworkConfig(networkStr)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	rpcURL := config.RPCURL
	if c.config != nil && c.config.RPCURL != "" {
		rpcURL = c.config.RPCURL
	}
	rpcClient := rpc.New(rpcURL)

	asset := requirements.Asset
	if asset == "" {
		asset = config.DefaultAsset.Address
	}
	mintPubkey, err := solana.PublicKeyFromBase58(asset)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid asset address: %w", err)
	}

	mintAccount, err := rpcClient.GetAccountInfo(ctx, mintPubkey)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to get mint account: %w", err)
	}
	tokenProgramID := mintAccount.Value.Owner
	if !tokenProgramID.Equals(solana.TokenProgramID) && !tokenProgramID.Equals(solana.Token2022ProgramID) {
		return x402.PaymentPayload{}, fmt.Errorf("asset was not created by a known token program")
	}

	var mintData token.Mint
	if err := bin.NewBinDecoder(mintAccount.Value.Data.GetBinary()).Decode(&mintData); err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to decode mint data: %w", err)
	}

	payToPubkey, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid payTo address: %w", err)
	}

	sourceATA, _, err := solana.FindAssociatedTokenAddress(c.signer.Address(), mintPubkey)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to derive source ATA: %w", err)
	}
	destinationATA, _, err := solana.FindAssociatedTokenAddress(payToPubkey, mintPubkey)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to derive destination ATA: %w", err)
	}

	sourceAccount, err := rpcClient.GetAccountInfo(ctx, sourceATA)
	if err != nil || sourceAccount == nil || sourceAccount.Value == nil {
		return x402.PaymentPayload{}, fmt.Errorf(
			"%s: source token account does not exist for payer %s",
			ErrATANotFound, c.signer.Address(),
		)
	}
	destAccount, err := rpcClient.GetAccountInfo(ctx, destinationATA)
	if err != nil || destAccount == nil || destAccount.Value == nil {
		return x402.PaymentPayload{}, fmt.Errorf(
			"%s: destination token account does not exist for recipient %s",
			ErrATANotFound, requirements.PayTo,
		)
	}

	amount, err := strconv.ParseUint(requirements.EffectiveAmount(), 10, 64)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid amount: %w", err)
	}

	feePayerAddr, _ := requirements.Extra["feePayer"].(string)
	if feePayerAddr == "" {
		return x402.PaymentPayload{}, fmt.Errorf("feePayer is required in payment requirements extra for Solana payments")
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerAddr)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid feePayer address: %w", err)
	}

	latestBlockhash, err := rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(DefaultComputeUnitLimit).
		ValidateAndBuild()
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to build compute limit instruction: %w", err)
	}
	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(DefaultComputeUnitPrice).
		ValidateAndBuild()
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to build compute price instruction: %w", err)
	}

	transferIx := BuildTransferCheckedInstruction(
		tokenProgramID,
		sourceATA,
		mintPubkey,
		destinationATA,
		c.signer.Address(),
		amount,
		mintData.Decimals,
	)

	tx, err := solana.NewTransactionBuilder().
		AddInstruction(cuLimit).
		AddInstruction(cuPrice).
		AddInstruction(transferIx).
		SetRecentBlockHash(latestBlockhash.Value.Blockhash).
		SetFeePayer(feePayer).
		Build()
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	base64Tx, err := EncodeTransaction(tx)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	svmPayload := &ExactSvmPayload{Transaction: base64Tx}
	return x402.PaymentPayload{
		X402Version: version,
		Payload:     svmPayload.ToMap(),
	}, nil
}

// BuildTransferCheckedInstruction assembles an SPL TransferChecked
// instruction against the given token program. Building the data by
// hand keeps Token-2022 mints usable; the generated builders are
// pinned to the classic program.
//
// Data layout: [12, amount u64 LE, decimals u8].
func BuildTransferCheckedInstruction(
	programID solana.PublicKey,
	source, mint, destination, owner solana.PublicKey,
	amount uint64,
	decimals uint8,
) solana.Instruction {
	data := make([]byte, 10)
	data[0] = TokenInstructionTransferChecked
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals

	return solana.NewInstruction(
		programID,
		solana.AccountMetaSlice{
			solana.Meta(source).WRITE(),
			solana.Meta(mint),
			solana.Meta(destination).WRITE(),
			solana.Meta(owner).SIGNER(),
		},
		data,
	)
}
