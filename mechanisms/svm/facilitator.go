package svm

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"slices"
	"strconv"

	solana "github.com/gagliardetto/solana-go"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// ExactSvmFacilitator implements x402.SchemeNetworkFacilitator for the
// exact scheme on Solana clusters. Verification is structural plus a
// cluster simulation; settlement co-signs as fee payer, submits and
// confirms.
type ExactSvmFacilitator struct {
	signer FacilitatorSvmSigner
}

// NewExactSvmFacilitator creates a facilitator-side exact scheme
// handler.
func NewExactSvmFacilitator(signer FacilitatorSvmSigner) *ExactSvmFacilitator {
	return &ExactSvmFacilitator{signer: signer}
}

// Scheme returns the scheme identifier.
func (f *ExactSvmFacilitator) Scheme() string {
	return SchemeExact
}

// GetSigners returns the facilitator's fee-payer addresses for the
// network.
func (f *ExactSvmFacilitator) GetSigners(network x402.Network) []string {
	addresses := f.signer.GetAddresses(string(network))
	out := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		out = append(out, addr.String())
	}
	return out
}

// GetExtra advertises the fee payer in supported kinds so resource
// servers can pass it through to clients building transactions.
func (f *ExactSvmFacilitator) GetExtra(network x402.Network) map[string]interface{} {
	addresses := f.signer.GetAddresses(string(network))
	if len(addresses) == 0 {
		return nil
	}
	return map[string]interface{}{
		"feePayer": addresses[0].String(),
	}
}

// paymentTransfer is the decoded TransferChecked instruction along
// with the payer identity the payment is attributed to.
type paymentTransfer struct {
	Source      solana.PublicKey
	Mint        solana.PublicKey
	Destination solana.PublicKey
	Owner       solana.PublicKey
	Amount      uint64
	Payer       string
	IsSwig      bool
}

// Verify validates a payment payload against requirements without
// submitting anything on-chain.
func (f *ExactSvmFacilitator) Verify(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (x402.VerifyResponse, error) {
	if !slices.Contains(x402.SupportedVersions, payload.X402Version) {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: fmt.Sprintf("unsupported x402 version: %d", payload.X402Version),
		}, nil
	}

	if payload.Scheme != SchemeExact || requirements.Scheme != SchemeExact {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: "invalid scheme",
		}, nil
	}

	if x402.NormalizeNetwork(payload.Network) != x402.NormalizeNetwork(requirements.Network) {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: "network mismatch",
		}, nil
	}

	tx, invalidReason := f.decodePayloadTransaction(payload)
	if invalidReason != "" {
		return x402.VerifyResponse{IsValid: false, InvalidReason: invalidReason}, nil
	}

	transfer, invalidReason := f.extractPaymentTransfer(tx)
	if invalidReason != "" {
		return x402.VerifyResponse{IsValid: false, InvalidReason: invalidReason}, nil
	}

	if reason := f.checkTransferAgainstRequirements(tx, transfer, requirements); reason != "" {
		return x402.VerifyResponse{IsValid: false, InvalidReason: reason}, nil
	}

	// The payer key must have signed the message. Swig payments are
	// authorized inside the program (the payer is a PDA), so the
	// precompile covers them.
	if !transfer.IsSwig {
		if !verifyPayerSignature(tx, transfer.Owner) {
			return x402.VerifyResponse{
				IsValid:       false,
				InvalidReason: ErrSvmSignature,
			}, nil
		}
	}

	if err := f.signer.SimulateTransaction(ctx, tx, string(requirements.Network)); err != nil {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: ErrSimulationFailed,
		}, nil
	}

	return x402.VerifyResponse{
		IsValid: true,
		Payer:   transfer.Payer,
	}, nil
}

// Settle co-signs the payment as fee payer, submits it and waits for
// confirmation.
func (f *ExactSvmFacilitator) Settle(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (x402.SettleResponse, error) {
	verifyResponse, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	if !verifyResponse.IsValid {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: verifyResponse.InvalidReason,
			Network:     payload.Network,
		}, nil
	}

	tx, invalidReason := f.decodePayloadTransaction(payload)
	if invalidReason != "" {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: invalidReason,
			Network:     payload.Network,
		}, nil
	}

	network := string(requirements.Network)
	feePayer := tx.Message.AccountKeys[0]

	if err := f.signer.SignTransaction(ctx, tx, feePayer, network); err != nil {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("failed to sign as fee payer: %v", err),
			Network:     payload.Network,
		}, nil
	}

	signature, err := f.signer.SendTransaction(ctx, tx, network)
	if err != nil {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("failed to send transaction: %v", err),
			Network:     payload.Network,
		}, nil
	}

	if err := f.signer.ConfirmTransaction(ctx, signature, network); err != nil {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: "transaction failed",
			Transaction: signature.String(),
			Network:     payload.Network,
		}, nil
	}

	return x402.SettleResponse{
		Success:     true,
		Transaction: signature.String(),
		Network:     payload.Network,
		Payer:       verifyResponse.Payer,
	}, nil
}

func (f *ExactSvmFacilitator) decodePayloadTransaction(payload x402.PaymentPayload) (*solana.Transaction, string) {
	svmPayload, err := PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, ErrSvmPayloadTransaction
	}
	tx, err := DecodeTransaction(svmPayload.Transaction)
	if err != nil {
		return nil, ErrSvmPayloadTransaction
	}
	if len(tx.Message.AccountKeys) == 0 {
		return nil, ErrSvmPayloadTransaction
	}
	return tx, ""
}

// extractPaymentTransfer enforces the instruction layout and returns
// the single TransferChecked the payment consists of.
func (f *ExactSvmFacilitator) extractPaymentTransfer(tx *solana.Transaction) (*paymentTransfer, string) {
	instructions := tx.Message.Instructions
	swigPDA := ""

	if IsSwigTransaction(tx) {
		parsed, err := ParseSwigTransaction(tx)
		if err != nil {
			return nil, ErrNoTransferInstruction
		}
		instructions = parsed.Instructions
		swigPDA = parsed.SwigPDA
	}

	if len(instructions) < MinTransactionInstructions || len(instructions) > MaxTransactionInstructions {
		return nil, ErrTransactionInstructionsLength
	}

	// The first two slots are the compute budget pair.
	for i := 0; i < 2; i++ {
		if !isComputeBudgetInstruction(tx, instructions[i]) {
			return nil, ErrUnsupportedInstruction
		}
	}

	memoPubkey := solana.MustPublicKeyFromBase58(MemoProgramAddress)
	lighthousePubkey := solana.MustPublicKeyFromBase58(LighthouseProgramAddress)

	var transfer *paymentTransfer
	for _, instruction := range instructions[2:] {
		progID, ok := instructionProgram(tx, instruction)
		if !ok {
			return nil, ErrUnsupportedInstruction
		}

		if isTokenProgram(progID) && isTransferCheckedData(instruction.Data) {
			if transfer != nil {
				return nil, ErrMultipleTransferInstructions
			}
			decoded, reason := decodeTransferChecked(tx, instruction)
			if reason != "" {
				return nil, reason
			}
			transfer = decoded
			continue
		}

		if progID.Equals(memoPubkey) || progID.Equals(lighthousePubkey) {
			continue
		}

		return nil, ErrUnsupportedInstruction
	}

	if transfer == nil {
		return nil, ErrNoTransferInstruction
	}

	if swigPDA != "" {
		transfer.Payer = swigPDA
		transfer.IsSwig = true
	} else {
		transfer.Payer = transfer.Owner.String()
	}
	return transfer, ""
}

func (f *ExactSvmFacilitator) checkTransferAgainstRequirements(
	tx *solana.Transaction,
	transfer *paymentTransfer,
	requirements x402.PaymentRequirements,
) string {
	networkStr := string(requirements.Network)

	assetInfo, err := GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return ErrAssetMismatch
	}
	if transfer.Mint.String() != assetInfo.Address {
		return ErrAssetMismatch
	}

	payToPubkey, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return ErrRecipientMismatch
	}
	expectedATA, _, err := solana.FindAssociatedTokenAddress(payToPubkey, transfer.Mint)
	if err != nil {
		return ErrRecipientMismatch
	}
	if !transfer.Destination.Equals(expectedATA) {
		return ErrRecipientMismatch
	}

	required, err := strconv.ParseUint(requirements.EffectiveAmount(), 10, 64)
	if err != nil {
		return ErrInsufficientAmount
	}
	if transfer.Amount < required {
		return ErrInsufficientAmount
	}

	feePayer := tx.Message.AccountKeys[0]
	if expected, ok := requirements.Extra["feePayer"].(string); ok && expected != "" {
		if feePayer.String() != expected {
			return ErrFeePayerMismatch
		}
	}
	addresses := f.signer.GetAddresses(networkStr)
	if !slices.ContainsFunc(addresses, feePayer.Equals) {
		return ErrFeePayerMismatch
	}

	return ""
}

func instructionProgram(tx *solana.Transaction, instruction solana.CompiledInstruction) (solana.PublicKey, bool) {
	if int(instruction.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
		return solana.PublicKey{}, false
	}
	return tx.Message.AccountKeys[instruction.ProgramIDIndex], true
}

func isComputeBudgetInstruction(tx *solana.Transaction, instruction solana.CompiledInstruction) bool {
	progID, ok := instructionProgram(tx, instruction)
	if !ok || !progID.Equals(solana.ComputeBudget) {
		return false
	}
	if len(instruction.Data) == 0 {
		return false
	}
	discriminator := instruction.Data[0]
	return discriminator == ComputeBudgetSetLimit || discriminator == ComputeBudgetSetPrice
}

func isTokenProgram(progID solana.PublicKey) bool {
	return progID.Equals(solana.TokenProgramID) || progID.Equals(solana.Token2022ProgramID)
}

func isTransferCheckedData(data []byte) bool {
	return len(data) == 10 && data[0] == TokenInstructionTransferChecked
}

// decodeTransferChecked resolves a TransferChecked instruction's
// accounts against the transaction's key list.
//
// Account order: [source, mint, destination, owner].
func decodeTransferChecked(tx *solana.Transaction, instruction solana.CompiledInstruction) (*paymentTransfer, string) {
	if len(instruction.Accounts) < 4 {
		return nil, ErrNoTransferInstruction
	}

	keys := tx.Message.AccountKeys
	resolve := func(index uint16) (solana.PublicKey, bool) {
		if int(index) >= len(keys) {
			return solana.PublicKey{}, false
		}
		return keys[index], true
	}

	source, ok1 := resolve(instruction.Accounts[0])
	mint, ok2 := resolve(instruction.Accounts[1])
	destination, ok3 := resolve(instruction.Accounts[2])
	owner, ok4 := resolve(instruction.Accounts[3])
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, ErrNoTransferInstruction
	}

	return &paymentTransfer{
		Source:      source,
		Mint:        mint,
		Destination: destination,
		Owner:       owner,
		Amount:      binary.LittleEndian.Uint64(instruction.Data[1:9]),
	}, ""
}

// verifyPayerSignature checks the owner's ed25519 signature over the
// message. The fee payer's slot may still be empty at this point.
func verifyPayerSignature(tx *solana.Transaction, owner solana.PublicKey) bool {
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return false
	}

	numSigners := int(tx.Message.Header.NumRequiredSignatures)
	for i := 0; i < numSigners && i < len(tx.Message.AccountKeys); i++ {
		if !tx.Message.AccountKeys[i].Equals(owner) {
			continue
		}
		if i >= len(tx.Signatures) {
			return false
		}
		sig := tx.Signatures[i]
		return ed25519.Verify(ed25519.PublicKey(owner[:]), messageBytes, sig[:])
	}
	return false
}
