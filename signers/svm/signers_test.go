package svm

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	solana "github.com/gagliardetto/solana-go"

	x402svm "github.com/x402-foundation/x402-go/v2/mechanisms/svm"
)

// paymentTransaction builds a transfer transaction with feePayer in
// the fee payer slot and owner as the second required signer.
func paymentTransaction(t *testing.T, owner, feePayer solana.PublicKey) *solana.Transaction {
	t.Helper()

	mint := solana.MustPublicKeyFromBase58(x402svm.USDCDevnetAddress)
	recipient := solana.NewWallet().PublicKey()

	sourceATA, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		t.Fatalf("FindAssociatedTokenAddress() error = %v", err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		t.Fatalf("FindAssociatedTokenAddress() error = %v", err)
	}

	transfer := x402svm.BuildTransferCheckedInstruction(
		solana.TokenProgramID, sourceATA, mint, destATA, owner, 1000000, 6,
	)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{transfer},
		solana.Hash(recipient),
		solana.TransactionPayer(feePayer),
	)
	if err != nil {
		t.Fatalf("NewTransaction() error = %v", err)
	}
	return tx
}

func verifySignatureAt(t *testing.T, tx *solana.Transaction, key solana.PublicKey) {
	t.Helper()

	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}

	index := -1
	for i, account := range tx.Message.AccountKeys {
		if account.Equals(key) {
			index = i
			break
		}
	}
	if index < 0 {
		t.Fatalf("key %s not in account keys", key)
	}
	if index >= len(tx.Signatures) {
		t.Fatalf("no signature at index %d", index)
	}

	sig := tx.Signatures[index]
	if !ed25519.Verify(ed25519.PublicKey(key[:]), messageBytes, sig[:]) {
		t.Errorf("signature at index %d does not verify for %s", index, key)
	}
}

func TestNewClientSignerValidation(t *testing.T) {
	if _, err := NewClientSigner(solana.PublicKey{}, func(context.Context, *solana.Transaction) error { return nil }); err == nil {
		t.Error("expected error for zero public key")
	}
	if _, err := NewClientSigner(solana.NewWallet().PublicKey(), nil); err == nil {
		t.Error("expected error for nil sign callback")
	}
	if _, err := NewClientSignerFromPrivateKey("not-base58!"); err == nil {
		t.Error("expected error for invalid private key")
	}
}

func TestClientSignerPartialSign(t *testing.T) {
	wallet := solana.NewWallet()
	feePayer := solana.NewWallet()

	signer, err := NewClientSignerFromPrivateKey(wallet.PrivateKey.String())
	if err != nil {
		t.Fatalf("NewClientSignerFromPrivateKey() error = %v", err)
	}
	if !signer.Address().Equals(wallet.PublicKey()) {
		t.Errorf("Address() = %s, want %s", signer.Address(), wallet.PublicKey())
	}

	tx := paymentTransaction(t, wallet.PublicKey(), feePayer.PublicKey())
	if err := signer.SignTransaction(context.Background(), tx); err != nil {
		t.Fatalf("SignTransaction() error = %v", err)
	}

	verifySignatureAt(t, tx, wallet.PublicKey())

	// The fee payer slot stays empty for the facilitator.
	if tx.Signatures[0] != (solana.Signature{}) {
		t.Error("fee payer slot should be unsigned")
	}
}

func TestClientSignerFromKeygenFile(t *testing.T) {
	wallet := solana.NewWallet()

	keyBytes := make([]int, len(wallet.PrivateKey))
	for i, b := range wallet.PrivateKey {
		keyBytes[i] = int(b)
	}
	data, err := json.Marshal(keyBytes)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "id.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	signer, err := NewClientSignerFromKeygenFile(path)
	if err != nil {
		t.Fatalf("NewClientSignerFromKeygenFile() error = %v", err)
	}
	if !signer.Address().Equals(wallet.PublicKey()) {
		t.Errorf("Address() = %s, want %s", signer.Address(), wallet.PublicKey())
	}

	if _, err := NewClientSignerFromKeygenFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing keygen file")
	}

	short := filepath.Join(t.TempDir(), "short.json")
	if err := os.WriteFile(short, []byte("[1,2,3]"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := NewClientSignerFromKeygenFile(short); err == nil {
		t.Error("expected error for truncated keygen file")
	}
}

func TestFacilitatorSignerSignTransaction(t *testing.T) {
	owner := solana.NewWallet()
	feePayer := solana.NewWallet()

	signer, err := NewFacilitatorSigner(feePayer.PrivateKey.String())
	if err != nil {
		t.Fatalf("NewFacilitatorSigner() error = %v", err)
	}

	addresses := signer.GetAddresses("solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1")
	if len(addresses) != 1 || !addresses[0].Equals(feePayer.PublicKey()) {
		t.Errorf("GetAddresses() = %v, want [%s]", addresses, feePayer.PublicKey())
	}

	tx := paymentTransaction(t, owner.PublicKey(), feePayer.PublicKey())
	if err := signer.SignTransaction(context.Background(), tx, feePayer.PublicKey(), "solana-devnet"); err != nil {
		t.Fatalf("SignTransaction() error = %v", err)
	}
	verifySignatureAt(t, tx, feePayer.PublicKey())

	// A fee payer we do not hold is refused.
	err = signer.SignTransaction(context.Background(), tx, owner.PublicKey(), "solana-devnet")
	if err == nil {
		t.Error("expected error for unknown fee payer")
	}
}

func TestFacilitatorSignerRPCClients(t *testing.T) {
	signer, err := NewFacilitatorSigner(
		solana.NewWallet().PrivateKey.String(),
		WithRPCEndpoint("solana-devnet", "http://localhost:8899"),
	)
	if err != nil {
		t.Fatalf("NewFacilitatorSigner() error = %v", err)
	}

	client, err := signer.rpcClient("solana-devnet")
	if err != nil {
		t.Fatalf("rpcClient() error = %v", err)
	}
	if client == nil {
		t.Fatal("rpcClient() returned nil client")
	}

	// The v1 alias and the CAIP-2 id share one client.
	same, err := signer.rpcClient(x402svm.SolanaDevnetCAIP2)
	if err != nil {
		t.Fatalf("rpcClient() error = %v", err)
	}
	if same != client {
		t.Error("expected cached client for the same cluster")
	}

	if _, err := signer.rpcClient("eip155:8453"); err == nil {
		t.Error("expected error for unsupported network")
	}
}

func TestFacilitatorSignerFromKeygenFile(t *testing.T) {
	wallet := solana.NewWallet()

	keyBytes := make([]int, len(wallet.PrivateKey))
	for i, b := range wallet.PrivateKey {
		keyBytes[i] = int(b)
	}
	data, err := json.Marshal(keyBytes)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "id.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	signer, err := NewFacilitatorSignerFromKeygenFile(path)
	if err != nil {
		t.Fatalf("NewFacilitatorSignerFromKeygenFile() error = %v", err)
	}
	addresses := signer.GetAddresses("solana-devnet")
	if len(addresses) != 1 || !addresses[0].Equals(wallet.PublicKey()) {
		t.Errorf("GetAddresses() = %v, want [%s]", addresses, wallet.PublicKey())
	}
}
