package svm

import (
	"context"
	"fmt"
	"sync"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	x402svm "github.com/x402-foundation/x402-go/v2/mechanisms/svm"
)

// FacilitatorSigner implements x402svm.FacilitatorSvmSigner with a
// single fee-payer key. RPC clients are created per cluster on first
// use, keyed by the network's CAIP-2 identifier.
type FacilitatorSigner struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	commitment rpc.CommitmentType
	endpoints  map[string]string

	mu         sync.Mutex
	rpcClients map[string]*rpc.Client
}

var _ x402svm.FacilitatorSvmSigner = (*FacilitatorSigner)(nil)

// FacilitatorOption configures a FacilitatorSigner.
type FacilitatorOption func(*FacilitatorSigner)

// WithRPCEndpoint overrides the RPC endpoint for one network. The
// network may be a CAIP-2 identifier or a v1 short name.
func WithRPCEndpoint(network, url string) FacilitatorOption {
	return func(s *FacilitatorSigner) {
		s.endpoints[network] = url
	}
}

// WithCommitment sets the commitment level used for simulation and
// confirmation.
func WithCommitment(commitment rpc.CommitmentType) FacilitatorOption {
	return func(s *FacilitatorSigner) {
		s.commitment = commitment
	}
}

// NewFacilitatorSigner creates a facilitator signer from a base58
// encoded private key. Endpoints default to the public cluster RPC
// for each configured network.
func NewFacilitatorSigner(privateKeyBase58 string, opts ...FacilitatorOption) (*FacilitatorSigner, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return newFacilitatorSigner(privateKey, opts...), nil
}

// NewFacilitatorSignerFromKeygenFile creates a facilitator signer from
// a Solana CLI keygen file.
func NewFacilitatorSignerFromKeygenFile(path string, opts ...FacilitatorOption) (*FacilitatorSigner, error) {
	privateKey, err := readKeygenFile(path)
	if err != nil {
		return nil, err
	}
	return newFacilitatorSigner(privateKey, opts...), nil
}

func newFacilitatorSigner(privateKey solana.PrivateKey, opts ...FacilitatorOption) *FacilitatorSigner {
	s := &FacilitatorSigner{
		privateKey: privateKey,
		publicKey:  privateKey.PublicKey(),
		commitment: x402svm.DefaultCommitment,
		endpoints:  make(map[string]string),
		rpcClients: make(map[string]*rpc.Client),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetAddresses returns the fee-payer public keys for a network. The
// same key serves every configured cluster.
func (s *FacilitatorSigner) GetAddresses(network string) []solana.PublicKey {
	return []solana.PublicKey{s.publicKey}
}

// SignTransaction adds the fee payer signature in place.
func (s *FacilitatorSigner) SignTransaction(ctx context.Context, tx *solana.Transaction, feePayer solana.PublicKey, network string) error {
	if !feePayer.Equals(s.publicKey) {
		return fmt.Errorf("no signer for fee payer %s, have %s", feePayer, s.publicKey)
	}
	return partialSign(s.privateKey, tx)
}

// SimulateTransaction runs the transaction against the cluster with
// full signature checks. Payment payloads arrive without the fee payer
// signature, so a copy is co-signed first when the fee payer slot is
// ours.
func (s *FacilitatorSigner) SimulateTransaction(ctx context.Context, tx *solana.Transaction, network string) error {
	client, err := s.rpcClient(network)
	if err != nil {
		return err
	}

	simTx := *tx
	simTx.Signatures = make([]solana.Signature, len(tx.Signatures))
	copy(simTx.Signatures, tx.Signatures)
	if len(simTx.Message.AccountKeys) > 0 && simTx.Message.AccountKeys[0].Equals(s.publicKey) {
		if err := partialSign(s.privateKey, &simTx); err != nil {
			return fmt.Errorf("failed to sign for simulation: %w", err)
		}
	}

	result, err := client.SimulateTransactionWithOpts(ctx, &simTx, &rpc.SimulateTransactionOpts{
		SigVerify:              true,
		ReplaceRecentBlockhash: false,
		Commitment:             s.commitment,
	})
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}
	if result != nil && result.Value != nil && result.Value.Err != nil {
		return fmt.Errorf("simulation failed: transaction would fail on-chain")
	}
	return nil
}

// SendTransaction submits the fully signed transaction. Preflight is
// skipped because verification already simulated it.
func (s *FacilitatorSigner) SendTransaction(ctx context.Context, tx *solana.Transaction, network string) (solana.Signature, error) {
	client, err := s.rpcClient(network)
	if err != nil {
		return solana.Signature{}, err
	}

	sig, err := client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: s.commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

// ConfirmTransaction polls signature status until the transaction is
// confirmed, fails on chain or the poll budget runs out.
func (s *FacilitatorSigner) ConfirmTransaction(ctx context.Context, signature solana.Signature, network string) error {
	client, err := s.rpcClient(network)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < x402svm.MaxConfirmAttempts; attempt++ {
		statuses, err := client.GetSignatureStatuses(ctx, true, signature)
		if err == nil && statuses != nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed on-chain")
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(x402svm.ConfirmRetryDelay):
		}
	}
	return fmt.Errorf("transaction confirmation timed out after %d attempts", x402svm.MaxConfirmAttempts)
}

// rpcClient returns the cached RPC client for a network, creating it
// on first use.
func (s *FacilitatorSigner) rpcClient(network string) (*rpc.Client, error) {
	config, err := x402svm.GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if client, ok := s.rpcClients[config.CAIP2]; ok {
		return client, nil
	}

	url := config.RPCURL
	if override, ok := s.endpoints[network]; ok {
		url = override
	} else if override, ok := s.endpoints[config.CAIP2]; ok {
		url = override
	}

	client := rpc.New(url)
	s.rpcClients[config.CAIP2] = client
	return client, nil
}
