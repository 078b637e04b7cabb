package http

import (
	"context"
	"fmt"
	"strings"
	"sync"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// MultiFacilitatorClient fans requests out across several facilitators,
// routing each payment to the first one whose supported kinds cover the
// payment's scheme and network. When no facilitator advertises a match,
// each is tried in registration order.
type MultiFacilitatorClient struct {
	clients    []x402.FacilitatorClient
	identifier string

	mu    sync.Mutex
	kinds map[int][]x402.SupportedKind
}

// NewMultiFacilitatorClient composes facilitator clients into one.
func NewMultiFacilitatorClient(clients ...x402.FacilitatorClient) *MultiFacilitatorClient {
	ids := make([]string, len(clients))
	for i, client := range clients {
		ids[i] = client.Identifier()
	}
	return &MultiFacilitatorClient{
		clients:    clients,
		identifier: "multi(" + strings.Join(ids, ",") + ")",
		kinds:      make(map[int][]x402.SupportedKind),
	}
}

// Identifier names the composite client.
func (m *MultiFacilitatorClient) Identifier() string {
	return m.identifier
}

// Verify routes verification to the matching facilitator.
func (m *MultiFacilitatorClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	if client := m.route(ctx, payload); client != nil {
		return client.Verify(ctx, payload, requirements)
	}

	var lastErr error
	for _, client := range m.clients {
		response, err := client.Verify(ctx, payload, requirements)
		if err == nil {
			return response, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no facilitator clients configured")
	}
	return x402.VerifyResponse{}, lastErr
}

// Settle routes settlement to the matching facilitator.
func (m *MultiFacilitatorClient) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	if client := m.route(ctx, payload); client != nil {
		return client.Settle(ctx, payload, requirements)
	}

	var lastErr error
	for _, client := range m.clients {
		response, err := client.Settle(ctx, payload, requirements)
		if err == nil {
			return response, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no facilitator clients configured")
	}
	return x402.SettleResponse{}, lastErr
}

// GetSupported merges the supported kinds and extensions of every
// facilitator, deduplicated. Individual failures are tolerated as long
// as at least one facilitator responds.
func (m *MultiFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	var merged x402.SupportedResponse
	var lastErr error
	seenKinds := make(map[string]bool)
	seenExtensions := make(map[string]bool)
	succeeded := false

	for _, client := range m.clients {
		response, err := client.GetSupported(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		succeeded = true

		for _, kind := range response.Kinds {
			key := fmt.Sprintf("%d|%s|%s", kind.X402Version, kind.Scheme, kind.Network)
			if !seenKinds[key] {
				seenKinds[key] = true
				merged.Kinds = append(merged.Kinds, kind)
			}
		}
		for _, extension := range response.Extensions {
			if !seenExtensions[extension] {
				seenExtensions[extension] = true
				merged.Extensions = append(merged.Extensions, extension)
			}
		}
	}

	if !succeeded && lastErr != nil {
		return x402.SupportedResponse{}, lastErr
	}
	return merged, nil
}

// route finds the first facilitator advertising a kind that covers the
// payment's scheme and network, nil when none does.
func (m *MultiFacilitatorClient) route(ctx context.Context, payload x402.PaymentPayload) x402.FacilitatorClient {
	network := x402.NormalizeNetwork(payload.Network)
	for i, client := range m.clients {
		for _, kind := range m.supportedKinds(ctx, i) {
			if kind.Scheme != payload.Scheme {
				continue
			}
			if network.Match(x402.NormalizeNetwork(kind.Network)) {
				return client
			}
		}
	}
	return nil
}

// supportedKinds returns the cached kinds for a facilitator, fetching
// on first use. Failed fetches are not cached so a flaky facilitator
// gets retried on the next payment.
func (m *MultiFacilitatorClient) supportedKinds(ctx context.Context, idx int) []x402.SupportedKind {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.kinds[idx]; ok {
		return cached
	}
	response, err := m.clients[idx].GetSupported(ctx)
	if err != nil {
		return nil
	}
	m.kinds[idx] = response.Kinds
	return response.Kinds
}
