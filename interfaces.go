package x402

import "context"

// MoneyParser converts a price into an AssetAmount for a network.
// Parsers registered on a resource service run in order; the first to
// return a non-nil amount wins. Returning (nil, nil) passes to the next
// parser, ending at the scheme handler's own ParsePrice.
type MoneyParser func(price Price, network Network) (*AssetAmount, error)

// SchemeNetworkClient is the client-side capability of a scheme handler:
// it produces a signed, scheme-specific payment payload for one
// requirement. Implementations report unsupported_scheme,
// unsupported_network, or missing_extra_field as PaymentError codes.
type SchemeNetworkClient interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, version int, requirements PaymentRequirements) (PaymentPayload, error)
}

// SchemeNetworkServer is the server-side capability of a scheme handler.
// ParsePrice converts human money ("$0.001") into atomic units of the
// network's default asset, or passes through a pre-parsed amount.
// EnhancePaymentRequirements decorates a base requirement with whatever
// the client's signer will need (EIP-712 domain, fee payer) plus any
// facilitator-advertised extension metadata named in extensionKeys.
type SchemeNetworkServer interface {
	Scheme() string
	ParsePrice(price Price, network Network) (AssetAmount, error)
	EnhancePaymentRequirements(ctx context.Context, requirements PaymentRequirements, supportedKind SupportedKind, extensionKeys []string) (PaymentRequirements, error)
}

// SchemeNetworkFacilitator is the facilitator-side capability of a
// scheme handler. Verify must be side-effect-free on chain; Settle may
// submit transactions and wait for confirmation up to the requirement's
// maxTimeoutSeconds. Both must be safe for concurrent calls on disjoint
// payloads and return structured results rather than panicking.
type SchemeNetworkFacilitator interface {
	Scheme() string
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error)
}

// ExtraProvider is optionally implemented by facilitator handlers that
// advertise per-network metadata in their supported kinds (e.g. the SVM
// fee payer address, EIP-712 domain hints).
type ExtraProvider interface {
	GetExtra(network Network) map[string]interface{}
}

// SignerProvider is optionally implemented by facilitator handlers to
// expose the addresses that may sign or fund settlement transactions.
type SignerProvider interface {
	GetSigners(network Network) []string
}

// FacilitatorClient is the resource server's view of a facilitator,
// local or remote. Implementations translate these calls onto the
// facilitator HTTP API or invoke an in-process X402Facilitator.
type FacilitatorClient interface {
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error)
	GetSupported(ctx context.Context) (SupportedResponse, error)

	// Identifier names the facilitator for logs and supported-cache keys.
	Identifier() string
}
