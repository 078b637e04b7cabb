package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	x402 "github.com/x402-foundation/x402-go/v2"
)

type contextKey string

// PaymentContextKey is the context key under which the verified payment
// payload is stored for wrapped tool handlers.
const PaymentContextKey = contextKey("x402_payment")

// ToolHandler is the MCP SDK tool handler signature. The alias keeps
// wrapped handlers assignable to mcpsdk.Server.AddTool.
type ToolHandler = func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error)

// ============================================================================
// Tool Configuration
// ============================================================================

// ToolConfig prices one MCP tool.
type ToolConfig struct {
	// Scheme names the payment scheme, e.g. "exact".
	Scheme string

	// PayTo is the receiving address.
	PayTo string

	// Price is the price per call, a money string like "$0.001" or an
	// x402.AssetAmount.
	Price x402.Price

	// Network is the CAIP-2 network the payment settles on.
	Network x402.Network

	// MaxTimeoutSeconds bounds payment validity. Zero uses the
	// protocol default.
	MaxTimeoutSeconds int

	// Resource names the thing being sold. Defaults to
	// mcp://tool/<name>.
	Resource string

	Description  string
	MimeType     string
	OutputSchema []byte

	// Extra carries scheme-specific requirement fields.
	Extra map[string]interface{}

	// Extensions declares protocol extensions for the challenge.
	Extensions map[string]interface{}
}

// resourceConfig projects a priced tool into a core resource config.
func (c ToolConfig) resourceConfig(toolName string) x402.ResourceConfig {
	resource := c.Resource
	if resource == "" {
		resource = ToolResourceURL(toolName)
	}
	return x402.ResourceConfig{
		Scheme:            c.Scheme,
		PayTo:             c.PayTo,
		Price:             c.Price,
		Network:           c.Network,
		MaxTimeoutSeconds: c.MaxTimeoutSeconds,
		Resource:          resource,
		Description:       c.Description,
		MimeType:          c.MimeType,
		OutputSchema:      c.OutputSchema,
		Extra:             c.Extra,
	}
}

// toolRequestContext is the transport context handed to extension
// enrichment. MCP tool calls ride HTTP POSTs, so that is what
// discovery metadata reports.
type toolRequestContext struct {
	toolName string
}

func (c toolRequestContext) TransportMethod() string {
	return "POST"
}

// ============================================================================
// Payment Wrapper
// ============================================================================

// PaymentWrapper charges for calls to an MCP tool. The wrapped handler
// runs only after the payment in the request _meta verifies; the
// settlement receipt is attached to the result _meta. Verification and
// settlement run in the resource service, which many wrappers on the
// same server share.
type PaymentWrapper struct {
	service *x402.X402ResourceService
	config  ToolConfig
	logger  *slog.Logger
}

// WrapperOption configures a PaymentWrapper.
type WrapperOption func(*PaymentWrapper)

// WithWrapperLogger routes the wrapper's structured logs.
func WithWrapperLogger(logger *slog.Logger) WrapperOption {
	return func(w *PaymentWrapper) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewPaymentWrapper prices a tool on top of a configured resource
// service. The service needs a facilitator client and a scheme server
// registered for the configured network. Panics when the config misses
// Scheme, PayTo, Price, or Network.
func NewPaymentWrapper(service *x402.X402ResourceService, config ToolConfig, opts ...WrapperOption) *PaymentWrapper {
	if config.Scheme == "" || config.PayTo == "" || config.Price == nil || config.Network == "" {
		panic("mcp: ToolConfig requires Scheme, PayTo, Price, and Network")
	}

	w := &PaymentWrapper{
		service: service,
		config:  config,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Wrap gates a tool handler behind payment. Unpaid and unverifiable
// calls skip the handler and return the challenge as an error result.
func (w *PaymentWrapper) Wrap(handler ToolHandler) ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		toolName := req.Params.Name

		config := w.config.resourceConfig(toolName)
		extensions := w.service.EnrichExtensions(w.config.Extensions, toolRequestContext{toolName: toolName})
		config.Extensions = extensions
		configs := []x402.ResourceConfig{config}

		payload, err := PaymentFromMeta(map[string]interface{}(req.Params.Meta))
		if err != nil {
			w.logger.Debug("rejecting undecodable payment meta", "tool", toolName, "error", err)
			return w.challenge(ctx, configs, extensions, x402.ErrInvalidPayload)
		}

		verified, err := w.service.ProcessPaymentRequest(ctx, payload, configs, extensions)
		if err != nil {
			return nil, fmt.Errorf("payment verification error: %w", err)
		}
		if !verified.Success {
			return paymentRequiredResult(*verified.RequiresPayment)
		}

		result, err := handler(context.WithValue(ctx, PaymentContextKey, payload), req)
		if err != nil {
			// Handler errors skip settlement, the way failed HTTP
			// responses do.
			return nil, err
		}
		if result != nil && result.IsError {
			// Tool-level errors also go unsettled.
			return result, nil
		}

		receipt := w.settle(ctx, toolName, *payload, *verified.SelectedRequirements)
		if result == nil {
			result = &mcpsdk.CallToolResult{}
		}
		if result.Meta == nil {
			result.Meta = mcpsdk.Meta{}
		}
		result.Meta[MetaKeyPaymentResponse] = receipt

		return result, nil
	}
}

// challenge builds the payment-required result for requests rejected
// before verification.
func (w *PaymentWrapper) challenge(ctx context.Context, configs []x402.ResourceConfig, extensions map[string]interface{}, reason string) (*mcpsdk.CallToolResult, error) {
	version := x402.SupportedVersions[len(x402.SupportedVersions)-1]
	requirements, err := w.service.BuildPaymentRequirements(ctx, configs, version)
	if err != nil {
		return nil, fmt.Errorf("failed to build payment requirements: %w", err)
	}

	required := w.service.CreatePaymentRequiredResponse(version, requirements, reason, extensions)
	return paymentRequiredResult(required)
}

// settle runs after the handler succeeded. A settlement failure never
// fails the call; the handler already did the work, so the failure
// rides the receipt with success false.
func (w *PaymentWrapper) settle(ctx context.Context, toolName string, payload x402.PaymentPayload, requirements x402.PaymentRequirements) x402.SettleResponse {
	receipt, err := w.service.SettlePayment(ctx, payload, requirements)
	if err == nil && !receipt.Success {
		err = x402.NewSettleError(receipt.ErrorReason, "settlement failed")
	}
	if err != nil {
		receipt.Success = false
		if receipt.ErrorReason == "" {
			receipt.ErrorReason = x402.ErrUnexpectedSettleError
		}
		if receipt.Network == "" {
			receipt.Network = requirements.Network
		}
		w.logger.Warn("payment settlement failed", "tool", toolName, "error", err)
	}
	return receipt
}

// paymentRequiredResult renders a challenge as an error result, as
// structured content and as JSON text content for clients that read
// only one of the two.
func paymentRequiredResult(required x402.PaymentRequired) (*mcpsdk.CallToolResult, error) {
	data, err := json.Marshal(required)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment requirements: %w", err)
	}
	var structured map[string]interface{}
	if err := json.Unmarshal(data, &structured); err != nil {
		return nil, fmt.Errorf("failed to encode payment requirements: %w", err)
	}

	return &mcpsdk.CallToolResult{
		IsError:           true,
		StructuredContent: structured,
		Content:           []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, nil
}

// PaymentFromContext returns the verified payment payload the wrapper
// attached for the handler.
func PaymentFromContext(ctx context.Context) (*x402.PaymentPayload, bool) {
	payload, ok := ctx.Value(PaymentContextKey).(*x402.PaymentPayload)
	return payload, ok
}
