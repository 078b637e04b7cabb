package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// ToolCaller is the slice of an MCP session the payment client needs.
// *mcpsdk.ClientSession satisfies it directly.
type ToolCaller interface {
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
}

// ApprovalFunc gates automatic payment. Returning false declines the
// payment and surfaces the challenge as a PaymentRequiredError.
type ApprovalFunc func(ctx context.Context, toolName string, required x402.PaymentRequired) (bool, error)

// PaymentRequiredError reports a tool call that came back as a payment
// challenge and was not paid, because automatic payment is disabled or
// the approval callback declined.
type PaymentRequiredError struct {
	Code     int
	Message  string
	Required *x402.PaymentRequired
}

func (e *PaymentRequiredError) Error() string {
	return fmt.Sprintf("payment required (%d): %s", e.Code, e.Message)
}

func newPaymentRequiredError(message string, required *x402.PaymentRequired) *PaymentRequiredError {
	return &PaymentRequiredError{
		Code:     PaymentRequiredCode,
		Message:  message,
		Required: required,
	}
}

// ToolCallResult is a tool call outcome with its payment trail.
type ToolCallResult struct {
	// Result is the SDK result of the final (paid or free) call.
	Result *mcpsdk.CallToolResult

	// Receipt is the settlement receipt from the result _meta, when the
	// server attached one.
	Receipt *x402.SettleResponse

	// PaymentMade reports whether a payment payload was sent.
	PaymentMade bool
}

// ============================================================================
// Client
// ============================================================================

// X402MCPClient calls MCP tools and pays for them. A call that comes
// back as a payment challenge is paid through the underlying payment
// client and retried once with the signed payload in the request _meta.
//
// Payment selection, spend policies, and payment hooks are configured
// on the wrapped x402.X402Client.
type X402MCPClient struct {
	session ToolCaller
	client  *x402.X402Client

	autoPayment bool
	approve     ApprovalFunc
}

// ClientOption configures an X402MCPClient.
type ClientOption func(*X402MCPClient)

// WithAutoPayment toggles automatic payment on challenges. Enabled by
// default; when disabled, challenges surface as PaymentRequiredError
// and the caller pays explicitly via CallToolWithPayment.
func WithAutoPayment(enabled bool) ClientOption {
	return func(c *X402MCPClient) {
		c.autoPayment = enabled
	}
}

// WithPaymentApproval installs an approval callback consulted before
// every automatic payment.
func WithPaymentApproval(approve ApprovalFunc) ClientOption {
	return func(c *X402MCPClient) {
		c.approve = approve
	}
}

// NewX402MCPClient wraps a connected MCP session with payment handling.
func NewX402MCPClient(session ToolCaller, client *x402.X402Client, opts ...ClientOption) *X402MCPClient {
	c := &X402MCPClient{
		session:     session,
		client:      client,
		autoPayment: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SchemeRegistration pairs a network with its payment scheme client.
type SchemeRegistration struct {
	Network x402.Network
	Client  x402.SchemeNetworkClient

	// Version pins the registration to one protocol version. Zero
	// registers for the newest.
	Version int
}

// NewX402MCPClientFromConfig builds the payment client from scheme
// registrations and wraps the session in one step.
func NewX402MCPClientFromConfig(session ToolCaller, schemes []SchemeRegistration, opts ...ClientOption) *X402MCPClient {
	client := x402.NewX402Client()
	for _, registration := range schemes {
		if registration.Version != 0 {
			client.RegisterSchemeForVersion(registration.Version, registration.Network, registration.Client)
		} else {
			client.RegisterScheme(registration.Network, registration.Client)
		}
	}
	return NewX402MCPClient(session, client, opts...)
}

// Client returns the underlying payment client for scheme, policy, and
// hook registration.
func (c *X402MCPClient) Client() *x402.X402Client {
	return c.client
}

// Session returns the wrapped MCP session.
func (c *X402MCPClient) Session() ToolCaller {
	return c.session
}

// ============================================================================
// Tool Calls
// ============================================================================

// CallTool calls a tool, paying for it when the server demands payment.
// Free tools pass through with a single round trip.
func (c *X402MCPClient) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*ToolCallResult, error) {
	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("tool call failed: %w", err)
	}

	required, ok := PaymentRequiredFromResult(result)
	if !ok {
		receipt, _ := ReceiptFromMeta(map[string]interface{}(result.Meta))
		return &ToolCallResult{Result: result, Receipt: receipt}, nil
	}

	if !c.autoPayment {
		return nil, newPaymentRequiredError("automatic payment disabled", required)
	}
	if c.approve != nil {
		approved, err := c.approve(ctx, name, *required)
		if err != nil {
			return nil, fmt.Errorf("payment approval failed: %w", err)
		}
		if !approved {
			return nil, newPaymentRequiredError("payment declined", required)
		}
	}

	payload, err := c.client.CreatePaymentForRequired(ctx, *required)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment for %s: %w", name, err)
	}

	return c.callWithPayment(ctx, name, arguments, payload, required)
}

// CallToolWithPayment calls a tool with an already-signed payment
// payload, skipping the challenge round trip.
func (c *X402MCPClient) CallToolWithPayment(ctx context.Context, name string, arguments map[string]interface{}, payload x402.PaymentPayload) (*ToolCallResult, error) {
	return c.callWithPayment(ctx, name, arguments, payload, nil)
}

func (c *X402MCPClient) callWithPayment(ctx context.Context, name string, arguments map[string]interface{}, payload x402.PaymentPayload, required *x402.PaymentRequired) (*ToolCallResult, error) {
	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: arguments,
		Meta:      paymentMeta(payload),
	})
	if err != nil {
		return nil, fmt.Errorf("paid tool call failed: %w", err)
	}

	receipt, _ := ReceiptFromMeta(map[string]interface{}(result.Meta))
	c.runAfterPaymentHooks(ctx, payload, required, result, receipt)

	return &ToolCallResult{Result: result, Receipt: receipt, PaymentMade: true}, nil
}

// runAfterPaymentHooks surfaces the settlement outcome to registered
// onAfterPayment hooks once the paid call completes.
func (c *X402MCPClient) runAfterPaymentHooks(ctx context.Context, payload x402.PaymentPayload, required *x402.PaymentRequired, result *mcpsdk.CallToolResult, receipt *x402.SettleResponse) {
	actx := x402.AfterPaymentContext{
		Ctx:        ctx,
		Payload:    payload,
		Settlement: receipt,
		Success:    !result.IsError && (receipt == nil || receipt.Success),
	}
	if required != nil {
		if selected := matchRequirement(required.Accepts, payload); selected != nil {
			actx.Selected = *selected
		}
	}
	c.client.RunAfterPaymentHooks(actx)
}

func matchRequirement(accepts []x402.PaymentRequirements, payload x402.PaymentPayload) *x402.PaymentRequirements {
	for i := range accepts {
		if accepts[i].Scheme == payload.Scheme && x402.NormalizeNetwork(accepts[i].Network) == x402.NormalizeNetwork(payload.Network) {
			return &accepts[i]
		}
	}
	return nil
}

// GetToolPaymentRequirements probes a tool's payment requirements by
// calling it unpaid and decoding the challenge. Nil means the tool is
// free. The probe is a real call, so free tools do execute.
func (c *X402MCPClient) GetToolPaymentRequirements(ctx context.Context, name string, arguments map[string]interface{}) (*x402.PaymentRequired, error) {
	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("tool call failed: %w", err)
	}

	required, _ := PaymentRequiredFromResult(result)
	return required, nil
}
