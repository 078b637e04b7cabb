package mcp

import (
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// Request and result _meta keys for payment data, plus the JSON-RPC
// error code mirrored by payment-required results.
const (
	MetaKeyPayment         = "x402/payment"
	MetaKeyPaymentResponse = "x402/payment-response"

	PaymentRequiredCode = 402
)

// ToolResourceURL names a tool as an x402 resource.
func ToolResourceURL(toolName string) string {
	return "mcp://tool/" + toolName
}

// PaymentFromMeta reads a payment payload from a request's _meta map.
// An absent payment returns nil without error so callers can issue the
// challenge; a present but undecodable one is an error.
func PaymentFromMeta(meta map[string]interface{}) (*x402.PaymentPayload, error) {
	if meta == nil {
		return nil, nil
	}
	value, ok := meta[MetaKeyPayment]
	if !ok || value == nil {
		return nil, nil
	}

	if payload, ok := value.(x402.PaymentPayload); ok {
		return validatePayload(payload)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("unmarshalable payment in _meta: %w", err)
	}
	var payload x402.PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid payment in _meta: %w", err)
	}
	return validatePayload(payload)
}

func validatePayload(payload x402.PaymentPayload) (*x402.PaymentPayload, error) {
	if payload.X402Version == 0 || payload.Payload == nil {
		return nil, fmt.Errorf("payment in _meta missing x402Version or payload")
	}
	payload.Network = x402.NormalizeNetwork(payload.Network)
	return &payload, nil
}

// paymentMeta builds the request _meta carrying a payment payload.
func paymentMeta(payload x402.PaymentPayload) mcpsdk.Meta {
	return mcpsdk.Meta{MetaKeyPayment: payload}
}

// ReceiptFromMeta reads the settlement receipt a server attached to a
// result's _meta. In-process servers attach the struct itself; over
// the wire it arrives as a JSON object. Both forms decode.
func ReceiptFromMeta(meta map[string]interface{}) (*x402.SettleResponse, bool) {
	if meta == nil {
		return nil, false
	}
	value, ok := meta[MetaKeyPaymentResponse]
	if !ok || value == nil {
		return nil, false
	}

	if receipt, ok := value.(x402.SettleResponse); ok {
		return &receipt, true
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	var receipt x402.SettleResponse
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, false
	}
	return &receipt, true
}

// PaymentRequiredFromResult decodes the payment challenge carried by
// an error result. Servers publish the challenge twice, as structured
// content and as JSON text content; either form decodes.
func PaymentRequiredFromResult(result *mcpsdk.CallToolResult) (*x402.PaymentRequired, bool) {
	if result == nil || !result.IsError {
		return nil, false
	}

	if obj, ok := result.StructuredContent.(map[string]interface{}); ok {
		if required, ok := paymentRequiredFromObject(obj); ok {
			return required, true
		}
	}

	for _, item := range result.Content {
		text, ok := item.(*mcpsdk.TextContent)
		if !ok || text.Text == "" {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(text.Text), &obj); err != nil {
			continue
		}
		if required, ok := paymentRequiredFromObject(obj); ok {
			return required, true
		}
	}

	return nil, false
}

// paymentRequiredFromObject decodes a challenge from its JSON object
// form. Error results that are not challenges leave both fields unset
// and fall through.
func paymentRequiredFromObject(obj map[string]interface{}) (*x402.PaymentRequired, bool) {
	if _, ok := obj["x402Version"]; !ok {
		return nil, false
	}
	accepts, ok := obj["accepts"].([]interface{})
	if !ok || len(accepts) == 0 {
		return nil, false
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return nil, false
	}
	var required x402.PaymentRequired
	if err := json.Unmarshal(data, &required); err != nil {
		return nil, false
	}
	return &required, true
}
