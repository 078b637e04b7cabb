// Package mcp gates Model Context Protocol tool calls behind x402
// payments, on top of the official MCP Go SDK.
//
// Tool call requests carry the payment payload in _meta under
// "x402/payment"; results carry the settlement receipt under
// "x402/payment-response". A priced tool answers an unpaid call with an
// error result whose structured content is the payment challenge.
//
// # Server
//
// Price a tool by wrapping its handler. Wrappers on the same server
// share one resource service, which holds the facilitator client and
// scheme servers:
//
//	service := x402.NewX402ResourceService(
//	    x402.WithFacilitatorClient(facilitator),
//	    x402.WithSchemeServer("eip155:84532", evm.NewExactEvmService()),
//	)
//
//	wrapper := mcp.NewPaymentWrapper(service, mcp.ToolConfig{
//	    Scheme:  "exact",
//	    PayTo:   "0xYourAddress",
//	    Price:   "$0.001",
//	    Network: "eip155:84532",
//	})
//
//	server.AddTool(
//	    &mcpsdk.Tool{Name: "get_weather", Description: "Paid weather lookup"},
//	    wrapper.Wrap(getWeatherHandler),
//	)
//
// Handlers read the verified payment through PaymentFromContext.
//
// # Client
//
// Wrap a connected session. Challenges are paid automatically and the
// call retried once:
//
//	client := x402.NewX402Client()
//	client.RegisterScheme("eip155:84532", evm.NewExactEvmClient(signer))
//
//	session, _ := mcpClient.Connect(ctx, transport, nil)
//	paid := mcp.NewX402MCPClient(session, client)
//
//	result, err := paid.CallTool(ctx, "get_weather", map[string]interface{}{"city": "NYC"})
//
// Disable automatic payment with WithAutoPayment(false) to surface
// challenges as PaymentRequiredError, or install WithPaymentApproval to
// confirm each payment. Spend policies and payment hooks are configured
// on the underlying x402.X402Client.
package mcp
