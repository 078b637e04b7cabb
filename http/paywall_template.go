package http

import (
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// injectPaywallConfig renders a paywall template, substituting the
// challenge and display values. The full challenge rides along as
// escaped JSON in a data attribute so the page script can construct
// the payment without another round trip.
func injectPaywallConfig(template string, paymentRequired x402.PaymentRequired, config *PaywallConfig) string {
	requirementsJSON, err := json.Marshal(paymentRequired)
	if err != nil {
		requirementsJSON = []byte("{}")
	}

	appName := "Protected Resource"
	appLogo := ""
	sessionTokenEndpoint := ""
	cdpClientKey := ""
	currentURL := ""
	testnet := false
	if config != nil {
		if config.AppName != "" {
			appName = config.AppName
		}
		appLogo = config.AppLogo
		sessionTokenEndpoint = config.SessionTokenEndpoint
		cdpClientKey = config.CDPClientKey
		currentURL = config.CurrentURL
		testnet = config.Testnet
	}

	description := ""
	displayAmount := ""
	payTo := ""
	network := ""
	if len(paymentRequired.Accepts) > 0 {
		req := paymentRequired.Accepts[0]
		description = req.Description
		displayAmount = formatDisplayAmount(req.EffectiveAmount())
		payTo = req.PayTo
		network = string(req.Network)
	}

	replacer := strings.NewReplacer(
		"{{REQUIREMENTS}}", html.EscapeString(string(requirementsJSON)),
		"{{APP_NAME}}", html.EscapeString(appName),
		"{{APP_LOGO}}", html.EscapeString(appLogo),
		"{{SESSION_TOKEN_ENDPOINT}}", html.EscapeString(sessionTokenEndpoint),
		"{{CDP_CLIENT_KEY}}", html.EscapeString(cdpClientKey),
		"{{CURRENT_URL}}", html.EscapeString(currentURL),
		"{{TESTNET}}", strconv.FormatBool(testnet),
		"{{DESCRIPTION}}", html.EscapeString(description),
		"{{DISPLAY_AMOUNT}}", html.EscapeString(displayAmount),
		"{{PAY_TO}}", html.EscapeString(payTo),
		"{{NETWORK}}", html.EscapeString(network),
	)

	return replacer.Replace(template)
}

// formatDisplayAmount converts an atomic USDC amount to a dollar string.
// Non-numeric amounts are shown as-is.
func formatDisplayAmount(amount string) string {
	atomic, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return amount
	}
	return fmt.Sprintf("$%.2f", atomic/1e6)
}

const paywallShellTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Payment Required - {{APP_NAME}}</title>
  <style>
    body { font-family: -apple-system, system-ui, sans-serif; background: #f5f5f7; margin: 0; display: flex; align-items: center; justify-content: center; min-height: 100vh; }
    .paywall { background: #fff; border-radius: 12px; box-shadow: 0 4px 24px rgba(0,0,0,.08); max-width: 28rem; padding: 2rem; text-align: center; }
    .paywall img.logo { height: 48px; margin-bottom: 1rem; }
    .paywall h1 { font-size: 1.25rem; margin: 0 0 .5rem; }
    .paywall p.description { color: #555; margin: 0 0 1.5rem; }
    .paywall .amount { font-size: 2rem; font-weight: 600; margin-bottom: .25rem; }
    .paywall .network { color: #888; font-size: .8rem; margin-bottom: 1.5rem; }
    .paywall button { background: #0052ff; border: none; border-radius: 8px; color: #fff; cursor: pointer; font-size: 1rem; padding: .75rem 2rem; width: 100%; }
    .paywall button:disabled { background: #9db6f0; cursor: default; }
    .paywall .status { color: #888; font-size: .85rem; margin-top: 1rem; min-height: 1.2em; }
  </style>
</head>
<body>
  <div class="paywall"
       id="x402-paywall"
       data-requirements="{{REQUIREMENTS}}"
       data-session-token-endpoint="{{SESSION_TOKEN_ENDPOINT}}"
       data-cdp-client-key="{{CDP_CLIENT_KEY}}"
       data-current-url="{{CURRENT_URL}}"
       data-testnet="{{TESTNET}}">
    {{LOGO_BLOCK}}
    <h1>{{APP_NAME}}</h1>
    <p class="description">{{DESCRIPTION}}</p>
    <div class="amount">{{DISPLAY_AMOUNT}}</div>
    <div class="network">{{NETWORK_LABEL}}</div>
    <button id="x402-pay">{{BUTTON_LABEL}}</button>
    <div class="status" id="x402-status"></div>
  </div>
  <script>
    (function () {
      var root = document.getElementById('x402-paywall');
      var status = document.getElementById('x402-status');
      var button = document.getElementById('x402-pay');
      var challenge = JSON.parse(root.dataset.requirements);
      button.addEventListener('click', function () {
        button.disabled = true;
        status.textContent = 'Waiting for wallet...';
        if (window.x402 && typeof window.x402.pay === 'function') {
          window.x402.pay(challenge).then(function (header) {
            status.textContent = 'Payment signed, retrying...';
            return fetch(root.dataset.currentUrl || window.location.href, {
              headers: { 'X-PAYMENT': header }
            });
          }).then(function (resp) {
            if (resp.ok) { window.location.reload(); return; }
            status.textContent = 'Payment rejected (' + resp.status + ')';
            button.disabled = false;
          }).catch(function (err) {
            status.textContent = err && err.message ? err.message : 'Payment failed';
            button.disabled = false;
          });
        } else {
          status.textContent = '{{NO_WALLET_MESSAGE}}';
          button.disabled = false;
        }
      });
    })();
  </script>
</body>
</html>`

var evmPaywallTemplate = buildPaywallTemplate(
	"Pay with wallet",
	"Network: {{NETWORK}}",
	"No EVM wallet detected. Install a browser wallet that supports x402 payments.",
)

var svmPaywallTemplate = buildPaywallTemplate(
	"Pay with Solana wallet",
	"Network: {{NETWORK}}",
	"No Solana wallet detected. Install a browser wallet that supports x402 payments.",
)

func buildPaywallTemplate(buttonLabel, networkLabel, noWalletMessage string) string {
	replacer := strings.NewReplacer(
		"{{BUTTON_LABEL}}", buttonLabel,
		"{{NETWORK_LABEL}}", networkLabel,
		"{{NO_WALLET_MESSAGE}}", noWalletMessage,
		"{{LOGO_BLOCK}}", `<img class="logo" src="{{APP_LOGO}}" alt="" onerror="this.style.display='none'">`,
	)
	return replacer.Replace(paywallShellTemplate)
}
