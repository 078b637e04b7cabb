package siwx

import (
	"net/url"
	"sync"
	"time"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// tokenExpiryMargin keeps the client from replaying a token so close to
// its expiry that the server rejects it mid-flight.
const tokenExpiryMargin = 30 * time.Second

type cachedSession struct {
	token     string
	expiresAt time.Time
	declared  time.Duration
}

// ClientExtension caches session tokens per service origin and replays
// them on 402 challenges, so one settled payment covers a whole session
// of requests.
//
// Wire it through Options:
//
//	sessions := siwx.NewClientExtension()
//	client := x402.NewX402Client(sessions.Options()...)
type ClientExtension struct {
	mu       sync.Mutex
	sessions map[string]*cachedSession
}

// NewClientExtension builds the client-side session extension.
func NewClientExtension() *ClientExtension {
	return &ClientExtension{sessions: make(map[string]*cachedSession)}
}

// Options returns the client options that wire the extension's hooks.
func (e *ClientExtension) Options() []x402.ClientOption {
	return []x402.ClientOption{
		x402.WithOnPaymentRequiredHook(e.OnPaymentRequired),
		x402.WithOnAfterPaymentHook(e.OnAfterPayment),
	}
}

// OnPaymentRequired substitutes a cached token for services that offer
// sessions. Without a live token it records the declared session TTL
// for later and lets the payment proceed.
func (e *ClientExtension) OnPaymentRequired(hookCtx x402.PaymentRequiredContext) (*x402.PaymentRequiredResult, error) {
	declared, ttlSeconds := DeclaredIn(hookCtx.Required)
	if !declared || len(hookCtx.Required.Accepts) == 0 {
		return nil, nil
	}
	selected := hookCtx.Required.Accepts[0]
	origin := originOf(selected.Resource)
	if origin == "" {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entry := e.sessions[origin]
	if entry == nil {
		entry = &cachedSession{}
		e.sessions[origin] = entry
	}
	if ttlSeconds > 0 {
		entry.declared = time.Duration(ttlSeconds) * time.Second
	}

	if entry.token == "" || time.Now().After(entry.expiresAt) {
		entry.token = ""
		return nil, nil
	}

	payload := x402.PaymentPayload{
		X402Version: hookCtx.Required.X402Version,
		Scheme:      selected.Scheme,
		Network:     selected.Network,
		Payload:     map[string]interface{}{},
	}
	payload = x402.SetPayloadExtension(payload, ExtensionKey, Declaration{Info: &Info{Token: entry.token}})
	return &x402.PaymentRequiredResult{Payment: &payload}, nil
}

// OnAfterPayment caches the session token derived from a successful
// settlement, and drops the cached token after a failed attempt so a
// stale session is not replayed twice.
func (e *ClientExtension) OnAfterPayment(hookCtx x402.AfterPaymentContext) error {
	origin := originOf(hookCtx.Selected.Resource)
	if origin == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entry := e.sessions[origin]
	if !hookCtx.Success {
		if entry != nil {
			entry.token = ""
		}
		return nil
	}
	if hookCtx.Settlement == nil {
		return nil
	}
	token := SessionToken(*hookCtx.Settlement)
	if token == "" {
		return nil
	}

	if entry == nil {
		entry = &cachedSession{}
		e.sessions[origin] = entry
	}
	ttl := entry.declared
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	lifetime := ttl - tokenExpiryMargin
	if lifetime <= 0 {
		lifetime = ttl
	}
	entry.token = token
	entry.expiresAt = time.Now().Add(lifetime)
	return nil
}

// Token reports the live cached token for a resource's service, if any.
func (e *ClientExtension) Token(resource string) (string, bool) {
	origin := originOf(resource)

	e.mu.Lock()
	defer e.mu.Unlock()

	entry := e.sessions[origin]
	if entry == nil || entry.token == "" || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.token, true
}

// originOf reduces a resource URL to its scheme and host so one session
// covers every route of a service. Unparseable resources key as-is.
func originOf(resource string) string {
	u, err := url.Parse(resource)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return resource
	}
	return u.Scheme + "://" + u.Host
}
