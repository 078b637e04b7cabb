package paymentidentifier

import (
	"net/http"
	"sync"
	"time"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// defaultRecordTTL bounds how long an identifier is remembered. It
// should cover the settlement confirmation window plus client retry
// backoff.
const defaultRecordTTL = 10 * time.Minute

// record tracks one observed payment identifier.
type record struct {
	fingerprint string
	firstSeen   time.Time
	settled     bool
}

// ServerExtension declares the payment-identifier extension on
// protected routes and replays access for retried payments.
//
// Registered on a resource service, it hooks into the request pipeline:
// a payload re-presenting a settled identifier with an identical
// fingerprint is granted access without a second verify or settle; the
// same identifier with a different fingerprint is rejected with 409
// Conflict. Handlers that want to flag replayed responses can consult
// Settled with the ID extracted from the request.
//
// State is in-process. Load-balanced deployments need sticky routing or
// a facilitator-side deduplication layer such as the idempotency
// extension.
type ServerExtension struct {
	required bool
	ttl      time.Duration

	mu      sync.Mutex
	records map[string]*record
}

var (
	_ x402.ResourceServiceExtension    = (*ServerExtension)(nil)
	_ x402.ProtectedRequestInterceptor = (*ServerExtension)(nil)
	_ x402.SettlementObserver          = (*ServerExtension)(nil)
)

// ServerOption configures a ServerExtension.
type ServerOption func(*ServerExtension)

// WithRequired makes the declaration demand an identifier from clients.
// Payloads without one are then rejected before verification.
func WithRequired(required bool) ServerOption {
	return func(e *ServerExtension) {
		e.required = required
	}
}

// WithRecordTTL bounds how long identifiers are remembered.
func WithRecordTTL(ttl time.Duration) ServerOption {
	return func(e *ServerExtension) {
		e.ttl = ttl
	}
}

// NewServerExtension creates the server side of the extension.
func NewServerExtension(opts ...ServerOption) *ServerExtension {
	extension := &ServerExtension{
		ttl:     defaultRecordTTL,
		records: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(extension)
	}
	return extension
}

// Key returns the extension identifier.
func (e *ServerExtension) Key() string {
	return ExtensionKey
}

// EnrichDeclaration normalizes the route's declaration for the 402
// body, folding in the extension's required setting. A route that
// already declares required keeps it.
func (e *ServerExtension) EnrichDeclaration(declaration interface{}, _ interface{}) interface{} {
	required := e.required
	if IsRequired(declaration) {
		required = true
	}
	return Declaration{Required: required}
}

// OnProtectedRequest checks the payload's identifier against the
// replay records before verification.
func (e *ServerExtension) OnProtectedRequest(pctx x402.ProtectedRequestContext) (*x402.ProtectedRequestResult, error) {
	if pctx.Payload == nil {
		return nil, nil
	}
	payload := *pctx.Payload

	id, err := ExtractID(payload, true)
	if err != nil {
		return &x402.ProtectedRequestResult{Abort: true, Reason: invalidIDMessage()}, nil
	}
	if id == "" {
		if e.required {
			return &x402.ProtectedRequestResult{Abort: true, Reason: "payment identifier required"}, nil
		}
		return nil, nil
	}

	fingerprint, err := PayloadFingerprint(payload)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.expireLocked()

	known, ok := e.records[id]
	if !ok {
		e.records[id] = &record{fingerprint: fingerprint, firstSeen: time.Now()}
		return nil, nil
	}
	if known.fingerprint != fingerprint {
		return &x402.ProtectedRequestResult{
			Abort:      true,
			Reason:     "payment identifier already used with a different payload",
			StatusCode: http.StatusConflict,
		}, nil
	}
	if known.settled {
		// Replay of a settled payment: serve without verifying or
		// settling again.
		return &x402.ProtectedRequestResult{GrantAccess: true}, nil
	}
	// Same payload, settlement still pending. Let the normal flow run;
	// facilitator-side deduplication covers the double settle.
	return nil, nil
}

// OnAfterSettle marks the payload's identifier as settled so later
// identical requests replay instead of paying again.
func (e *ServerExtension) OnAfterSettle(rctx x402.SettleResultContext) error {
	if !rctx.Result.Success {
		return nil
	}

	id, err := ExtractID(rctx.Payload, false)
	if err != nil || id == "" {
		return err
	}
	fingerprint, err := PayloadFingerprint(rctx.Payload)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	known, ok := e.records[id]
	if !ok {
		known = &record{fingerprint: fingerprint, firstSeen: time.Now()}
		e.records[id] = known
	}
	known.settled = true
	return nil
}

// Settled reports whether an identifier has a settled payment on
// record.
func (e *ServerExtension) Settled(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	known, ok := e.records[id]
	return ok && known.settled
}

// expireLocked drops records past their TTL. Must be called with the
// lock held.
func (e *ServerExtension) expireLocked() {
	cutoff := time.Now().Add(-e.ttl)
	for id, known := range e.records {
		if known.firstSeen.Before(cutoff) {
			delete(e.records, id)
		}
	}
}
