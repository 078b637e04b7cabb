package siwx

import (
	"sync"
	"time"

	x402 "github.com/x402-foundation/x402-go/v2"
)

const defaultSessionTTL = time.Hour

// Session describes an active sign-in.
type Session struct {
	Payer     string
	ExpiresAt time.Time
}

type session struct {
	payer     string
	expiresAt time.Time
}

// ServerExtension issues sessions for settled payments and honors their
// replay. Registered on a resource service it advertises session
// issuance in 402 declarations, grants protected requests carrying a
// live token, and records a session whenever a settlement succeeds.
//
// Sessions are held in process. A load-balanced deployment needs sticky
// routing for replays to land on the instance that issued the session.
type ServerExtension struct {
	ttl time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

var (
	_ x402.ResourceServiceExtension    = (*ServerExtension)(nil)
	_ x402.ProtectedRequestInterceptor = (*ServerExtension)(nil)
	_ x402.SettlementObserver          = (*ServerExtension)(nil)
)

// ServerOption configures the server extension.
type ServerOption func(*ServerExtension)

// WithSessionTTL sets how long an issued session stays valid.
func WithSessionTTL(ttl time.Duration) ServerOption {
	return func(e *ServerExtension) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// NewServerExtension builds the server-side session extension.
func NewServerExtension(opts ...ServerOption) *ServerExtension {
	e := &ServerExtension{
		ttl:      defaultSessionTTL,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *ServerExtension) Key() string {
	return ExtensionKey
}

// EnrichDeclaration replaces whatever the route declared with the
// canonical offer: sessions are available and last this long.
func (e *ServerExtension) EnrichDeclaration(_ interface{}, _ interface{}) interface{} {
	return Declaration{
		Info: &Info{SessionTTLSeconds: int(e.ttl / time.Second)},
	}
}

// OnProtectedRequest grants requests replaying a live session token.
// Requests without a token, and tokens that are unknown or expired,
// fall through to the normal payment flow.
func (e *ServerExtension) OnProtectedRequest(reqCtx x402.ProtectedRequestContext) (*x402.ProtectedRequestResult, error) {
	if reqCtx.Payload == nil {
		return nil, nil
	}
	token := TokenFromPayload(*reqCtx.Payload)
	if token == "" {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweepLocked(time.Now())

	if _, ok := e.sessions[token]; !ok {
		return nil, nil
	}
	return &x402.ProtectedRequestResult{GrantAccess: true}, nil
}

// OnAfterSettle opens a session for every successful settlement.
func (e *ServerExtension) OnAfterSettle(resultCtx x402.SettleResultContext) error {
	token := SessionToken(resultCtx.Result)
	if token == "" {
		return nil
	}

	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweepLocked(now)
	e.sessions[token] = &session{
		payer:     resultCtx.Result.Payer,
		expiresAt: now.Add(e.ttl),
	}
	return nil
}

// Session looks up an active session by token.
func (e *ServerExtension) Session(token string) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweepLocked(time.Now())

	s, ok := e.sessions[token]
	if !ok {
		return Session{}, false
	}
	return Session{Payer: s.payer, ExpiresAt: s.expiresAt}, true
}

func (e *ServerExtension) sweepLocked(now time.Time) {
	for token, s := range e.sessions {
		if s.expiresAt.Before(now) {
			delete(e.sessions, token)
		}
	}
}
