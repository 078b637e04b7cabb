package http

import "context"

// StaticAuthProvider sends a fixed bearer token to every facilitator
// endpoint.
type StaticAuthProvider struct {
	token string
}

// NewStaticAuthProvider creates an AuthProvider that authenticates with
// "Authorization: Bearer <token>".
func NewStaticAuthProvider(token string) *StaticAuthProvider {
	return &StaticAuthProvider{token: token}
}

// GetAuthHeaders returns the bearer token headers for all endpoints.
func (p *StaticAuthProvider) GetAuthHeaders(ctx context.Context) (AuthHeaders, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + p.token,
	}
	return AuthHeaders{
		Verify:    headers,
		Settle:    headers,
		Supported: headers,
	}, nil
}

// FuncAuthProvider adapts a function into an AuthProvider. Useful for
// short-lived credentials that must be minted per request.
type FuncAuthProvider struct {
	fn func(ctx context.Context) (AuthHeaders, error)
}

// NewFuncAuthProvider creates an AuthProvider from a function.
func NewFuncAuthProvider(fn func(ctx context.Context) (AuthHeaders, error)) *FuncAuthProvider {
	return &FuncAuthProvider{fn: fn}
}

// GetAuthHeaders invokes the wrapped function.
func (p *FuncAuthProvider) GetAuthHeaders(ctx context.Context) (AuthHeaders, error) {
	return p.fn(ctx)
}
