package x402

import (
	"sort"
	"sync"
)

// SchemeKey identifies one registry entry: a scheme name plus a network
// or network pattern ("eip155:*").
type SchemeKey struct {
	Scheme  string
	Network Network
}

func (k SchemeKey) String() string {
	return k.Scheme + "/" + string(k.Network)
}

// SchemeRegistry maps (scheme, network-pattern) keys to handlers. One
// registry instance backs each role: clients hold SchemeNetworkClient
// handlers, resource servers SchemeNetworkServer, facilitators
// SchemeNetworkFacilitator. Writes happen during startup; reads dominate
// afterwards.
type SchemeRegistry[H any] struct {
	mu      sync.RWMutex
	entries map[SchemeKey]H
}

func NewSchemeRegistry[H any]() *SchemeRegistry[H] {
	return &SchemeRegistry[H]{entries: make(map[SchemeKey]H)}
}

// Register binds a handler to (scheme, network). The network may be a
// wildcard pattern and v1 aliases are normalized to CAIP-2 form.
// Registering the same key again overwrites the previous handler.
func (r *SchemeRegistry[H]) Register(scheme string, network Network, handler H) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[SchemeKey{Scheme: scheme, Network: NormalizeNetwork(network)}] = handler
}

// Lookup resolves a handler for (scheme, network). The exact network is
// tried first, then the namespace wildcard ("eip155:*"), then any
// registered pattern the network matches.
func (r *SchemeRegistry[H]) Lookup(scheme string, network Network) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	network = NormalizeNetwork(network)
	if h, ok := r.entries[SchemeKey{Scheme: scheme, Network: network}]; ok {
		return h, true
	}
	if wildcard := network.Wildcard(); wildcard != "" {
		if h, ok := r.entries[SchemeKey{Scheme: scheme, Network: wildcard}]; ok {
			return h, true
		}
	}

	// A wildcard query must also reach handlers registered on concrete
	// networks, so finish with a bidirectional scan.
	for key, h := range r.entries {
		if key.Scheme == scheme && network.Match(key.Network) {
			return h, true
		}
	}

	var zero H
	return zero, false
}

// Contains reports whether the exact (scheme, network) key is registered,
// without pattern matching.
func (r *SchemeRegistry[H]) Contains(scheme string, network Network) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[SchemeKey{Scheme: scheme, Network: NormalizeNetwork(network)}]
	return ok
}

// List returns the registered keys sorted by scheme, then network.
func (r *SchemeRegistry[H]) List() []SchemeKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]SchemeKey, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Scheme != keys[j].Scheme {
			return keys[i].Scheme < keys[j].Scheme
		}
		return keys[i].Network < keys[j].Network
	})
	return keys
}

// Len returns the number of registered entries.
func (r *SchemeRegistry[H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
