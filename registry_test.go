package x402

import "testing"

func TestSchemeRegistryExactBeatsWildcard(t *testing.T) {
	registry := NewSchemeRegistry[string]()
	registry.Register("exact", "eip155:*", "wildcard-handler")
	registry.Register("exact", "eip155:8453", "base-handler")

	handler, ok := registry.Lookup("exact", "eip155:8453")
	if !ok || handler != "base-handler" {
		t.Fatalf("Expected the exact registration to win, got %q, %v", handler, ok)
	}

	handler, ok = registry.Lookup("exact", "eip155:10")
	if !ok || handler != "wildcard-handler" {
		t.Fatalf("Expected the namespace wildcard for eip155:10, got %q, %v", handler, ok)
	}

	if _, ok := registry.Lookup("exact", "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"); ok {
		t.Fatal("Expected a miss for a foreign namespace")
	}
	if _, ok := registry.Lookup("permit", "eip155:8453"); ok {
		t.Fatal("Expected a miss for an unregistered scheme")
	}
}

func TestSchemeRegistryNormalizesAliases(t *testing.T) {
	registry := NewSchemeRegistry[string]()
	registry.Register("exact", "base-sepolia", "handler")

	if handler, ok := registry.Lookup("exact", "eip155:84532"); !ok || handler != "handler" {
		t.Fatalf("Expected the CAIP-2 lookup to hit the alias registration, got %q, %v", handler, ok)
	}
	if handler, ok := registry.Lookup("exact", "base-sepolia"); !ok || handler != "handler" {
		t.Fatalf("Expected the alias lookup to hit, got %q, %v", handler, ok)
	}
	if !registry.Contains("exact", "eip155:84532") {
		t.Fatal("Expected Contains to see the normalized key")
	}
}

func TestSchemeRegistryOverwrite(t *testing.T) {
	registry := NewSchemeRegistry[string]()
	registry.Register("exact", "eip155:8453", "first")
	registry.Register("exact", "eip155:8453", "second")

	if registry.Len() != 1 {
		t.Fatalf("Expected one entry after overwrite, got %d", registry.Len())
	}
	if handler, _ := registry.Lookup("exact", "eip155:8453"); handler != "second" {
		t.Fatalf("Expected the later registration to win, got %q", handler)
	}
}

func TestSchemeRegistryWildcardQueryFindsConcrete(t *testing.T) {
	registry := NewSchemeRegistry[string]()
	registry.Register("exact", "eip155:8453", "base-handler")

	if handler, ok := registry.Lookup("exact", "eip155:*"); !ok || handler != "base-handler" {
		t.Fatalf("Expected a wildcard query to reach the concrete registration, got %q, %v", handler, ok)
	}
	if registry.Contains("exact", "eip155:*") {
		t.Fatal("Contains must not pattern-match")
	}
}

func TestSchemeRegistryList(t *testing.T) {
	registry := NewSchemeRegistry[string]()
	registry.Register("exact", "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp", "svm")
	registry.Register("exact", "eip155:8453", "evm")
	registry.Register("deferred", "eip155:8453", "deferred-evm")

	keys := registry.List()
	if len(keys) != 3 {
		t.Fatalf("Expected 3 keys, got %d", len(keys))
	}
	want := []SchemeKey{
		{Scheme: "deferred", Network: "eip155:8453"},
		{Scheme: "exact", Network: "eip155:8453"},
		{Scheme: "exact", Network: "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"},
	}
	for i, key := range keys {
		if key != want[i] {
			t.Fatalf("List()[%d] = %v, want %v", i, key, want[i])
		}
	}
}
