package bazaar

import (
	x402 "github.com/x402-foundation/x402-go/v2"
)

// TransportContext abstracts the transport layer so bazaar does not
// depend on any concrete HTTP package. Any type exposing a
// TransportMethod() string, such as the HTTP adapter's request context,
// satisfies it structurally.
type TransportContext interface {
	TransportMethod() string
}

// ServerExtension completes route-declared discovery info before it is
// served in a 402 response: the route's transport method is stamped
// into the declaration and the schema is tightened to demand one.
type ServerExtension struct{}

var _ x402.ResourceServiceExtension = (*ServerExtension)(nil)

// NewServerExtension returns the discovery enrichment extension.
func NewServerExtension() *ServerExtension {
	return &ServerExtension{}
}

func (e *ServerExtension) Key() string {
	return ExtensionKey
}

// EnrichDeclaration runs on every protected request. Declarations that
// do not decode, and transports that cannot report a method, pass
// through untouched. The declaration is never mutated in place; routes
// share their declared value across concurrent requests.
func (e *ServerExtension) EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{} {
	tc, ok := transportContext.(TransportContext)
	if !ok {
		return declaration
	}
	decl, err := decodeDeclaration(declaration)
	if err != nil {
		return declaration
	}

	if decl.Info.Input != nil {
		input := *decl.Info.Input
		input.Method = tc.TransportMethod()
		decl.Info.Input = &input
	}
	decl.Schema = schemaRequiringMethod(decl.Schema)
	return decl
}

// schemaRequiringMethod returns the schema with "method" added to the
// input's required list. The input schema maps are copied rather than
// edited so a route's declared schema stays pristine.
func schemaRequiringMethod(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		schema = DefaultSchema()
	}

	properties, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return schema
	}
	input, ok := properties["input"].(map[string]interface{})
	if !ok {
		return schema
	}

	names := requiredNames(input["required"])
	for _, name := range names {
		if name == "method" {
			return schema
		}
	}

	required := make([]interface{}, 0, len(names)+1)
	for _, name := range names {
		required = append(required, name)
	}
	required = append(required, "method")

	newInput := copyMap(input)
	newInput["required"] = required
	newProperties := copyMap(properties)
	newProperties["input"] = newInput
	newSchema := copyMap(schema)
	newSchema["properties"] = newProperties
	return newSchema
}

// requiredNames reads a schema's required list whether it is a typed
// string slice or a decoded JSON array.
func requiredNames(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		names := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
		return names
	}
	return nil
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
