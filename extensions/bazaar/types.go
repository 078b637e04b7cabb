// Package bazaar implements the discovery protocol extension: resource
// servers attach machine-readable call descriptions to their payment
// requirements, and facilitators catalog the resources they see payments
// for. The extension is informational; payments verify and settle the
// same with or without it.
package bazaar

import (
	"net/http"
)

// ExtensionKey is the identifier under which discovery declarations
// travel in extensions maps.
const ExtensionKey = "bazaar"

// TransportHTTP is the input type for resources invoked over HTTP.
const TransportHTTP = "http"

// Methods that carry their input in the query string, and those that
// carry it in the request body.
var (
	QueryMethods = []string{http.MethodGet, http.MethodDelete}
	BodyMethods  = []string{http.MethodPost, http.MethodPut, http.MethodPatch}
)

// ValidMethod reports whether a method is one discovery declarations
// may carry.
func ValidMethod(method string) bool {
	for _, m := range QueryMethods {
		if m == method {
			return true
		}
	}
	for _, m := range BodyMethods {
		if m == method {
			return true
		}
	}
	return false
}

// RequestSpec documents how to invoke a resource. Query-style methods
// describe their parameters in QueryParams; body-style methods describe
// the body shape in BodyType and Body. The server extension stamps
// Method from the route's transport, so declarations may leave it empty.
type RequestSpec struct {
	Type        string                 `json:"type"`
	Method      string                 `json:"method,omitempty"`
	QueryParams map[string]interface{} `json:"queryParams,omitempty"`
	BodyType    string                 `json:"bodyType,omitempty"`
	Body        map[string]interface{} `json:"body,omitempty"`
}

// ResponseSpec documents what a resource returns.
type ResponseSpec struct {
	Example interface{}            `json:"example,omitempty"`
	Schema  map[string]interface{} `json:"schema,omitempty"`
}

// ResourceMetadata carries human-oriented catalog fields.
type ResourceMetadata struct {
	Name          string   `json:"name,omitempty"`
	Description   string   `json:"description,omitempty"`
	Category      string   `json:"category,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Documentation string   `json:"documentation,omitempty"`
	Logo          string   `json:"logo,omitempty"`
	Provider      string   `json:"provider,omitempty"`
}

// DiscoveryInfo is the discoverable description of a resource.
type DiscoveryInfo struct {
	Input    *RequestSpec      `json:"input,omitempty"`
	Output   *ResponseSpec     `json:"output,omitempty"`
	Metadata *ResourceMetadata `json:"metadata,omitempty"`
}

// Declaration is the bazaar entry in an extensions map: the discovery
// info plus the JSON schema that info must satisfy.
type Declaration struct {
	Info   DiscoveryInfo          `json:"info"`
	Schema map[string]interface{} `json:"schema,omitempty"`
}

// DeclareResource builds a declaration for a route. The info is paired
// with the default schema; the server extension fills in the transport
// method when the route is served.
func DeclareResource(info DiscoveryInfo) Declaration {
	return Declaration{
		Info:   info,
		Schema: DefaultSchema(),
	}
}

// DefaultSchema returns the JSON schema discovery info is validated
// against when a declaration does not carry its own.
func DefaultSchema() map[string]interface{} {
	return map[string]interface{}{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]interface{}{
			"input": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"type":   map[string]interface{}{"type": "string"},
					"method": map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"type"},
			},
			"output": map[string]interface{}{
				"type": "object",
			},
			"metadata": map[string]interface{}{
				"type": "object",
			},
		},
		"required": []interface{}{"input"},
	}
}
