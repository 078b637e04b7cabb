package bazaar

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// ValidationResult reports whether discovery info satisfied its schema.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ValidateDeclaration checks a declaration's info against its schema.
// Declarations without a schema are checked against DefaultSchema.
func ValidateDeclaration(declaration Declaration) ValidationResult {
	schema := declaration.Schema
	if schema == nil {
		schema = DefaultSchema()
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return ValidationResult{Errors: []string{fmt.Sprintf("marshal schema: %v", err)}}
	}
	infoJSON, err := json.Marshal(declaration.Info)
	if err != nil {
		return ValidationResult{Errors: []string{fmt.Sprintf("marshal info: %v", err)}}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(infoJSON),
	)
	if err != nil {
		return ValidationResult{Errors: []string{fmt.Sprintf("schema validation: %v", err)}}
	}
	if result.Valid() {
		return ValidationResult{Valid: true}
	}

	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return ValidationResult{Errors: errs}
}

// DiscoveredResource is one resource observed by a facilitator: the
// resource URL from the payment requirements plus the declaration's
// discovery info.
type DiscoveredResource struct {
	Resource    string
	Method      string
	X402Version int
	Info        *DiscoveryInfo
}

// ExtractDiscoveryInfo pulls discovery info out of a payment exchange.
// Version 2 payloads carry the declaration in their extensions map,
// copied there by the client from the 402 response. Version 1 exchanges
// carry it in the requirements' outputSchema and only when the input is
// flagged discoverable.
//
// A nil resource with nil error means the exchange is not discoverable,
// which is the common case and not a fault.
func ExtractDiscoveryInfo(
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
	validate bool,
) (*DiscoveredResource, error) {
	var info *DiscoveryInfo

	switch payload.X402Version {
	case 2:
		raw, ok := x402.PayloadExtension(payload, ExtensionKey)
		if !ok {
			return nil, nil
		}
		declaration, err := decodeDeclaration(raw)
		if err != nil {
			return nil, fmt.Errorf("malformed discovery declaration: %w", err)
		}
		if validate {
			if result := ValidateDeclaration(declaration); !result.Valid {
				return nil, fmt.Errorf("discovery declaration rejected: %s", strings.Join(result.Errors, "; "))
			}
		}
		info = &declaration.Info
	case 1:
		v1Info, err := extractV1(requirements)
		if err != nil {
			return nil, err
		}
		info = v1Info
	default:
		return nil, fmt.Errorf("unsupported x402 version %d", payload.X402Version)
	}

	if info == nil {
		return nil, nil
	}

	method := ""
	if info.Input != nil {
		method = info.Input.Method
	}
	if method == "" {
		return nil, errors.New("discovery info carries no method")
	}

	return &DiscoveredResource{
		Resource:    requirements.Resource,
		Method:      method,
		X402Version: payload.X402Version,
		Info:        info,
	}, nil
}

// ExtractFromDeclaration returns the discovery info of a declaration,
// validating it first unless told otherwise.
func ExtractFromDeclaration(declaration Declaration, validate bool) (*DiscoveryInfo, error) {
	if validate {
		if result := ValidateDeclaration(declaration); !result.Valid {
			return nil, fmt.Errorf("invalid discovery declaration: %s", strings.Join(result.Errors, "; "))
		}
	}
	info := declaration.Info
	return &info, nil
}

func decodeDeclaration(raw interface{}) (Declaration, error) {
	switch v := raw.(type) {
	case Declaration:
		return v, nil
	case *Declaration:
		return *v, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return Declaration{}, err
	}
	var declaration Declaration
	if err := json.Unmarshal(data, &declaration); err != nil {
		return Declaration{}, err
	}
	return declaration, nil
}

// Version 1 wire shapes. Discovery fields ride inside the requirements'
// outputSchema rather than an extensions map.
type outputSchemaV1 struct {
	Input           *outputSchemaInputV1 `json:"input,omitempty"`
	DiscoveryOutput *schemaDefinitionV1  `json:"discoveryOutput,omitempty"`
	Metadata        *ResourceMetadata    `json:"metadata,omitempty"`
}

type outputSchemaInputV1 struct {
	Type           string              `json:"type,omitempty"`
	Method         string              `json:"method,omitempty"`
	Discoverable   bool                `json:"discoverable,omitempty"`
	DiscoveryInput *schemaDefinitionV1 `json:"discoveryInput,omitempty"`
}

type schemaDefinitionV1 struct {
	Example interface{}            `json:"example,omitempty"`
	Schema  map[string]interface{} `json:"schema,omitempty"`
}

func extractV1(requirements x402.PaymentRequirements) (*DiscoveryInfo, error) {
	if len(requirements.OutputSchema) == 0 {
		return nil, nil
	}
	var schema outputSchemaV1
	if err := json.Unmarshal(requirements.OutputSchema, &schema); err != nil {
		return nil, fmt.Errorf("malformed v1 outputSchema: %w", err)
	}
	if schema.Input == nil || !schema.Input.Discoverable {
		return nil, nil
	}

	input := &RequestSpec{
		Type:   schema.Input.Type,
		Method: schema.Input.Method,
	}
	if input.Type == "" {
		input.Type = TransportHTTP
	}
	if def := schema.Input.DiscoveryInput; def != nil {
		if isBodyMethod(input.Method) {
			input.BodyType = "json"
			input.Body = def.Schema
		} else {
			input.QueryParams = def.Schema
		}
	}

	info := &DiscoveryInfo{Input: input, Metadata: schema.Metadata}
	if schema.DiscoveryOutput != nil {
		info.Output = &ResponseSpec{
			Example: schema.DiscoveryOutput.Example,
			Schema:  schema.DiscoveryOutput.Schema,
		}
	}
	return info, nil
}

func isBodyMethod(method string) bool {
	for _, m := range BodyMethods {
		if m == method {
			return true
		}
	}
	return false
}
