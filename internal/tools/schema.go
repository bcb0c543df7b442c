package tools

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// paramSchema validates invocation parameters against a tool's declared
// JSON Schema. Validation is advisory: the registry logs violations and
// invokes the tool anyway.
type paramSchema struct {
	schema *jsonschema.Schema
}

func compileParamSchema(name string, schemaJSON []byte) (*paramSchema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	resource := fmt.Sprintf("tool://%s/params.json", name)
	if err := compiler.AddResource(resource, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &paramSchema{schema: schema}, nil
}

func (s *paramSchema) check(params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}
	// The validator walks plain Go values, so the raw parameter map is
	// usable directly.
	return s.schema.Validate(normalizeForSchema(params))
}

// normalizeForSchema converts values to the shapes the validator expects:
// map[string]any and []any containers, json-compatible scalars elsewhere.
func normalizeForSchema(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeForSchema(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeForSchema(item)
		}
		return out
	case int:
		return int64(val)
	default:
		return val
	}
}
