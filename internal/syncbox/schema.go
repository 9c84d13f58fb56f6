package syncbox

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const envelopeSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"title": "syncbox mutation envelope",
	"type": "object",
	"required": ["kind", "endpoint", "method"],
	"properties": {
		"kind": {
			"type": "string",
			"pattern": "^(lead|case|document|assignment)\\.(create|update|delete|upload)$"
		},
		"payload": {
			"type": "object"
		},
		"payloadRef": {
			"type": "string",
			"minLength": 1
		},
		"endpoint": {
			"type": "string",
			"pattern": "^/"
		},
		"method": {
			"type": "string",
			"enum": ["POST", "PUT", "PATCH", "DELETE"]
		},
		"version": {
			"type": "string"
		},
		"lastKnownGood": {
			"type": "object"
		}
	},
	"additionalProperties": false
}`

// EnvelopeValidator checks enqueue envelopes against the mutation schema
// before they reach the durable queue. Both the HTTP enqueue route and the
// drop folder validate through it.
type EnvelopeValidator struct {
	schema *jsonschema.Schema
}

func NewEnvelopeValidator() (*EnvelopeValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse envelope schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("envelope.json", doc); err != nil {
		return nil, fmt.Errorf("register envelope schema: %w", err)
	}
	schema, err := compiler.Compile("envelope.json")
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}
	return &EnvelopeValidator{schema: schema}, nil
}

// Validate returns an ErrInvalidInput-wrapped error when data is not a
// well-formed mutation envelope.
func (v *EnvelopeValidator) Validate(data []byte) error {
	if v == nil || v.schema == nil {
		return nil
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := v.schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
