package webhook

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const deliverySchemaURL = "tributary://webhook/delivery.json"

// deliverySchema is the minimal shape every delivery must have before it
// is queued. Event contents are classified later, so unknown event types
// and extra fields pass.
const deliverySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["events"],
  "properties": {
    "events": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["event_type"],
        "properties": {
          "event_type": {"type": "string"},
          "id": {
            "type": "object",
            "properties": {
              "object_id": {"type": "string"},
              "record_id": {"type": "string"},
              "project_id": {"type": ["string", "integer"]}
            }
          }
        }
      }
    }
  }
}`

// Validator checks delivery bodies against the delivery schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the delivery schema.
func NewValidator() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(deliverySchema))
	if err != nil {
		return nil, fmt.Errorf("parse delivery schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(deliverySchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add delivery schema: %w", err)
	}
	schema, err := c.Compile(deliverySchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile delivery schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate reports whether body is a well-formed delivery.
func (v *Validator) Validate(body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDelivery, err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDelivery, err)
	}
	return nil
}
