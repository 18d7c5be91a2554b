package extract

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
)

const costSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["amount", "currency", "usd_amount", "confidence"],
  "properties": {
    "amount": {"type": "number", "minimum": 0},
    "currency": {"type": "string", "minLength": 3, "maxLength": 3},
    "usd_amount": {"type": "number", "minimum": 0},
    "confidence": {"type": "number", "minimum": 0, "maximum": 100},
    "source": {"type": "string"},
    "notes": {"type": "string"}
  }
}`

const internetSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["amount", "currency", "usd_amount", "confidence", "speed_mbps", "reliability_score", "fiber_availability"],
  "properties": {
    "amount": {"type": "number", "minimum": 0},
    "currency": {"type": "string", "minLength": 3, "maxLength": 3},
    "usd_amount": {"type": "number", "minimum": 0},
    "confidence": {"type": "number", "minimum": 0, "maximum": 100},
    "source": {"type": "string"},
    "notes": {"type": "string"},
    "speed_mbps": {"type": "number", "minimum": 0},
    "reliability_score": {"type": "number", "minimum": 0, "maximum": 100},
    "fiber_availability": {"type": "boolean"}
  }
}`

var (
	costSchemaLoader     = gojsonschema.NewStringLoader(costSchema)
	internetSchemaLoader = gojsonschema.NewStringLoader(internetSchema)
)

// SchemaError lists every violation found in a model response.
type SchemaError struct {
	Category   string
	Violations []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s response failed schema validation: %s", e.Category, strings.Join(e.Violations, "; "))
}

func schemaText(category string) string {
	if category == agent.CategoryInternet {
		return internetSchema
	}
	return costSchema
}

func validate(category string, document []byte) error {
	loader := costSchemaLoader
	if category == agent.CategoryInternet {
		loader = internetSchemaLoader
	}
	result, err := gojsonschema.Validate(loader, gojsonschema.NewBytesLoader(document))
	if err != nil {
		return fmt.Errorf("validating %s response: %w", category, err)
	}
	if result.Valid() {
		return nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		violations = append(violations, verr.String())
	}
	return &SchemaError{Category: category, Violations: violations}
}
