package manifest

import (
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "https://blockkit.schemas.local/manifest.schema.json"

// structuralSchema only checks shape and JSON types. Value rules (block
// types, fee variants, jurisdictions) are enforced by Decode so that each
// failure carries its own code.
const structuralSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "version", "block_type", "publisher", "description"],
  "properties": {
    "name":        {"type": "string", "minLength": 1},
    "version":     {"type": "string", "minLength": 1},
    "block_type":  {"type": "string"},
    "publisher":   {"type": ["array", "object"]},
    "description": {"type": "string"},
    "license":     {"type": ["array", "object", "null"]},
    "fee":         {"type": ["array", "object", "null"]},
    "allowed_jurisdictions": {
      "type": ["array", "null"],
      "items": {"type": "string"}
    }
  }
}`

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func manifestSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(structuralSchema)); err != nil {
			compileErr = err
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}
