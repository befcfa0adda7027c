package registry

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validateArgs checks a tool call's JSON-encoded arguments against its
// compiled parameter schema.
func validateArgs(schema *jsonschema.Schema, argsJSON string) error {
	if argsJSON == "" {
		argsJSON = "{}"
	}
	var v any
	if err := json.Unmarshal([]byte(argsJSON), &v); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(v)
}
