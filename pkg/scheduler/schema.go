package scheduler

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// toolSchema pairs a compiled jsonschema.Schema (used for the full
// constraint check, the same way pkg/registry/validate.go validates tool
// call arguments) with a lightweight parse of the same document used for
// defaulting and type coercion — concerns the schema library itself doesn't
// perform.
type toolSchema struct {
	compiled *jsonschema.Schema
	raw      rawSchemaDoc
}

type rawSchemaDoc struct {
	Type       string                 `json:"type"`
	Properties map[string]rawProperty `json:"properties"`
	Required   []string               `json:"required"`
}

type rawProperty struct {
	Type    string `json:"type"`
	Default any    `json:"default"`
}

func compileToolSchema(name, schemaJSON string) (*toolSchema, error) {
	if schemaJSON == "" {
		schemaJSON = "{}"
	}
	compiled, err := jsonschema.CompileString("mem://"+name, schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", name, err)
	}
	var raw rawSchemaDoc
	if err := json.Unmarshal([]byte(schemaJSON), &raw); err != nil {
		return nil, fmt.Errorf("parse schema for %s: %w", name, err)
	}
	return &toolSchema{compiled: compiled, raw: raw}, nil
}

// ValidationResult is what resolveTaskVariables reports back about a task's
// resolved inputs, mirroring task_fetcher.rs's ValidationResult: IsValid
// false with a non-nil CorrectedParams means defaulting/coercion repaired
// the violation; IsValid false with a nil CorrectedParams means it
// couldn't be repaired and the caller should log and proceed with the
// original inputs (or fail, depending on the failure strategy in force).
type ValidationResult struct {
	IsValid         bool
	Errors          []string
	CorrectedParams map[string]any
}

// validateAndCoerce validates inputs against a tool's schema, attempting to
// repair violations by filling in declared defaults and coercing
// string-encoded numbers/booleans before re-validating.
func validateAndCoerce(schema *toolSchema, inputs map[string]any) ValidationResult {
	if schema == nil {
		return ValidationResult{IsValid: true}
	}

	err := schema.compiled.Validate(inputs)
	if err == nil {
		return ValidationResult{IsValid: true}
	}
	firstErr := err.Error()

	coerced := applyDefaultsAndCoerce(schema.raw, inputs)
	verr := schema.compiled.Validate(coerced)
	if verr == nil {
		return ValidationResult{IsValid: false, Errors: []string{firstErr}, CorrectedParams: coerced}
	}
	return ValidationResult{IsValid: false, Errors: []string{firstErr, verr.Error()}}
}

func applyDefaultsAndCoerce(raw rawSchemaDoc, inputs map[string]any) map[string]any {
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		out[k] = v
	}
	for name, prop := range raw.Properties {
		if _, present := out[name]; !present && prop.Default != nil {
			out[name] = prop.Default
			continue
		}
		if v, present := out[name]; present {
			out[name] = coerceType(v, prop.Type)
		}
	}
	return out
}

func coerceType(v any, declared string) any {
	s, isString := v.(string)
	if !isString {
		return v
	}
	switch declared {
	case "integer", "number":
		// Represented as float64, matching what encoding/json decodes a JSON
		// number into — the form the schema validator expects.
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n
		}
	case "boolean":
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return v
}
