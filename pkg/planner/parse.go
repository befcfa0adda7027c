package planner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parsePlanJSON extracts and parses the LLM's plan JSON, tolerating a
// ```json fenced block, a bare ``` fenced block, or raw JSON with
// surrounding prose — mirroring
// original_source/.../ooda_executor.rs's parse_llm_observation_plan, which
// this package generalizes from a single observations object to the full
// steps/reasoning/confidence plan shape.
func parsePlanJSON(response string) (*rawPlan, error) {
	candidate := extractPlanJSONText(response)

	var plan rawPlan
	if err := json.Unmarshal([]byte(candidate), &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("plan JSON has no steps")
	}
	return &plan, nil
}

func extractPlanJSONText(response string) string {
	if strings.Contains(response, "```json") {
		parts := strings.SplitN(response, "```json", 2)
		if len(parts) == 2 {
			if end := strings.Index(parts[1], "```"); end != -1 {
				return strings.TrimSpace(parts[1][:end])
			}
			return strings.TrimSpace(parts[1])
		}
	}
	if strings.Contains(response, "```") {
		parts := strings.SplitN(response, "```", 2)
		if len(parts) == 2 {
			if end := strings.Index(parts[1], "```"); end != -1 {
				return strings.TrimSpace(parts[1][:end])
			}
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(response)
}
