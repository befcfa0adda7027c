package joiner

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sentinelai/engine/pkg/scheduler"
)

// aiDecisionPayload is the [DECISION] JSON block's shape. Decision is
// case-insensitive ("COMPLETE"/"CONTINUE"); the rest of the fields are
// optional depending on which branch was chosen. Confidence tolerates both
// a bare number and a quoted numeric string, matching joiner.rs's
// parse_ai_decision leniency.
type aiDecisionPayload struct {
	Decision       string          `json:"decision"`
	Response       string          `json:"response"`
	Feedback       string          `json:"feedback"`
	SuggestedTasks []suggestedTask `json:"suggested_tasks"`
	Confidence     json.Number     `json:"confidence"`
}

// suggestedTask is the wire shape for a joiner-suggested follow-up task,
// converted to a *scheduler.TaskNode once parsed.
type suggestedTask struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	ToolName     string         `json:"tool_name"`
	Inputs       map[string]any `json:"inputs"`
	Dependencies []string       `json:"dependencies"`
	Priority     int            `json:"priority"`
}

// aiDecision is the parsed, typed result of one AI-decision call, before it
// is folded into a Decision by synthesizeDecision.
type aiDecision struct {
	Complete       bool
	Response       string
	Feedback       string
	SuggestedTasks []*scheduler.TaskNode
	Confidence     float64
}

// parseAIDecision extracts and parses the [DECISION] block from a humanized
// LLM response. It tries, in order: a fenced/unfenced [DECISION] marker
// section, a ```json fenced block anywhere in the text, and finally a raw
// brace-matched JSON object — mirroring joiner.rs's
// extract_decision_from_humanized_response / extract_json_from_code_block /
// extract_json_by_braces waterfall.
func parseAIDecision(text string) (*aiDecision, error) {
	candidate, err := extractDecisionJSON(text)
	if err != nil {
		return nil, err
	}

	var payload aiDecisionPayload
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		return nil, fmt.Errorf("decision JSON did not parse: %w", err)
	}

	confidence := 0.5
	if payload.Confidence != "" {
		if f, err := strconv.ParseFloat(payload.Confidence.String(), 64); err == nil {
			confidence = clamp01(f)
		}
	}

	decision := strings.ToUpper(strings.TrimSpace(payload.Decision))
	result := &aiDecision{
		Complete:   decision == "COMPLETE",
		Response:   payload.Response,
		Feedback:   payload.Feedback,
		Confidence: confidence,
	}

	for _, st := range payload.SuggestedTasks {
		result.SuggestedTasks = append(result.SuggestedTasks, &scheduler.TaskNode{
			ID:           st.ID,
			Name:         st.Name,
			ToolName:     st.ToolName,
			Inputs:       st.Inputs,
			Dependencies: st.Dependencies,
			Priority:     st.Priority,
		})
	}

	return result, nil
}

// extractDecisionJSON locates the JSON object to parse within a free-form
// LLM response, trying progressively looser strategies.
func extractDecisionJSON(text string) (string, error) {
	if marker := extractAfterDecisionMarker(text); marker != "" {
		if block := extractFencedJSON(marker); block != "" {
			return block, nil
		}
		if obj := extractBracedJSON(marker); obj != "" {
			return obj, nil
		}
	}

	if block := extractFencedJSON(text); block != "" {
		return block, nil
	}

	if obj := extractBracedJSON(text); obj != "" {
		return obj, nil
	}

	return "", fmt.Errorf("no [DECISION] JSON block found in response")
}

// extractAfterDecisionMarker returns the text following a "[DECISION]"
// marker (case-insensitive), or "" if no marker is present.
func extractAfterDecisionMarker(text string) string {
	upper := strings.ToUpper(text)
	idx := strings.Index(upper, "[DECISION]")
	if idx == -1 {
		return ""
	}
	return text[idx+len("[DECISION]"):]
}

// extractFencedJSON pulls the contents of the first ```json or ``` fenced
// code block in text.
func extractFencedJSON(text string) string {
	start := strings.Index(text, "```")
	if start == -1 {
		return ""
	}
	rest := text[start+3:]
	rest = strings.TrimPrefix(rest, "json")
	rest = strings.TrimPrefix(rest, "JSON")
	end := strings.Index(rest, "```")
	if end == -1 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// extractBracedJSON finds the first balanced {...} object in text by
// brace-depth counting, tolerating braces inside quoted strings.
func extractBracedJSON(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string, braces don't count
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
