package scheduler

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// variableContext is the set of state variable resolution reads from:
// completed task outputs (by id and by completion order), global config
// values, and a flat string-to-string mapping table the plan (or a
// re-planning delta) supplies directly. Grounded on task_fetcher.rs's
// VariableResolutionContext / resolve_task_variables.
type variableContext struct {
	completed       map[string]*TaskResult
	completionOrder []string
	globals         map[string]any
	mappings        map[string]string
}

func newVariableContext() *variableContext {
	return &variableContext{
		completed: make(map[string]*TaskResult),
		globals:   make(map[string]any),
		mappings:  make(map[string]string),
	}
}

func (c *variableContext) recordCompletion(id string, result *TaskResult) {
	if _, exists := c.completed[id]; !exists {
		c.completionOrder = append(c.completionOrder, id)
	}
	c.completed[id] = result
}

var (
	exprPattern   = regexp.MustCompile(`\$\{([^}]+)\}`)
	tokenPattern  = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*|\d+)`)
	barePathRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*|\[\d+\])+$`)
)

// resolveAll walks an arbitrary JSON-like value (map/slice/scalar) and
// resolves every ${...}, $name, and bare dotted-path string it finds.
func (c *variableContext) resolveAll(v any) any {
	switch val := v.(type) {
	case string:
		return c.resolveString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = c.resolveAll(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = c.resolveAll(child)
		}
		return out
	default:
		return v
	}
}

// resolveString decides which of the three reference grammars a string
// matches. A string that is entirely one ${expr} or one $name reference
// resolves to the raw (possibly non-string) value; anything else is treated
// as a template and every reference inside it is stringified in place.
func (c *variableContext) resolveString(s string) any {
	if m := exprPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		if v, ok := c.resolvePath(strings.TrimSpace(m[1])); ok {
			return v
		}
		return s
	}
	if m := tokenPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		if v, ok := c.resolveToken(m[1]); ok {
			return v
		}
		return s
	}
	if barePathRegex.MatchString(s) {
		if v, ok := c.resolvePath(s); ok {
			return v
		}
		return s
	}

	replaced := exprPattern.ReplaceAllStringFunc(s, func(m string) string {
		expr := strings.TrimSpace(exprPattern.FindStringSubmatch(m)[1])
		if v, ok := c.resolvePath(expr); ok {
			return stringify(v)
		}
		return m
	})
	replaced = tokenPattern.ReplaceAllStringFunc(replaced, func(m string) string {
		name := tokenPattern.FindStringSubmatch(m)[1]
		if v, ok := c.resolveToken(name); ok {
			return stringify(v)
		}
		return m
	})
	return replaced
}

// resolvePath resolves a dotted/indexed path such as "task_1.result.url" or
// "global.target_host" against completed task outputs and global config,
// falling back to the flat mappings table for anything that doesn't parse
// as a path into either.
func (c *variableContext) resolvePath(expr string) (any, bool) {
	segments := splitPath(expr)
	if len(segments) == 0 {
		return nil, false
	}

	var root any
	switch {
	case segments[0] == "global":
		root = c.globals
		segments = segments[1:]
	default:
		if result, ok := c.completed[segments[0]]; ok {
			root = result.Outputs
			segments = segments[1:]
		} else if v, ok := c.mappings[expr]; ok {
			return v, true
		} else {
			return nil, false
		}
	}

	cur := root
	for _, seg := range segments {
		next, ok := index(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// resolveToken resolves a single $name token: positional references ($1,
// $2, ...) address completed tasks in completion order, named references
// check global config then the flat mappings table.
func (c *variableContext) resolveToken(name string) (any, bool) {
	if n, err := strconv.Atoi(name); err == nil {
		if n >= 1 && n <= len(c.completionOrder) {
			result := c.completed[c.completionOrder[n-1]]
			return defaultOutput(result), true
		}
		return nil, false
	}
	if v, ok := c.globals[name]; ok {
		return v, true
	}
	if v, ok := c.mappings[name]; ok {
		return v, true
	}
	return nil, false
}

// defaultOutput picks the conventional "main" output field of a task
// result: the "result" key if present, otherwise the alphabetically first
// key, so positional references stay deterministic without requiring every
// tool to standardize on a single output name.
func defaultOutput(result *TaskResult) any {
	if result == nil {
		return nil
	}
	if v, ok := result.Outputs["result"]; ok {
		return v
	}
	if len(result.Outputs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(result.Outputs))
	for k := range result.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return result.Outputs[keys[0]]
}

// splitPath turns "a.b[2].c" into ["a", "b", "[2]", "c"].
func splitPath(expr string) []string {
	var segments []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			segments = append(segments, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '.':
			flush()
		case '[':
			flush()
			j := strings.IndexByte(expr[i:], ']')
			if j < 0 {
				cur.WriteByte(expr[i])
				continue
			}
			segments = append(segments, expr[i:i+j+1])
			i += j
		default:
			cur.WriteByte(expr[i])
		}
	}
	flush()
	return segments
}

// index looks up one path segment (a map key or a "[N]" array index) in v.
func index(v any, seg string) (any, bool) {
	if strings.HasPrefix(seg, "[") && strings.HasSuffix(seg, "]") {
		n, err := strconv.Atoi(seg[1 : len(seg)-1])
		if err != nil {
			return nil, false
		}
		arr, ok := v.([]any)
		if !ok || n < 0 || n >= len(arr) {
			return nil, false
		}
		return arr[n], true
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	val, ok := m[seg]
	return val, ok
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case float64, int, int64, bool:
		return fmt.Sprint(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
