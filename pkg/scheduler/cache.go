package scheduler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// toolCategory buckets tool names into the TTL classes spec.md §4.5 names.
// Unrecognized tools default to "system", the shortest-lived, most
// conservative bucket.
type toolCategory string

const (
	categoryNetwork  toolCategory = "network"
	categorySecurity toolCategory = "security"
	categoryAI       toolCategory = "ai"
	categorySystem   toolCategory = "system"
)

var categoryTTL = map[toolCategory]time.Duration{
	categoryNetwork:  300 * time.Second,
	categorySecurity: 600 * time.Second,
	categoryAI:       120 * time.Second,
	categorySystem:   60 * time.Second,
}

// categoryPrecedence is checked in order so a tool name matching more than
// one bucket's keywords (e.g. "nmap_vuln_scan" matching both security's
// "vuln" and network's "scan") resolves deterministically to the earlier,
// more specific bucket rather than depending on map iteration order.
var categoryPrecedence = []struct {
	category toolCategory
	keywords []string
}{
	{categorySecurity, []string{"nmap", "vuln", "exploit", "cve", "metasploit", "nuclei", "sqlmap"}},
	{categoryAI, []string{"llm", "gpt", "generate", "summarize", "embed", "classify"}},
	{categoryNetwork, []string{"scan", "port", "dns", "subdomain", "whois", "http", "curl", "traceroute"}},
}

// statefulTools never get cached: their result depends on machine state
// that a replayed cache hit would silently hide.
var statefulTools = map[string]bool{
	"shell":           true,
	"execute_command": true,
	"run_command":     true,
	"write_file":      true,
	"delete_file":     true,
}

var secretKeywords = []string{"password", "secret", "token", "api_key", "apikey", "credential"}

func categorize(toolName string) toolCategory {
	lower := strings.ToLower(toolName)
	for _, bucket := range categoryPrecedence {
		for _, kw := range bucket.keywords {
			if strings.Contains(lower, kw) {
				return bucket.category
			}
		}
	}
	return categorySystem
}

func containsSecret(argsJSON string) bool {
	lower := strings.ToLower(argsJSON)
	for _, kw := range secretKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// shouldCache reports whether a tool call's result is a candidate for
// caching: not a stateful/mutating tool and not carrying secret-looking
// arguments.
func shouldCache(toolName, argsJSON string) bool {
	if statefulTools[strings.ToLower(toolName)] {
		return false
	}
	return !containsSecret(argsJSON)
}

type cacheEntry struct {
	outputs  map[string]any
	storedAt time.Time
	expires  time.Time
}

// toolCallCache caches tool-call results keyed by sha256(tool name ⨁
// canonical JSON args), with category-based TTLs and LRU eviction beyond a
// fixed capacity — grounded on task_fetcher.rs's ToolCallCache, using
// hashicorp/golang-lru/v2 the way the rest of this pack leans on real
// ecosystem libraries rather than a hand-rolled LRU.
type toolCallCache struct {
	entries *lru.Cache[string, cacheEntry]
}

func newToolCallCache(size int) (*toolCallCache, error) {
	if size <= 0 {
		size = 1000
	}
	c, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &toolCallCache{entries: c}, nil
}

func cacheKey(toolName, argsJSON string) string {
	canonical := canonicalizeJSON(argsJSON)
	h := sha256.Sum256([]byte(toolName + "\x00" + canonical))
	return hex.EncodeToString(h[:])
}

func canonicalizeJSON(argsJSON string) string {
	if argsJSON == "" {
		argsJSON = "{}"
	}
	var v any
	if err := json.Unmarshal([]byte(argsJSON), &v); err != nil {
		return argsJSON
	}
	b, err := json.Marshal(v) // json.Marshal sorts map keys, giving a canonical form
	if err != nil {
		return argsJSON
	}
	return string(b)
}

// get returns a cached result retargeted at requestingTaskID, tagged
// metadata["from_cache"]=true, or (nil, false) on a miss or expiry.
func (c *toolCallCache) get(toolName, argsJSON, requestingTaskID string) (*TaskResult, bool) {
	key := cacheKey(toolName, argsJSON)
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		c.entries.Remove(key)
		return nil, false
	}
	outputs := make(map[string]any, len(entry.outputs))
	for k, v := range entry.outputs {
		outputs[k] = v
	}
	now := time.Now()
	return &TaskResult{
		TaskID:      requestingTaskID,
		Status:      TaskCompleted,
		Outputs:     outputs,
		StartedAt:   now,
		CompletedAt: now,
		Metadata:    map[string]any{"from_cache": true},
	}, true
}

func (c *toolCallCache) put(toolName, argsJSON string, result *TaskResult) {
	if result == nil || result.Status != TaskCompleted || !shouldCache(toolName, argsJSON) {
		return
	}
	ttl := categoryTTL[categorize(toolName)]
	outputs := make(map[string]any, len(result.Outputs))
	for k, v := range result.Outputs {
		outputs[k] = v
	}
	c.entries.Add(cacheKey(toolName, argsJSON), cacheEntry{
		outputs:  outputs,
		storedAt: time.Now(),
		expires:  time.Now().Add(ttl),
	})
}
