package config

// Shared types used across configuration structs

// TransportConfig defines MCP server transport configuration
type TransportConfig struct {
	Type TransportType `yaml:"type" validate:"required"`

	// For stdio transport
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`

	// For http/sse transport
	URL         string `yaml:"url,omitempty"`
	BearerToken string `yaml:"bearer_token,omitempty"`
	VerifySSL   *bool  `yaml:"verify_ssl,omitempty"`
	Timeout     int    `yaml:"timeout,omitempty"` // In seconds
}

// MaskingConfig defines data masking configuration for MCP servers
type MaskingConfig struct {
	Enabled        bool             `yaml:"enabled"`
	PatternGroups  []string         `yaml:"pattern_groups,omitempty"`
	Patterns       []string         `yaml:"patterns,omitempty"`
	CustomPatterns []MaskingPattern `yaml:"custom_patterns,omitempty"`
}

// MaskingPattern defines a regex-based masking pattern
type MaskingPattern struct {
	Pattern     string `yaml:"pattern" validate:"required"`
	Replacement string `yaml:"replacement" validate:"required"`
	Description string `yaml:"description,omitempty"`
}

// SummarizationConfig defines when and how to summarize large MCP responses
type SummarizationConfig struct {
	Enabled              bool `yaml:"enabled"`
	SizeThresholdTokens  int  `yaml:"size_threshold_tokens,omitempty" validate:"omitempty,min=100"`
	SummaryMaxTokenLimit int  `yaml:"summary_max_token_limit,omitempty" validate:"omitempty,min=50"`
}

// StageAgentConfig represents an agent reference with stage-level overrides
// Used in stage.agents[] array (even for single-agent stages)
// Parallel execution occurs when: len(agents) > 1 OR replicas > 1
type StageAgentConfig struct {
	Name              string            `yaml:"name" validate:"required"`
	Type              AgentType         `yaml:"type,omitempty"`
	LLMProvider       string            `yaml:"llm_provider,omitempty"`
	LLMBackend        LLMBackend        `yaml:"llm_backend,omitempty"`
	IterationStrategy IterationStrategy `yaml:"iteration_strategy,omitempty"`
	MaxIterations     *int              `yaml:"max_iterations,omitempty" validate:"omitempty,min=1"`
	MCPServers        []string          `yaml:"mcp_servers,omitempty"`
	SubAgents         SubAgentRefs      `yaml:"sub_agents,omitempty"`
}

// SynthesisConfig defines synthesis agent configuration
type SynthesisConfig struct {
	Agent             string            `yaml:"agent,omitempty"`
	IterationStrategy IterationStrategy `yaml:"iteration_strategy,omitempty"`
	LLMBackend        LLMBackend        `yaml:"llm_backend,omitempty"`
	LLMProvider       string            `yaml:"llm_provider,omitempty"`
}

// ChatConfig defines chat agent configuration
type ChatConfig struct {
	Enabled           bool              `yaml:"enabled"`
	Agent             string            `yaml:"agent,omitempty"`
	IterationStrategy IterationStrategy `yaml:"iteration_strategy,omitempty"`
	LLMBackend        LLMBackend        `yaml:"llm_backend,omitempty"`
	LLMProvider       string            `yaml:"llm_provider,omitempty"`
	MCPServers        []string          `yaml:"mcp_servers,omitempty"`
	MaxIterations     *int              `yaml:"max_iterations,omitempty" validate:"omitempty,min=1"`
}

// ScoringConfig defines scoring agent configuration for a chain.
// Scoring is a single-shot, post-investigation evaluation of session quality.
type ScoringConfig struct {
	Enabled       bool       `yaml:"enabled"`
	Agent         string     `yaml:"agent,omitempty"`
	LLMBackend    LLMBackend `yaml:"llm_backend,omitempty"`
	LLMProvider   string     `yaml:"llm_provider,omitempty"`
	MaxIterations *int       `yaml:"max_iterations,omitempty" validate:"omitempty,min=1"`
	MCPServers    []string   `yaml:"mcp_servers,omitempty"`
}

// SubAgentRef names an agent eligible for orchestrator dispatch, with optional
// per-dispatch overrides layered on top of the agent's own definition.
type SubAgentRef struct {
	Name          string     `yaml:"name"`
	LLMProvider   string     `yaml:"llm_provider,omitempty"`
	LLMBackend    LLMBackend `yaml:"llm_backend,omitempty"`
	MaxIterations *int       `yaml:"max_iterations,omitempty" validate:"omitempty,min=1"`
	MCPServers    []string   `yaml:"mcp_servers,omitempty"`
}

// SubAgentRefs is a list of SubAgentRef. Its YAML form accepts a plain agent
// name ("LogAnalyzer") wherever a full mapping with overrides would otherwise
// be required, so a chain/stage/agent that needs no overrides can list
// sub_agents as a flat array of strings.
type SubAgentRefs []SubAgentRef

// Names returns the sub-agent names in order, or nil if refs is empty.
func (refs SubAgentRefs) Names() []string {
	if refs == nil {
		return nil
	}
	names := make([]string, len(refs))
	for i, ref := range refs {
		names[i] = ref.Name
	}
	return names
}
