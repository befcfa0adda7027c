package config

// AgentType determines what the agent does — drives controller selection and agent wrapper.
type AgentType string

const (
	AgentTypeDefault     AgentType = ""             // Regular investigation agent (iterating controller)
	AgentTypeSynthesis   AgentType = "synthesis"     // Synthesizes parallel investigation results (single-shot)
	AgentTypeScoring     AgentType = "scoring"       // Evaluates session quality (single-shot)
	AgentTypeOrchestrator AgentType = "orchestrator" // Dispatches sub-agents via OODA loop (iterating controller)
)

// IsValid checks if the agent type is valid (empty string is valid — means default).
func (t AgentType) IsValid() bool {
	switch t {
	case AgentTypeDefault, AgentTypeSynthesis, AgentTypeScoring, AgentTypeOrchestrator:
		return true
	default:
		return false
	}
}

// IterationStrategy selects which controller drives an agent's execution loop.
type IterationStrategy string

const (
	// IterationStrategyReact drives the loop via text-based Thought/Action/Observation parsing.
	IterationStrategyReact IterationStrategy = "react"
	// IterationStrategyNativeThinking uses the provider's native thinking + structured tool calls.
	IterationStrategyNativeThinking IterationStrategy = "native-thinking"
	// IterationStrategyLangChain drives the loop via structured tool-calling (google-native or langchain backend).
	IterationStrategyLangChain IterationStrategy = "langchain"
	// IterationStrategySynthesis is a single LLM call synthesizing parallel investigation results.
	IterationStrategySynthesis IterationStrategy = "synthesis"
	// IterationStrategySynthesisNativeThinking is synthesis with native thinking enabled.
	IterationStrategySynthesisNativeThinking IterationStrategy = "synthesis-native-thinking"
)

// IsValid checks if the iteration strategy is valid (empty string is NOT valid — must be explicit).
func (s IterationStrategy) IsValid() bool {
	switch s {
	case IterationStrategyReact,
		IterationStrategyNativeThinking,
		IterationStrategyLangChain,
		IterationStrategySynthesis,
		IterationStrategySynthesisNativeThinking:
		return true
	default:
		return false
	}
}

// LLMBackend determines which SDK path to use for LLM calls.
type LLMBackend string

const (
	LLMBackendNativeGemini LLMBackend = "google-native" // Google SDK direct
	LLMBackendLangChain    LLMBackend = "langchain"     // LangChain multi-provider
)

// IsValid checks if the LLM backend is valid (empty string is NOT valid — must be explicit).
func (b LLMBackend) IsValid() bool {
	return b == LLMBackendNativeGemini || b == LLMBackendLangChain
}

// SuccessPolicy defines success criteria for parallel stages
type SuccessPolicy string

const (
	// SuccessPolicyAll requires all agents to succeed
	SuccessPolicyAll SuccessPolicy = "all"
	// SuccessPolicyAny requires at least one agent to succeed (default)
	SuccessPolicyAny SuccessPolicy = "any"
)

// IsValid checks if the success policy is valid
func (p SuccessPolicy) IsValid() bool {
	return p == SuccessPolicyAll || p == SuccessPolicyAny
}

// TransportType defines MCP server transport types
type TransportType string

const (
	// TransportTypeStdio uses subprocess communication via stdin/stdout
	TransportTypeStdio TransportType = "stdio"
	// TransportTypeHTTP uses HTTP/HTTPS JSON-RPC
	TransportTypeHTTP TransportType = "http"
	// TransportTypeSSE uses Server-Sent Events
	TransportTypeSSE TransportType = "sse"
)

// IsValid checks if the transport type is valid
func (t TransportType) IsValid() bool {
	return t == TransportTypeStdio || t == TransportTypeHTTP || t == TransportTypeSSE
}

// LLMProviderType defines supported LLM providers
type LLMProviderType string

const (
	// LLMProviderTypeGoogle is Google Gemini API
	LLMProviderTypeGoogle LLMProviderType = "google"
	// LLMProviderTypeOpenAI is OpenAI API
	LLMProviderTypeOpenAI LLMProviderType = "openai"
	// LLMProviderTypeAnthropic is Anthropic Claude API
	LLMProviderTypeAnthropic LLMProviderType = "anthropic"
	// LLMProviderTypeXAI is xAI Grok API
	LLMProviderTypeXAI LLMProviderType = "xai"
	// LLMProviderTypeVertexAI is Google Vertex AI
	LLMProviderTypeVertexAI LLMProviderType = "vertexai"
	// LLMProviderTypeOllama is a locally-hosted Ollama instance (OpenAI-compatible wire format)
	LLMProviderTypeOllama LLMProviderType = "ollama"
	// LLMProviderTypeDeepseek is the Deepseek API (OpenAI-compatible wire format)
	LLMProviderTypeDeepseek LLMProviderType = "deepseek"
	// LLMProviderTypeGroq is the Groq API (OpenAI-compatible wire format)
	LLMProviderTypeGroq LLMProviderType = "groq"
	// LLMProviderTypeOpenRouter is the OpenRouter API (OpenAI-compatible wire format)
	LLMProviderTypeOpenRouter LLMProviderType = "openrouter"
	// LLMProviderTypeTogetherAI is the TogetherAI API (OpenAI-compatible wire format)
	LLMProviderTypeTogetherAI LLMProviderType = "togetherai"
	// LLMProviderTypeMoonshot is the Moonshot/Kimi API (OpenAI-compatible wire format)
	LLMProviderTypeMoonshot LLMProviderType = "moonshot"
	// LLMProviderTypePerplexity is the Perplexity API (OpenAI-compatible wire format)
	LLMProviderTypePerplexity LLMProviderType = "perplexity"
	// LLMProviderTypeLMStudio is a local LM Studio instance (OpenAI-compatible wire format)
	LLMProviderTypeLMStudio LLMProviderType = "lm_studio"
)

// IsValid checks if the LLM provider type is valid
func (t LLMProviderType) IsValid() bool {
	switch t {
	case LLMProviderTypeGoogle,
		LLMProviderTypeOpenAI,
		LLMProviderTypeAnthropic,
		LLMProviderTypeXAI,
		LLMProviderTypeVertexAI,
		LLMProviderTypeOllama,
		LLMProviderTypeDeepseek,
		LLMProviderTypeGroq,
		LLMProviderTypeOpenRouter,
		LLMProviderTypeTogetherAI,
		LLMProviderTypeMoonshot,
		LLMProviderTypePerplexity,
		LLMProviderTypeLMStudio:
		return true
	default:
		return false
	}
}

// IsOpenAICompatible reports whether the provider speaks the OpenAI chat
// completions wire format, so a single HTTP client (with a provider-specific
// base URL) can serve all of them.
func (t LLMProviderType) IsOpenAICompatible() bool {
	switch t {
	case LLMProviderTypeOllama,
		LLMProviderTypeDeepseek,
		LLMProviderTypeGroq,
		LLMProviderTypeOpenRouter,
		LLMProviderTypeTogetherAI,
		LLMProviderTypeMoonshot,
		LLMProviderTypePerplexity,
		LLMProviderTypeLMStudio:
		return true
	default:
		return false
	}
}

// GoogleNativeTool defines Google/Gemini native tools
type GoogleNativeTool string

const (
	// GoogleNativeToolGoogleSearch enables Google Search grounding
	GoogleNativeToolGoogleSearch GoogleNativeTool = "google_search"
	// GoogleNativeToolCodeExecution enables code execution
	GoogleNativeToolCodeExecution GoogleNativeTool = "code_execution"
	// GoogleNativeToolURLContext enables URL context fetching
	GoogleNativeToolURLContext GoogleNativeTool = "url_context"
)

// IsValid checks if the Google native tool is valid
func (t GoogleNativeTool) IsValid() bool {
	return t == GoogleNativeToolGoogleSearch ||
		t == GoogleNativeToolCodeExecution ||
		t == GoogleNativeToolURLContext
}
