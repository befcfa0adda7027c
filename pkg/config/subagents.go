package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML accepts either a bare agent name or a mapping with overrides
// for each sequence element, so sub_agents can mix short and long form:
//
//	sub_agents:
//	  - LogAnalyzer
//	  - name: GeneralWorker
//	    max_iterations: 3
func (refs *SubAgentRefs) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("sub_agents must be a sequence")
	}

	result := make(SubAgentRefs, 0, len(value.Content))
	for i, item := range value.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			if item.Tag != "!!str" {
				return fmt.Errorf("sub_agents[%d]: expected string, got %s", i, item.Tag)
			}
			result = append(result, SubAgentRef{Name: item.Value})
		case yaml.MappingNode:
			ref, err := decodeSubAgentRef(item)
			if err != nil {
				return fmt.Errorf("sub_agents[%d]: %w", i, err)
			}
			result = append(result, ref)
		default:
			return fmt.Errorf("sub_agents[%d]: expected string or mapping", i)
		}
	}

	*refs = result
	return nil
}

func decodeSubAgentRef(node *yaml.Node) (SubAgentRef, error) {
	var ref SubAgentRef
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]

		switch key {
		case "name":
			if err := val.Decode(&ref.Name); err != nil {
				return ref, err
			}
		case "llm_provider":
			if err := val.Decode(&ref.LLMProvider); err != nil {
				return ref, err
			}
		case "llm_backend":
			var backend string
			if err := val.Decode(&backend); err != nil {
				return ref, err
			}
			ref.LLMBackend = LLMBackend(backend)
		case "max_iterations":
			var n int
			if err := val.Decode(&n); err != nil {
				return ref, err
			}
			ref.MaxIterations = &n
		case "mcp_servers":
			if err := val.Decode(&ref.MCPServers); err != nil {
				return ref, err
			}
		default:
			return ref, fmt.Errorf("unknown field %q", key)
		}
	}
	return ref, nil
}
