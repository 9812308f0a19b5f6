package kernel

import (
	"fmt"

	"sigs.k8s.io/yaml"

	"github.com/newrelic/agent-control/internal/agentid"
)

type rawDynamicConfig struct {
	Agents         map[string]rawAgentConfig `json:"agents"`
	CDChartVersion string                    `json:"cd_chart_version,omitempty"`
}

type rawAgentConfig struct {
	AgentType string `json:"agent_type"`
}

// ParseDynamicConfig decodes and validates an AgentControlDynamicConfig
// payload (§4.7 "Reconcile" step 1): every agent id must pass the AgentID
// regex and must not be the reserved "agent-control" name, and every
// agent_type must be a well-formed AgentTypeID.
func ParseDynamicConfig(raw []byte) (*AgentControlDynamicConfig, error) {
	var parsed rawDynamicConfig
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decoding dynamic config: %w", err)
	}

	cfg := &AgentControlDynamicConfig{
		Agents:         make(map[agentid.ID]AgentConfig, len(parsed.Agents)),
		CDChartVersion: parsed.CDChartVersion,
	}
	for rawID, rawCfg := range parsed.Agents {
		id, err := agentid.ValidateNonReserved(rawID)
		if err != nil {
			return nil, fmt.Errorf("invalid agent id %q: %w", rawID, err)
		}
		if _, err := agentid.ParseTypeID(rawCfg.AgentType); err != nil {
			return nil, fmt.Errorf("agent %s has an invalid agent_type: %w", id, err)
		}
		cfg.Agents[id] = AgentConfig{AgentType: rawCfg.AgentType}
	}
	return cfg, nil
}
