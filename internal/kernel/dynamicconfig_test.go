package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newrelic/agent-control/internal/agentid"
)

func TestParseDynamicConfigParsesAgentsAndChartVersion(t *testing.T) {
	raw := []byte(`
agents:
  nr-infra:
    agent_type: newrelic/infra-agent:0.1.0
cd_chart_version: 1.2.3
`)
	cfg, err := ParseDynamicConfig(raw)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", cfg.CDChartVersion)
	require.Contains(t, cfg.Agents, agentid.ID("nr-infra"))
	assert.Equal(t, "newrelic/infra-agent:0.1.0", cfg.Agents[agentid.ID("nr-infra")].AgentType)
}

func TestParseDynamicConfigRejectsReservedAgentID(t *testing.T) {
	raw := []byte(`
agents:
  agent-control:
    agent_type: newrelic/infra-agent:0.1.0
`)
	_, err := ParseDynamicConfig(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestParseDynamicConfigRejectsInvalidAgentID(t *testing.T) {
	raw := []byte(`
agents:
  1-bad:
    agent_type: newrelic/infra-agent:0.1.0
`)
	_, err := ParseDynamicConfig(raw)
	require.Error(t, err)
}

func TestParseDynamicConfigRejectsMalformedAgentType(t *testing.T) {
	raw := []byte(`
agents:
  nr-infra:
    agent_type: not-a-valid-fqn
`)
	_, err := ParseDynamicConfig(raw)
	require.Error(t, err)
}
