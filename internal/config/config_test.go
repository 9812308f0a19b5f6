package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, yamlBody string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, `
host_id: my-host
fleet_control:
  endpoint: https://opamp.example.com
  headers:
    api-key: secret
k8s:
  namespace: newrelic
agents:
  nr-infra:
    agent_type: newrelic/infra-agent:0.1.0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "my-host", cfg.HostID)
	assert.True(t, cfg.HasFleetControl())
	assert.ElementsMatch(t, []string{"api-key"}, cfg.FleetControl.SensitiveHeaderKeys())
	assert.Equal(t, "newrelic/infra-agent:0.1.0", cfg.Agents["nr-infra"].AgentType)
}

func TestLoadRejectsLogFilePathWithoutEnabled(t *testing.T) {
	path := writeTempConfig(t, `
log:
  file:
    path: /var/log/agent-control.log
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.file.enabled")
}

func TestLoadRejectsReservedAgentID(t *testing.T) {
	path := writeTempConfig(t, `
agents:
  agent-control:
    agent_type: newrelic/infra-agent:0.1.0
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestLoadRejectsInvalidAgentID(t *testing.T) {
	path := writeTempConfig(t, `
agents:
  "agent/1":
    agent_type: newrelic/infra-agent:0.1.0
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 characters at most")
}

func TestStripLocalOnlyFields(t *testing.T) {
	dc := DynamicConfig{CDChartVersion: "1.2.3"}
	stripped := dc.StripLocalOnlyFields()
	assert.Empty(t, stripped.CDChartVersion)
}
