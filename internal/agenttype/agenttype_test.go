package agenttype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmbeddedRegistryLookup(t *testing.T) {
	reg, err := NewEmbeddedRegistry()
	require.NoError(t, err)

	def, err := reg.Lookup("newrelic/infra-agent:0.1.0")
	require.NoError(t, err)
	assert.Equal(t, "newrelic", def.Namespace)

	_, err = reg.Lookup("does/not:exist")
	require.Error(t, err)
	var notFound *ErrAgentNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestForEnvironmentMergesCommonAndSpecific(t *testing.T) {
	reg, err := NewEmbeddedRegistry()
	require.NoError(t, err)
	def, err := reg.Lookup("newrelic/infra-agent:0.1.0")
	require.NoError(t, err)

	onHost, err := ForEnvironment(def, EnvOnHost)
	require.NoError(t, err)
	assert.Contains(t, onHost.Variables, "license_key")
	assert.Contains(t, onHost.Variables, "restart_policy")
	assert.NotContains(t, onHost.Variables, "replicas")

	k8s, err := ForEnvironment(def, EnvK8s)
	require.NoError(t, err)
	assert.Contains(t, k8s.Variables, "replicas")
	assert.NotContains(t, k8s.Variables, "restart_policy")
}

func TestForEnvironmentRejectsConflict(t *testing.T) {
	def := &Definition{
		Namespace: "ns", Name: "x", Version: "0.0.1",
		Variables: map[Environment]Tree{
			EnvCommon: {
				"scrape_interval": {Leaf: &VariableDefinition{Type: TypeString}},
			},
			EnvOnHost: {
				"scrape_interval": {Leaf: &VariableDefinition{Type: TypeString}},
			},
		},
	}
	_, err := ForEnvironment(def, EnvOnHost)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declared in both")
}

func TestParseDefinitionLeafVsSubmapping(t *testing.T) {
	raw := []byte(`
namespace: ns
name: x
version: 0.0.1
variables:
  common:
    top:
      nested:
        type: string
        default: hi
`)
	def, err := ParseDefinition(raw)
	require.NoError(t, err)
	top := def.Variables[EnvCommon]["top"]
	require.False(t, top.IsLeaf())
	nested := top.Children["nested"]
	require.True(t, nested.IsLeaf())
	assert.Equal(t, TypeString, nested.Leaf.Type)
	assert.Equal(t, "hi", nested.Leaf.Default)
}
