package assembler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newrelic/agent-control/internal/agentid"
	"github.com/newrelic/agent-control/internal/agenttype"
	"github.com/newrelic/agent-control/internal/configrepository"
)

type fakeRegistry struct {
	def *agenttype.Definition
}

func (f fakeRegistry) Lookup(fqn string) (*agenttype.Definition, error) {
	if fqn != f.def.FQN() {
		return nil, &agenttype.ErrAgentNotFound{FQN: fqn}
	}
	return f.def, nil
}

func sampleDefinition() *agenttype.Definition {
	return &agenttype.Definition{
		Namespace: "newrelic",
		Name:      "infra-agent",
		Version:   "0.1.0",
		Variables: map[agenttype.Environment]agenttype.Tree{
			agenttype.EnvCommon: {
				"scrape_interval": &agenttype.Node{Leaf: &agenttype.VariableDefinition{
					Type: agenttype.TypeString, Default: "10s",
				}},
				"enable_debug": &agenttype.Node{Leaf: &agenttype.VariableDefinition{
					Type: agenttype.TypeBool, Default: false,
				}},
				"cert": &agenttype.Node{Leaf: &agenttype.VariableDefinition{
					Type: agenttype.TypeFile, Default: "default-cert-body",
				}},
			},
		},
		RuntimeConfig: agenttype.RuntimeConfig{
			OnHost: map[string]interface{}{
				"log_level": "{{if enable_debug}}debug{{else}}info{{end}}:${nr-var:scrape_interval}",
				"cert_file": "${nr-var:cert}",
			},
		},
	}
}

func newTestAssembler(t *testing.T, localYAML string) *Assembler {
	t.Helper()
	repoBase := t.TempDir()
	repo := configrepository.New(configrepository.NewFileBackend(repoBase))

	if localYAML != "" {
		localDir := filepath.Join(repoBase, "local-data", "nr-infra")
		require.NoError(t, os.MkdirAll(localDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(localDir, "local_config.yaml"), []byte(localYAML), 0o644))
	}

	return New(fakeRegistry{def: sampleDefinition()}, repo, NewFilePersister(t.TempDir()))
}

func testIdentity() agentid.Identity {
	typeID, err := agentid.ParseTypeID("newrelic/infra-agent:0.1.0")
	if err != nil {
		panic(err)
	}
	return agentid.Identity{ID: agentid.ID("nr-infra"), TypeID: typeID}
}

func TestAssembleRendersConditionalAndExpansion(t *testing.T) {
	a := newTestAssembler(t, "enable_debug: true\nscrape_interval: 15s\n")

	agent, err := a.Assemble(testIdentity(), agenttype.EnvOnHost, configrepository.Capabilities{})
	require.NoError(t, err)

	runtime, ok := agent.Runtime.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "debug:15s", runtime["log_level"])
}

func TestAssembleProducesExpectedRuntimeTree(t *testing.T) {
	a := newTestAssembler(t, "enable_debug: true\nscrape_interval: 15s\n")

	agent, err := a.Assemble(testIdentity(), agenttype.EnvOnHost, configrepository.Capabilities{})
	require.NoError(t, err)

	runtime, ok := agent.Runtime.(map[string]interface{})
	require.True(t, ok)

	want := map[string]interface{}{
		"log_level": "debug:15s",
		"cert_file": runtime["cert_file"], // persisted path under the test's temp dir, not predictable
	}
	if diff := cmp.Diff(want, runtime); diff != "" {
		t.Fatalf("rendered runtime tree does not match (-want +got):\n%s", diff)
	}
}

func TestAssemblePersistsFileLeafAndPrunesStale(t *testing.T) {
	a := newTestAssembler(t, "")

	persister := a.Persister.(*FilePersister)
	dir := persister.agentDir(agentid.ID("nr-infra"))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale_leaf"), []byte("old"), 0o644))

	agent, err := a.Assemble(testIdentity(), agenttype.EnvOnHost, configrepository.Capabilities{})
	require.NoError(t, err)

	runtime := agent.Runtime.(map[string]interface{})
	fv, ok := runtime["cert_file"]
	require.True(t, ok)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "exactly the referenced file leaf should be persisted")

	content, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "default-cert-body", string(content))
	assert.NotEmpty(t, fv)
}

func TestAssembleFailsOnUnknownAgentType(t *testing.T) {
	a := newTestAssembler(t, "")
	identity := testIdentity()
	badType, err := agentid.ParseTypeID("newrelic/unknown:1.0.0")
	require.NoError(t, err)
	identity.TypeID = badType

	_, err = a.Assemble(identity, agenttype.EnvOnHost, configrepository.Capabilities{})
	assert.Error(t, err)
}
