package instanceid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/newrelic/agent-control/internal/agentid"
)

func TestFileStoreIsStableAcrossCalls(t *testing.T) {
	store := NewFileStore(t.TempDir())
	id := agentid.ID("nr-infra")

	first, err := store.Get(id)
	require.NoError(t, err)

	second, err := store.Get(id)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestFileStoreDistinctPerAgent(t *testing.T) {
	store := NewFileStore(t.TempDir())

	a, err := store.Get(agentid.ID("nr-infra"))
	require.NoError(t, err)
	b, err := store.Get(agentid.ID("nr-otel"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestConfigMapStoreIsStableAcrossCalls(t *testing.T) {
	store := NewConfigMapStore(fake.NewSimpleClientset(), "newrelic")
	id := agentid.ID("nr-infra")

	first, err := store.Get(id)
	require.NoError(t, err)

	second, err := store.Get(id)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
