package configrepository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/newrelic/agent-control/internal/agentid"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	return map[string]Backend{
		"file":      NewFileBackend(t.TempDir()),
		"configmap": NewConfigMapBackend(fake.NewSimpleClientset(), "newrelic"),
	}
}

func TestRepositoryLoadLocalMissingReturnsNil(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			repo := New(backend)
			cfg, err := repo.LoadLocal(agentid.ID("nr-infra"))
			require.NoError(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestRepositoryStoreAndLoadRemoteRoundTrips(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			repo := New(backend)
			id := agentid.ID("nr-infra")

			err := repo.StoreRemote(id, RemoteConfig{
				YAMLConfig: YAMLConfig("scrape_interval: 15s\n"),
				Hash:       "hash-1",
				State:      RemoteState{Phase: PhaseApplying},
			})
			require.NoError(t, err)

			got, err := repo.GetRemote(id)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "hash-1", got.Hash)
			assert.Equal(t, PhaseApplying, got.State.Phase)
			assert.Equal(t, "scrape_interval: 15s\n", string(got.YAMLConfig))
		})
	}
}

func TestRepositoryUpdateStateOnlyChangesState(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			repo := New(backend)
			id := agentid.ID("nr-infra")

			require.NoError(t, repo.StoreRemote(id, RemoteConfig{
				YAMLConfig: YAMLConfig("a: b\n"),
				Hash:       "hash-1",
				State:      RemoteState{Phase: PhaseApplying},
			}))

			require.NoError(t, repo.UpdateState(id, RemoteState{Phase: PhaseApplied}))

			got, err := repo.GetRemote(id)
			require.NoError(t, err)
			assert.Equal(t, "hash-1", got.Hash, "hash is immutable across state transitions")
			assert.Equal(t, PhaseApplied, got.State.Phase)
		})
	}
}

func TestRepositoryUpdateStateFailsWithoutRemote(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			repo := New(backend)
			err := repo.UpdateState(agentid.ID("nr-infra"), RemoteState{Phase: PhaseApplied})
			require.Error(t, err)
			var target *UpdateHashStateError
			assert.ErrorAs(t, err, &target)
		})
	}
}

func TestRepositoryDeleteRemoteFallsBackToLocal(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			repo := New(backend)
			id := agentid.ID("nr-infra")
			caps := Capabilities{RemoteManagement: true}

			require.NoError(t, repo.StoreRemote(id, RemoteConfig{
				YAMLConfig: YAMLConfig("remote: true\n"),
				Hash:       "hash-1",
				State:      RemoteState{Phase: PhaseApplied},
			}))

			effective, err := repo.LoadEffective(id, caps)
			require.NoError(t, err)
			require.NotNil(t, effective)
			assert.Equal(t, "remote: true\n", string(*effective))

			require.NoError(t, repo.DeleteRemote(id))

			effective, err = repo.LoadEffective(id, caps)
			require.NoError(t, err)
			assert.Nil(t, effective)
		})
	}
}

func TestRepositoryLoadRemoteRespectsCapabilities(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			repo := New(backend)
			id := agentid.ID("nr-infra")

			require.NoError(t, repo.StoreRemote(id, RemoteConfig{
				YAMLConfig: YAMLConfig("remote: true\n"),
				Hash:       "hash-1",
				State:      RemoteState{Phase: PhaseApplied},
			}))

			got, err := repo.LoadRemote(id, Capabilities{RemoteManagement: false})
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}
