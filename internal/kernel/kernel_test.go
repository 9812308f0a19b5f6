package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newrelic/agent-control/internal/agentid"
	"github.com/newrelic/agent-control/internal/agenttype"
	"github.com/newrelic/agent-control/internal/assembler"
	"github.com/newrelic/agent-control/internal/configrepository"
	"github.com/newrelic/agent-control/internal/opamp"
	"github.com/newrelic/agent-control/internal/supervisor"
)

// fixedInstanceIDStore hands out a single, pre-set instance ID regardless of
// agent id, so a test can assert it reached the OpAMP client unchanged.
type fixedInstanceIDStore struct{ id uuid.UUID }

func (s fixedInstanceIDStore) Get(agentid.ID) (uuid.UUID, error) { return s.id, nil }

type fakeRegistry struct{ defs map[string]*agenttype.Definition }

func (f fakeRegistry) Lookup(fqn string) (*agenttype.Definition, error) {
	if def, ok := f.defs[fqn]; ok {
		return def, nil
	}
	return nil, &agenttype.ErrAgentNotFound{FQN: fqn}
}

func agentDefinition(namespace, name, version string) *agenttype.Definition {
	return &agenttype.Definition{
		Namespace: namespace,
		Name:      name,
		Version:   version,
		Variables: map[agenttype.Environment]agenttype.Tree{
			agenttype.EnvCommon: {
				"level": &agenttype.Node{Leaf: &agenttype.VariableDefinition{Type: agenttype.TypeString, Default: "info"}},
			},
		},
		RuntimeConfig: agenttype.RuntimeConfig{
			OnHost: map[string]interface{}{"log_level": "${nr-var:level}"},
		},
	}
}

type fakeSupervisor struct {
	health  chan supervisor.HealthEvent
	version chan supervisor.VersionEvent
	stopped bool
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{health: make(chan supervisor.HealthEvent, 4), version: make(chan supervisor.VersionEvent, 4)}
}

func (f *fakeSupervisor) Apply(context.Context, interface{}) error { return nil }
func (f *fakeSupervisor) Start(context.Context) error              { return nil }
func (f *fakeSupervisor) Stop(context.Context) error               { f.stopped = true; return nil }
func (f *fakeSupervisor) Health() <-chan supervisor.HealthEvent    { return f.health }
func (f *fakeSupervisor) Version() <-chan supervisor.VersionEvent  { return f.version }

type fakeChartUpdater struct {
	calls []string
}

func (u *fakeChartUpdater) UpdateChartVersion(_ context.Context, version string) error {
	u.calls = append(u.calls, version)
	return nil
}

func newTestKernel(t *testing.T, defs map[string]*agenttype.Definition, chart ChartUpdater) (*Kernel, map[agentid.ID]*fakeSupervisor) {
	t.Helper()
	repo := configrepository.New(configrepository.NewFileBackend(t.TempDir()))
	persister := assembler.NewFilePersister(t.TempDir())
	registry := fakeRegistry{defs: defs}

	sups := map[agentid.ID]*fakeSupervisor{}
	factory := SupervisorFactoryFunc(func(id agentid.ID, typeID agentid.TypeID) (supervisor.Supervisor, error) {
		s := newFakeSupervisor()
		sups[id] = s
		return s, nil
	})

	k := New(agenttype.EnvOnHost, registry, repo, persister, configrepository.Capabilities{}, factory, nil, nil, nil, chart)
	return k, sups
}

func TestStartBuildsEveryDeclaredAgent(t *testing.T) {
	defs := map[string]*agenttype.Definition{
		"newrelic/infra-agent:0.1.0": agentDefinition("newrelic", "infra-agent", "0.1.0"),
	}
	k, sups := newTestKernel(t, defs, nil)

	initial := &AgentControlDynamicConfig{
		Agents: map[agentid.ID]AgentConfig{
			"nr-infra": {AgentType: "newrelic/infra-agent:0.1.0"},
		},
	}
	require.NoError(t, k.Start(context.Background(), initial))
	assert.Len(t, sups, 1)
	assert.Contains(t, k.ActiveAgentSet(), agentid.ID("nr-infra"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, k.Stop(ctx))
}

func TestReconcileAddsRemovesAndChangesAgents(t *testing.T) {
	defs := map[string]*agenttype.Definition{
		"newrelic/infra-agent:0.1.0": agentDefinition("newrelic", "infra-agent", "0.1.0"),
		"newrelic/infra-agent:0.2.0": agentDefinition("newrelic", "infra-agent", "0.2.0"),
		"newrelic/otel-collector:1.0.0": agentDefinition("newrelic", "otel-collector", "1.0.0"),
	}
	k, sups := newTestKernel(t, defs, nil)

	initial := &AgentControlDynamicConfig{
		Agents: map[agentid.ID]AgentConfig{
			"nr-infra":    {AgentType: "newrelic/infra-agent:0.1.0"},
			"nr-removeme": {AgentType: "newrelic/infra-agent:0.1.0"},
		},
	}
	require.NoError(t, k.Start(context.Background(), initial))
	removedSup := sups["nr-removeme"]

	require.NoError(t, k.HandleRemoteConfig(context.Background(), "sha256:aaaa", []byte("agents:\n  nr-infra:\n    agent_type: newrelic/infra-agent:0.2.0\n  nr-otel:\n    agent_type: newrelic/otel-collector:1.0.0\n")))

	active := k.ActiveAgentSet()
	assert.NotContains(t, active, agentid.ID("nr-removeme"))
	assert.Equal(t, "newrelic/infra-agent:0.2.0", active[agentid.ID("nr-infra")])
	assert.Equal(t, "newrelic/otel-collector:1.0.0", active[agentid.ID("nr-otel")])
	assert.True(t, removedSup.stopped)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, k.Stop(ctx))
}

func TestReconcileUpdatesChartVersionOnlyWhenChanged(t *testing.T) {
	defs := map[string]*agenttype.Definition{
		"newrelic/infra-agent:0.1.0": agentDefinition("newrelic", "infra-agent", "0.1.0"),
	}
	chart := &fakeChartUpdater{}
	k, _ := newTestKernel(t, defs, chart)

	initial := &AgentControlDynamicConfig{
		Agents:         map[agentid.ID]AgentConfig{"nr-infra": {AgentType: "newrelic/infra-agent:0.1.0"}},
		CDChartVersion: "1.0.0",
	}
	require.NoError(t, k.Start(context.Background(), initial))
	assert.Equal(t, []string{"1.0.0"}, chart.calls)

	require.NoError(t, k.HandleRemoteConfig(context.Background(), "sha256:bbbb", []byte(
		"agents:\n  nr-infra:\n    agent_type: newrelic/infra-agent:0.1.0\ncd_chart_version: 1.0.0\n")))
	assert.Equal(t, []string{"1.0.0"}, chart.calls, "unchanged version must not trigger another update")

	require.NoError(t, k.HandleRemoteConfig(context.Background(), "sha256:cccc", []byte(
		"agents:\n  nr-infra:\n    agent_type: newrelic/infra-agent:0.1.0\ncd_chart_version: 1.1.0\n")))
	assert.Equal(t, []string{"1.0.0", "1.1.0"}, chart.calls)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, k.Stop(ctx))
}

func TestStartPassesResolvedInstanceIDToOpAMPFactory(t *testing.T) {
	defs := map[string]*agenttype.Definition{
		"newrelic/infra-agent:0.1.0": agentDefinition("newrelic", "infra-agent", "0.1.0"),
	}
	repo := configrepository.New(configrepository.NewFileBackend(t.TempDir()))
	persister := assembler.NewFilePersister(t.TempDir())
	registry := fakeRegistry{defs: defs}
	supervisors := SupervisorFactoryFunc(func(id agentid.ID, typeID agentid.TypeID) (supervisor.Supervisor, error) {
		return newFakeSupervisor(), nil
	})

	want := uuid.New()
	instanceIDs := fixedInstanceIDStore{id: want}

	var got uuid.UUID
	opamps := OpAMPFactoryFunc(func(id agentid.ID, typeID agentid.TypeID, instanceID uuid.UUID, cb opamp.Callbacks) (opamp.Client, error) {
		got = instanceID
		return opamp.NewRecordingClient(cb), nil
	})

	k := New(agenttype.EnvOnHost, registry, repo, persister, configrepository.Capabilities{}, supervisors, opamps, instanceIDs, nil, nil)

	initial := &AgentControlDynamicConfig{
		Agents: map[agentid.ID]AgentConfig{"nr-infra": {AgentType: "newrelic/infra-agent:0.1.0"}},
	}
	require.NoError(t, k.Start(context.Background(), initial))
	assert.Equal(t, want, got)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, k.Stop(ctx))
}

func TestHandleRemoteConfigRejectsReservedAgentID(t *testing.T) {
	k, _ := newTestKernel(t, map[string]*agenttype.Definition{}, nil)
	err := k.HandleRemoteConfig(context.Background(), "sha256:deadbeef", []byte("agents:\n  agent-control:\n    agent_type: newrelic/infra-agent:0.1.0\n"))
	require.Error(t, err)
}

func TestOpAMPRemoteConfigCallbackReachesSubAgent(t *testing.T) {
	defs := map[string]*agenttype.Definition{
		"newrelic/infra-agent:0.1.0": agentDefinition("newrelic", "infra-agent", "0.1.0"),
	}
	repo := configrepository.New(configrepository.NewFileBackend(t.TempDir()))
	persister := assembler.NewFilePersister(t.TempDir())
	registry := fakeRegistry{defs: defs}
	supervisors := SupervisorFactoryFunc(func(id agentid.ID, typeID agentid.TypeID) (supervisor.Supervisor, error) {
		return newFakeSupervisor(), nil
	})

	var rec *opamp.RecordingClient
	opamps := OpAMPFactoryFunc(func(id agentid.ID, typeID agentid.TypeID, instanceID uuid.UUID, cb opamp.Callbacks) (opamp.Client, error) {
		rec = opamp.NewRecordingClient(cb)
		return rec, nil
	})

	k := New(agenttype.EnvOnHost, registry, repo, persister, configrepository.Capabilities{}, supervisors, opamps, nil, nil, nil)

	initial := &AgentControlDynamicConfig{
		Agents: map[agentid.ID]AgentConfig{"nr-infra": {AgentType: "newrelic/infra-agent:0.1.0"}},
	}
	require.NoError(t, k.Start(context.Background(), initial))

	// Simulate the server delivering a RemoteConfigReceived event with a
	// remote-chosen hash, via the Callbacks the client was built with.
	rec.DeliverRemoteConfig(opamp.RemoteConfig{Hash: "sha256:deadbeef", Payload: []byte("level: debug\n")})

	remote, err := repo.GetRemote(agentid.ID("nr-infra"))
	require.NoError(t, err)
	require.NotNil(t, remote)
	assert.Equal(t, "sha256:deadbeef", remote.Hash)
	assert.Equal(t, configrepository.PhaseApplied, remote.State.Phase)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, k.Stop(ctx))
}
