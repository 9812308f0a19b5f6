// Package kernel implements the Agent Control Kernel (§4.7): the top-level
// reconcile loop that owns the dynamic config, the kernel's own OpAMP
// session (if any), and the map of currently running Sub-Agents.
package kernel

import (
	"github.com/google/uuid"

	"github.com/newrelic/agent-control/internal/agentid"
	"github.com/newrelic/agent-control/internal/opamp"
	"github.com/newrelic/agent-control/internal/subagent"
	"github.com/newrelic/agent-control/internal/supervisor"
)

// AgentConfig is the per-agent remotely-mutable portion of the kernel's
// dynamic config (§3 "AgentControlDynamicConfig").
type AgentConfig struct {
	AgentType string
}

// AgentControlDynamicConfig is the remotely-mutable portion of kernel
// config: which agents should run and, for the k8s variant, the chart
// version the kernel's own HelmRelease should pin (§3).
type AgentControlDynamicConfig struct {
	Agents         map[agentid.ID]AgentConfig
	CDChartVersion string
}

// StartedSubAgent pairs a running Sub-Agent with the config it was built
// from, so a later reconcile can tell whether its agent_type changed.
type StartedSubAgent struct {
	Config AgentConfig
	Agent  *subagent.SubAgent
}

// SupervisorFactory builds the environment-specific Supervisor (OnHost or
// K8s) for one sub-agent identity. The kernel doesn't know which
// environment it's running in beyond what it was constructed with.
type SupervisorFactory interface {
	NewSupervisor(id agentid.ID, typeID agentid.TypeID) (supervisor.Supervisor, error)
}

// SupervisorFactoryFunc adapts a plain function to SupervisorFactory.
type SupervisorFactoryFunc func(id agentid.ID, typeID agentid.TypeID) (supervisor.Supervisor, error)

func (f SupervisorFactoryFunc) NewSupervisor(id agentid.ID, typeID agentid.TypeID) (supervisor.Supervisor, error) {
	return f(id, typeID)
}

// OpAMPFactory builds a per-agent OpAMP client, identified to the remote
// endpoint by its stable instance ID (§2 "Instance-ID Store"). cb.OnRemoteConfig
// is how the resulting client hands a RemoteConfigReceived event (remote-chosen
// hash plus payload, §3) back to this agent's Sub-Agent. Returning (nil, nil)
// is valid and means this agent runs without fleet control (§4.6 "Optional
// OpAMP client").
type OpAMPFactory interface {
	NewClient(id agentid.ID, typeID agentid.TypeID, instanceID uuid.UUID, cb opamp.Callbacks) (opamp.Client, error)
}

// OpAMPFactoryFunc adapts a plain function to OpAMPFactory.
type OpAMPFactoryFunc func(id agentid.ID, typeID agentid.TypeID, instanceID uuid.UUID, cb opamp.Callbacks) (opamp.Client, error)

func (f OpAMPFactoryFunc) NewClient(id agentid.ID, typeID agentid.TypeID, instanceID uuid.UUID, cb opamp.Callbacks) (opamp.Client, error) {
	return f(id, typeID, instanceID, cb)
}
