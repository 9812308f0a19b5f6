// Package opamp declares the OpAMP client capability the Sub-Agent event
// loop depends on (§4.6). Per §1's scope ("the on-the-wire OpAMP framing
// — an abstract OpampClient capability is assumed; remote-config payload
// semantics are in scope"), this package is the capability boundary only:
// no concrete network transport lives here, only the message/attribute
// semantics the core actually reasons about.
package opamp

import (
	"context"

	"github.com/newrelic/agent-control/internal/agentid"
)

// RemoteConfig is the payload delivered by OpAMPEvent::RemoteConfigReceived
// (§4.6): an opaque hash plus the raw YAML body addressed to this agent.
type RemoteConfig struct {
	Hash    string
	Payload []byte
}

// IdentifyingAttributes are the attributes §6 requires on every Connected
// event: service.namespace/name/version plus the deployment-specific
// host.name or k8s.cluster.name, and the kernel's own instance id.
type IdentifyingAttributes struct {
	ServiceNamespace string
	ServiceName      string
	ServiceVersion   string
	HostName         string
	ClusterName      string
	ParentAgentID    string
}

// Callbacks lets the owning Sub-Agent react to OpAMP-side events without
// this package knowing about the sub-agent/kernel types (§4.6 events).
type Callbacks struct {
	OnConnected     func()
	OnConnectFailed func(err error)
	OnRemoteConfig  func(cfg RemoteConfig)
	OnServerError   func(msg string)
}

// Client is the capability a Sub-Agent or the Kernel needs from an OpAMP
// session: connect, report health/version, report remote-config status,
// disconnect. The wire protocol, transport and auth behind it are out of
// core scope (§1) and are supplied by whatever concrete implementation is
// wired in at the process boundary.
type Client interface {
	// Start opens the session; Connected/RemoteConfigReceived events
	// arrive via the Callbacks passed to the concrete implementation's
	// constructor.
	Start(ctx context.Context) error
	// Stop closes the session. The Sub-Agent event loop calls this last,
	// after probes and supervisor have already stopped (§4.6 "Stop").
	Stop(ctx context.Context) error
	// ReportHealth forwards a SubAgentInternalEvent::AgentHealthInfo as a
	// ComponentHealth status update.
	ReportHealth(healthy bool, lastError string) error
	// ReportVersion updates the agent.version non-identifying attribute in
	// response to a SubAgentInternalEvent::AgentVersionInfo.
	ReportVersion(version string) error
	// SetRemoteConfigStatus reports the outcome of applying a remote
	// config, mirroring §4.6's remote-config state machine.
	SetRemoteConfigStatus(hash string, applied bool, reason string) error
}

// Identity carries the (AgentID, AgentTypeID) pair a concrete Client
// implementation may want for its agent description, without this
// package depending on agenttype for the FQN's structure.
type Identity = agentid.Identity
