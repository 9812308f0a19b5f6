// Package supervisor declares the capability both deployment-shape
// supervisors (OnHost, K8s) implement, so the Sub-Agent runtime can treat
// them uniformly (§4.4, §4.5).
package supervisor

import "context"

// HealthEvent is what a supervisor publishes onto the sub-agent bus
// whenever its health assessment changes (§4.6
// "SubAgentInternalEvent::AgentHealthInfo").
type HealthEvent struct {
	Healthy   bool
	LastError string
}

// VersionEvent is published whenever a version probe/extraction produces a
// new value (§4.6 "SubAgentInternalEvent::AgentVersionInfo").
type VersionEvent struct {
	Version string
}

// Supervisor owns the running resources for one sub-agent (a set of OS
// processes, or a set of declared k8s objects) and the probes that
// observe them.
type Supervisor interface {
	// Apply brings the running resources in line with runtime, installing
	// packages or creating/updating objects as needed.
	Apply(ctx context.Context, runtime interface{}) error
	// Start begins background probing (health/version) and, for OnHost,
	// process supervision. Start is idempotent.
	Start(ctx context.Context) error
	// Stop releases every probe and process/object watch, blocking until
	// they have actually finished (§4.7 "Concurrency contract", P6).
	Stop(ctx context.Context) error
	// Health returns the channel health events are published on.
	Health() <-chan HealthEvent
	// Version returns the channel version events are published on.
	Version() <-chan VersionEvent
}
