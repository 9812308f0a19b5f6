// Package configrepository implements the AgentID → {local, remote} config
// store described in §4.1, backed by either a file tree or Kubernetes
// ConfigMaps.
package configrepository

import (
	"fmt"

	"github.com/newrelic/agent-control/internal/agentid"
)

// YAMLConfig is a raw YAML document, kept opaque to this package; callers
// (the assembler) are responsible for decoding it against a variable tree.
type YAMLConfig []byte

// Phase is the remote-config application state (§4.6's state machine).
type Phase string

const (
	PhaseApplying Phase = "applying"
	PhaseApplied  Phase = "applied"
	PhaseFailed   Phase = "failed"
)

// RemoteState carries the phase and, for Failed, the reason.
type RemoteState struct {
	Phase  Phase
	Reason string
}

// RemoteConfig is the persisted remote-config record (§3 "RemoteConfig").
// Hash is opaque and supplied by the remote side; this package never
// synthesises it, and never mutates it once stored (only State changes).
type RemoteConfig struct {
	YAMLConfig YAMLConfig
	Hash       string
	State      RemoteState
}

// Capabilities gates whether remote config is consulted at all for an
// agent — when fleet-control isn't configured, LoadRemote never reaches the
// backend and LoadEffective reads only the local config (§4.1 "never
// synthesises a hash").
type Capabilities struct {
	RemoteManagement bool
}

// Backend is the storage-specific half of the contract; Repository adds
// the capability gating and invariant enforcement on top.
type Backend interface {
	LoadLocal(id agentid.ID) (*YAMLConfig, error)
	LoadRemote(id agentid.ID) (*RemoteConfig, error)
	StoreRemote(id agentid.ID, cfg RemoteConfig) error
	UpdateRemoteState(id agentid.ID, state RemoteState) error
	DeleteRemote(id agentid.ID) error
}

// UpdateHashStateError is returned by UpdateState when no remote config is
// on record for the agent.
type UpdateHashStateError struct {
	AgentID agentid.ID
}

func (e *UpdateHashStateError) Error() string {
	return fmt.Sprintf("cannot update remote config state for %q: no remote config stored", e.AgentID)
}

// Repository is the Kernel/SubAgent-facing façade (§4.1 "Contract").
type Repository struct {
	backend Backend
}

func New(backend Backend) *Repository {
	return &Repository{backend: backend}
}

func (r *Repository) LoadLocal(id agentid.ID) (*YAMLConfig, error) {
	return r.backend.LoadLocal(id)
}

// LoadRemote returns nil (no error) when caps doesn't grant remote
// management, without ever touching the backend.
func (r *Repository) LoadRemote(id agentid.ID, caps Capabilities) (*RemoteConfig, error) {
	if !caps.RemoteManagement {
		return nil, nil
	}
	return r.backend.LoadRemote(id)
}

// LoadEffective returns the remote config's YAML if present, else local,
// else nil if neither exists.
func (r *Repository) LoadEffective(id agentid.ID, caps Capabilities) (*YAMLConfig, error) {
	remote, err := r.LoadRemote(id, caps)
	if err != nil {
		return nil, err
	}
	if remote != nil {
		cfg := remote.YAMLConfig
		return &cfg, nil
	}
	return r.LoadLocal(id)
}

// StoreRemote persists hash+state together (§4.1 invariant).
func (r *Repository) StoreRemote(id agentid.ID, cfg RemoteConfig) error {
	return r.backend.StoreRemote(id, cfg)
}

// UpdateState mutates only the state of an already-stored remote config.
func (r *Repository) UpdateState(id agentid.ID, state RemoteState) error {
	existing, err := r.backend.LoadRemote(id)
	if err != nil {
		return err
	}
	if existing == nil {
		return &UpdateHashStateError{AgentID: id}
	}
	return r.backend.UpdateRemoteState(id, state)
}

func (r *Repository) GetRemote(id agentid.ID) (*RemoteConfig, error) {
	return r.backend.LoadRemote(id)
}

func (r *Repository) DeleteRemote(id agentid.ID) error {
	return r.backend.DeleteRemote(id)
}
