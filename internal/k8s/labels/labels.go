// Package labels centralises the ownership labels/annotations the control
// plane stamps on every object it manages (§3 "Labels & Annotations").
package labels

import (
	"github.com/newrelic/agent-control/internal/agentid"
)

const (
	ManagedByKey   = "app.kubernetes.io/managed-by"
	ManagedByValue = "newrelic-agent-control"

	AgentIDKey     = "newrelic.io/agent-id"
	AgentTypeIDKey = "newrelic.io/agent-type-id"
)

// Managed returns the ownership label set for an object belonging to id,
// to be merged on top of (never replacing) any user-declared labels.
func Managed(id agentid.ID) map[string]string {
	return map[string]string{
		ManagedByKey: ManagedByValue,
		AgentIDKey:   string(id),
	}
}

// TypeAnnotation returns the agent-type-id annotation for fqn.
func TypeAnnotation(fqn string) map[string]string {
	return map[string]string{
		AgentTypeIDKey: fqn,
	}
}

// IsManaged reports whether lbls carries the ownership label.
func IsManaged(lbls map[string]string) bool {
	return lbls[ManagedByKey] == ManagedByValue
}

// AgentIDOf returns the agent-id label, and whether it was present.
func AgentIDOf(lbls map[string]string) (string, bool) {
	v, ok := lbls[AgentIDKey]
	return v, ok
}

// IsDeletable reports whether an object carrying lbls is a legal GC target:
// managed by agent-control and not itself the reserved agent-control id
// (§4.8 "Safety").
func IsDeletable(lbls map[string]string) bool {
	if !IsManaged(lbls) {
		return false
	}
	id, ok := AgentIDOf(lbls)
	return ok && id != agentid.Reserved
}

// Merge augments userDeclared with defaults, giving the defaults' reserved
// agent-id key precedence over any user-declared value while letting every other
// user-declared key win over its same-named default (§4.5 "Reconcile loop").
func Merge(userDeclared, defaults map[string]string) map[string]string {
	out := make(map[string]string, len(userDeclared)+len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range userDeclared {
		if k == AgentIDKey {
			continue
		}
		out[k] = v
	}
	if v, ok := defaults[AgentIDKey]; ok {
		out[AgentIDKey] = v
	}
	return out
}
