// Package agentid implements the AgentID and AgentTypeID identifiers and
// the AgentIdentity pair described in §3 of the specification.
package agentid

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// Reserved is the literal AgentID reserved for the kernel itself.
const Reserved = "agent-control"

const maxLength = 32

// pattern enforces: 1-32 chars, lowercase alphanumeric or '-', starts
// alphabetic, ends alphanumeric. A single-character ID is just one letter.
var pattern = regexp.MustCompile(`^[a-z]([a-z0-9-]{0,30}[a-z0-9])?$`)

// ID is a validated AgentID.
type ID string

// New validates s as an AgentID. It does not reject the reserved name; use
// ValidateNonReserved for contexts (like parsing a dynamic config) where
// "agent-control" must never appear as a regular agent.
func New(s string) (ID, error) {
	if len(s) == 0 || len(s) > maxLength || !pattern.MatchString(s) {
		return "", fmt.Errorf(
			"agent id %q is invalid: must be 1-%d characters at most, lowercase alphanumeric or '-', start with a letter and end alphanumeric",
			s, maxLength)
	}
	return ID(s), nil
}

// ValidateNonReserved validates s as an AgentID and additionally rejects
// the reserved "agent-control" name, as required when parsing a remotely
// supplied AgentControlDynamicConfig (§4.7 step 1).
func ValidateNonReserved(s string) (ID, error) {
	id, err := New(s)
	if err != nil {
		return "", err
	}
	if string(id) == Reserved {
		return "", fmt.Errorf("agent id %q is reserved", Reserved)
	}
	return id, nil
}

// TypeID is the namespace/name:version triple identifying an agent type.
type TypeID struct {
	Namespace string
	Name      string
	Version   *semver.Version
}

var typeIDPattern = regexp.MustCompile(`^([^/]+)/([^:]+):(.+)$`)

// ParseTypeID parses "namespace/name:version" into a TypeID, validating
// that version is semver.
func ParseTypeID(fqn string) (TypeID, error) {
	m := typeIDPattern.FindStringSubmatch(fqn)
	if m == nil {
		return TypeID{}, fmt.Errorf("agent type id %q must have the form namespace/name:version", fqn)
	}
	v, err := semver.NewVersion(m[3])
	if err != nil {
		return TypeID{}, fmt.Errorf("agent type id %q has an invalid semver version: %w", fqn, err)
	}
	return TypeID{Namespace: m[1], Name: m[2], Version: v}, nil
}

// String renders the TypeID back to its canonical FQN form.
func (t TypeID) String() string {
	return fmt.Sprintf("%s/%s:%s", t.Namespace, t.Name, t.Version.Original())
}

// Identity is the stable (AgentID, AgentTypeID) handle for a sub-agent.
type Identity struct {
	ID     ID
	TypeID TypeID
}
