package agenttype

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed embedded/*.yaml
var embeddedDefinitions embed.FS

// ErrAgentNotFound is returned when a FQN has no matching definition in
// the registry.
type ErrAgentNotFound struct {
	FQN string
}

func (e *ErrAgentNotFound) Error() string {
	return fmt.Sprintf("agent type %q not found in registry", e.FQN)
}

// Registry resolves an AgentTypeID FQN to its Definition.
type Registry interface {
	Lookup(fqn string) (*Definition, error)
}

// EmbeddedRegistry is the static registry (§4.2): agent-type definitions
// shipped inside the binary, keyed by FQN.
type EmbeddedRegistry struct {
	definitions map[string]*Definition
}

// NewEmbeddedRegistry parses every embedded/*.yaml file and indexes it by
// the FQN declared inside the document.
func NewEmbeddedRegistry() (*EmbeddedRegistry, error) {
	entries, err := embeddedDefinitions.ReadDir("embedded")
	if err != nil {
		return nil, fmt.Errorf("reading embedded agent type definitions: %w", err)
	}

	reg := &EmbeddedRegistry{definitions: map[string]*Definition{}}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		raw, err := embeddedDefinitions.ReadFile("embedded/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		def, err := ParseDefinition(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", entry.Name(), err)
		}
		reg.definitions[def.FQN()] = def
	}
	return reg, nil
}

// Lookup returns the Definition for fqn, or ErrAgentNotFound.
func (r *EmbeddedRegistry) Lookup(fqn string) (*Definition, error) {
	def, ok := r.definitions[fqn]
	if !ok {
		return nil, &ErrAgentNotFound{FQN: fqn}
	}
	return def, nil
}
