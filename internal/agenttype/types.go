// Package agenttype parses agent-type definitions and resolves them for a
// target environment (§3, §4.2 of the specification).
package agenttype

import (
	"encoding/json"
	"fmt"

	"sigs.k8s.io/yaml"
)

// Environment is the deployment scope a variable or runtime_config belongs
// to: common to both, or specific to one of the two supported shapes.
type Environment string

const (
	EnvCommon Environment = "common"
	EnvK8s    Environment = "k8s"
	EnvOnHost Environment = "on_host"
)

// VariableType enumerates the scalar/composite types a variable leaf may
// declare.
type VariableType string

const (
	TypeString      VariableType = "string"
	TypeNumber      VariableType = "number"
	TypeBool        VariableType = "bool"
	TypeFile        VariableType = "file"
	TypeMapString   VariableType = "map[string]string"
	TypeMapFile     VariableType = "map[string]file"
)

// VariableDefinition is an end-node of the variables tree.
type VariableDefinition struct {
	Type        VariableType `json:"type"`
	Required    bool         `json:"required,omitempty"`
	Default     interface{}  `json:"default,omitempty"`
	Variants    []string     `json:"variants,omitempty"`
	Description string       `json:"description,omitempty"`
}

// leafFields is the set of JSON keys that, together with "type", identify
// a map as a VariableDefinition leaf rather than a sub-mapping of further
// variables.
var leafFields = map[string]bool{
	"type": true, "required": true, "default": true,
	"variants": true, "description": true,
}

// Node is one entry of the recursive variables mapping: either a Leaf
// (VariableDefinition) or a Children sub-mapping, never both.
type Node struct {
	Leaf     *VariableDefinition
	Children map[string]*Node
}

// IsLeaf reports whether this node is an end-node.
func (n *Node) IsLeaf() bool { return n != nil && n.Leaf != nil }

// UnmarshalJSON implements the leaf/sub-mapping discrimination described in
// §3: a node is a leaf iff it carries a string-valued "type" key and no keys
// outside the known VariableDefinition field set. A "type" key holding a
// mapping names a nested variable (e.g. restart_policy.type), not a leaf.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if isLeafShape(raw) {
		var def VariableDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			return err
		}
		n.Leaf = &def
		return nil
	}

	children := make(map[string]*Node, len(raw))
	for k, v := range raw {
		child := &Node{}
		if err := json.Unmarshal(v, child); err != nil {
			return fmt.Errorf("variable %q: %w", k, err)
		}
		children[k] = child
	}
	n.Children = children
	return nil
}

// MarshalJSON round-trips a Node back to its leaf or sub-mapping shape.
func (n Node) MarshalJSON() ([]byte, error) {
	if n.Leaf != nil {
		return json.Marshal(n.Leaf)
	}
	return json.Marshal(n.Children)
}

func isLeafShape(raw map[string]json.RawMessage) bool {
	typ, ok := raw["type"]
	if !ok {
		return false
	}
	var s string
	if err := json.Unmarshal(typ, &s); err != nil {
		return false
	}
	for k := range raw {
		if !leafFields[k] {
			return false
		}
	}
	return true
}

// Tree is a top-level variables mapping, keyed by the first path segment.
type Tree map[string]*Node

// Definition is an AgentTypeDefinition as parsed from YAML.
type Definition struct {
	Namespace     string                 `json:"namespace"`
	Name          string                 `json:"name"`
	Version       string                 `json:"version"`
	Variables     map[Environment]Tree   `json:"variables"`
	RuntimeConfig RuntimeConfig          `json:"runtime_config"`
}

// RuntimeConfig carries the per-environment deployment shape. The contents
// are kept as an untyped JSON tree (map[string]interface{}/[]interface{}
// /scalars) because, prior to rendering, it is just templated YAML: string
// leaves may contain ${nr-var:...}/${nr-env:...}/${nr-sub:...} references
// and {{if}}...{{end}} blocks (§4.2). Typed Executable/K8sObject shapes are
// produced only after rendering, by the assembler (§4.3).
type RuntimeConfig struct {
	OnHost interface{} `json:"on_host,omitempty"`
	K8s    interface{} `json:"k8s,omitempty"`
}

// DeploymentFor returns the raw (unrendered) deployment tree declared for
// the given environment.
func (r RuntimeConfig) DeploymentFor(env Environment) interface{} {
	switch env {
	case EnvOnHost:
		return r.OnHost
	case EnvK8s:
		return r.K8s
	default:
		return nil
	}
}

// FQN renders the definition's identity back to "namespace/name:version".
func (d Definition) FQN() string {
	return fmt.Sprintf("%s/%s:%s", d.Namespace, d.Name, d.Version)
}

// ParseDefinition parses a YAML document into a Definition.
func ParseDefinition(raw []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parsing agent type definition: %w", err)
	}
	return &def, nil
}
