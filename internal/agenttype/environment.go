package agenttype

import "fmt"

// AgentType is the environment-resolved view of a Definition: the merge of
// its common and environment-specific variables, and only the selected
// environment's runtime_config (§4.2 "Environment resolution").
type AgentType struct {
	FQN        string
	Variables  Tree
	Deployment interface{}
}

// ForEnvironment merges a Definition's common and env-specific variable
// trees and selects the matching deployment shape. It rejects any leaf
// path declared in both scopes, per the "MUST NOT re-declare" invariant in
// §3.
func ForEnvironment(def *Definition, env Environment) (*AgentType, error) {
	common := def.Variables[EnvCommon]
	specific := def.Variables[env]

	merged, err := mergeTrees(common, specific)
	if err != nil {
		return nil, fmt.Errorf("agent type %s: %w", def.FQN(), err)
	}

	return &AgentType{
		FQN:        def.FQN(),
		Variables:  merged,
		Deployment: def.RuntimeConfig.DeploymentFor(env),
	}, nil
}

// mergeTrees merges common into specific, recursively, failing on any leaf
// path present in both.
func mergeTrees(common, specific Tree) (Tree, error) {
	out := make(Tree, len(common)+len(specific))
	for k, v := range common {
		out[k] = v
	}
	for k, specNode := range specific {
		commonNode, exists := out[k]
		if !exists {
			out[k] = specNode
			continue
		}
		merged, err := mergeNode(commonNode, specNode, k)
		if err != nil {
			return nil, err
		}
		out[k] = merged
	}
	return out, nil
}

func mergeNode(a, b *Node, path string) (*Node, error) {
	if a.IsLeaf() || b.IsLeaf() {
		return nil, fmt.Errorf("variable %q is declared in both common and environment scopes", path)
	}
	children, err := mergeChildTrees(a.Children, b.Children, path)
	if err != nil {
		return nil, err
	}
	return &Node{Children: children}, nil
}

func mergeChildTrees(a, b map[string]*Node, path string) (map[string]*Node, error) {
	out := make(map[string]*Node, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, bNode := range b {
		aNode, exists := out[k]
		childPath := path + "." + k
		if !exists {
			out[k] = bNode
			continue
		}
		merged, err := mergeNode(aNode, bNode, childPath)
		if err != nil {
			return nil, err
		}
		out[k] = merged
	}
	return out, nil
}
