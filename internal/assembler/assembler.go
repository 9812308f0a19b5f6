// Package assembler implements the Effective-Agent Assembler (§4.3): given
// an AgentIdentity and environment, it loads the effective YAML config,
// resolves the AgentType, fills variables, renders the runtime_config tree
// and materialises file leaves, producing an EffectiveAgent or failing the
// whole assembly atomically.
package assembler

import (
	"fmt"

	"sigs.k8s.io/yaml"

	"github.com/newrelic/agent-control/internal/agentid"
	"github.com/newrelic/agent-control/internal/agenttype"
	"github.com/newrelic/agent-control/internal/configrepository"
	"github.com/newrelic/agent-control/internal/render"
)

// Persister owns a per-agent directory where rendered file leaves are
// materialised. Files not referenced by the latest render MUST be pruned
// (§4.3 step 5).
type Persister interface {
	// Persist writes content under a name stable for (agentID, name) and
	// returns the path the executable/manifest should reference.
	Persist(agentID agentid.ID, name string, content []byte) (string, error)
	// Prune removes any previously-persisted file for agentID whose name
	// isn't in keep.
	Prune(agentID agentid.ID, keep []string) error
}

// EffectiveAgent is the assembler's output (§3 "EffectiveAgent").
type EffectiveAgent struct {
	Identity agentid.Identity
	Runtime  interface{}
}

type Assembler struct {
	Registry   agenttype.Registry
	Repository *configrepository.Repository
	Persister  Persister
}

func New(registry agenttype.Registry, repository *configrepository.Repository, persister Persister) *Assembler {
	return &Assembler{Registry: registry, Repository: repository, Persister: persister}
}

// Assemble implements §4.3's six steps. Any failing step aborts the whole
// assembly; callers must leave the previously running Supervisor untouched
// on error (§4.3 "Failure semantics").
func (a *Assembler) Assemble(identity agentid.Identity, env agenttype.Environment, caps configrepository.Capabilities) (*EffectiveAgent, error) {
	yamlCfg, err := a.Repository.LoadEffective(identity.ID, caps)
	if err != nil {
		return nil, fmt.Errorf("loading effective config for %s: %w", identity.ID, err)
	}

	var userValues map[string]interface{}
	if yamlCfg != nil {
		if err := yaml.Unmarshal(*yamlCfg, &userValues); err != nil {
			return nil, fmt.Errorf("decoding config for %s: %w", identity.ID, err)
		}
	}

	def, err := a.Registry.Lookup(identity.TypeID.String())
	if err != nil {
		return nil, fmt.Errorf("resolving agent type for %s: %w", identity.ID, err)
	}

	agentType, err := agenttype.ForEnvironment(def, env)
	if err != nil {
		return nil, fmt.Errorf("resolving environment for %s: %w", identity.ID, err)
	}

	filled, err := render.Fill(agentType.Variables, userValues)
	if err != nil {
		return nil, fmt.Errorf("filling variables for %s: %w", identity.ID, err)
	}

	if missing := render.RequiredMissing(agentType.Variables, filled.Values); len(missing) > 0 {
		return nil, fmt.Errorf("agent %s is missing required variables: %v", identity.ID, missing)
	}

	ctx := render.ExpandContext{Values: filled.Values, AgentID: string(identity.ID)}
	rendered, err := render.Render(agentType.Deployment, filled.Values, ctx)
	if err != nil {
		return nil, fmt.Errorf("rendering runtime config for %s: %w", identity.ID, err)
	}

	persisted, err := a.persistFiles(identity.ID, rendered)
	if err != nil {
		return nil, fmt.Errorf("persisting file leaves for %s: %w", identity.ID, err)
	}

	if err := a.Persister.Prune(identity.ID, persisted); err != nil {
		return nil, fmt.Errorf("pruning stale files for %s: %w", identity.ID, err)
	}

	return &EffectiveAgent{Identity: identity, Runtime: rendered}, nil
}

// persistFiles walks the rendered tree, writing every render.FileValue (or
// map[string]render.FileValue entry) it finds via the Persister, rewriting
// its Path in place and returning every name written so callers can prune
// what's no longer referenced.
func (a *Assembler) persistFiles(id agentid.ID, node interface{}) ([]string, error) {
	var names []string
	if err := a.walkAndPersist(id, node, &names); err != nil {
		return nil, err
	}
	return names, nil
}

func (a *Assembler) walkAndPersist(id agentid.ID, node interface{}, names *[]string) error {
	switch v := node.(type) {
	case map[string]interface{}:
		for key, child := range v {
			switch fv := child.(type) {
			case render.FileValue:
				persisted, err := a.persistOne(id, key, fv, names)
				if err != nil {
					return err
				}
				v[key] = persisted
			case map[string]render.FileValue:
				out := make(map[string]render.FileValue, len(fv))
				for subKey, sub := range fv {
					persisted, err := a.persistOne(id, key+"."+subKey, sub, names)
					if err != nil {
						return err
					}
					out[subKey] = persisted
				}
				v[key] = out
			default:
				if err := a.walkAndPersist(id, child, names); err != nil {
					return err
				}
			}
		}
	case []interface{}:
		for _, child := range v {
			if err := a.walkAndPersist(id, child, names); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Assembler) persistOne(id agentid.ID, name string, fv render.FileValue, names *[]string) (render.FileValue, error) {
	path, err := a.Persister.Persist(id, name, []byte(fv.Content))
	if err != nil {
		return render.FileValue{}, err
	}
	*names = append(*names, name)
	fv.Path = path
	return fv, nil
}
