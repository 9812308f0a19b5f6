package kernel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/newrelic/agent-control/internal/agentid"
	"github.com/newrelic/agent-control/internal/agenttype"
	"github.com/newrelic/agent-control/internal/assembler"
	"github.com/newrelic/agent-control/internal/configrepository"
	"github.com/newrelic/agent-control/internal/instanceid"
	"github.com/newrelic/agent-control/internal/opamp"
	"github.com/newrelic/agent-control/internal/subagent"
	"github.com/newrelic/agent-control/pkg/durations"
)

// ChartUpdater applies a `cd_chart_version` change to the kernel's own
// managing HelmRelease (§4.7 step 3). Only wired in the k8s variant.
type ChartUpdater interface {
	UpdateChartVersion(ctx context.Context, version string) error
}

// Kernel is the Agent Control Kernel (§4.7): it owns the dynamic config,
// the set of running Sub-Agents, and (in k8s mode) the ability to push a
// chart-version change to its own HelmRelease.
type Kernel struct {
	env         agenttype.Environment
	registry    agenttype.Registry
	repo        *configrepository.Repository
	persister   assembler.Persister
	caps        configrepository.Capabilities
	supervisors SupervisorFactory
	opamps      OpAMPFactory
	instanceIDs instanceid.Store
	kernelOpAMP opamp.Client
	chart       ChartUpdater
	log         *logrus.Entry

	reconcileMu sync.Mutex // "the kernel guarantees no two parallel reconciles"

	mu      sync.Mutex
	current *AgentControlDynamicConfig
	agents  map[agentid.ID]*StartedSubAgent
}

// New builds a Kernel. opamps, instanceIDs, kernelOpAMP and chart may all be
// nil: opamps/instanceIDs when no agent in this environment carries remote
// management, kernelOpAMP/chart on-host (the kernel has no HelmRelease to
// self-update there).
func New(
	env agenttype.Environment,
	registry agenttype.Registry,
	repo *configrepository.Repository,
	persister assembler.Persister,
	caps configrepository.Capabilities,
	supervisors SupervisorFactory,
	opamps OpAMPFactory,
	instanceIDs instanceid.Store,
	kernelOpAMP opamp.Client,
	chart ChartUpdater,
) *Kernel {
	return &Kernel{
		env:         env,
		registry:    registry,
		repo:        repo,
		persister:   persister,
		caps:        caps,
		supervisors: supervisors,
		opamps:      opamps,
		instanceIDs: instanceIDs,
		kernelOpAMP: kernelOpAMP,
		chart:       chart,
		log:         logrus.WithField("component", "kernel"),
		agents:      map[agentid.ID]*StartedSubAgent{},
	}
}

// Start loads the initial dynamic config, builds and runs every declared
// sub-agent, then starts the kernel's own OpAMP session if configured.
func (k *Kernel) Start(ctx context.Context, initial *AgentControlDynamicConfig) error {
	if err := k.reconcile(ctx, initial); err != nil {
		return fmt.Errorf("initial reconcile: %w", err)
	}
	if k.kernelOpAMP != nil {
		if err := k.kernelOpAMP.Start(ctx); err != nil {
			k.log.WithError(err).Error("failed to start kernel OpAMP client")
		}
	}
	return nil
}

// HandleRemoteConfig implements a kernel-targeted RemoteConfigReceived
// event (§4.7 "Reconcile"): parse, reconcile, then report Applied/Failed.
// hash is the opaque identifier the remote chose for payload (§3: "the
// local side never synthesises it").
func (k *Kernel) HandleRemoteConfig(ctx context.Context, hash string, payload []byte) error {
	next, err := ParseDynamicConfig(payload)
	if err != nil {
		k.reportStatus(hash, false, err.Error())
		return err
	}

	err = k.reconcile(ctx, next)
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	k.reportStatus(hash, err == nil, reason)
	return err
}

func (k *Kernel) reportStatus(hash string, applied bool, reason string) {
	if k.kernelOpAMP == nil {
		return
	}
	if err := k.kernelOpAMP.SetRemoteConfigStatus(hash, applied, reason); err != nil {
		k.log.WithError(err).Warn("failed to report dynamic config status to OpAMP")
	}
}

// reconcile implements §4.7 steps 2-3: diff the new config against the
// current one, stop removed/changed agents, start added/changed agents,
// and push a chart-version update when cd_chart_version changed. It holds
// reconcileMu for its whole duration, so a remote-config delivery arriving
// mid-reconcile simply blocks until this one finishes (§4.7 "Concurrency
// contract").
func (k *Kernel) reconcile(ctx context.Context, next *AgentControlDynamicConfig) error {
	k.reconcileMu.Lock()
	defer k.reconcileMu.Unlock()

	k.mu.Lock()
	current := k.current
	k.mu.Unlock()

	removed, added, changed := diffConfigs(current, next)

	for _, id := range removed {
		k.stopAgent(ctx, id)
	}
	for _, id := range changed {
		k.stopAgent(ctx, id)
	}
	added = append(added, changed...)

	var firstErr error
	for _, id := range added {
		if err := k.startAgent(ctx, id, next.Agents[id]); err != nil {
			k.log.WithError(err).WithField("agent_id", id).Error("failed to start sub-agent")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if k.chart != nil && next.CDChartVersion != "" &&
		(current == nil || current.CDChartVersion != next.CDChartVersion) {
		if err := k.chart.UpdateChartVersion(ctx, next.CDChartVersion); err != nil {
			k.log.WithError(err).Error("failed to update managing HelmRelease chart version")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	k.mu.Lock()
	k.current = next
	k.mu.Unlock()

	return firstErr
}

// diffConfigs computes removed/added/changed agent ids between two
// dynamic configs (§4.7 step 2). current may be nil (first reconcile).
func diffConfigs(current, next *AgentControlDynamicConfig) (removed, added, changed []agentid.ID) {
	var currentAgents map[agentid.ID]AgentConfig
	if current != nil {
		currentAgents = current.Agents
	}

	for id := range currentAgents {
		if _, ok := next.Agents[id]; !ok {
			removed = append(removed, id)
		}
	}
	for id, cfg := range next.Agents {
		old, ok := currentAgents[id]
		if !ok {
			added = append(added, id)
			continue
		}
		if old.AgentType != cfg.AgentType {
			changed = append(changed, id)
		}
	}
	return removed, added, changed
}

func (k *Kernel) startAgent(ctx context.Context, id agentid.ID, cfg AgentConfig) error {
	typeID, err := agentid.ParseTypeID(cfg.AgentType)
	if err != nil {
		return fmt.Errorf("agent %s: %w", id, err)
	}
	identity := agentid.Identity{ID: id, TypeID: typeID}

	sup, err := k.supervisors.NewSupervisor(id, typeID)
	if err != nil {
		return fmt.Errorf("building supervisor for %s: %w", id, err)
	}

	// agent is referenced by the OnRemoteConfig closure below before it
	// exists: the Client must be built (and handed its Callbacks) before
	// the Sub-Agent it belongs to, but the callback can only run once
	// OpAMP delivers an event, which is always after agent is assigned.
	var agent *subagent.SubAgent

	var client opamp.Client
	if k.opamps != nil {
		var instanceID uuid.UUID
		if k.instanceIDs != nil {
			instanceID, err = k.instanceIDs.Get(id)
			if err != nil {
				return fmt.Errorf("resolving instance id for %s: %w", id, err)
			}
		}
		cb := opamp.Callbacks{
			OnRemoteConfig: func(cfg opamp.RemoteConfig) {
				agent.HandleRemoteConfig(ctx, cfg.Hash, cfg.Payload)
			},
		}
		client, err = k.opamps.NewClient(id, typeID, instanceID, cb)
		if err != nil {
			return fmt.Errorf("building opamp client for %s: %w", id, err)
		}
	}

	asm := assembler.New(k.registry, k.repo, k.persister)
	agent = subagent.New(identity, k.env, asm, k.repo, k.caps, sup, client)
	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("starting sub-agent %s: %w", id, err)
	}

	k.mu.Lock()
	k.agents[id] = &StartedSubAgent{Config: cfg, Agent: agent}
	k.mu.Unlock()
	return nil
}

// stopAgent blocks until the sub-agent's Supervisor has released every
// probe and process, bounded by durations.ShutdownTaskTimeout (§4.7
// "Concurrency contract").
func (k *Kernel) stopAgent(ctx context.Context, id agentid.ID) {
	k.mu.Lock()
	started, ok := k.agents[id]
	if ok {
		delete(k.agents, id)
	}
	k.mu.Unlock()
	if !ok {
		return
	}

	stopCtx, cancel := context.WithTimeout(ctx, durations.ShutdownTaskTimeout)
	defer cancel()
	if err := started.Agent.Stop(stopCtx); err != nil {
		k.log.WithError(err).WithField("agent_id", id).Warn("sub-agent did not stop cleanly")
	}
}

// ActiveAgentSet returns the currently running agent ids mapped to their
// configured agent type FQN, for the Garbage Collector's diffing (§4.8
// step 1).
func (k *Kernel) ActiveAgentSet() map[agentid.ID]string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[agentid.ID]string, len(k.agents))
	for id, sa := range k.agents {
		out[id] = sa.Config.AgentType
	}
	return out
}

// Stop stops every running sub-agent concurrently, then the kernel's own
// OpAMP session.
func (k *Kernel) Stop(ctx context.Context) error {
	k.reconcileMu.Lock()
	defer k.reconcileMu.Unlock()

	k.mu.Lock()
	ids := make([]agentid.ID, 0, len(k.agents))
	for id := range k.agents {
		ids = append(ids, id)
	}
	k.mu.Unlock()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		group.Go(func() error {
			k.stopAgent(groupCtx, id)
			return nil
		})
	}
	_ = group.Wait()

	if k.kernelOpAMP != nil {
		return k.kernelOpAMP.Stop(ctx)
	}
	return nil
}
