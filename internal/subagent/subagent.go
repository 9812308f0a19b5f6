// Package subagent implements the per-agent event loop and remote-config
// state machine described in §4.6.
package subagent

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/newrelic/agent-control/internal/agentid"
	"github.com/newrelic/agent-control/internal/agenttype"
	"github.com/newrelic/agent-control/internal/assembler"
	"github.com/newrelic/agent-control/internal/configrepository"
	"github.com/newrelic/agent-control/internal/eventbus"
	"github.com/newrelic/agent-control/internal/opamp"
	"github.com/newrelic/agent-control/internal/supervisor"
)

// StatusEvent is a snapshot this sub-agent publishes on its status bus
// whenever health, version or remote-config state changes — consumed by
// the kernel's status reporting / CLI, independent of whether an OpAMP
// client is configured for this agent.
type StatusEvent struct {
	AgentID     agentid.ID
	Healthy     bool
	LastError   string
	Version     string
	RemoteState configrepository.RemoteState
}

// SubAgent owns one agent's Supervisor, Assembler, optional OpAMP client
// and remote-config state machine (§4.6).
type SubAgent struct {
	identity  agentid.Identity
	env       agenttype.Environment
	assembler *assembler.Assembler
	repo      *configrepository.Repository
	caps      configrepository.Capabilities
	sup       supervisor.Supervisor
	opamp     opamp.Client
	log       *logrus.Entry

	status *eventbus.Bus[StatusEvent]

	mu          sync.Mutex
	applyMu     sync.Mutex
	pendingHash string

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New builds a SubAgent. opampClient may be nil when the kernel has no
// fleet-control endpoint configured (§4.6 "Optional OpAMP client").
func New(
	identity agentid.Identity,
	env agenttype.Environment,
	asm *assembler.Assembler,
	repo *configrepository.Repository,
	caps configrepository.Capabilities,
	sup supervisor.Supervisor,
	opampClient opamp.Client,
) *SubAgent {
	return &SubAgent{
		identity:  identity,
		env:       env,
		assembler: asm,
		repo:      repo,
		caps:      caps,
		sup:       sup,
		opamp:     opampClient,
		log:       logrus.WithField("agent_id", string(identity.ID)),
		status:    eventbus.New[StatusEvent](4),
	}
}

// Status returns a subscription to this agent's status bus.
func (a *SubAgent) Status() *eventbus.Subscription[StatusEvent] {
	return a.status.Subscribe()
}

// Start performs the initial assembly + apply, then launches the
// supervisor and the per-agent event loop (§4.6). If opamp is configured,
// its session is started too.
func (a *SubAgent) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.applyOnce(runCtx); err != nil {
		a.log.WithError(err).Error("initial assembly failed")
		cancel()
		return err
	}
	if err := a.sup.Start(runCtx); err != nil {
		cancel()
		return err
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	a.group = group

	group.Go(func() error {
		a.eventLoop(groupCtx)
		return nil
	})

	if a.opamp != nil {
		if err := a.opamp.Start(runCtx); err != nil {
			a.log.WithError(err).Error("failed to start OpAMP client")
		}
	}

	return nil
}

// eventLoop selects over {internal_events (health/version), stop_signal}
// (§4.6). RemoteConfigReceived doesn't flow through this loop: it arrives
// via the Callbacks.OnRemoteConfig the Client was built with, which calls
// HandleRemoteConfig directly from whatever goroutine the Client delivers
// on.
func (a *SubAgent) eventLoop(ctx context.Context) {
	health := a.sup.Health()
	version := a.sup.Version()

	var lastVersion string
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-health:
			if !ok {
				return
			}
			a.publishStatus(ev.Healthy, ev.LastError, lastVersion)
			if a.opamp != nil {
				if err := a.opamp.ReportHealth(ev.Healthy, ev.LastError); err != nil {
					a.log.WithError(err).Warn("failed to report health to OpAMP")
				}
			}
		case ev, ok := <-version:
			if !ok {
				return
			}
			lastVersion = ev.Version
			a.publishStatus(true, "", ev.Version)
			if a.opamp != nil {
				if err := a.opamp.ReportVersion(ev.Version); err != nil {
					a.log.WithError(err).Warn("failed to report version to OpAMP")
				}
			}
		}
	}
}

func (a *SubAgent) publishStatus(healthy bool, lastError, version string) {
	a.status.Publish(StatusEvent{
		AgentID:   a.identity.ID,
		Healthy:   healthy,
		LastError: lastError,
		Version:   version,
	})
}

// HandleRemoteConfig implements §4.6's OpAMPEvent::RemoteConfigReceived:
// persist as Applying, assemble+apply, then transition to Applied or
// Failed(msg), leaving the previously running supervisor untouched on
// failure. hash is the opaque identifier the remote chose for payload
// (§3: "the local side never synthesises it"). Remote-config application
// is strictly serialised per agent (§5 "Ordering guarantees"); a newer
// hash arriving while an apply is in flight is handled after the current
// one returns, most-recent-wins.
func (a *SubAgent) HandleRemoteConfig(ctx context.Context, hash string, payload []byte) {
	a.mu.Lock()
	a.pendingHash = hash
	a.mu.Unlock()

	a.applyMu.Lock()
	defer a.applyMu.Unlock()

	a.mu.Lock()
	current := a.pendingHash
	a.mu.Unlock()
	if current != hash {
		// a newer config arrived while we waited for the lock; let its
		// own call handle application instead of reapplying a stale one.
		return
	}

	cfg := configrepository.RemoteConfig{
		YAMLConfig: configrepository.YAMLConfig(payload),
		Hash:       hash,
		State:      configrepository.RemoteState{Phase: configrepository.PhaseApplying},
	}
	if err := a.repo.StoreRemote(a.identity.ID, cfg); err != nil {
		a.log.WithError(err).Error("failed to persist remote config")
		return
	}

	applyErr := a.applyOnce(ctx)

	state := configrepository.RemoteState{Phase: configrepository.PhaseApplied}
	if applyErr != nil {
		state = configrepository.RemoteState{Phase: configrepository.PhaseFailed, Reason: applyErr.Error()}
	}
	if err := a.repo.UpdateState(a.identity.ID, state); err != nil {
		a.log.WithError(err).Error("failed to update remote config state")
	}
	if a.opamp != nil {
		if err := a.opamp.SetRemoteConfigStatus(hash, applyErr == nil, state.Reason); err != nil {
			a.log.WithError(err).Warn("failed to report remote config status to OpAMP")
		}
	}
	a.publishRemoteState(state)
}

func (a *SubAgent) publishRemoteState(state configrepository.RemoteState) {
	a.status.Publish(StatusEvent{AgentID: a.identity.ID, RemoteState: state})
}

func (a *SubAgent) applyOnce(ctx context.Context) error {
	effective, err := a.assembler.Assemble(a.identity, a.env, a.caps)
	if err != nil {
		return fmt.Errorf("assembling %s: %w", a.identity.ID, err)
	}
	return a.sup.Apply(ctx, effective.Runtime)
}

// Stop stops probes, supervisor, then OpAMP, in that order (§4.6 "Stop").
func (a *SubAgent) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.group != nil {
		_ = a.group.Wait()
	}

	var firstErr error
	if err := a.sup.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.opamp != nil {
		if err := a.opamp.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.status.Close()
	return firstErr
}
