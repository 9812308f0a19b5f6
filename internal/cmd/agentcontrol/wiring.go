package agentcontrol

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	ctrl "sigs.k8s.io/controller-runtime"

	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"

	"github.com/newrelic/agent-control/internal/agentid"
	"github.com/newrelic/agent-control/internal/agenttype"
	"github.com/newrelic/agent-control/internal/assembler"
	"github.com/newrelic/agent-control/internal/config"
	"github.com/newrelic/agent-control/internal/configrepository"
	"github.com/newrelic/agent-control/internal/gc"
	"github.com/newrelic/agent-control/internal/httpclient"
	"github.com/newrelic/agent-control/internal/instanceid"
	"github.com/newrelic/agent-control/internal/kernel"
	"github.com/newrelic/agent-control/internal/oci"
	"github.com/newrelic/agent-control/internal/supervisor"
	k8ssupervisor "github.com/newrelic/agent-control/internal/supervisor/k8s"
	"github.com/newrelic/agent-control/internal/supervisor/onhost"
	"github.com/newrelic/agent-control/pkg/durations"
)

// build wires every SPEC_FULL.md component the kernel needs, branching on
// environment the same way the kernel's own agenttype.ForEnvironment does:
// a ConfigMap-backed repository and k8s Supervisor in-cluster, a file-backed
// repository and OnHost Supervisor otherwise. collector is nil on-host —
// the GC is a k8s-only concern (§4.8).
func build(ctx context.Context, cfg *config.LocalConfig, dataDir string) (*kernel.Kernel, *gc.Collector, error) {
	registry, err := agenttype.NewEmbeddedRegistry()
	if err != nil {
		return nil, nil, fmt.Errorf("loading embedded agent type registry: %w", err)
	}

	persister := assembler.NewFilePersister(filepath.Join(dataDir, "rendered"))
	caps := configrepository.Capabilities{RemoteManagement: cfg.HasFleetControl()}
	opamps := opampFactory(cfg)

	if cfg.IsK8s() {
		return buildK8s(cfg, registry, persister, caps, opamps)
	}
	return buildOnHost(ctx, cfg, dataDir, registry, persister, caps, opamps)
}

func buildK8s(
	cfg *config.LocalConfig,
	registry agenttype.Registry,
	persister assembler.Persister,
	caps configrepository.Capabilities,
	opamps kernel.OpAMPFactory,
) (*kernel.Kernel, *gc.Collector, error) {
	restConfig := ctrl.GetConfigOrDie()

	dynClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("building dynamic client: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("building clientset: %w", err)
	}

	repo := configrepository.New(configrepository.NewConfigMapBackend(clientset, cfg.K8s.Namespace))

	supervisors := kernel.SupervisorFactoryFunc(func(id agentid.ID, typeID agentid.TypeID) (supervisor.Supervisor, error) {
		return k8ssupervisor.New(id, typeID.String(), dynClient, cfg.K8s.Namespace, cfg.K8s.ChartVersion), nil
	})

	chart := kernel.NewHelmChartUpdater(dynClient, cfg.K8s.Namespace)

	crGVRs := make([]schema.GroupVersionResource, 0, len(cfg.K8s.CRTypeMeta))
	for _, tm := range cfg.K8s.CRTypeMeta {
		crGVRs = append(crGVRs, k8ssupervisor.GVRFor(tm.APIVersion, tm.Kind))
	}

	instanceIDs := instanceid.NewConfigMapStore(clientset, cfg.K8s.Namespace)

	kern := kernel.New(agenttype.EnvK8s, registry, repo, persister, caps, supervisors, opamps, instanceIDs, nil, chart)
	collector := gc.New(dynClient, cfg.K8s.Namespace, crGVRs, kern)

	return kern, collector, nil
}

func buildOnHost(
	ctx context.Context,
	cfg *config.LocalConfig,
	dataDir string,
	registry agenttype.Registry,
	persister assembler.Persister,
	caps configrepository.Capabilities,
	opamps kernel.OpAMPFactory,
) (*kernel.Kernel, *gc.Collector, error) {
	repo := configrepository.New(configrepository.NewFileBackend(dataDir))

	var keys []oci.PublicKey
	if cfg.FleetControl.SignatureValidation.PublicKeysURL != "" {
		fetchCtx, cancel := context.WithTimeout(ctx, durations.OCIPublicKeysFetchTimeout)
		defer cancel()

		var err error
		keys, err = oci.FetchPublicKeys(fetchCtx, httpclient.NewDefault(30*time.Second), cfg.FleetControl.SignatureValidation.PublicKeysURL)
		if err != nil {
			return nil, nil, fmt.Errorf("fetching OCI signing keys: %w", err)
		}
	}

	supervisors := kernel.SupervisorFactoryFunc(func(id agentid.ID, typeID agentid.TypeID) (supervisor.Supervisor, error) {
		stager := onhost.NewOCIStager(oci.OCIOpts{}, filepath.Join(dataDir, "packages", string(id)), keys, runtime.GOOS)
		return onhost.New(id, stager), nil
	})

	instanceIDs := instanceid.NewFileStore(dataDir)

	kern := kernel.New(agenttype.EnvOnHost, registry, repo, persister, caps, supervisors, opamps, instanceIDs, nil, nil)
	return kern, nil, nil
}

// opampFactory leaves sub-agent OpAMP clients unset: no concrete OpAMP
// transport is wired in this build (§13 Non-goals), so a configured fleet
// control endpoint only produces a startup warning, not a client.
func opampFactory(cfg *config.LocalConfig) kernel.OpAMPFactory {
	if !cfg.HasFleetControl() {
		return nil
	}
	logrus.Warn("fleet_control.endpoint is configured but this build carries no concrete OpAMP transport; sub-agents will run without remote management")
	return nil
}

// dynamicConfigFrom converts the local config's embedded DynamicConfig
// (§3 AgentControlDynamicConfig, as loaded from disk/ConfigMap) into the
// typed form the kernel reconciles against.
func dynamicConfigFrom(cfg *config.LocalConfig) (*kernel.AgentControlDynamicConfig, error) {
	out := &kernel.AgentControlDynamicConfig{
		Agents:         make(map[agentid.ID]kernel.AgentConfig, len(cfg.Agents)),
		CDChartVersion: cfg.CDChartVersion,
	}
	for rawID, sub := range cfg.Agents {
		id, err := agentid.ValidateNonReserved(rawID)
		if err != nil {
			return nil, fmt.Errorf("agents.%s: %w", rawID, err)
		}
		out.Agents[id] = kernel.AgentConfig{AgentType: sub.AgentType}
	}
	return out, nil
}
