package k8s

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"

	"github.com/newrelic/agent-control/internal/agentid"
	"github.com/newrelic/agent-control/internal/health"
	healthk8s "github.com/newrelic/agent-control/internal/health/k8s"
	"github.com/newrelic/agent-control/internal/k8s/apply"
	"github.com/newrelic/agent-control/internal/k8s/reflector"
	"github.com/newrelic/agent-control/internal/supervisor"
)

const defaultReconcileInterval = time.Second

// Supervisor reconciles a declared set of K8s objects against the
// cluster (§4.5) and derives agent health/version from them.
type Supervisor struct {
	agentID              agentid.ID
	agentType            string
	client               dynamic.Interface
	namespace            string
	expectedChartVersion string
	interval             time.Duration
	log                  *logrus.Entry

	mu       sync.Mutex
	declared []DeclaredObject
	handles  map[schema.GroupVersionResource]*reflector.Handle
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	health  chan supervisor.HealthEvent
	version chan supervisor.VersionEvent
}

func New(id agentid.ID, agentType string, client dynamic.Interface, namespace, expectedChartVersion string) *Supervisor {
	return &Supervisor{
		agentID:              id,
		agentType:            agentType,
		client:               client,
		namespace:            namespace,
		expectedChartVersion: expectedChartVersion,
		interval:             defaultReconcileInterval,
		log:                  logrus.WithField("agent_id", string(id)),
		handles:              map[schema.GroupVersionResource]*reflector.Handle{},
		health:               make(chan supervisor.HealthEvent, 16),
		version:              make(chan supervisor.VersionEvent, 16),
	}
}

// Apply decodes the rendered K8s runtime tree into DeclaredObjects. It
// does not touch the cluster; Start's reconcile loop does.
func (s *Supervisor) Apply(_ context.Context, runtime interface{}) error {
	declared, err := DecodeObjects(runtime, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.declared = declared
	s.mu.Unlock()
	return nil
}

// Start begins the reconcile loop and one reflector per distinct GVR the
// declared objects reference, used for health/version reads so probing
// never blocks on a live API call (§4.10 "Reflector lifetime").
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	declared := s.declared
	s.mu.Unlock()

	for _, obj := range declared {
		if _, ok := s.handles[obj.GVR]; ok {
			continue
		}
		handle, err := reflector.TryNew(runCtx, s.client, obj.GVR, s.namespace)
		if err != nil {
			cancel()
			return err
		}
		s.handles[obj.GVR] = handle
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.reconcileLoop(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.probeLoop(runCtx)
	}()
	return nil
}

func (s *Supervisor) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.reconcileOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) reconcileOnce(ctx context.Context) {
	s.mu.Lock()
	declared := s.declared
	s.mu.Unlock()

	for _, obj := range declared {
		result, err := apply.ApplyIfChanged(ctx, s.client, apply.Object{
			GVR:       obj.GVR,
			Object:    obj.Object,
			AgentID:   s.agentID,
			AgentType: s.agentType,
		})
		if err != nil {
			s.log.WithError(err).WithField("object", obj.Name).Error("reconcile failed")
			continue
		}
		if result != apply.Unchanged {
			s.log.WithField("object", obj.Name).WithField("result", result.String()).Info("reconciled")
		}
	}
}

func (s *Supervisor) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	lastHealthy := true
	lastVersion := ""

	for {
		if status, ok := s.probeOnce(); ok {
			if status.Healthy != lastHealthy {
				lastHealthy = status.Healthy
				select {
				case s.health <- supervisor.HealthEvent{Healthy: status.Healthy, LastError: status.LastError}:
				case <-ctx.Done():
					return
				}
			}
		}
		if version, ok := s.probeVersion(); ok && version != lastVersion {
			lastVersion = version
			select {
			case s.version <- supervisor.VersionEvent{Version: version}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) liveObjects() []*unstructured.Unstructured {
	s.mu.Lock()
	declared := s.declared
	s.mu.Unlock()

	var out []*unstructured.Unstructured
	for _, obj := range declared {
		handle, ok := s.handles[obj.GVR]
		if !ok {
			continue
		}
		for _, item := range handle.List() {
			if item.GetName() == obj.Object.GetName() {
				cp := item
				out = append(out, &cp)
			}
		}
	}
	return out
}

func (s *Supervisor) probeOnce() (health.Status, bool) {
	objs := s.liveObjects()
	if len(objs) == 0 {
		return health.Status{}, false
	}
	status, err := healthk8s.Select(objs, s.expectedChartVersion)
	if err != nil {
		return health.Unhealthy(err.Error()), true
	}
	return status, true
}

func (s *Supervisor) probeVersion() (string, bool) {
	objs := s.liveObjects()
	if len(objs) == 0 {
		return "", false
	}
	return healthk8s.SelectVersion(objs)
}

// Stop cancels the reconcile/probe loops, waits for them, and releases
// every reflector handle (P6).
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	handles := s.handles
	s.handles = map[schema.GroupVersionResource]*reflector.Handle{}
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("shutdown deadline exceeded waiting for reconcile/probe loops to stop")
		err = ctx.Err()
	}

	for _, h := range handles {
		h.Close()
	}
	return err
}

func (s *Supervisor) Health() <-chan supervisor.HealthEvent   { return s.health }
func (s *Supervisor) Version() <-chan supervisor.VersionEvent { return s.version }

var _ supervisor.Supervisor = (*Supervisor)(nil)
