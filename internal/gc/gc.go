// Package gc implements the k8s Garbage Collector (§4.8): on an interval,
// it reconciles the set of objects it manages against the currently
// active agent set, deleting anything left over from a removed agent or
// an agent whose type changed.
package gc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"

	"github.com/sirupsen/logrus"

	"github.com/newrelic/agent-control/internal/agentid"
	"github.com/newrelic/agent-control/internal/k8s/labels"
	"github.com/newrelic/agent-control/pkg/durations"
)

var configMapGVR = schema.GroupVersionResource{Version: "v1", Resource: "configmaps"}

// ActiveSetProvider supplies the currently running agent ids mapped to
// their configured agent type FQN — the kernel implements this.
type ActiveSetProvider interface {
	ActiveAgentSet() map[agentid.ID]string
}

// Collector is the k8s GC (§4.8).
type Collector struct {
	client    dynamic.Interface
	namespace string
	crGVRs    []schema.GroupVersionResource
	active    ActiveSetProvider
	interval  time.Duration
	log       *logrus.Entry

	mu         sync.Mutex
	lastActive map[agentid.ID]string
	ran        bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Collector. crGVRs is the set of custom-resource kinds the
// control plane may have produced (HelmRelease, HelmRepository,
// Instrumentation, ...); ConfigMaps are always included (§4.8 step 4).
func New(client dynamic.Interface, namespace string, crGVRs []schema.GroupVersionResource, active ActiveSetProvider) *Collector {
	return &Collector{
		client:    client,
		namespace: namespace,
		crGVRs:    crGVRs,
		active:    active,
		interval:  durations.GarbageCollectInterval,
		log:       logrus.WithField("component", "gc"),
	}
}

// Start runs RunOnce on an interval until ctx is cancelled or Stop is
// called.
func (c *Collector) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := c.RunOnce(runCtx); err != nil {
					c.log.WithError(err).Error("garbage collection pass failed")
				}
			}
		}
	}()
}

// Stop cancels the tick loop and waits for it to exit.
func (c *Collector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// RunOnce implements one GC pass (§4.8 steps 1-4): no-op if the active
// agent set hasn't changed since the last successful run, otherwise list
// and delete stale objects of every configured CR kind plus ConfigMaps.
func (c *Collector) RunOnce(ctx context.Context) error {
	active := c.active.ActiveAgentSet()

	c.mu.Lock()
	unchanged := c.ran && activeSetEqual(c.lastActive, active)
	c.mu.Unlock()
	if unchanged {
		return nil
	}

	var firstErr error
	for _, gvr := range c.crGVRs {
		if err := c.collectKind(ctx, gvr, active); err != nil {
			if apierrors.IsNotFound(err) {
				c.log.WithField("gvr", gvr.String()).Debug("CR kind not present in cluster, skipping")
				continue
			}
			c.log.WithError(err).WithField("gvr", gvr.String()).Error("failed to garbage collect kind")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := c.collectConfigMaps(ctx, active); err != nil {
		c.log.WithError(err).Error("failed to garbage collect config maps")
		if firstErr == nil {
			firstErr = err
		}
	}

	if firstErr == nil {
		c.mu.Lock()
		c.lastActive = active
		c.ran = true
		c.mu.Unlock()
	}
	return firstErr
}

func (c *Collector) collectKind(ctx context.Context, gvr schema.GroupVersionResource, active map[agentid.ID]string) error {
	res := c.resourceFor(gvr)
	list, err := res.List(ctx, metav1.ListOptions{LabelSelector: labels.ManagedByKey + "=" + labels.ManagedByValue})
	if err != nil {
		return err
	}

	for _, obj := range list.Items {
		if !shouldDelete(obj.GetLabels(), obj.GetAnnotations(), active) {
			continue
		}
		if err := res.Delete(ctx, obj.GetName(), metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("deleting %s/%s: %w", gvr.Resource, obj.GetName(), err)
		}
	}
	return nil
}

// collectConfigMaps implements §4.8 step 4 as a single DeleteCollection
// call with a LabelSelector excluding the reserved agent-control id and
// every currently active agent id.
func (c *Collector) collectConfigMaps(ctx context.Context, active map[agentid.ID]string) error {
	excluded := make([]string, 0, len(active)+1)
	excluded = append(excluded, agentid.Reserved)
	for id := range active {
		excluded = append(excluded, string(id))
	}

	selector := fmt.Sprintf("%s=%s,%s notin (%s)",
		labels.ManagedByKey, labels.ManagedByValue,
		labels.AgentIDKey, strings.Join(excluded, ","))

	res := c.resourceFor(configMapGVR)
	err := res.DeleteCollection(ctx, metav1.DeleteOptions{}, metav1.ListOptions{LabelSelector: selector})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting stale config maps: %w", err)
	}
	return nil
}

// shouldDelete implements §3's base rule (only managed, never agent-id
// agent-control — labels.IsDeletable) plus §4.8's type-change refinement:
// an object belonging to a still-active agent is kept only if its
// agent-type-id annotation still matches that agent's configured type.
func shouldDelete(lbls, annotations map[string]string, active map[agentid.ID]string) bool {
	if !labels.IsDeletable(lbls) {
		return false
	}
	rawID, _ := labels.AgentIDOf(lbls)
	activeType, isActive := active[agentid.ID(rawID)]
	if !isActive {
		return true
	}
	return annotations[labels.AgentTypeIDKey] != activeType
}

func (c *Collector) resourceFor(gvr schema.GroupVersionResource) dynamic.ResourceInterface {
	res := c.client.Resource(gvr)
	if c.namespace == "" {
		return res
	}
	return res.Namespace(c.namespace)
}

func activeSetEqual(a, b map[agentid.ID]string) bool {
	if len(a) != len(b) {
		return false
	}
	for id, t := range a {
		if b[id] != t {
			return false
		}
	}
	return true
}
