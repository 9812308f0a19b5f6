// Package reflector implements a generic typed cache over a single k8s API
// object kind (§4.10): a writer goroutine keeps a snapshot fresh from a
// watch stream, while reader handles see only a consistent List()/IsRunning()
// view. Modelled on the watch-and-resync loop in fleet's trigger.watcher,
// generalised from delete-triggers to a full object cache.
package reflector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"

	"github.com/newrelic/agent-control/pkg/durations"
)

// DynamicLister is the subset of dynamic.Interface the reflector needs,
// narrowed for testability.
type DynamicLister interface {
	Resource(gvr schema.GroupVersionResource) dynamic.NamespaceableResourceInterface
}

// Reflector is the writer side: it owns the watch loop and the cache.
// Callers interact with it through a Handle.
type Reflector struct {
	client    DynamicLister
	gvr       schema.GroupVersionResource
	namespace string

	mu      sync.RWMutex
	items   map[string]unstructured.Unstructured
	running atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}

	refMu sync.Mutex
	refs  int
}

// Handle is a reference-counted reader view onto a Reflector. The last
// handle's Close aborts the writer goroutine (§4.10 "Lifetime").
type Handle struct {
	r        *Reflector
	released bool
}

// List returns a snapshot of the cache's current contents.
func (h *Handle) List() []unstructured.Unstructured {
	return h.r.list()
}

// IsRunning reports whether the writer goroutine is still watching.
func (h *Handle) IsRunning() bool {
	return h.r.running.Load()
}

// Close releases this handle. When the last handle is released the
// underlying writer goroutine is stopped.
func (h *Handle) Close() {
	if h.released {
		return
	}
	h.released = true
	h.r.release()
}

func (h *Handle) share() *Handle {
	h.r.acquire()
	return &Handle{r: h.r}
}

// TryNew starts a Reflector for gvr/namespace and blocks until the initial
// list populates the cache, retrying up to durations.ReflectorInitialListRetries
// times with a durations.ReflectorInitialListTimeout budget each attempt
// (§4.10 "Startup").
func TryNew(ctx context.Context, client DynamicLister, gvr schema.GroupVersionResource, namespace string) (*Handle, error) {
	var lastErr error
	for attempt := 0; attempt < durations.ReflectorInitialListRetries; attempt++ {
		h, err := tryNewOnce(ctx, client, gvr, namespace)
		if err == nil {
			return h, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("reflector for %s: initial list did not complete after %d attempts: %w",
		gvr, durations.ReflectorInitialListRetries, lastErr)
}

func tryNewOnce(ctx context.Context, client DynamicLister, gvr schema.GroupVersionResource, namespace string) (*Handle, error) {
	r := &Reflector{
		client:    client,
		gvr:       gvr,
		namespace: namespace,
		items:     map[string]unstructured.Unstructured{},
		refs:      1,
	}

	listCtx, cancel := context.WithTimeout(ctx, durations.ReflectorInitialListTimeout)
	defer cancel()

	if err := r.initialList(listCtx); err != nil {
		return nil, err
	}

	runCtx, runCancel := context.WithCancel(ctx)
	r.cancel = runCancel
	r.done = make(chan struct{})
	r.running.Store(true)

	go r.run(runCtx)

	return &Handle{r: r}, nil
}

func (r *Reflector) resourceClient() dynamic.ResourceInterface {
	res := r.client.Resource(r.gvr)
	if r.namespace != "" {
		return res.Namespace(r.namespace)
	}
	return res
}

func (r *Reflector) initialList(ctx context.Context) error {
	list, err := r.resourceClient().List(ctx, metav1.ListOptions{})
	if err != nil {
		return err
	}

	r.mu.Lock()
	for _, item := range list.Items {
		r.items[key(item)] = item
	}
	r.mu.Unlock()

	return nil
}

func key(u unstructured.Unstructured) string {
	return u.GetNamespace() + "/" + u.GetName()
}

func (r *Reflector) list() []unstructured.Unstructured {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]unstructured.Unstructured, 0, len(r.items))
	for _, v := range r.items {
		out = append(out, v)
	}
	return out
}

func (r *Reflector) acquire() {
	r.refMu.Lock()
	r.refs++
	r.refMu.Unlock()
}

func (r *Reflector) release() {
	r.refMu.Lock()
	r.refs--
	done := r.refs <= 0
	r.refMu.Unlock()
	if done && r.cancel != nil {
		r.cancel()
	}
}

// run drives the watch loop until ctx is cancelled or a terminal watch
// error is observed, at which point running flips to false and the writer
// goroutine exits (§4.10 "Watch-failure policy").
func (r *Reflector) run(ctx context.Context) {
	defer close(r.done)
	defer r.running.Store(false)

	resourceVersion := ""
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w, err := r.resourceClient().Watch(ctx, metav1.ListOptions{
			AllowWatchBookmarks: true,
			ResourceVersion:     resourceVersion,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(time.Second)
			resourceVersion = ""
			continue
		}

		terminal := r.consume(ctx, w)
		w.Stop()
		if terminal {
			return
		}
		resourceVersion = ""
	}
}

// consume drains a single watch stream, applying events to the cache.
// It returns true when the stream ended with a terminal Error event
// (e.g. the watched CRD was removed), signalling run to give up.
func (r *Reflector) consume(ctx context.Context, w watch.Interface) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-w.ResultChan():
			if !ok {
				return false
			}
			switch event.Type {
			case watch.Added, watch.Modified:
				if u, ok := event.Object.(*unstructured.Unstructured); ok {
					r.mu.Lock()
					r.items[key(*u)] = *u
					r.mu.Unlock()
				}
			case watch.Deleted:
				if u, ok := event.Object.(*unstructured.Unstructured); ok {
					r.mu.Lock()
					delete(r.items, key(*u))
					r.mu.Unlock()
				}
			case watch.Error:
				return true
			}
		}
	}
}
