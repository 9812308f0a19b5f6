// Package apply implements the K8s supervisor's idempotent reconciliation
// primitive (§4.5 "Reconcile loop"): fetch the cached copy of a declared
// object, create it if absent, or patch it if its data differs, while
// augmenting (never replacing) labels and annotations.
package apply

import (
	"context"
	"reflect"
	"fmt"

	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"

	"github.com/newrelic/agent-control/internal/agentid"
	"github.com/newrelic/agent-control/internal/k8s/labels"
)

// Reader is the cached-lookup side of the reconcile loop; satisfied by a
// reflector.Handle, or directly by a dynamic client in tests.
type Reader interface {
	List() []unstructured.Unstructured
}

// Object is one declared K8s object the supervisor wants present, keyed by
// its GVR so ApplyIfChanged knows which client/resource to talk to.
type Object struct {
	GVR       schema.GroupVersionResource
	Object    *unstructured.Unstructured
	AgentID   agentid.ID
	AgentType string
}

// Result reports what ApplyIfChanged did, for callers that want to log or
// count it.
type Result int

const (
	Unchanged Result = iota
	Created
	Updated
)

func (r Result) String() string {
	switch r {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// ApplyIfChanged implements the idempotent create-or-update described in
// §4.5: it augments labels/annotations with the managed-by ownership
// markers (any user-declared label wins over the default, except the
// reserved agent-id label, per labels.Merge), fetches the live object, and
// only issues a write when something actually differs.
func ApplyIfChanged(ctx context.Context, client dynamic.Interface, obj Object) (Result, error) {
	desired := obj.Object.DeepCopy()
	applyOwnership(desired, obj.AgentID, obj.AgentType)

	namespace := desired.GetNamespace()
	res := namespaceableResource(client, obj.GVR, namespace)

	current, err := res.Get(ctx, desired.GetName(), metav1.GetOptions{})
	if errors.IsNotFound(err) {
		desired.SetResourceVersion("")
		if _, err := res.Create(ctx, desired, metav1.CreateOptions{}); err != nil {
			return Unchanged, fmt.Errorf("creating %s/%s: %w", obj.GVR.Resource, desired.GetName(), err)
		}
		return Created, nil
	}
	if err != nil {
		return Unchanged, fmt.Errorf("fetching %s/%s: %w", obj.GVR.Resource, desired.GetName(), err)
	}

	merged := current.DeepCopy()
	changed := mergeInto(merged, desired)
	if !changed {
		return Unchanged, nil
	}

	if _, err := res.Update(ctx, merged, metav1.UpdateOptions{}); err != nil {
		return Unchanged, fmt.Errorf("updating %s/%s: %w", obj.GVR.Resource, desired.GetName(), err)
	}
	return Updated, nil
}

func namespaceableResource(client dynamic.Interface, gvr schema.GroupVersionResource, namespace string) dynamic.ResourceInterface {
	res := client.Resource(gvr)
	if namespace == "" {
		return res
	}
	return res.Namespace(namespace)
}

// applyOwnership augments desired's labels/annotations with the ownership
// markers before the object is ever compared or written.
func applyOwnership(desired *unstructured.Unstructured, id agentid.ID, agentType string) {
	desired.SetLabels(labels.Merge(desired.GetLabels(), labels.Managed(id)))
	desired.SetAnnotations(labels.Merge(desired.GetAnnotations(), labels.TypeAnnotation(agentType)))
}

// mergeInto copies desired's spec-ish "data" content and ownership
// labels/annotations onto merged (which starts as the live object, so its
// resourceVersion and other server-managed fields survive), reporting
// whether anything actually changed.
func mergeInto(merged, desired *unstructured.Unstructured) bool {
	changed := false

	newLabels := mergeMap(merged.GetLabels(), desired.GetLabels())
	if !reflect.DeepEqual(merged.GetLabels(), newLabels) {
		merged.SetLabels(newLabels)
		changed = true
	}

	newAnnotations := mergeMap(merged.GetAnnotations(), desired.GetAnnotations())
	if !reflect.DeepEqual(merged.GetAnnotations(), newAnnotations) {
		merged.SetAnnotations(newAnnotations)
		changed = true
	}

	for _, field := range []string{"spec", "data"} {
		desiredVal, hasDesired := desired.Object[field]
		if !hasDesired {
			continue
		}
		currentVal := merged.Object[field]
		if !reflect.DeepEqual(currentVal, desiredVal) {
			merged.Object[field] = desiredVal
			changed = true
		}
	}

	return changed
}

// mergeMap augments base with overlay (overlay wins on conflicting keys).
func mergeMap(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
