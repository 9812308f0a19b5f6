// Package k8s implements the K8s Supervisor (§4.5): reconciling a
// declared set of DynamicObjects against the cluster and deriving agent
// health/version from them.
package k8s

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// DeclaredObject is one named `K8sObject` entry from a rendered K8s
// runtime tree (§3: "unordered map of named K8sObjects {api_version,
// kind, metadata{name, namespace, labels, annotations}, data}").
type DeclaredObject struct {
	Name   string
	GVR    schema.GroupVersionResource
	Object *unstructured.Unstructured
}

// DecodeObjects extracts the named K8sObject map from a rendered K8s
// runtime tree, building one unstructured.Unstructured per entry. The
// GVR's resource is derived from Kind by a plural/lowercase heuristic,
// matching how the renderer names conventional built-in kinds; callers
// needing a CRD's irregular plural can override via gvrOverrides.
func DecodeObjects(runtime interface{}, gvrOverrides map[string]schema.GroupVersionResource) ([]DeclaredObject, error) {
	root, ok := runtime.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("k8s runtime: expected a map, got %T", runtime)
	}
	raw, ok := root["objects"]
	if !ok {
		return nil, nil
	}
	objs, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("k8s runtime: \"objects\" must be a map, got %T", raw)
	}

	out := make([]DeclaredObject, 0, len(objs))
	for name, v := range objs {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("k8s runtime: objects[%q] must be a map, got %T", name, v)
		}
		decl, err := decodeObject(name, m, gvrOverrides)
		if err != nil {
			return nil, fmt.Errorf("k8s runtime: objects[%q]: %w", name, err)
		}
		out = append(out, decl)
	}
	return out, nil
}

func decodeObject(name string, m map[string]interface{}, gvrOverrides map[string]schema.GroupVersionResource) (DeclaredObject, error) {
	apiVersion, _ := m["api_version"].(string)
	kind, _ := m["kind"].(string)
	if apiVersion == "" || kind == "" {
		return DeclaredObject{}, fmt.Errorf("missing api_version or kind")
	}

	metadata, _ := m["metadata"].(map[string]interface{})
	objName, _ := metadata["name"].(string)
	if objName == "" {
		return DeclaredObject{}, fmt.Errorf("missing metadata.name")
	}

	body := map[string]interface{}{
		"apiVersion": apiVersion,
		"kind":       kind,
		"metadata":   toObjectMeta(metadata),
	}
	if data, ok := m["data"].(map[string]interface{}); ok {
		for k, v := range data {
			body[k] = v
		}
	}

	gvr, ok := gvrOverrides[kind]
	if !ok {
		gvr = guessGVR(apiVersion, kind)
	}

	return DeclaredObject{
		Name:   name,
		GVR:    gvr,
		Object: &unstructured.Unstructured{Object: body},
	}, nil
}

func toObjectMeta(metadata map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for _, key := range []string{"name", "namespace", "labels", "annotations"} {
		if v, ok := metadata[key]; ok {
			out[key] = v
		}
	}
	return out
}

func guessGVR(apiVersion, kind string) schema.GroupVersionResource {
	gv, _ := schema.ParseGroupVersion(apiVersion)
	return gv.WithResource(pluralize(kind))
}

// GVRFor exports guessGVR for callers outside this package (the GC and
// the CLI's k8s wiring) that need to turn a configured `apiVersion, kind`
// pair — e.g. from K8sConfig.CRTypeMeta — into a GroupVersionResource
// without re-declaring the same kind/plural table.
func GVRFor(apiVersion, kind string) schema.GroupVersionResource {
	return guessGVR(apiVersion, kind)
}

// pluralize covers the handful of built-in and newrelic kinds this
// supervisor actually reconciles; it is not a general English pluraliser.
func pluralize(kind string) string {
	switch kind {
	case "DaemonSet":
		return "daemonsets"
	case "StatefulSet":
		return "statefulsets"
	case "Deployment":
		return "deployments"
	case "HelmRelease":
		return "helmreleases"
	case "Instrumentation":
		return "instrumentations"
	default:
		return lowerFirst(kind) + "s"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
