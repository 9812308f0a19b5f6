package k8s

import (
	"fmt"
	"sort"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/newrelic/agent-control/internal/health"
)

// CheckerFor returns the typed checker for a declared object's kind, or
// false if the kind carries no health semantics (e.g. a plain ConfigMap).
func CheckerFor(obj *unstructured.Unstructured, expectedChartVersion string) (health.Checker, bool) {
	switch obj.GetKind() {
	case "Deployment":
		return health.CheckerFunc(DeploymentChecker), true
	case "DaemonSet":
		return health.CheckerFunc(DaemonSetChecker), true
	case "StatefulSet":
		return health.CheckerFunc(StatefulSetChecker), true
	case "HelmRelease":
		return NewHelmReleaseChecker(expectedChartVersion), true
	case "Instrumentation":
		return health.CheckerFunc(InstrumentationChecker), true
	default:
		return nil, false
	}
}

// VersionOf extracts the reported version for kinds that publish one
// (§4.5 "Version extraction"); the first matching object in iteration
// order determines the agent's reported version.
func VersionOf(obj *unstructured.Unstructured) (string, bool) {
	switch obj.GetKind() {
	case "HelmRelease":
		return HelmReleaseVersion(obj)
	case "Instrumentation":
		return InstrumentationVersion(obj)
	default:
		return "", false
	}
}

// Select implements §4.5's "first unhealthy" aggregation: objects are
// checked in a stable order (sorted by name, per the spec's determinism
// note) and the first unhealthy result wins. If every checkable object is
// healthy, the aggregate is healthy.
func Select(objs []*unstructured.Unstructured, expectedChartVersion string) (health.Status, error) {
	sorted := make([]*unstructured.Unstructured, len(objs))
	copy(sorted, objs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].GetName() < sorted[j].GetName() })

	for _, obj := range sorted {
		checker, ok := CheckerFor(obj, expectedChartVersion)
		if !ok {
			continue
		}
		status, err := checker.Check(obj)
		if err != nil {
			return health.Status{}, fmt.Errorf("checking %s %s: %w", obj.GetKind(), obj.GetName(), err)
		}
		if !status.Healthy {
			return status, nil
		}
	}

	return health.Healthy(), nil
}

// SelectVersion returns the version reported by the first object (in the
// same stable order) that publishes one.
func SelectVersion(objs []*unstructured.Unstructured) (string, bool) {
	sorted := make([]*unstructured.Unstructured, len(objs))
	copy(sorted, objs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].GetName() < sorted[j].GetName() })

	for _, obj := range sorted {
		if v, ok := VersionOf(obj); ok {
			return v, true
		}
	}
	return "", false
}
