package k8s

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/newrelic/agent-control/internal/health"
)

// InstrumentationChecker implements the Instrumentation CR row of §4.5's
// table, reading the status counters the newrelic k8s-agents-operator
// publishes on the CR.
func InstrumentationChecker(obj *unstructured.Unstructured) (health.Status, error) {
	podsNotReady, _, _ := unstructured.NestedInt64(obj.Object, "status", "podsNotReady")
	podsInjected, _, _ := unstructured.NestedInt64(obj.Object, "status", "podsInjected")
	podsMatching, _, _ := unstructured.NestedInt64(obj.Object, "status", "podsMatching")
	podsUnhealthy, _, _ := unstructured.NestedInt64(obj.Object, "status", "podsUnhealthy")

	if podsNotReady > 0 {
		return health.Unhealthy(fmt.Sprintf("Instrumentation `%s`: has %d pods not ready", obj.GetName(), podsNotReady)), nil
	}
	if podsInjected != podsMatching {
		return health.Unhealthy(fmt.Sprintf("Instrumentation `%s`: has %d injected pods, wanted %d", obj.GetName(), podsInjected, podsMatching)), nil
	}
	if podsUnhealthy > 0 {
		return health.Unhealthy(fmt.Sprintf("Instrumentation `%s`: has %d unhealthy pods", obj.GetName(), podsUnhealthy)), nil
	}
	return health.Healthy(), nil
}

// InstrumentationVersion reads the published status field that identifies
// the running agent version (§4.5 "Version extraction").
func InstrumentationVersion(obj *unstructured.Unstructured) (string, bool) {
	version, found, err := unstructured.NestedString(obj.Object, "status", "agentVersion")
	if err != nil || !found {
		return "", false
	}
	return version, true
}
