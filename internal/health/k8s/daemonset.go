package k8s

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/newrelic/agent-control/internal/health"
)

// DaemonSetChecker implements the DaemonSet row of §4.5's table.
func DaemonSetChecker(obj *unstructured.Unstructured) (health.Status, error) {
	var ds appsv1.DaemonSet
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &ds); err != nil {
		return health.Status{}, fmt.Errorf("decoding daemonset %s: %w", obj.GetName(), err)
	}

	s := ds.Status
	if s.NumberReady < s.DesiredNumberScheduled {
		return health.Unhealthy(fmt.Sprintf("DaemonSet `%s`: has %d ready, wanted %d", ds.Name, s.NumberReady, s.DesiredNumberScheduled)), nil
	}
	if s.NumberUnavailable > 0 {
		return health.Unhealthy(fmt.Sprintf("DaemonSet `%s`: has %d unavailable", ds.Name, s.NumberUnavailable)), nil
	}
	if ds.Spec.UpdateStrategy.Type == appsv1.RollingUpdateDaemonSetStrategyType && s.UpdatedNumberScheduled < s.DesiredNumberScheduled {
		return health.Unhealthy(fmt.Sprintf("DaemonSet `%s`: has %d updated, wanted %d", ds.Name, s.UpdatedNumberScheduled, s.DesiredNumberScheduled)), nil
	}
	return health.Healthy(), nil
}
