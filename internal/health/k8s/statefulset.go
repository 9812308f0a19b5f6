package k8s

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/newrelic/agent-control/internal/health"
)

// StatefulSetChecker implements the StatefulSet row of §4.5's table.
func StatefulSetChecker(obj *unstructured.Unstructured) (health.Status, error) {
	var ss appsv1.StatefulSet
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &ss); err != nil {
		return health.Status{}, fmt.Errorf("decoding statefulset %s: %w", obj.GetName(), err)
	}

	s := ss.Status
	replicas := int32(1)
	if ss.Spec.Replicas != nil {
		replicas = *ss.Spec.Replicas
	}

	if s.ObservedGeneration != ss.Generation {
		return health.Unhealthy(fmt.Sprintf("StatefulSet `%s`: observed generation %d does not match %d", ss.Name, s.ObservedGeneration, ss.Generation)), nil
	}

	partition := int32(0)
	if ss.Spec.UpdateStrategy.RollingUpdate != nil && ss.Spec.UpdateStrategy.RollingUpdate.Partition != nil {
		partition = *ss.Spec.UpdateStrategy.RollingUpdate.Partition
	}

	if s.UpdatedReplicas < replicas-partition {
		return health.Unhealthy(fmt.Sprintf("StatefulSet `%s`: has %d updated replicas, wanted %d", ss.Name, s.UpdatedReplicas, replicas-partition)), nil
	}
	if s.ReadyReplicas != replicas {
		return health.Unhealthy(fmt.Sprintf("StatefulSet `%s`: has %d ready replicas, wanted %d", ss.Name, s.ReadyReplicas, replicas)), nil
	}
	if partition == 0 && s.CurrentRevision != s.UpdateRevision {
		return health.Unhealthy(fmt.Sprintf("StatefulSet `%s`: current revision %q does not match update revision %q", ss.Name, s.CurrentRevision, s.UpdateRevision)), nil
	}
	return health.Healthy(), nil
}
