// Package k8s implements the per-kind health checkers the K8s supervisor
// builds per declared object (§4.5 "Health checker selection").
package k8s

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/newrelic/agent-control/internal/health"
)

// DeploymentChecker is unhealthy when unavailableReplicas > 0, or when
// availableReplicas is below the declared replica count.
func DeploymentChecker(obj *unstructured.Unstructured) (health.Status, error) {
	var d appsv1.Deployment
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &d); err != nil {
		return health.Status{}, fmt.Errorf("decoding deployment %s: %w", obj.GetName(), err)
	}

	desired := int32(1)
	if d.Spec.Replicas != nil {
		desired = *d.Spec.Replicas
	}

	if d.Status.UnavailableReplicas > 0 {
		return health.Unhealthy(fmt.Sprintf("Deployment `%s`: has %d unavailable replicas", d.Name, d.Status.UnavailableReplicas)), nil
	}
	if d.Status.AvailableReplicas < desired {
		return health.Unhealthy(fmt.Sprintf("Deployment `%s`: has %d available replicas, wanted %d", d.Name, d.Status.AvailableReplicas, desired)), nil
	}
	return health.Healthy(), nil
}
