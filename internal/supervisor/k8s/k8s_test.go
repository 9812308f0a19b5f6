package k8s

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	"github.com/newrelic/agent-control/internal/agentid"
)

func deploymentGVR() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"}
}

func listKinds() map[schema.GroupVersionResource]string {
	return map[schema.GroupVersionResource]string{deploymentGVR(): "DeploymentList"}
}

func existingDeployment(name string, unavailable int64) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "apps/v1",
		"kind":       "Deployment",
		"metadata":   map[string]interface{}{"name": name, "namespace": "newrelic"},
		"spec":       map[string]interface{}{"replicas": int64(1)},
		"status": map[string]interface{}{
			"unavailableReplicas": unavailable,
			"availableReplicas":   int64(1) - unavailable,
		},
	}}
}

func TestDecodeObjectsBuildsUnstructuredFromDeclaredMap(t *testing.T) {
	runtime := map[string]interface{}{
		"objects": map[string]interface{}{
			"deployment": map[string]interface{}{
				"api_version": "apps/v1",
				"kind":        "Deployment",
				"metadata": map[string]interface{}{
					"name":      "nr-infra",
					"namespace": "newrelic",
				},
				"data": map[string]interface{}{
					"spec": map[string]interface{}{"replicas": int64(1)},
				},
			},
		},
	}

	declared, err := DecodeObjects(runtime, nil)
	require.NoError(t, err)
	require.Len(t, declared, 1)
	assert.Equal(t, deploymentGVR(), declared[0].GVR)
	assert.Equal(t, "nr-infra", declared[0].Object.GetName())
	spec, found, err := unstructured.NestedMap(declared[0].Object.Object, "spec")
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 1, spec["replicas"])
}

func TestSupervisorReconcilesAndReportsHealth(t *testing.T) {
	scheme := runtime.NewScheme()
	client := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, listKinds(), existingDeployment("nr-infra", 1))

	s := New(agentid.ID("nr-infra"), "newrelic/infra-agent:0.1.0", client, "newrelic", "")
	s.interval = 20 * time.Millisecond

	runtime := map[string]interface{}{
		"objects": map[string]interface{}{
			"deployment": map[string]interface{}{
				"api_version": "apps/v1",
				"kind":        "Deployment",
				"metadata":    map[string]interface{}{"name": "nr-infra", "namespace": "newrelic"},
				"data":        map[string]interface{}{"spec": map[string]interface{}{"replicas": int64(1)}},
			},
		},
	}
	require.NoError(t, s.Apply(context.Background(), runtime))
	require.NoError(t, s.Start(context.Background()))

	select {
	case ev := <-s.Health():
		assert.False(t, ev.Healthy)
		assert.Contains(t, ev.LastError, "unavailable replicas")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unhealthy event")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
