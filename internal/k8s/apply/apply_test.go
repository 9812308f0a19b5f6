package apply

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	"github.com/newrelic/agent-control/internal/agentid"
	"github.com/newrelic/agent-control/internal/k8s/labels"
)

func deploymentGVR() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"}
}

func newFakeClient() dynamic.Interface {
	scheme := runtime.NewScheme()
	return dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, map[schema.GroupVersionResource]string{
		deploymentGVR(): "DeploymentList",
	})
}

func sampleObject(replicas int64, userLabels map[string]string) Object {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "apps/v1",
		"kind":       "Deployment",
		"metadata": map[string]interface{}{
			"name":      "infra-agent",
			"namespace": "newrelic",
			"labels":    toInterfaceMap(userLabels),
		},
		"spec": map[string]interface{}{
			"replicas": replicas,
		},
	}}
	return Object{
		GVR:       deploymentGVR(),
		Object:    obj,
		AgentID:   agentid.ID("infra-agent"),
		AgentType: "newrelic/infra-agent:0.1.0",
	}
}

func toInterfaceMap(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func TestApplyIfChangedCreatesWhenAbsent(t *testing.T) {
	client := newFakeClient()

	result, err := ApplyIfChanged(context.Background(), client, sampleObject(1, nil))
	require.NoError(t, err)
	assert.Equal(t, Created, result)

	live, err := client.Resource(deploymentGVR()).Namespace("newrelic").Get(context.Background(), "infra-agent", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, labels.ManagedByValue, live.GetLabels()[labels.ManagedByKey])
	assert.Equal(t, "infra-agent", live.GetLabels()[labels.AgentIDKey])
	assert.Equal(t, "newrelic/infra-agent:0.1.0", live.GetAnnotations()[labels.AgentTypeIDKey])
}

func TestApplyIfChangedIsNoopWhenUnchanged(t *testing.T) {
	client := newFakeClient()

	_, err := ApplyIfChanged(context.Background(), client, sampleObject(1, nil))
	require.NoError(t, err)

	result, err := ApplyIfChanged(context.Background(), client, sampleObject(1, nil))
	require.NoError(t, err)
	assert.Equal(t, Unchanged, result)
}

func TestApplyIfChangedUpdatesOnDataDrift(t *testing.T) {
	client := newFakeClient()

	_, err := ApplyIfChanged(context.Background(), client, sampleObject(1, nil))
	require.NoError(t, err)

	result, err := ApplyIfChanged(context.Background(), client, sampleObject(3, nil))
	require.NoError(t, err)
	assert.Equal(t, Updated, result)

	live, err := client.Resource(deploymentGVR()).Namespace("newrelic").Get(context.Background(), "infra-agent", metav1.GetOptions{})
	require.NoError(t, err)
	replicas, _, _ := unstructured.NestedInt64(live.Object, "spec", "replicas")
	assert.Equal(t, int64(3), replicas)
}

func TestApplyIfChangedUserLabelsWinOverDefaultsExceptAgentID(t *testing.T) {
	client := newFakeClient()

	_, err := ApplyIfChanged(context.Background(), client, sampleObject(1, map[string]string{
		"team":              "custom-team",
		labels.AgentIDKey:   "attacker-supplied",
		labels.ManagedByKey: "someone-else",
	}))
	require.NoError(t, err)

	live, err := client.Resource(deploymentGVR()).Namespace("newrelic").Get(context.Background(), "infra-agent", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "custom-team", live.GetLabels()["team"])
	assert.Equal(t, "infra-agent", live.GetLabels()[labels.AgentIDKey], "reserved agent-id label is never overridable by user input")
}
