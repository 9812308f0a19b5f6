package k8s

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func deploymentObj(name string, unavailable, available, replicas int64) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "apps/v1",
		"kind":       "Deployment",
		"metadata": map[string]interface{}{
			"name": name,
		},
		"spec": map[string]interface{}{
			"replicas": replicas,
		},
		"status": map[string]interface{}{
			"unavailableReplicas": unavailable,
			"availableReplicas":   available,
		},
	}}
}

func TestDeploymentCheckerHealthy(t *testing.T) {
	status, err := DeploymentChecker(deploymentObj("infra-agent", 0, 2, 2))
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}

func TestDeploymentCheckerUnavailable(t *testing.T) {
	status, err := DeploymentChecker(deploymentObj("infra-agent", 1, 1, 2))
	require.NoError(t, err)
	assert.False(t, status.Healthy)
	assert.Equal(t, "Deployment `infra-agent`: has 1 unavailable replicas", status.LastError)
}

func TestSelectReturnsFirstUnhealthyByStableName(t *testing.T) {
	healthy := deploymentObj("a-healthy", 0, 1, 1)
	unhealthy := deploymentObj("b-unhealthy", 1, 0, 1)

	status, err := Select([]*unstructured.Unstructured{unhealthy, healthy}, "")
	require.NoError(t, err)
	assert.False(t, status.Healthy)
	assert.Equal(t, "Deployment `b-unhealthy`: has 1 unavailable replicas", status.LastError)
}

func TestSelectAllHealthy(t *testing.T) {
	a := deploymentObj("a", 0, 1, 1)
	b := deploymentObj("b", 0, 1, 1)

	status, err := Select([]*unstructured.Unstructured{a, b}, "")
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}

func helmReleaseObj(name, chartVersion, readyStatus string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "helm.toolkit.fluxcd.io/v2beta1",
		"kind":       "HelmRelease",
		"metadata": map[string]interface{}{
			"name": name,
		},
		"spec": map[string]interface{}{
			"chart": map[string]interface{}{
				"spec": map[string]interface{}{
					"version": chartVersion,
				},
			},
		},
		"status": map[string]interface{}{
			"conditions": []interface{}{
				map[string]interface{}{
					"type":   "Ready",
					"status": readyStatus,
				},
			},
		},
	}}
}

func TestHelmReleaseCheckerVersionMismatch(t *testing.T) {
	checker := NewHelmReleaseChecker("2.0.0")
	status, err := checker.Check(helmReleaseObj("flux-release", "1.0.0", "True"))
	require.NoError(t, err)
	assert.False(t, status.Healthy)
}

func TestHelmReleaseCheckerNotReady(t *testing.T) {
	checker := NewHelmReleaseChecker("")
	status, err := checker.Check(helmReleaseObj("flux-release", "1.0.0", "False"))
	require.NoError(t, err)
	assert.False(t, status.Healthy)
}

func TestHelmReleaseVersionExtraction(t *testing.T) {
	v, ok := HelmReleaseVersion(helmReleaseObj("flux-release", "1.0.0", "True"))
	require.True(t, ok)
	assert.Equal(t, "1.0.0", v)
}
