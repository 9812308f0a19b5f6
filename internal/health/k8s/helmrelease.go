package k8s

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/newrelic/agent-control/internal/health"
)

// NewHelmReleaseChecker builds the HelmRelease row of §4.5's table: unhealthy
// if the Ready condition isn't True, or if the deployed chart version
// doesn't match expectedChartVersion.
func NewHelmReleaseChecker(expectedChartVersion string) health.CheckerFunc {
	return func(obj *unstructured.Unstructured) (health.Status, error) {
		ready, reason := readyCondition(obj)
		if !ready {
			return health.Unhealthy(fmt.Sprintf("HelmRelease `%s`: %s", obj.GetName(), reason)), nil
		}

		version, _, err := unstructured.NestedString(obj.Object, "spec", "chart", "spec", "version")
		if err != nil {
			return health.Status{}, fmt.Errorf("reading chart version of %s: %w", obj.GetName(), err)
		}
		if expectedChartVersion != "" && version != expectedChartVersion {
			return health.Unhealthy(fmt.Sprintf("HelmRelease `%s`: chart version %q does not match expected %q", obj.GetName(), version, expectedChartVersion)), nil
		}

		return health.Healthy(), nil
	}
}

// HelmReleaseVersion extracts spec.chart.spec.version (§4.5 "Version
// extraction").
func HelmReleaseVersion(obj *unstructured.Unstructured) (string, bool) {
	version, found, err := unstructured.NestedString(obj.Object, "spec", "chart", "spec", "version")
	if err != nil || !found {
		return "", false
	}
	return version, true
}

func readyCondition(obj *unstructured.Unstructured) (ready bool, reason string) {
	conditions, _, err := unstructured.NestedSlice(obj.Object, "status", "conditions")
	if err != nil {
		return false, "no conditions reported"
	}
	for _, c := range conditions {
		cond, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		if cond["type"] != "Ready" {
			continue
		}
		status, _ := cond["status"].(string)
		if status == "True" {
			return true, ""
		}
		message, _ := cond["message"].(string)
		return false, fmt.Sprintf("Ready condition is %q: %s", status, message)
	}
	return false, "no Ready condition reported"
}
