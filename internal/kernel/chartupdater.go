package kernel

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"

	"github.com/newrelic/agent-control/internal/agentid"
	"github.com/newrelic/agent-control/internal/k8s/labels"
)

var helmReleaseGVR = schema.GroupVersionResource{
	Group:    "helm.toolkit.fluxcd.io",
	Version:  "v2beta1",
	Resource: "helmreleases",
}

// helmChartUpdater implements ChartUpdater by locating the HelmRelease
// that manages agent-control itself — found via the managed-by label
// carrying the reserved agent-control id, never a hardcoded name — and
// patching its spec.chart.spec.version (§4.7 step 3, grounded on the
// `tests/k8s/flux_self_update.rs` scenario).
type helmChartUpdater struct {
	client    dynamic.Interface
	namespace string
}

// NewHelmChartUpdater returns a ChartUpdater for the k8s kernel variant.
func NewHelmChartUpdater(client dynamic.Interface, namespace string) ChartUpdater {
	return &helmChartUpdater{client: client, namespace: namespace}
}

func (u *helmChartUpdater) UpdateChartVersion(ctx context.Context, version string) error {
	res := u.client.Resource(helmReleaseGVR).Namespace(u.namespace)

	selector := fmt.Sprintf("%s=%s,%s=%s",
		labels.ManagedByKey, labels.ManagedByValue,
		labels.AgentIDKey, agentid.Reserved)

	list, err := res.List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return fmt.Errorf("listing managing HelmRelease: %w", err)
	}
	if len(list.Items) != 1 {
		return fmt.Errorf("expected exactly one managing HelmRelease, found %d", len(list.Items))
	}

	hr := list.Items[0]
	if err := unstructured.SetNestedField(hr.Object, version, "spec", "chart", "spec", "version"); err != nil {
		return fmt.Errorf("setting chart version: %w", err)
	}

	if _, err := res.Update(ctx, &hr, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("updating managing HelmRelease: %w", err)
	}
	return nil
}

var _ ChartUpdater = (*helmChartUpdater)(nil)
