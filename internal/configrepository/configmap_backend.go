package configrepository

import (
	"context"

	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/yaml"

	"github.com/newrelic/agent-control/internal/agentid"
	"github.com/newrelic/agent-control/internal/k8s/labels"
)

const (
	keyLocalConfig  = "local_config"
	keyRemoteConfig = "remote_config"
	keyRemoteStatus = "remote_config_status"
	configMapPrefix = "agent-control-"
)

// ConfigMapBackend implements Backend against one Kubernetes ConfigMap per
// agent (§4.1 "Backends"), keyed entries local_config/remote_config/
// remote_config_status, carrying the standard managed-by label.
type ConfigMapBackend struct {
	Client    kubernetes.Interface
	Namespace string
}

func NewConfigMapBackend(client kubernetes.Interface, namespace string) *ConfigMapBackend {
	return &ConfigMapBackend{Client: client, Namespace: namespace}
}

func (b *ConfigMapBackend) name(id agentid.ID) string {
	return configMapPrefix + string(id)
}

func (b *ConfigMapBackend) get(ctx context.Context, id agentid.ID) (*corev1.ConfigMap, error) {
	cm, err := b.Client.CoreV1().ConfigMaps(b.Namespace).Get(ctx, b.name(id), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fetching config map for %s", id)
	}
	return cm, nil
}

func (b *ConfigMapBackend) LoadLocal(id agentid.ID) (*YAMLConfig, error) {
	cm, err := b.get(context.Background(), id)
	if err != nil || cm == nil {
		return nil, err
	}
	if v, ok := cm.Data[keyLocalConfig]; ok {
		cfg := YAMLConfig(v)
		return &cfg, nil
	}
	return nil, nil
}

func (b *ConfigMapBackend) LoadRemote(id agentid.ID) (*RemoteConfig, error) {
	cm, err := b.get(context.Background(), id)
	if err != nil || cm == nil {
		return nil, err
	}
	payload, ok := cm.Data[keyRemoteConfig]
	if !ok {
		return nil, nil
	}

	var status remoteStatusFile
	if raw, ok := cm.Data[keyRemoteStatus]; ok {
		if err := yaml.Unmarshal([]byte(raw), &status); err != nil {
			return nil, errors.Wrapf(err, "decoding remote config status for %s", id)
		}
	}

	return &RemoteConfig{
		YAMLConfig: YAMLConfig(payload),
		Hash:       status.Hash,
		State:      RemoteState{Phase: status.Phase, Reason: status.Reason},
	}, nil
}

func (b *ConfigMapBackend) StoreRemote(id agentid.ID, cfg RemoteConfig) error {
	statusRaw, err := yaml.Marshal(remoteStatusFile{Hash: cfg.Hash, Phase: cfg.State.Phase, Reason: cfg.State.Reason})
	if err != nil {
		return errors.Wrapf(err, "encoding remote config status for %s", id)
	}
	return b.patchData(id, map[string]string{
		keyRemoteConfig: string(cfg.YAMLConfig),
		keyRemoteStatus: string(statusRaw),
	})
}

func (b *ConfigMapBackend) UpdateRemoteState(id agentid.ID, state RemoteState) error {
	existing, err := b.LoadRemote(id)
	if err != nil {
		return err
	}
	if existing == nil {
		return &UpdateHashStateError{AgentID: id}
	}
	statusRaw, err := yaml.Marshal(remoteStatusFile{Hash: existing.Hash, Phase: state.Phase, Reason: state.Reason})
	if err != nil {
		return errors.Wrapf(err, "encoding remote config status for %s", id)
	}
	return b.patchData(id, map[string]string{keyRemoteStatus: string(statusRaw)})
}

func (b *ConfigMapBackend) DeleteRemote(id agentid.ID) error {
	ctx := context.Background()
	cm, err := b.get(ctx, id)
	if err != nil || cm == nil {
		return err
	}
	delete(cm.Data, keyRemoteConfig)
	delete(cm.Data, keyRemoteStatus)
	_, err = b.Client.CoreV1().ConfigMaps(b.Namespace).Update(ctx, cm, metav1.UpdateOptions{})
	if err != nil {
		return errors.Wrapf(err, "clearing remote config for %s", id)
	}
	return nil
}

func (b *ConfigMapBackend) patchData(id agentid.ID, data map[string]string) error {
	ctx := context.Background()
	cm, err := b.get(ctx, id)
	if err != nil {
		return err
	}
	if cm == nil {
		cm = &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{
				Name:      b.name(id),
				Namespace: b.Namespace,
				Labels:    labels.Managed(id),
			},
			Data: map[string]string{},
		}
		for k, v := range data {
			cm.Data[k] = v
		}
		_, err := b.Client.CoreV1().ConfigMaps(b.Namespace).Create(ctx, cm, metav1.CreateOptions{})
		if err != nil {
			return errors.Wrapf(err, "creating config map for %s", id)
		}
		return nil
	}

	if cm.Data == nil {
		cm.Data = map[string]string{}
	}
	for k, v := range data {
		cm.Data[k] = v
	}
	cm.Labels = labels.Merge(cm.Labels, labels.Managed(id))
	_, err = b.Client.CoreV1().ConfigMaps(b.Namespace).Update(ctx, cm, metav1.UpdateOptions{})
	if err != nil {
		return errors.Wrapf(err, "updating config map for %s", id)
	}
	return nil
}
