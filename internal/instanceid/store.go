// Package instanceid generates and persists a stable per-agent identity
// (§2 "Instance-ID Store"): the first time an AgentID is seen, a UUID is
// minted and persisted; every later lookup returns the same value, so the
// agent survives restarts without becoming a "new" instance to the fleet.
package instanceid

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/newrelic/agent-control/internal/agentid"
	"github.com/newrelic/agent-control/internal/k8s/labels"
)

// Store mints or recalls a stable instance ID for an agent.
type Store interface {
	Get(id agentid.ID) (uuid.UUID, error)
}

// FileStore persists instance IDs under "<base>/fleet-data/<id>/instance_id.yaml"
// — the same per-agent directory the file config backend uses (§4.1).
type FileStore struct {
	BaseDir string
}

func NewFileStore(baseDir string) *FileStore {
	return &FileStore{BaseDir: baseDir}
}

func (s *FileStore) path(id agentid.ID) string {
	return filepath.Join(s.BaseDir, "fleet-data", string(id), "instance_id.yaml")
}

func (s *FileStore) Get(id agentid.ID) (uuid.UUID, error) {
	p := s.path(id)

	raw, err := os.ReadFile(p)
	if err == nil {
		parsed, err := uuid.Parse(strings.TrimSpace(string(raw)))
		if err != nil {
			return uuid.UUID{}, errors.Wrapf(err, "parsing persisted instance id for %s", id)
		}
		return parsed, nil
	}
	if !os.IsNotExist(err) {
		return uuid.UUID{}, errors.Wrapf(err, "reading instance id for %s", id)
	}

	fresh := uuid.New()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return uuid.UUID{}, errors.Wrapf(err, "creating instance id dir for %s", id)
	}
	if err := os.WriteFile(p, []byte(fresh.String()+"\n"), 0o644); err != nil {
		return uuid.UUID{}, errors.Wrapf(err, "persisting instance id for %s", id)
	}
	return fresh, nil
}

// ConfigMapStore persists instance IDs as the "instance_id" entry of the
// agent's ConfigMap, alongside local/remote config (§4.1 "Backends").
type ConfigMapStore struct {
	Client    kubernetes.Interface
	Namespace string
}

func NewConfigMapStore(client kubernetes.Interface, namespace string) *ConfigMapStore {
	return &ConfigMapStore{Client: client, Namespace: namespace}
}

func (s *ConfigMapStore) name(id agentid.ID) string {
	return "agent-control-" + string(id)
}

func (s *ConfigMapStore) Get(id agentid.ID) (uuid.UUID, error) {
	ctx := context.Background()
	cm, err := s.Client.CoreV1().ConfigMaps(s.Namespace).Get(ctx, s.name(id), metav1.GetOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return uuid.UUID{}, errors.Wrapf(err, "fetching config map for %s", id)
	}

	if err == nil {
		if raw, ok := cm.Data["instance_id"]; ok {
			parsed, err := uuid.Parse(strings.TrimSpace(raw))
			if err != nil {
				return uuid.UUID{}, errors.Wrapf(err, "parsing persisted instance id for %s", id)
			}
			return parsed, nil
		}
	}

	fresh := uuid.New()
	if apierrors.IsNotFound(err) {
		cm = &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{
				Name:      s.name(id),
				Namespace: s.Namespace,
				Labels:    labels.Managed(id),
			},
			Data: map[string]string{"instance_id": fresh.String()},
		}
		if _, err := s.Client.CoreV1().ConfigMaps(s.Namespace).Create(ctx, cm, metav1.CreateOptions{}); err != nil {
			return uuid.UUID{}, errors.Wrapf(err, "creating config map for %s", id)
		}
		return fresh, nil
	}

	if cm.Data == nil {
		cm.Data = map[string]string{}
	}
	cm.Data["instance_id"] = fresh.String()
	if _, err := s.Client.CoreV1().ConfigMaps(s.Namespace).Update(ctx, cm, metav1.UpdateOptions{}); err != nil {
		return uuid.UUID{}, errors.Wrapf(err, "persisting instance id for %s", id)
	}
	return fresh, nil
}
