package configrepository

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/newrelic/agent-control/internal/agentid"
)

const (
	localDataDir = "local-data"
	fleetDataDir = "fleet-data"
	localConfig  = "local_config.yaml"
	remoteConfig = "remote_config.yaml"
	remoteStatus = "remote_config_status.yaml"
)

// remoteStatusFile is the sidecar that carries hash+state for a stored
// RemoteConfig, kept separate from the YAML payload itself so the payload
// file is exactly what the remote sent.
type remoteStatusFile struct {
	Hash   string `json:"hash"`
	Phase  Phase  `json:"phase"`
	Reason string `json:"reason,omitempty"`
}

// FileBackend implements Backend against the on-host file tree described in
// §4.1: "<base>/local-data/<id>/local_config.yaml" and
// "<base>/fleet-data/<id>/remote_config.yaml" (+ status sidecar).
type FileBackend struct {
	BaseDir string
}

func NewFileBackend(baseDir string) *FileBackend {
	return &FileBackend{BaseDir: baseDir}
}

func (b *FileBackend) localPath(id agentid.ID) string {
	return filepath.Join(b.BaseDir, localDataDir, string(id), localConfig)
}

func (b *FileBackend) remotePath(id agentid.ID) string {
	return filepath.Join(b.BaseDir, fleetDataDir, string(id), remoteConfig)
}

func (b *FileBackend) remoteStatusPath(id agentid.ID) string {
	return filepath.Join(b.BaseDir, fleetDataDir, string(id), remoteStatus)
}

func (b *FileBackend) LoadLocal(id agentid.ID) (*YAMLConfig, error) {
	return readOptional(b.localPath(id))
}

func (b *FileBackend) LoadRemote(id agentid.ID) (*RemoteConfig, error) {
	payload, err := readOptional(b.remotePath(id))
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}

	statusRaw, err := os.ReadFile(b.remoteStatusPath(id))
	if err != nil {
		return nil, errors.Wrapf(err, "reading remote config status for %s", id)
	}
	var status remoteStatusFile
	if err := yaml.Unmarshal(statusRaw, &status); err != nil {
		return nil, errors.Wrapf(err, "decoding remote config status for %s", id)
	}

	return &RemoteConfig{
		YAMLConfig: *payload,
		Hash:       status.Hash,
		State:      RemoteState{Phase: status.Phase, Reason: status.Reason},
	}, nil
}

func (b *FileBackend) StoreRemote(id agentid.ID, cfg RemoteConfig) error {
	dir := filepath.Join(b.BaseDir, fleetDataDir, string(id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating remote config dir for %s", id)
	}

	if err := os.WriteFile(b.remotePath(id), cfg.YAMLConfig, 0o644); err != nil {
		return errors.Wrapf(err, "writing remote config for %s", id)
	}

	return b.writeStatus(id, cfg.Hash, cfg.State)
}

func (b *FileBackend) UpdateRemoteState(id agentid.ID, state RemoteState) error {
	statusRaw, err := os.ReadFile(b.remoteStatusPath(id))
	if err != nil {
		return errors.Wrapf(err, "reading remote config status for %s", id)
	}
	var status remoteStatusFile
	if err := yaml.Unmarshal(statusRaw, &status); err != nil {
		return errors.Wrapf(err, "decoding remote config status for %s", id)
	}
	return b.writeStatus(id, status.Hash, state)
}

func (b *FileBackend) writeStatus(id agentid.ID, hash string, state RemoteState) error {
	raw, err := yaml.Marshal(remoteStatusFile{Hash: hash, Phase: state.Phase, Reason: state.Reason})
	if err != nil {
		return errors.Wrapf(err, "encoding remote config status for %s", id)
	}
	if err := os.WriteFile(b.remoteStatusPath(id), raw, 0o644); err != nil {
		return errors.Wrapf(err, "writing remote config status for %s", id)
	}
	return nil
}

func (b *FileBackend) DeleteRemote(id agentid.ID) error {
	for _, p := range []string{b.remotePath(id), b.remoteStatusPath(id)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "deleting %s", p)
		}
	}
	return nil
}

func readOptional(path string) (*YAMLConfig, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	cfg := YAMLConfig(raw)
	return &cfg, nil
}
