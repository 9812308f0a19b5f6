package assembler

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/newrelic/agent-control/internal/agentid"
)

// FilePersister materialises file leaves under "<base>/<agent-id>/<name>",
// the per-agent directory an OnHost executable reads config/secrets from.
type FilePersister struct {
	BaseDir string
}

func NewFilePersister(baseDir string) *FilePersister {
	return &FilePersister{BaseDir: baseDir}
}

func (p *FilePersister) agentDir(id agentid.ID) string {
	return filepath.Join(p.BaseDir, string(id))
}

func (p *FilePersister) Persist(id agentid.ID, name string, content []byte) (string, error) {
	dir := p.agentDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating persist dir for %s", id)
	}

	path := filepath.Join(dir, sanitize(name))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", errors.Wrapf(err, "writing %s", path)
	}
	return path, nil
}

func (p *FilePersister) Prune(id agentid.ID, keep []string) error {
	dir := p.agentDir(id)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "listing persist dir for %s", id)
	}

	wanted := make(map[string]bool, len(keep))
	for _, k := range keep {
		wanted[sanitize(k)] = true
	}

	for _, entry := range entries {
		if wanted[entry.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return errors.Wrapf(err, "pruning %s for %s", entry.Name(), id)
		}
	}
	return nil
}

func sanitize(name string) string {
	return filepath.Base(filepath.FromSlash(name))
}
