package onhost

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/newrelic/agent-control/internal/oci"
)

// PackageStager stages an Executable's package and returns the local path
// of the staged binary/archive root, verifying the cosign signature layer
// before trusting the artifact (§4.9).
type PackageStager interface {
	Stage(ctx context.Context, ref oci.Reference, expectChartVersion string) (localPath string, err error)
}

// ociStager implements PackageStager against a real registry, grounded
// on the oci subsystem's fetch+verify pipeline (§4.9 "Fetch" +
// "Verification").
type ociStager struct {
	opts    oci.OCIOpts
	destDir string
	keys    []oci.PublicKey
	goos    string
}

func NewOCIStager(opts oci.OCIOpts, destDir string, keys []oci.PublicKey, goos string) PackageStager {
	return &ociStager{opts: opts, destDir: destDir, keys: keys, goos: goos}
}

func (s *ociStager) Stage(ctx context.Context, ref oci.Reference, _ string) (string, error) {
	localPath, manifestDigest, err := oci.FetchPackage(ctx, ref, s.opts, s.destDir, s.goos)
	if err != nil {
		return "", fmt.Errorf("fetching package %s: %w", ref, err)
	}

	sigRef, err := oci.Triangulate(ref, manifestDigest)
	if err != nil {
		return "", fmt.Errorf("triangulating signature reference for %s: %w", ref, err)
	}

	layers, err := oci.FetchSignatureLayers(ctx, sigRef, s.opts)
	if err != nil {
		return "", fmt.Errorf("fetching signature layers for %s: %w", ref, err)
	}

	if err := oci.Verify(layers, manifestDigest, s.keys); err != nil {
		return "", fmt.Errorf("verifying package %s: %w", ref, err)
	}
	return localPath, nil
}

// ensurePackage stages exe.Package if declared, rewriting exe.Path to
// point at the staged artifact. Called from apply() before (re)starting
// the executable (§4.4 "Packages": "BEFORE (re)starting the executable").
func ensurePackage(ctx context.Context, exe *Executable, stager PackageStager, log *logrus.Entry) error {
	if exe.Package == nil || stager == nil {
		return nil
	}

	ref, err := oci.ParseReference(exe.Package.Reference)
	if err != nil {
		return fmt.Errorf("package for %s: %w", exe.ID, err)
	}

	log.WithField("reference", ref.String()).Info("staging package")
	path, err := stager.Stage(ctx, ref, exe.Package.Version)
	if err != nil {
		return err
	}

	exe.Path = path
	return nil
}
