package oci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/content/memory"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
)

const (
	// MediaTypeTarGz and MediaTypeZip are the two package layer media
	// types the fetcher recognises, chosen per host platform (§4.9
	// "Fetch").
	MediaTypeTarGz = "application/gzip"
	MediaTypeZip   = "application/zip"

	// simpleSigningMediaType and signatureAnnotation identify the layer
	// that carries a cosign Simple Signing payload (§4.9 "Signature
	// layer fetch").
	simpleSigningMediaType = "application/vnd.dev.cosign.simplesigning.v1+json"
	signatureAnnotation    = "dev.cosignproject.cosign/signature"
)

// PackageMediaType selects the expected layer media type for goos, per the
// platform-dependent package format called out in §4.9.
func PackageMediaType(goos string) string {
	if goos == "windows" {
		return MediaTypeZip
	}
	return MediaTypeTarGz
}

// OCIOpts carries registry auth/TLS knobs. Concrete proxy/TLS bundle
// plumbing is out of core scope (§1); this mirrors only what oras-go
// itself needs to dial the registry.
type OCIOpts struct {
	Username        string
	Password        string
	PlainHTTP       bool
	InsecureSkipTLS bool
}

func newRepository(ref Reference, opts OCIOpts) (*remote.Repository, error) {
	repo, err := remote.NewRepository(ref.Registry + "/" + ref.Repository)
	if err != nil {
		return nil, fmt.Errorf("building repository for %s: %w", ref, err)
	}
	repo.PlainHTTP = opts.PlainHTTP
	authClient := &auth.Client{Cache: auth.NewCache()}
	if opts.Username != "" {
		cred := auth.Credential{Username: opts.Username, Password: opts.Password}
		authClient.Credential = func(context.Context, string) (auth.Credential, error) {
			return cred, nil
		}
	}
	repo.Client = authClient
	return repo, nil
}

func tagOrDigest(ref Reference) (string, error) {
	switch {
	case ref.Digest != "":
		return ref.Digest, nil
	case ref.Tag != "":
		return ref.Tag, nil
	default:
		return "", fmt.Errorf("reference %s has neither tag nor digest", ref)
	}
}

func fetchManifest(ctx context.Context, ref Reference, opts OCIOpts) (ocispec.Manifest, oras.ReadOnlyTarget, digest.Digest, error) {
	repo, err := newRepository(ref, opts)
	if err != nil {
		return ocispec.Manifest{}, nil, "", err
	}

	store := memory.New()
	td, err := tagOrDigest(ref)
	if err != nil {
		return ocispec.Manifest{}, nil, "", err
	}

	desc, err := oras.Copy(ctx, repo, td, store, td, oras.DefaultCopyOptions)
	if err != nil {
		return ocispec.Manifest{}, nil, "", fmt.Errorf("pulling manifest for %s: %w", ref, err)
	}

	raw, err := content.FetchAll(ctx, store, desc)
	if err != nil {
		return ocispec.Manifest{}, nil, "", fmt.Errorf("reading manifest for %s: %w", ref, err)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return ocispec.Manifest{}, nil, "", fmt.Errorf("decoding manifest for %s: %w", ref, err)
	}

	return manifest, store, desc.Digest, nil
}

// FetchPackage pulls ref's manifest, locates the layer matching the
// platform package media type, and stages it under destDir via a
// temp-file-then-atomic-rename so concurrent readers never observe a
// partially written file (§5 "File staging area"). It returns the staged
// path and the manifest digest (used both for package version comparison
// and for §4.9 signature triangulation).
func FetchPackage(ctx context.Context, ref Reference, opts OCIOpts, destDir, goos string) (localPath, manifestDigest string, err error) {
	manifest, store, manifestDig, err := fetchManifest(ctx, ref, opts)
	if err != nil {
		return "", "", err
	}

	mediaType := PackageMediaType(goos)
	var layer *ocispec.Descriptor
	for i := range manifest.Layers {
		if manifest.Layers[i].MediaType == mediaType {
			layer = &manifest.Layers[i]
			break
		}
	}
	if layer == nil {
		return "", "", fmt.Errorf("no layer with media type %s found in %s", mediaType, ref)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating package dir %s: %w", destDir, err)
	}

	finalPath := filepath.Join(destDir, layer.Digest.String())
	if err := stageBlob(ctx, store, *layer, destDir, finalPath); err != nil {
		return "", "", err
	}

	return finalPath, manifestDig.String(), nil
}

func stageBlob(ctx context.Context, store oras.ReadOnlyTarget, desc ocispec.Descriptor, destDir, finalPath string) error {
	rc, err := store.Fetch(ctx, desc)
	if err != nil {
		return fmt.Errorf("fetching blob %s: %w", desc.Digest, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(destDir, ".staging-*")
	if err != nil {
		return fmt.Errorf("staging blob %s: %w", desc.Digest, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return fmt.Errorf("writing blob %s: %w", desc.Digest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing staged blob %s: %w", desc.Digest, err)
	}

	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return fmt.Errorf("renaming staged blob %s into place: %w", desc.Digest, err)
	}
	return nil
}

// FetchSignatureLayers pulls the signature image manifest at ref (the
// triangulated reference, see Triangulate) and returns every layer
// carrying a Simple Signing payload and its base64 signature annotation
// (§4.9 "Signature layer fetch").
func FetchSignatureLayers(ctx context.Context, ref Reference, opts OCIOpts) ([]SignatureLayer, error) {
	manifest, store, _, err := fetchManifest(ctx, ref, opts)
	if err != nil {
		return nil, err
	}

	var layers []SignatureLayer
	for _, l := range manifest.Layers {
		if l.MediaType != simpleSigningMediaType {
			continue
		}
		sig, ok := l.Annotations[signatureAnnotation]
		if !ok {
			continue
		}
		raw, err := content.FetchAll(ctx, store, l)
		if err != nil {
			return nil, fmt.Errorf("fetching signature payload %s: %w", l.Digest, err)
		}
		layers = append(layers, SignatureLayer{RawPayloadBytes: raw, SignatureB64: sig})
	}
	return layers, nil
}
