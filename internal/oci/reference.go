// Package oci implements the OCI package and signature subsystem (§4.9):
// pulling agent packages from an OCI registry, triangulating their cosign
// signature reference, and verifying Simple-Signing payloads.
package oci

import (
	"fmt"
	"strings"
)

// Reference identifies an OCI artifact by registry/repository and either a
// tag or a digest.
type Reference struct {
	Registry   string
	Repository string
	Tag        string
	Digest     string
}

// String renders the reference in registry/repository[:tag|@digest] form.
func (r Reference) String() string {
	base := strings.TrimSuffix(r.Registry, "/") + "/" + strings.Trim(r.Repository, "/")
	if r.Digest != "" {
		return base + "@" + r.Digest
	}
	if r.Tag != "" {
		return base + ":" + r.Tag
	}
	return base
}

// ParseReference splits "registry/repository[:tag|@digest]" into a
// Reference, the form package_ref.reference is stored in by the
// EffectiveAgent config (§3 "Package").
func ParseReference(s string) (Reference, error) {
	if at := strings.LastIndex(s, "@"); at != -1 {
		return Reference{Registry: registryOf(s[:at]), Repository: repoOf(s[:at]), Digest: s[at+1:]}, nil
	}
	if colon := strings.LastIndex(s, ":"); colon != -1 && colon > strings.LastIndex(s, "/") {
		return Reference{Registry: registryOf(s[:colon]), Repository: repoOf(s[:colon]), Tag: s[colon+1:]}, nil
	}
	return Reference{}, fmt.Errorf("parse reference %q: missing tag or digest", s)
}

func registryOf(s string) string {
	i := strings.Index(s, "/")
	if i == -1 {
		return s
	}
	return s[:i]
}

func repoOf(s string) string {
	i := strings.Index(s, "/")
	if i == -1 {
		return ""
	}
	return s[i+1:]
}

// digestPrefix is the only algorithm this subsystem triangulates against;
// the spec's examples are all sha256.
const digestPrefix = "sha256:"

// Triangulate derives the deterministic signature reference for an image
// manifest digest (§4.9 "Signature triangulation", P4): same registry and
// repository, with a tag of "sha256-<hex>.sig".
func Triangulate(ref Reference, manifestDigest string) (Reference, error) {
	if !strings.HasPrefix(manifestDigest, digestPrefix) {
		return Reference{}, fmt.Errorf("triangulate: digest %q is not sha256", manifestDigest)
	}
	hex := strings.TrimPrefix(manifestDigest, digestPrefix)
	if hex == "" {
		return Reference{}, fmt.Errorf("triangulate: digest %q has no hex part", manifestDigest)
	}
	return Reference{
		Registry:   ref.Registry,
		Repository: ref.Repository,
		Tag:        "sha256-" + hex + ".sig",
	}, nil
}
