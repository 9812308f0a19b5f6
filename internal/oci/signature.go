package oci

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// PublicKey is a trusted signer, as fetched from the configured JWKS-style
// URL (§4.9 "Public keys").
type PublicKey struct {
	KeyID string
	Point ed25519.PublicKey
}

// criticalBlock is the strict shape of a Simple Signing payload's
// "critical" object. Unmarshalling it with DisallowUnknownFields rejects
// any key inside "critical" that isn't one of these (§3 SignatureLayer).
type criticalBlock struct {
	Identity struct {
		DockerReference string `json:"docker-reference"`
	} `json:"identity"`
	Image struct {
		DockerManifestDigest string `json:"docker-manifest-digest"`
	} `json:"image"`
	Type string `json:"type"`
}

type simpleSigningPayload struct {
	Critical criticalBlock   `json:"critical"`
	Optional json.RawMessage `json:"optional,omitempty"`
}

// SignatureLayer is one candidate signature pulled from a signature
// image's manifest (§4.9 "Signature layer fetch").
type SignatureLayer struct {
	RawPayloadBytes []byte
	SignatureB64    string
}

// ErrVerificationFailed is returned by Verify when no layer/key pair
// validates. N is the number of layers that passed the digest check in
// step 1 and were actually checked against the trusted keys — a layer
// rejected at step 1 never increments it (§4.9 step 1 note).
type ErrVerificationFailed struct {
	Checked int
	Digest  string
}

func (e *ErrVerificationFailed) Error() string {
	return fmt.Sprintf("verification failed. Checked with %d public keys, but no valid signature found for digest %s", e.Checked, e.Digest)
}

// Verify implements §4.9 "Verification": for each candidate layer, reject
// it (without counting it) if its payload's bound digest doesn't match
// expectedDigest; otherwise base64-decode the signature, count the layer
// as checked, and try every trusted key until one verifies.
func Verify(layers []SignatureLayer, expectedDigest string, keys []PublicKey) error {
	checked := 0

	for _, layer := range layers {
		var payload simpleSigningPayload
		dec := json.NewDecoder(bytes.NewReader(layer.RawPayloadBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&payload); err != nil {
			continue
		}

		if payload.Critical.Image.DockerManifestDigest != expectedDigest {
			continue
		}

		sig, err := base64.StdEncoding.DecodeString(layer.SignatureB64)
		if err != nil {
			continue
		}
		checked++

		for _, key := range keys {
			if ed25519.Verify(key.Point, layer.RawPayloadBytes, sig) {
				return nil
			}
		}
	}

	return &ErrVerificationFailed{Checked: checked, Digest: expectedDigest}
}
