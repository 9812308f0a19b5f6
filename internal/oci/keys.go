package oci

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/newrelic/agent-control/internal/httpclient"
	"github.com/newrelic/agent-control/pkg/durations"
)

// jwksDoc is a minimal JWKS-shaped document: a set of OKP (Ed25519) keys,
// each carrying its raw point base64url-encoded in "x", matching RFC 8037.
type jwksDoc struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	KeyID string `json:"kid"`
	X     string `json:"x"`
}

// FetchPublicKeys retrieves and parses the trusted signer set from url,
// bounded by the 30s timeout mandated in §4.9.
func FetchPublicKeys(ctx context.Context, client httpclient.Client, url string) ([]PublicKey, error) {
	ctx, cancel := context.WithTimeout(ctx, durations.OCIPublicKeysFetchTimeout)
	defer cancel()

	body, err := client.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetching public keys from %s: %w", url, err)
	}

	var doc jwksDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parsing public keys document: %w", err)
	}

	keys := make([]PublicKey, 0, len(doc.Keys))
	for _, k := range doc.Keys {
		point, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, fmt.Errorf("public key %s: invalid encoding: %w", k.KeyID, err)
		}
		keys = append(keys, PublicKey{KeyID: k.KeyID, Point: point})
	}
	return keys, nil
}
