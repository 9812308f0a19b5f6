// Package httpclient declares the abstract HTTP capability the control
// plane depends on. Concrete transport (proxy/TLS bundle loading,
// connection pooling) is explicitly out of the specified core (§1); this
// package only fixes the shape callers code against, plus a thin default
// backed by net/http for production wiring.
package httpclient

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Client is the capability the OCI and public-key fetchers depend on.
// Implementations are expected to apply whatever proxy/TLS/auth
// configuration the deployment requires; this package does not.
type Client interface {
	// Get fetches url and returns the response body. The caller owns
	// applying any timeout via ctx.
	Get(ctx context.Context, url string) ([]byte, error)
}

// Default is a minimal net/http-backed Client, adequate for tests and for
// environments with no proxy/mTLS requirements.
type Default struct {
	HTTPClient *http.Client
}

// NewDefault returns a Default client with the given per-request timeout.
func NewDefault(timeout time.Duration) *Default {
	return &Default{HTTPClient: &http.Client{Timeout: timeout}}
}

func (d *Default) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (d *Default) client() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return http.DefaultClient
}
