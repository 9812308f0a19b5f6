package opamp

import (
	"context"
	"sync"
)

// RemoteConfigStatusReport is one call recorded by RecordingClient.
type RemoteConfigStatusReport struct {
	Hash    string
	Applied bool
	Reason  string
}

// RecordingClient is a Client that records every call instead of talking
// to a server — the "recording fake" §1 calls for in place of a concrete
// OpAMP transport.
type RecordingClient struct {
	cb Callbacks

	mu             sync.Mutex
	started        bool
	stopped        bool
	HealthReports  []HealthReport
	VersionReports []string
	StatusReports  []RemoteConfigStatusReport
}

// HealthReport is one ReportHealth call recorded by RecordingClient.
type HealthReport struct {
	Healthy   bool
	LastError string
}

func NewRecordingClient(cb Callbacks) *RecordingClient {
	return &RecordingClient{cb: cb}
}

func (c *RecordingClient) Start(context.Context) error {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	if c.cb.OnConnected != nil {
		c.cb.OnConnected()
	}
	return nil
}

func (c *RecordingClient) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return nil
}

func (c *RecordingClient) ReportHealth(healthy bool, lastError string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.HealthReports = append(c.HealthReports, HealthReport{Healthy: healthy, LastError: lastError})
	return nil
}

func (c *RecordingClient) ReportVersion(version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.VersionReports = append(c.VersionReports, version)
	return nil
}

func (c *RecordingClient) SetRemoteConfigStatus(hash string, applied bool, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StatusReports = append(c.StatusReports, RemoteConfigStatusReport{Hash: hash, Applied: applied, Reason: reason})
	return nil
}

// DeliverRemoteConfig simulates the server pushing a remote config, for
// tests driving the Sub-Agent's HandleRemoteConfig path.
func (c *RecordingClient) DeliverRemoteConfig(cfg RemoteConfig) {
	if c.cb.OnRemoteConfig != nil {
		c.cb.OnRemoteConfig(cfg)
	}
}

func (c *RecordingClient) IsStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *RecordingClient) IsStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

var _ Client = (*RecordingClient)(nil)
