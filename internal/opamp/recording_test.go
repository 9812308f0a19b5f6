package opamp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordingClientRecordsLifecycleAndReports(t *testing.T) {
	var connected bool
	var received RemoteConfig

	c := NewRecordingClient(Callbacks{
		OnConnected:    func() { connected = true },
		OnRemoteConfig: func(cfg RemoteConfig) { received = cfg },
	})

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, connected)
	assert.True(t, c.IsStarted())

	require.NoError(t, c.ReportHealth(false, "boom"))
	require.NoError(t, c.ReportVersion("1.2.3"))
	require.NoError(t, c.SetRemoteConfigStatus("sha256:abc", true, ""))

	c.DeliverRemoteConfig(RemoteConfig{Hash: "sha256:abc", Payload: []byte("level: debug\n")})
	assert.Equal(t, "sha256:abc", received.Hash)

	require.NoError(t, c.Stop(context.Background()))
	assert.True(t, c.IsStopped())

	require.Len(t, c.HealthReports, 1)
	assert.False(t, c.HealthReports[0].Healthy)
	assert.Equal(t, []string{"1.2.3"}, c.VersionReports)
	require.Len(t, c.StatusReports, 1)
	assert.True(t, c.StatusReports[0].Applied)
}
