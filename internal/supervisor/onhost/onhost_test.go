package onhost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newrelic/agent-control/internal/agentid"
)

func TestDecodeExecutablesParsesDeclaredFields(t *testing.T) {
	runtime := map[string]interface{}{
		"executables": []interface{}{
			map[string]interface{}{
				"id":   "main",
				"path": "/usr/bin/true",
				"args": []interface{}{"--flag"},
				"env":  map[string]interface{}{"A": "1"},
				"restart_policy": map[string]interface{}{
					"type":  "fixed",
					"delay": "5s",
				},
				"health_check": map[string]interface{}{
					"url":      "http://localhost:8080/healthz",
					"interval": "2s",
				},
				"version_check": map[string]interface{}{
					"command": "/usr/bin/true",
					"regex":   `v(\d+\.\d+\.\d+)`,
				},
			},
		},
	}

	executables, err := DecodeExecutables(runtime)
	require.NoError(t, err)
	require.Len(t, executables, 1)

	exe := executables[0]
	assert.Equal(t, "main", exe.ID)
	assert.Equal(t, "/usr/bin/true", exe.Path)
	assert.Equal(t, []string{"--flag"}, exe.Args)
	assert.Equal(t, "1", exe.Env["A"])
	assert.Equal(t, RestartFixed, exe.RestartPolicy.Type)
	assert.Equal(t, 5*time.Second, exe.RestartPolicy.Delay)
	require.NotNil(t, exe.HealthCheck)
	assert.Equal(t, "http://localhost:8080/healthz", exe.HealthCheck.URL)
	require.NotNil(t, exe.VersionCheck)
	assert.Equal(t, `v(\d+\.\d+\.\d+)`, exe.VersionCheck.Regex)
}

func TestDecodeExecutablesDefaultsToExponential(t *testing.T) {
	runtime := map[string]interface{}{
		"executables": []interface{}{
			map[string]interface{}{"id": "main", "path": "/usr/bin/true"},
		},
	}
	executables, err := DecodeExecutables(runtime)
	require.NoError(t, err)
	assert.Equal(t, RestartExponential, executables[0].RestartPolicy.Type)
}

func TestDecodeExecutablesRejectsUnknownVariant(t *testing.T) {
	runtime := map[string]interface{}{
		"executables": []interface{}{
			map[string]interface{}{
				"id": "main", "path": "/usr/bin/true",
				"restart_policy": map[string]interface{}{"type": "random"},
			},
		},
	}
	_, err := DecodeExecutables(runtime)
	assert.Error(t, err)
}

func TestRestartPolicyNextDelay(t *testing.T) {
	fixed := RestartPolicy{Type: RestartFixed, Delay: time.Second, MaxRetries: 2, LastRetryInterval: 10 * time.Second}
	assert.Equal(t, time.Second, fixed.NextDelay(1))
	assert.Equal(t, time.Second, fixed.NextDelay(2))
	assert.Equal(t, 10*time.Second, fixed.NextDelay(3))

	linear := RestartPolicy{Type: RestartLinear, Initial: time.Second, Step: time.Second, Cap: 3 * time.Second}
	assert.Equal(t, 2*time.Second, linear.NextDelay(1))
	assert.Equal(t, 3*time.Second, linear.NextDelay(2))
	assert.Equal(t, 3*time.Second, linear.NextDelay(10), "must respect cap")

	exp := RestartPolicy{Type: RestartExponential, ExpInitial: time.Second, Factor: 2, ExpCap: 8 * time.Second}
	assert.LessOrEqual(t, exp.NextDelay(3), 8*time.Second)
}

func TestSupervisorRunsAndReportsHealthy(t *testing.T) {
	s := New(agentid.ID("nr-test"), nil)
	runtime := map[string]interface{}{
		"executables": []interface{}{
			map[string]interface{}{"id": "main", "path": "/bin/sleep", "args": []interface{}{"5"}},
		},
	}
	require.NoError(t, s.Apply(context.Background(), runtime))
	require.NoError(t, s.Start(context.Background()))

	select {
	case ev := <-s.Health():
		assert.True(t, ev.Healthy)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for healthy event")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestSupervisorRestartsOnExit(t *testing.T) {
	s := New(agentid.ID("nr-test"), nil)
	runtime := map[string]interface{}{
		"executables": []interface{}{
			map[string]interface{}{
				"id": "main", "path": "/bin/true",
				"restart_policy": map[string]interface{}{"type": "fixed", "delay": "10ms"},
			},
		},
	}
	require.NoError(t, s.Apply(context.Background(), runtime))
	require.NoError(t, s.Start(context.Background()))

	seenUnhealthy := false
	deadline := time.After(2 * time.Second)
	for !seenUnhealthy {
		select {
		case ev := <-s.Health():
			if !ev.Healthy {
				seenUnhealthy = true
			}
		case <-deadline:
			t.Fatal("expected at least one unhealthy event from a restarting executable")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
