package onhost

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/newrelic/agent-control/internal/supervisor"
)

// runHealthProbe polls hc on its configured schedule, publishing a
// HealthEvent on every result. An unhealthy result does not restart the
// process (§4.4 "Probes": "restart is driven solely by process exit").
func runHealthProbe(ctx context.Context, hc *HealthCheck, events chan<- supervisor.HealthEvent, log *logrus.Entry) {
	if hc.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(hc.InitialDelay):
		}
	}

	interval := hc.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status := probeOnce(ctx, hc, log)
		select {
		case events <- status:
		case <-ctx.Done():
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func probeOnce(ctx context.Context, hc *HealthCheck, log *logrus.Entry) (result supervisor.HealthEvent) {
	defer func() {
		if r := recover(); r != nil {
			// §7 "Propagation policy": panics in probes are caught and
			// converted to an unhealthy event, never crash the supervisor.
			result = supervisor.HealthEvent{Healthy: false, LastError: fmt.Sprintf("Health check error: %v", r)}
		}
	}()

	timeout := hc.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if hc.URL != "" {
		return httpProbe(probeCtx, hc.URL)
	}
	return execProbe(probeCtx, hc.Command, hc.Args)
}

func httpProbe(ctx context.Context, url string) supervisor.HealthEvent {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return supervisor.HealthEvent{Healthy: false, LastError: err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return supervisor.HealthEvent{Healthy: false, LastError: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return supervisor.HealthEvent{Healthy: true}
	}
	return supervisor.HealthEvent{Healthy: false, LastError: fmt.Sprintf("health endpoint returned %d", resp.StatusCode)}
}

func execProbe(ctx context.Context, command string, args []string) supervisor.HealthEvent {
	if command == "" {
		return supervisor.HealthEvent{Healthy: false, LastError: "health check has neither url nor command"}
	}
	cmd := exec.CommandContext(ctx, command, args...)
	if err := cmd.Run(); err != nil {
		return supervisor.HealthEvent{Healthy: false, LastError: err.Error()}
	}
	return supervisor.HealthEvent{Healthy: true}
}
