package onhost

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/newrelic/agent-control/internal/supervisor"
)

// ProcessState names a node of the per-executable state machine (§4.4
// "State machine per executable").
type ProcessState string

const (
	StateIdle     ProcessState = "Idle"
	StateStarting ProcessState = "Starting"
	StateRunning  ProcessState = "Running"
	StateExiting  ProcessState = "Exiting"
	StateBackoff  ProcessState = "Backoff"
)

// process supervises one Executable: runs it, restarts it on unexpected
// exit per its RestartPolicy, and publishes health/version events.
type process struct {
	exe    Executable
	health chan<- supervisor.HealthEvent
	log    *logrus.Entry

	mu    sync.Mutex
	state ProcessState
	cmd   *exec.Cmd

	attempt int
}

func newProcess(exe Executable, health chan<- supervisor.HealthEvent, log *logrus.Entry) *process {
	return &process{exe: exe, health: health, log: log.WithField("executable", exe.ID), state: StateIdle}
}

// run owns the executable for the lifetime of ctx: start, wait for exit,
// back off, repeat. It returns once ctx is cancelled and the child (if
// any) has exited.
func (p *process) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.setState(StateIdle)
			return
		default:
		}

		startedAt := time.Now()
		if err := p.start(ctx); err != nil {
			p.log.WithError(err).Error("failed to start executable")
			p.publishUnhealthy("failed to start: " + err.Error())
			if p.waitBackoff(ctx) {
				return
			}
			continue
		}

		p.setState(StateRunning)
		p.publishHealthy()

		exitErr := p.cmd.Wait()
		p.setState(StateExiting)

		select {
		case <-ctx.Done():
			return
		default:
		}

		if time.Since(startedAt) >= minHealthyInterval {
			p.attempt = 0
		}

		if exitErr != nil {
			p.log.WithError(exitErr).Warn("executable exited unexpectedly")
			p.publishUnhealthy("exited unexpectedly: " + exitErr.Error())
		} else {
			p.log.Warn("executable exited")
			p.publishUnhealthy("exited")
		}

		if p.waitBackoff(ctx) {
			return
		}
	}
}

func (p *process) start(ctx context.Context) error {
	p.setState(StateStarting)
	cmd := exec.CommandContext(ctx, p.exe.Path, p.exe.Args...)
	cmd.Env = envSlice(p.exe.Env)

	p.mu.Lock()
	p.cmd = cmd
	p.mu.Unlock()

	return cmd.Start()
}

// waitBackoff sleeps for the policy's next delay, incrementing the retry
// attempt counter, and reports whether ctx was cancelled during the wait.
func (p *process) waitBackoff(ctx context.Context) bool {
	p.setState(StateBackoff)
	p.attempt++
	delay := p.exe.RestartPolicy.NextDelay(p.attempt)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

func (p *process) setState(s ProcessState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *process) currentState() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *process) publishHealthy() {
	select {
	case p.health <- supervisor.HealthEvent{Healthy: true}:
	default:
	}
}

func (p *process) publishUnhealthy(reason string) {
	select {
	case p.health <- supervisor.HealthEvent{Healthy: false, LastError: reason}:
	default:
	}
}

// envSlice merges the declared overrides onto the current process
// environment, last write wins, matching how a supervised child expects
// to inherit ambient env (PATH, etc.) plus its own declared additions.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := os.Environ()
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
