package onhost

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/newrelic/agent-control/internal/agentid"
	"github.com/newrelic/agent-control/internal/supervisor"
)

// Supervisor runs one OS process per declared Executable, restarting on
// unexpected exit and probing health/version, for one sub-agent (§4.4).
type Supervisor struct {
	agentID agentid.ID
	stager  PackageStager
	log     *logrus.Entry

	mu          sync.Mutex
	executables []Executable
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	health  chan supervisor.HealthEvent
	version chan supervisor.VersionEvent
}

func New(id agentid.ID, stager PackageStager) *Supervisor {
	return &Supervisor{
		agentID: id,
		stager:  stager,
		log:     logrus.WithField("agent_id", string(id)),
		health:  make(chan supervisor.HealthEvent, 16),
		version: make(chan supervisor.VersionEvent, 16),
	}
}

// Apply decodes the rendered OnHost runtime tree into Executables and
// stages any declared packages. It does not (re)start anything; Start
// does, so callers can Apply while a previous generation is still running
// (§4.3 "Failure semantics": assembly failures must not disturb it).
func (s *Supervisor) Apply(ctx context.Context, runtime interface{}) error {
	executables, err := DecodeExecutables(runtime)
	if err != nil {
		return err
	}

	for i := range executables {
		if err := ensurePackage(ctx, &executables[i], s.stager, s.log); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.executables = executables
	s.mu.Unlock()
	return nil
}

// Start launches one process-supervision goroutine per Executable, plus
// its declared probes. Calling Start again after Stop re-launches the
// latest Applied generation; calling it while already running is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	executables := s.executables
	s.mu.Unlock()

	for _, exe := range executables {
		exe := exe
		proc := newProcess(exe, s.health, s.log)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			proc.run(runCtx)
		}()

		if exe.HealthCheck != nil {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				runHealthProbe(runCtx, exe.HealthCheck, s.health, s.log)
			}()
		}
		if exe.VersionCheck != nil {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				runVersionProbe(runCtx, exe.VersionCheck, s.version, s.log)
			}()
		}
	}
	return nil
}

// Stop cancels every process-supervision and probe goroutine and blocks
// until they exit, satisfying P6 (is_finished() == true after stop()).
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.log.Warn("shutdown deadline exceeded waiting for executables to stop")
		return ctx.Err()
	}
}

func (s *Supervisor) Health() <-chan supervisor.HealthEvent   { return s.health }
func (s *Supervisor) Version() <-chan supervisor.VersionEvent { return s.version }

var _ supervisor.Supervisor = (*Supervisor)(nil)
