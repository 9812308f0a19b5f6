// Package durations collects the timing constants used across the control
// plane so that retry, probe and reconcile intervals live in one place.
package durations

import "time"

const (
	// KernelReconcileQueueDebounce is not read by the kernel: back-to-back
	// remote-config deliveries are serialised by its reconcile mutex and
	// each one runs its own reconcile, without coalescing.
	KernelReconcileQueueDebounce = time.Millisecond * 100

	// ShutdownTaskTimeout bounds how long stop() waits for any single
	// long-running task (reflector, probe, supervisor) to exit.
	ShutdownTaskTimeout = time.Second * 10

	// OnHostReconcileInterval is not read by the on-host supervisor, which
	// has no periodic loop: each executable is restarted on exit by its own
	// goroutine (§9 Open Question 4: not specified by config).
	OnHostReconcileInterval = time.Second * 5

	// OnHostMinHealthyUptime is the minimum amount of time a process must
	// stay Running before a restart-policy's retry counter resets.
	OnHostMinHealthyUptime = time.Second * 30

	// K8sReconcileInterval is the default tick for the k8s supervisor's
	// apply_if_changed loop.
	K8sReconcileInterval = time.Second * 1

	// ReflectorInitialListTimeout bounds how long try_new waits for the
	// first list to populate the cache.
	ReflectorInitialListTimeout = time.Second * 10

	// ReflectorInitialListRetries is how many times the owner retries
	// try_new before giving up.
	ReflectorInitialListRetries = 3

	// GarbageCollectInterval is the default tick of the k8s GC.
	GarbageCollectInterval = time.Minute * 15

	// OCIPublicKeysFetchTimeout bounds the JWKS-style public key fetch.
	OCIPublicKeysFetchTimeout = time.Second * 30

	// HealthProbeDefaultInterval is not read by the on-host health probe;
	// a HealthCheck without an interval defaults to 10s there
	// (internal/supervisor/onhost).
	HealthProbeDefaultInterval = time.Second * 30
)
