// Package onhost implements the OnHost Supervisor (§4.4): one OS process
// per declared Executable, restart policy, health/version probes and
// package staging via the OCI subsystem.
package onhost

import (
	"fmt"
	"time"

	"github.com/jpillora/backoff"
)

// Executable is one `{id, path, args[], env{}, restart_policy}` entry of
// an OnHost runtime_config (§3 "EffectiveAgent").
type Executable struct {
	ID           string
	Path         string
	Args         []string
	Env          map[string]string
	RestartPolicy RestartPolicy
	HealthCheck  *HealthCheck
	VersionCheck *VersionCheck
	Package      *PackageRef
}

// RestartPolicyType is the discriminant of a RestartPolicy (§4.4).
type RestartPolicyType string

const (
	RestartFixed       RestartPolicyType = "fixed"
	RestartLinear      RestartPolicyType = "linear"
	RestartExponential RestartPolicyType = "exponential"
)

// minHealthyInterval is how long a process must stay Running before a
// later exit is treated as a fresh failure sequence rather than a
// continuation of the current backoff run (§4.4 "Retries reset on a
// successful Running period").
const minHealthyInterval = 30 * time.Second

// RestartPolicy holds the parameters for whichever variant Type selects.
// Defaults match AgentType's declared default of "exponential" (rendered
// upstream by the agenttype/render layer, §8 scenario 3).
type RestartPolicy struct {
	Type RestartPolicyType

	// Fixed
	Delay             time.Duration
	MaxRetries        int
	LastRetryInterval time.Duration

	// Linear
	Initial time.Duration
	Step    time.Duration
	Cap     time.Duration

	// Exponential
	ExpInitial time.Duration
	Factor     float64
	ExpCap     time.Duration
}

// NextDelay returns how long to wait before the attempt-numbered (1-based)
// restart, per the variant-specific formula in §4.4.
func (p RestartPolicy) NextDelay(attempt int) time.Duration {
	switch p.Type {
	case RestartFixed:
		if p.MaxRetries > 0 && attempt > p.MaxRetries {
			return p.LastRetryInterval
		}
		return p.Delay
	case RestartLinear:
		d := p.Initial + time.Duration(attempt)*p.Step
		if p.Cap > 0 && d > p.Cap {
			return p.Cap
		}
		return d
	case RestartExponential:
		fallthrough
	default:
		factor := p.Factor
		if factor <= 0 {
			factor = 2
		}
		cap := p.ExpCap
		if cap <= 0 {
			cap = time.Minute
		}
		b := backoff.Backoff{Min: p.ExpInitial, Max: cap, Factor: factor}
		return b.ForAttempt(float64(attempt))
	}
}

// HealthCheck is an optional process probe, HTTP GET or exec-based
// (§4.4 "Probes").
type HealthCheck struct {
	URL          string
	Command      string
	Args         []string
	InitialDelay time.Duration
	Interval     time.Duration
	Timeout      time.Duration
}

// VersionCheck runs Command and extracts the first match of Regex from
// its combined output (§4.4 "Version probe").
type VersionCheck struct {
	Command string
	Args    []string
	Regex   string
}

// PackageRef names the OCI artifact an Executable's binary is staged
// from (§4.4 "Packages", §4.9).
type PackageRef struct {
	Reference string
	Version   string
}

// DecodeExecutables extracts the ordered `executables` list from a
// rendered OnHost runtime tree. Order is preserved from the source slice,
// which the renderer built from the AgentType's declared ordering
// (§3: "ordered set of Executable entries").
func DecodeExecutables(runtime interface{}) ([]Executable, error) {
	root, ok := runtime.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("onhost runtime: expected a map, got %T", runtime)
	}
	raw, ok := root["executables"]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("onhost runtime: \"executables\" must be a list, got %T", raw)
	}

	out := make([]Executable, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("onhost runtime: executables[%d] must be a map, got %T", i, item)
		}
		exe, err := decodeExecutable(m)
		if err != nil {
			return nil, fmt.Errorf("onhost runtime: executables[%d]: %w", i, err)
		}
		out = append(out, exe)
	}
	return out, nil
}

func decodeExecutable(m map[string]interface{}) (Executable, error) {
	exe := Executable{
		ID:   stringField(m, "id"),
		Path: stringField(m, "path"),
		Args: stringSliceField(m, "args"),
		Env:  stringMapField(m, "env"),
	}
	if exe.ID == "" {
		return exe, fmt.Errorf("missing \"id\"")
	}
	if exe.Path == "" {
		return exe, fmt.Errorf("missing \"path\"")
	}

	if rp, ok := m["restart_policy"]; ok {
		policy, err := decodeRestartPolicy(rp)
		if err != nil {
			return exe, err
		}
		exe.RestartPolicy = policy
	} else {
		exe.RestartPolicy = RestartPolicy{Type: RestartExponential, ExpInitial: time.Second, Factor: 2, ExpCap: time.Minute}
	}

	if hc, ok := m["health_check"]; ok {
		parsed, err := decodeHealthCheck(hc)
		if err != nil {
			return exe, err
		}
		exe.HealthCheck = parsed
	}
	if vc, ok := m["version_check"]; ok {
		parsed, err := decodeVersionCheck(vc)
		if err != nil {
			return exe, err
		}
		exe.VersionCheck = parsed
	}
	if pkg, ok := m["package"]; ok {
		parsed, err := decodePackageRef(pkg)
		if err != nil {
			return exe, err
		}
		exe.Package = parsed
	}
	return exe, nil
}

func decodeRestartPolicy(raw interface{}) (RestartPolicy, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return RestartPolicy{}, fmt.Errorf("restart_policy must be a map, got %T", raw)
	}
	policy := RestartPolicy{Type: RestartPolicyType(stringField(m, "type"))}
	switch policy.Type {
	case RestartFixed:
		policy.Delay = durationField(m, "delay")
		policy.MaxRetries = intField(m, "max_retries")
		policy.LastRetryInterval = durationField(m, "last_retry_interval")
	case RestartLinear:
		policy.Initial = durationField(m, "initial")
		policy.Step = durationField(m, "step")
		policy.Cap = durationField(m, "cap")
	case RestartExponential, "":
		policy.Type = RestartExponential
		policy.ExpInitial = durationFieldDefault(m, "initial", time.Second)
		policy.Factor = floatFieldDefault(m, "factor", 2)
		policy.ExpCap = durationFieldDefault(m, "cap", time.Minute)
	default:
		return RestartPolicy{}, fmt.Errorf("restart_policy.type %q unknown", policy.Type)
	}
	return policy, nil
}

func decodeHealthCheck(raw interface{}) (*HealthCheck, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("health_check must be a map, got %T", raw)
	}
	return &HealthCheck{
		URL:          stringField(m, "url"),
		Command:      stringField(m, "command"),
		Args:         stringSliceField(m, "args"),
		InitialDelay: durationField(m, "initial_delay"),
		Interval:     durationFieldDefault(m, "interval", 10*time.Second),
		Timeout:      durationFieldDefault(m, "timeout", 5*time.Second),
	}, nil
}

func decodeVersionCheck(raw interface{}) (*VersionCheck, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("version_check must be a map, got %T", raw)
	}
	return &VersionCheck{
		Command: stringField(m, "command"),
		Args:    stringSliceField(m, "args"),
		Regex:   stringField(m, "regex"),
	}, nil
}

func decodePackageRef(raw interface{}) (*PackageRef, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("package must be a map, got %T", raw)
	}
	return &PackageRef{
		Reference: stringField(m, "reference"),
		Version:   stringField(m, "version"),
	}, nil
}

func stringField(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}

func intField(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatFieldDefault(m map[string]interface{}, key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

func durationField(m map[string]interface{}, key string) time.Duration {
	return durationFieldDefault(m, key, 0)
}

func durationFieldDefault(m map[string]interface{}, key string, def time.Duration) time.Duration {
	v, ok := m[key].(string)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func stringSliceField(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringMapField(m map[string]interface{}, key string) map[string]string {
	raw, ok := m[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
