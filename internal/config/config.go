// Package config implements the kernel's local configuration: the YAML
// file read at startup, layered with environment variable overrides, and
// split into a read-only portion and the remotely-mutable dynamic portion
// (agents, k8s chart version) described by §3/§6 of the specification.
package config

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/newrelic/agent-control/internal/agentid"
)

// EnvPrefix is the prefix recognised for environment-variable overrides of
// any local-config key, e.g. NR_AC_K8S__NAMESPACE overrides k8s.namespace.
const EnvPrefix = "NR_AC"

// LogConfig carries the logging knobs from the local config file.
type LogConfig struct {
	Format struct {
		Target    string `mapstructure:"target" json:"target,omitempty"`
		Timestamp bool   `mapstructure:"timestamp" json:"timestamp,omitempty"`
	} `mapstructure:"format" json:"format,omitempty"`
	File struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled,omitempty"`
		Path    string `mapstructure:"path" json:"path,omitempty"`
	} `mapstructure:"file" json:"file,omitempty"`
}

// AuthConfig describes OAuth client-credentials settings for the OpAMP
// transport. Authentication itself is out of core scope (§1); only the
// config shape is carried so it can be handed to the abstract HttpClient.
type AuthConfig struct {
	TokenURL       string `mapstructure:"token_url" json:"token_url,omitempty"`
	ClientID       string `mapstructure:"client_id" json:"client_id,omitempty"`
	Provider       string `mapstructure:"provider" json:"provider,omitempty"`
	PrivateKeyPath string `mapstructure:"private_key_path" json:"private_key_path,omitempty"`
}

// SignatureValidationConfig points at the source of trusted cosign public
// keys (§4.9).
type SignatureValidationConfig struct {
	PublicKeysURL string `mapstructure:"public_keys_url" json:"public_keys_url,omitempty"`
}

// FleetControlConfig is the OpAMP-facing configuration.
type FleetControlConfig struct {
	Endpoint              string                    `mapstructure:"endpoint" json:"endpoint,omitempty"`
	Headers               map[string]string         `mapstructure:"headers" json:"headers,omitempty"`
	AuthConfig            AuthConfig                `mapstructure:"auth_config" json:"auth_config,omitempty"`
	FleetID               string                    `mapstructure:"fleet_id" json:"fleet_id,omitempty"`
	SignatureValidation   SignatureValidationConfig `mapstructure:"signature_validation" json:"signature_validation,omitempty"`
}

// SensitiveHeaderKeys returns the subset of header names that must be
// treated as sensitive (never logged in the clear). Per §6, any header
// whose key matches "api-key" (case-insensitive) is sensitive.
func (c FleetControlConfig) SensitiveHeaderKeys() []string {
	var out []string
	for k := range c.Headers {
		if strings.EqualFold(k, "api-key") {
			out = append(out, k)
		}
	}
	return out
}

// K8sConfig is the read-only k8s scope of the kernel.
type K8sConfig struct {
	ClusterName string              `mapstructure:"cluster_name" json:"cluster_name,omitempty"`
	Namespace   string              `mapstructure:"namespace" json:"namespace,omitempty"`
	ChartVersion string             `mapstructure:"chart_version" json:"chart_version,omitempty"`
	CRTypeMeta  []metav1.TypeMeta   `mapstructure:"cr_type_meta" json:"cr_type_meta,omitempty"`
}

// ProxyConfig describes outbound HTTP proxy settings handed to the
// abstract HttpClient capability.
type ProxyConfig struct {
	URL          string `mapstructure:"url" json:"url,omitempty"`
	CABundleFile string `mapstructure:"ca_bundle_file" json:"ca_bundle_file,omitempty"`
	CABundleDir  string `mapstructure:"ca_bundle_dir" json:"ca_bundle_dir,omitempty"`
}

// SubAgentConfig is the per-agent portion of the dynamic config.
type SubAgentConfig struct {
	AgentType string `mapstructure:"agent_type" json:"agent_type"`
}

// DynamicConfig is AgentControlDynamicConfig (§3): the remotely-mutable
// portion of the kernel config.
type DynamicConfig struct {
	Agents         map[string]SubAgentConfig `mapstructure:"agents" json:"agents,omitempty"`
	CDChartVersion string                    `mapstructure:"cd_chart_version" json:"cd_chart_version,omitempty"`
}

// StripLocalOnlyFields removes the fields that must never be persisted to
// the local backend (§4.1: cd_chart_version is remote-only, to prevent a
// locally-stored copy from silently downgrading a future remote rollout).
func (d DynamicConfig) StripLocalOnlyFields() DynamicConfig {
	d.CDChartVersion = ""
	return d
}

// LocalConfig is the full kernel configuration as read from the local YAML
// file (or ConfigMap, on k8s) plus environment overrides.
type LocalConfig struct {
	HostID       string              `mapstructure:"host_id" json:"host_id,omitempty"`
	Log          LogConfig           `mapstructure:"log" json:"log,omitempty"`
	FleetControl FleetControlConfig `mapstructure:"fleet_control" json:"fleet_control,omitempty"`
	K8s          K8sConfig           `mapstructure:"k8s" json:"k8s,omitempty"`
	Proxy        ProxyConfig         `mapstructure:"proxy" json:"proxy,omitempty"`
	DynamicConfig `mapstructure:",squash"`
}

// HasFleetControl reports whether remote management (OpAMP) is configured.
func (c LocalConfig) HasFleetControl() bool {
	return c.FleetControl.Endpoint != ""
}

// IsK8s reports whether this process is running in the k8s environment,
// inferred from the presence of a cluster name (on-host deployments never
// set k8s.cluster_name).
func (c LocalConfig) IsK8s() bool {
	return c.K8s.ClusterName != ""
}

// Load reads the local YAML config file at path, applies NR_AC_ environment
// overrides and validates it. A missing file is returned as an error that
// wraps the underlying os not-exist error.
func Load(path string) (*LocalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, errors.Wrapf(err, "reading local config %s", path)
		}
	}

	cfg := &LocalConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decoding local config")
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces the schema invariants called out in §6/§7: a log file
// path requires the file to be explicitly enabled, and reserved/invalid
// agent IDs are rejected here rather than only at kernel reconcile time so
// that a bad local config fails fast at startup.
func Validate(cfg *LocalConfig) error {
	if cfg.Log.File.Path != "" && !cfg.Log.File.Enabled {
		return &Error{Reason: "log.file.path is set but log.file.enabled is false"}
	}
	for id := range cfg.Agents {
		if _, err := agentid.ValidateNonReserved(id); err != nil {
			return &Error{Reason: fmt.Sprintf("agents.%s: %s", id, err)}
		}
	}
	return nil
}

func isNotFound(err error) bool {
	_, ok := err.(viper.ConfigFileNotFoundError)
	return ok
}
