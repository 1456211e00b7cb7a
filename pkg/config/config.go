// Package config provides configuration management for piesss-binder.
//
// This package handles:
// - Configuration file parsing (YAML/JSON)
// - Environment variable overrides
// - Configuration validation
//
// Configuration Priority (highest to lowest):
// 1. Environment variables (PIESSS_*)
// 2. Configuration file
// 3. Default values
package config

import (
	"fmt"
	"math"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jiayi-1994/piesss-binder/pkg/types"
)

// Config is the global configuration structure.
// It is constructed once at process start and passed to the components
// that need it.
type Config struct {
	// Piesss contains the physical uplink inventory
	Piesss PiesssConfig `json:"piesss" yaml:"piesss"`

	// Binding contains per-request binding parameters
	Binding BindingConfig `json:"binding" yaml:"binding"`

	// Store selects where existing port records live
	Store StoreConfig `json:"store" yaml:"store"`

	// OVN contains OVN Northbound database connection settings
	OVN OVNConfig `json:"ovn" yaml:"ovn"`

	// Kubernetes contains Kubernetes-related settings
	Kubernetes KubernetesConfig `json:"kubernetes" yaml:"kubernetes"`

	// VhostUser contains vhost-user socket settings handed to the vswitch
	VhostUser VhostUserConfig `json:"vhostUser" yaml:"vhostUser"`

	// Server contains the binding API settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Metrics contains metrics and health probe settings
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Logging contains logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// PiesssConfig describes the physical uplinks available for binding.
type PiesssConfig struct {
	// Ports is the list of <host>|<uplink>|<gbps>|<vlan>|<address> descriptors
	// defining every physical uplink.
	// Example: "compute1|port0|10|100|2001:db8:1::"
	Ports []string `json:"ports" yaml:"ports"`
}

// BindingConfig contains per-request binding parameters.
type BindingConfig struct {
	// RequestGbps is the bandwidth reserved for every bound port
	// Default: 8
	RequestGbps float64 `json:"requestGbps" yaml:"requestGbps"`

	// DelegatedAddress supplies the low 64 bits of the derived address
	// when a request does not carry its own
	// Default: "2003::10"
	DelegatedAddress string `json:"delegatedAddress" yaml:"delegatedAddress"`

	// NetworkTypes lists the segment types this driver binds
	// Default: ["piesss"]
	NetworkTypes []string `json:"networkTypes" yaml:"networkTypes"`

	// TrackSegmentIDs rejects a second provider segment reusing a
	// segmentation id of the same type
	// Default: false
	TrackSegmentIDs bool `json:"trackSegmentIDs" yaml:"trackSegmentIDs"`
}

// StoreConfig selects the port record backend.
type StoreConfig struct {
	// Backend is "memory", "kubernetes" or "ovn"
	// Default: "kubernetes"
	Backend string `json:"backend" yaml:"backend"`
}

// OVNConfig contains OVN database connection settings
type OVNConfig struct {
	// NBDBAddress is the Northbound Database address
	// Format: tcp:IP:PORT, ssl:IP:PORT or unix:PATH
	// Required for the ovn backend
	NBDBAddress string `json:"nbdbAddress" yaml:"nbdbAddress"`

	// SSL contains SSL/TLS configuration for secure connections
	SSL SSLConfig `json:"ssl" yaml:"ssl"`

	// ConnectTimeout is the timeout for initial connection
	// Default: 30s
	ConnectTimeout time.Duration `json:"connectTimeout" yaml:"connectTimeout"`

	// ReconnectInterval is the initial interval between reconnection attempts
	// Uses exponential backoff up to MaxReconnectInterval
	// Default: 1s
	ReconnectInterval time.Duration `json:"reconnectInterval" yaml:"reconnectInterval"`

	// MaxReconnectInterval is the maximum interval between reconnection attempts
	// Default: 60s
	MaxReconnectInterval time.Duration `json:"maxReconnectInterval" yaml:"maxReconnectInterval"`
}

// SSLConfig contains SSL/TLS configuration
type SSLConfig struct {
	// Enabled indicates whether SSL is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`

	// CACert is the path to the CA certificate file
	CACert string `json:"caCert" yaml:"caCert"`

	// ClientCert is the path to the client certificate file
	ClientCert string `json:"clientCert" yaml:"clientCert"`

	// ClientKey is the path to the client private key file
	ClientKey string `json:"clientKey" yaml:"clientKey"`
}

// KubernetesConfig contains Kubernetes-related settings
type KubernetesConfig struct {
	// Kubeconfig is the path to kubeconfig file
	// If empty, uses in-cluster config
	Kubeconfig string `json:"kubeconfig" yaml:"kubeconfig"`

	// LeaderElection enables leader election for the Pod controller
	// Default: false
	LeaderElection bool `json:"leaderElection" yaml:"leaderElection"`

	// LeaderElectionNamespace is the namespace of the leader election lease
	// Default: "kube-system"
	LeaderElectionNamespace string `json:"leaderElectionNamespace" yaml:"leaderElectionNamespace"`
}

// VhostUserConfig contains vhost-user settings published in vif_details.
type VhostUserConfig struct {
	// SocketDir is the directory for vhost-user sockets
	// Default: "/var/run/piesss"
	SocketDir string `json:"socketDir" yaml:"socketDir"`

	// SocketMode is the vhost-user socket mode seen from the vswitch
	// "client" - the vswitch connects, the guest side listens
	// "server" - the vswitch listens
	// Default: "client"
	SocketMode string `json:"socketMode" yaml:"socketMode"`
}

// ServerConfig contains the binding API settings.
type ServerConfig struct {
	// SocketPath is the Unix socket the binding API listens on
	// Default: "/var/run/piesss/binder.sock"
	SocketPath string `json:"socketPath" yaml:"socketPath"`
}

// MetricsConfig contains metrics and health probe settings.
type MetricsConfig struct {
	// BindAddress is the metrics endpoint address, "0" disables it
	// Default: ":8080"
	BindAddress string `json:"bindAddress" yaml:"bindAddress"`

	// HealthProbeAddress is the health probe endpoint address
	// Default: ":8081"
	HealthProbeAddress string `json:"healthProbeAddress" yaml:"healthProbeAddress"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `json:"level" yaml:"level"`

	// Format is the log format: "json" or "text"
	// Default: "json"
	Format string `json:"format" yaml:"format"`

	// File is the log file path (optional)
	// If empty, logs to stdout
	File string `json:"file" yaml:"file"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Binding: BindingConfig{
			RequestGbps:      types.DefaultRequestGbps,
			DelegatedAddress: types.DefaultDelegatedAddress,
			NetworkTypes:     []string{types.NetworkTypePiesss},
		},
		Store: StoreConfig{
			Backend: types.StoreBackendKubernetes,
		},
		OVN: OVNConfig{
			ConnectTimeout:       30 * time.Second,
			ReconnectInterval:    1 * time.Second,
			MaxReconnectInterval: 60 * time.Second,
		},
		Kubernetes: KubernetesConfig{
			LeaderElectionNamespace: "kube-system",
		},
		VhostUser: VhostUserConfig{
			SocketDir:  types.DefaultVhostSocketDir,
			SocketMode: types.VhostUserModeClient,
		},
		Server: ServerConfig{
			SocketPath: types.DefaultSocketPath,
		},
		Metrics: MetricsConfig{
			BindAddress:        ":8080",
			HealthProbeAddress: ":8081",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
//
// Configuration is loaded in the following order:
// 1. Default values
// 2. Configuration file (if specified via PIESSS_CONFIG_FILE env var)
// 3. Environment variable overrides
//
// Returns:
//   - *Config: Loaded configuration
//   - error: Loading or validation error
func LoadConfig() (*Config, error) {
	return LoadConfigFile(os.Getenv("PIESSS_CONFIG_FILE"))
}

// LoadConfigFile is LoadConfig with an explicit file path.
// An empty path skips the file.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or JSON file
//
// Parameters:
//   - path: Path to the configuration file
//
// Returns:
//   - error: File reading or parsing error
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// YAML is a superset of JSON
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration
//
// Environment variables follow the pattern: PIESSS_<SECTION>_<KEY>
// Examples:
//   - PIESSS_PORTS=compute1|port0|10|100|2001:db8::,compute1|port1|40|101|2001:db9::
//   - PIESSS_REQUEST_GBPS=4
//   - PIESSS_DELEGATED_ADDRESS=2003::10
//   - PIESSS_STORE_BACKEND=ovn
//   - PIESSS_NBDB_ADDRESS=tcp:192.168.1.100:6641
//   - PIESSS_LOG_LEVEL=debug
func (c *Config) ApplyEnvOverrides() {
	// Uplink inventory
	if v := os.Getenv("PIESSS_PORTS"); v != "" {
		c.Piesss.Ports = splitList(v)
	}

	// Binding settings
	if v := os.Getenv("PIESSS_REQUEST_GBPS"); v != "" {
		if gbps, err := strconv.ParseFloat(v, 64); err == nil && gbps > 0 {
			c.Binding.RequestGbps = gbps
		}
	}
	if v := os.Getenv("PIESSS_DELEGATED_ADDRESS"); v != "" {
		c.Binding.DelegatedAddress = v
	}
	if v := os.Getenv("PIESSS_NETWORK_TYPES"); v != "" {
		c.Binding.NetworkTypes = splitList(v)
	}
	if v := os.Getenv("PIESSS_TRACK_SEGMENT_IDS"); v != "" {
		c.Binding.TrackSegmentIDs = strings.ToLower(v) == "true"
	}

	// Store settings
	if v := os.Getenv("PIESSS_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}

	// OVN settings
	if v := os.Getenv("PIESSS_NBDB_ADDRESS"); v != "" {
		c.OVN.NBDBAddress = v
	}
	if v := os.Getenv("PIESSS_SSL_ENABLED"); v != "" {
		c.OVN.SSL.Enabled = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("PIESSS_SSL_CA_CERT"); v != "" {
		c.OVN.SSL.CACert = v
	}
	if v := os.Getenv("PIESSS_SSL_CLIENT_CERT"); v != "" {
		c.OVN.SSL.ClientCert = v
	}
	if v := os.Getenv("PIESSS_SSL_CLIENT_KEY"); v != "" {
		c.OVN.SSL.ClientKey = v
	}

	// Kubernetes settings
	if v := os.Getenv("PIESSS_KUBECONFIG"); v != "" {
		c.Kubernetes.Kubeconfig = v
	}

	// vhost-user settings
	if v := os.Getenv("PIESSS_VHOSTUSER_SOCKET_DIR"); v != "" {
		c.VhostUser.SocketDir = v
	}
	if v := os.Getenv("PIESSS_VHOSTUSER_SOCKET_MODE"); v != "" {
		c.VhostUser.SocketMode = v
	}

	// Server settings
	if v := os.Getenv("PIESSS_SOCKET_PATH"); v != "" {
		c.Server.SocketPath = v
	}

	// Logging settings
	if v := os.Getenv("PIESSS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PIESSS_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate validates the configuration.
// Uplink descriptor syntax is checked when the inventory is loaded.
//
// Returns:
//   - error: Validation error with details
func (c *Config) Validate() error {
	var errors []string

	if len(c.Piesss.Ports) == 0 {
		errors = append(errors, "piesss.ports must list at least one uplink")
	}

	if !(c.Binding.RequestGbps > 0) || math.IsInf(c.Binding.RequestGbps, 0) {
		errors = append(errors, fmt.Sprintf("invalid requestGbps: %v (must be a finite number > 0)", c.Binding.RequestGbps))
	}
	if c.Binding.DelegatedAddress != "" {
		if addr, err := netip.ParseAddr(c.Binding.DelegatedAddress); err != nil || !addr.Is6() || addr.Is4In6() {
			errors = append(errors, fmt.Sprintf("invalid delegatedAddress: %s (must be an IPv6 address)", c.Binding.DelegatedAddress))
		}
	}
	if len(c.Binding.NetworkTypes) == 0 {
		errors = append(errors, "binding.networkTypes must not be empty")
	}

	switch c.Store.Backend {
	case types.StoreBackendMemory, types.StoreBackendKubernetes:
	case types.StoreBackendOVN:
		if err := validateDBAddressFormat(c.OVN.NBDBAddress); err != nil {
			errors = append(errors, fmt.Sprintf("invalid nbdbAddress: %v", err))
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid store backend: %s (must be 'memory', 'kubernetes' or 'ovn')", c.Store.Backend))
	}

	if c.OVN.SSL.Enabled {
		if c.OVN.SSL.CACert == "" {
			errors = append(errors, "SSL CA certificate path is required when SSL is enabled")
		}
		if c.OVN.SSL.ClientCert == "" {
			errors = append(errors, "SSL client certificate path is required when SSL is enabled")
		}
		if c.OVN.SSL.ClientKey == "" {
			errors = append(errors, "SSL client key path is required when SSL is enabled")
		}
	}

	if c.VhostUser.SocketMode != types.VhostUserModeClient && c.VhostUser.SocketMode != types.VhostUserModeServer {
		errors = append(errors, fmt.Sprintf("invalid vhost-user socket mode: %s (must be 'client' or 'server')", c.VhostUser.SocketMode))
	}
	if c.VhostUser.SocketDir == "" {
		errors = append(errors, "vhost-user socket directory is required")
	}

	if c.Server.SocketPath == "" {
		errors = append(errors, "server socketPath is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		errors = append(errors, fmt.Sprintf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errors = append(errors, fmt.Sprintf("invalid log format: %s (must be 'json' or 'text')", c.Logging.Format))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// validateDBAddressFormat validates the format of an OVN database address
func validateDBAddressFormat(address string) error {
	if address == "" {
		return fmt.Errorf("address is empty")
	}

	// Multiple addresses separated by commas (for HA)
	for _, addr := range strings.Split(address, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}

		if !strings.HasPrefix(addr, "tcp:") &&
			!strings.HasPrefix(addr, "ssl:") &&
			!strings.HasPrefix(addr, "unix:") {
			return fmt.Errorf("invalid address scheme: %s (must be tcp:, ssl:, or unix:)", addr)
		}

		if strings.HasPrefix(addr, "tcp:") || strings.HasPrefix(addr, "ssl:") {
			hostPort := strings.TrimPrefix(addr, "tcp:")
			hostPort = strings.TrimPrefix(hostPort, "ssl:")

			if !strings.Contains(hostPort, ":") {
				return fmt.Errorf("invalid address format: %s (expected IP:PORT)", addr)
			}
		}
	}

	return nil
}

// splitList splits a comma separated environment value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// GetNBDBEndpoints returns the Northbound DB endpoints in libovsdb form
func (c *Config) GetNBDBEndpoints() []string {
	var endpoints []string
	for _, addr := range strings.Split(c.OVN.NBDBAddress, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			endpoints = append(endpoints, addr)
		}
	}
	return endpoints
}

// DelegatedAddr returns the parsed default delegated address.
// The zero Addr is returned when none is configured.
func (c *Config) DelegatedAddr() netip.Addr {
	addr, err := netip.ParseAddr(c.Binding.DelegatedAddress)
	if err != nil {
		return netip.Addr{}
	}
	return addr
}
