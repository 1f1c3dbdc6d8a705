// Package config loads the agent's configuration surface (spec.md §6):
// the wallet DB URL and pass key, the agent's public endpoint and
// label, the three ConnectionServiceConfig booleans, and the ambient
// transport/metrics/logging settings needed to run the demo agent.
// Grounded in the teacher's server/config.Config / LoadConfig: a viper
// instance bound to an env-prefixed, optional YAML file, decoded into a
// typed struct via mapstructure, with compiled-in defaults set before
// Unmarshal so a missing config file is never an error.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// DefaultEnvPrefix is the environment variable prefix every config
	// key is also bindable under (e.g. HYPERPEER_AGENT_AGENT_LABEL).
	DefaultEnvPrefix  = "HYPERPEER_AGENT"
	DefaultConfigName = "agent.config"
	DefaultConfigType = "yml"
	DefaultConfigPath = "/etc/hyperpeer"

	DefaultAgentLabel       = "hyperpeer-agent"
	DefaultAgentEndpointURL = "http://localhost:8080/didcomm"

	DefaultHTTPListenAddress = ":8080"
	DefaultWSListenAddress   = ":8081"

	DefaultMetricsEnabled = true
	DefaultMetricsAddress = ":9090"

	DefaultLoggingVerbose = false
)

// AgentConfig identifies this agent to its counterparties.
type AgentConfig struct {
	// Label is the human-readable name attached to DID-Exchange
	// Requests (spec.md §4.5).
	Label string `mapstructure:"label"`
	// EndpointURL is the public address minted into every peer DID this
	// agent creates (spec.md §4.7).
	EndpointURL string `mapstructure:"endpoint_url"`
}

// WalletConfig is the opaque configuration surface for the external
// wallet component (spec.md §1, §6): this module never opens the
// wallet itself, it only carries the connection parameters through to
// whatever concrete walletapi.Wallet the caller constructs.
type WalletConfig struct {
	DBURL   string `mapstructure:"db_url"`
	PassKey string `mapstructure:"pass_key"`
}

// TransportConfig configures the inbound listeners the `serve` command
// binds (SPEC_FULL.md §4.11); outbound dispatch uses the same registry
// regardless of these addresses.
type TransportConfig struct {
	HTTPListenAddress string `mapstructure:"http_listen_address"`
	WSListenAddress   string `mapstructure:"ws_listen_address"`
}

// ConnectionConfig mirrors connectionsvc.Config's three automation
// switches (spec.md §4.5), duplicated here rather than imported so the
// config package has no dependency on the service packages it
// configures.
type ConnectionConfig struct {
	AutoRespondToRequests bool `mapstructure:"auto_respond_to_requests"`
	AutoCompleteRequests  bool `mapstructure:"auto_complete_requests"`
	AutoHandleRequests    bool `mapstructure:"auto_handle_requests"`
}

// MetricsConfig matches the teacher's MetricsConfig shape (enabled +
// a dedicated listen address) exactly.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// LoggingConfig controls the verbosity of structured logging.
type LoggingConfig struct {
	Verbose bool `mapstructure:"verbose"`
}

// Config is the full, decoded configuration surface.
type Config struct {
	Agent      AgentConfig      `mapstructure:"agent"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// Validate checks the invariants the rest of the module assumes hold:
// a non-empty agent label and endpoint, since both are embedded into
// every minted peer DID and every outbound Request (spec.md §4.5,
// §4.7).
func (c Config) Validate() error {
	if c.Agent.Label == "" {
		return errors.New("config: agent.label must not be empty")
	}

	if c.Agent.EndpointURL == "" {
		return errors.New("config: agent.endpoint_url must not be empty")
	}

	return nil
}

// Load reads agent.config.yml from DefaultConfigPath (if present),
// layers in HYPERPEER_AGENT_*-prefixed environment overrides, and
// decodes the result into a Config with every default pre-populated.
// A missing config file is not an error — matching the teacher's
// LoadConfig, which treats viper.ConfigFileNotFoundError as "use
// defaults" rather than a failure.
func Load() (*Config, error) {
	v := viper.NewWithOptions(
		viper.KeyDelimiter("."),
		viper.EnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")),
	)

	v.SetConfigName(DefaultConfigName)
	v.SetConfigType(DefaultConfigType)
	v.AddConfigPath(DefaultConfigPath)
	v.AddConfigPath(".")

	v.SetEnvPrefix(DefaultEnvPrefix)
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	setDefaults(v)

	cfg := &Config{}

	decodeHooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHooks)); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	_ = v.BindEnv("agent.label")
	v.SetDefault("agent.label", DefaultAgentLabel)

	_ = v.BindEnv("agent.endpoint_url")
	v.SetDefault("agent.endpoint_url", DefaultAgentEndpointURL)

	_ = v.BindEnv("wallet.db_url")
	_ = v.BindEnv("wallet.pass_key")

	_ = v.BindEnv("transport.http_listen_address")
	v.SetDefault("transport.http_listen_address", DefaultHTTPListenAddress)

	_ = v.BindEnv("transport.ws_listen_address")
	v.SetDefault("transport.ws_listen_address", DefaultWSListenAddress)

	_ = v.BindEnv("connection.auto_respond_to_requests")
	v.SetDefault("connection.auto_respond_to_requests", true)

	_ = v.BindEnv("connection.auto_complete_requests")
	v.SetDefault("connection.auto_complete_requests", true)

	_ = v.BindEnv("connection.auto_handle_requests")
	v.SetDefault("connection.auto_handle_requests", true)

	_ = v.BindEnv("metrics.enabled")
	v.SetDefault("metrics.enabled", DefaultMetricsEnabled)

	_ = v.BindEnv("metrics.address")
	v.SetDefault("metrics.address", DefaultMetricsAddress)

	_ = v.BindEnv("logging.verbose")
	v.SetDefault("logging.verbose", DefaultLoggingVerbose)
}
