// Package config provides configuration types for the GABP server.
//
// The wire protocol leaves the choice of token source, the platform-specific
// bridge config path, and the embedding host's own configuration surface as
// external collaborators; this package is this server binary's own opinion
// on them — file- and environment-variable-driven, in the style of a small
// loopback tool rather than a multi-tenant service.
package config

// Config is the top-level configuration for the gabp-server binary.
type Config struct {
	// Server configures the TCP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Agent is the identity advertised in the session/hello welcome result.
	Agent AgentConfig `yaml:"agent" mapstructure:"agent"`

	// BridgeConfig controls the optional bridge config artifact.
	BridgeConfig BridgeConfigConfig `yaml:"bridge_config" mapstructure:"bridge_config"`

	// Policy configures the optional tool-call authorization gate.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Audit configures the optional connection-lifecycle audit trail.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Metrics configures the optional Prometheus exporter.
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// DevMode enables development conveniences (verbose logging, a
	// generated token when none is configured).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the loopback TCP listener.
type ServerConfig struct {
	// Host is the address to listen on. Defaults to "127.0.0.1"; GABP is
	// loopback-only by design, so binding beyond localhost is discouraged
	// but not forbidden.
	Host string `yaml:"host" mapstructure:"host" validate:"omitempty,ip"`

	// Port is the TCP port to listen on. 0 binds an ephemeral port,
	// discoverable afterward via the bridge config artifact.
	Port int `yaml:"port" mapstructure:"port" validate:"omitempty,min=0,max=65535"`

	// Token is the shared secret session/hello must present. Accepts a
	// bare token, a "sha256:<hex>" reference, or an argon2id PHC hash —
	// see internal/domain/auth.NewVerifier. Required unless DevMode is
	// set, in which case an ephemeral token is generated at startup.
	Token string `yaml:"token" mapstructure:"token"`

	// LogLevel sets the minimum log level: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// AgentConfig is the identity a server advertises in its welcome result.
type AgentConfig struct {
	AgentID    string `yaml:"agent_id" mapstructure:"agent_id" validate:"required"`
	AppName    string `yaml:"app_name" mapstructure:"app_name" validate:"required"`
	AppVersion string `yaml:"app_version" mapstructure:"app_version" validate:"required"`
}

// BridgeConfigConfig controls writing the bridge config artifact.
type BridgeConfigConfig struct {
	// Enabled controls whether the artifact is written at start. Default: true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Path overrides the platform-specific default location.
	Path string `yaml:"path" mapstructure:"path"`

	// LaunchID is the UUID recorded in the artifact's metadata. Generated
	// at startup if empty.
	LaunchID string `yaml:"launch_id" mapstructure:"launch_id"`
}

// PolicyConfig configures the optional CEL-based tool-call authorization gate.
type PolicyConfig struct {
	// Enabled controls whether tools/call is gated by Rules. Default: false
	// (every authenticated session may call every registered tool).
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// RulesFile is a YAML file of policy.Rule entries.
	RulesFile string `yaml:"rules_file" mapstructure:"rules_file" validate:"required_if=Enabled true"`

	// CacheSize bounds the authorization decision LRU cache. SetDefaults
	// replaces 0 with 1024, so caching cannot be turned off from config.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size" validate:"omitempty,min=0"`
}

// AuditConfig configures the optional sqlite connection-lifecycle audit trail.
type AuditConfig struct {
	// Enabled controls whether connection lifecycle events are recorded.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Path is the sqlite database file. ":memory:" is accepted for tests.
	Path string `yaml:"path" mapstructure:"path" validate:"required_if=Enabled true"`
}

// MetricsConfig configures the optional Prometheus exporter.
type MetricsConfig struct {
	// Enabled controls whether server-internal metrics are recorded and,
	// if ListenAddr is set, exported over HTTP.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// ListenAddr serves /metrics when non-empty (e.g. "127.0.0.1:9090").
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr" validate:"omitempty,hostname_port"`
}

// SetDefaults fills in zero-valued optional fields with their defaults.
// Called after Viper unmarshaling, before Validate.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Agent.AgentID == "" {
		c.Agent.AgentID = "gabp-server"
	}
	if c.Agent.AppName == "" {
		c.Agent.AppName = "gabp-server"
	}
	if c.Agent.AppVersion == "" {
		c.Agent.AppVersion = "0.1.0"
	}
	if c.Policy.CacheSize == 0 {
		c.Policy.CacheSize = 1024
	}
}

// SetDevDefaults applies permissive defaults when DevMode is set: a random
// token is generated if none was configured, so a local run needs no setup.
func (c *Config) SetDevDefaults() error {
	if !c.DevMode {
		return nil
	}
	if c.Server.Token == "" {
		token, err := randomToken()
		if err != nil {
			return err
		}
		c.Server.Token = token
	}
	return nil
}
