// Package config provides configuration loading for the GABP server.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for gabp-server.yaml/.yml
// in standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself, which Viper's built-in SetConfigName
// would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("gabp-server")
		viper.SetConfigType("yaml")
	}

	// GABP_SERVER_HOST, GABP_AGENT_AGENT_ID, etc.
	viper.SetEnvPrefix("GABP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
	bindLiteralEnvKeys()

	viper.SetDefault("bridge_config.enabled", true)
}

// findConfigFile searches standard locations for a gabp-server config file
// with an explicit YAML extension.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".gabp-server"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "gabp-server"))
		}
	} else {
		paths = append(paths, "/etc/gabp-server")
	}
	return findConfigFileInPaths(paths)
}

func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "gabp-server"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds every config key for GABP_-prefixed environment
// variable support.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.host")
	_ = viper.BindEnv("server.port")
	_ = viper.BindEnv("server.token")
	_ = viper.BindEnv("server.log_level")

	_ = viper.BindEnv("agent.agent_id")
	_ = viper.BindEnv("agent.app_name")
	_ = viper.BindEnv("agent.app_version")

	_ = viper.BindEnv("bridge_config.enabled")
	_ = viper.BindEnv("bridge_config.path")
	_ = viper.BindEnv("bridge_config.launch_id")

	_ = viper.BindEnv("policy.enabled")
	_ = viper.BindEnv("policy.rules_file")
	_ = viper.BindEnv("policy.cache_size")

	_ = viper.BindEnv("audit.enabled")
	_ = viper.BindEnv("audit.path")

	_ = viper.BindEnv("metrics.enabled")
	_ = viper.BindEnv("metrics.listen_addr")

	_ = viper.BindEnv("dev_mode")
}

// bindLiteralEnvKeys binds the literal environment variables the wire
// protocol names as the server's environment collaborators: GABS_GAME_ID
// supplies the agent id, GABP_SERVER_PORT the port, GABP_TOKEN the token.
// These are bound under their config keys so a value supplied either way
// resolves to the same field.
func bindLiteralEnvKeys() {
	_ = viper.BindEnv("agent.agent_id", "GABS_GAME_ID")
	_ = viper.BindEnv("server.port", "GABP_SERVER_PORT")
	_ = viper.BindEnv("server.token", "GABP_TOKEN")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the Config. Callers that need to apply CLI
// flag overrides before validation should use LoadConfigRaw instead.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	if err := cfg.SetDevDefaults(); err != nil {
		return nil, fmt.Errorf("config: dev defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but does
// NOT apply dev defaults or validate. Use this when CLI flags may override
// DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded, or an empty string if none was found (environment-only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// randomToken generates a 32-byte hex-encoded token for DevMode startup.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("config: generate dev token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
