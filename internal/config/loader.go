// Package config provides configuration loading for Fathom.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for fathom.yaml/.yml in standard locations.
// The search requires an explicit YAML extension to avoid matching the binary itself,
// which Viper's built-in SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("fathom")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: FATHOM_SCAN_TARGET
	viper.SetEnvPrefix("FATHOM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Bind nested keys for env var support
	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a fathom config file
// with an explicit YAML extension (.yaml or .yml). This prevents Viper from
// matching the binary "fathom" (no extension) in the current directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".fathom"),
	}
	if runtime.GOOS == "windows" {
		// %ProgramData%\fathom (typically C:\ProgramData\fathom)
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "fathom"))
		}
	} else {
		paths = append(paths, "/etc/fathom")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for fathom.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "fathom"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// This enables overriding nested config values via environment variables.
// Example: FATHOM_SCAN_TARGET overrides scan.target
func bindNestedEnvKeys() {
	// Scan config
	_ = viper.BindEnv("scan.target")
	_ = viper.BindEnv("scan.concurrency")
	_ = viper.BindEnv("scan.user_agent")
	_ = viper.BindEnv("scan.authed_by")
	_ = viper.BindEnv("scan.cookie_jar")
	_ = viper.BindEnv("scan.cookie_string")
	// Note: scan.redundant, restrict_paths, lsmod/lsrep/lsplug are arrays,
	// complex to override via env. Users should use config file for these.

	// HTTP engine config
	_ = viper.BindEnv("http_engine.concurrency_cap")
	_ = viper.BindEnv("http_engine.request_timeout")
	_ = viper.BindEnv("http_engine.retry_budget")
	_ = viper.BindEnv("http_engine.rate_limit_per_host")

	// Observability config
	_ = viper.BindEnv("observability.tracing_enabled")
	_ = viper.BindEnv("observability.metrics_enabled")
	_ = viper.BindEnv("observability.prometheus_addr")

	// Store config
	_ = viper.BindEnv("store.sqlite_path")

	// Note: modules.enabled and plugins.enabled are arrays, complex to
	// override via env. Users should use config file for these.

	// Dev mode
	_ = viper.BindEnv("dev_mode")
	_ = viper.BindEnv("log_level")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the Config.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only
		// This allows running with pure environment variable configuration
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply default values for optional fields
	cfg.SetDefaults()

	// In dev mode, apply permissive defaults before validation
	cfg.SetDevDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
