// Package config provides configuration loading for the content-security
// core host process.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for contentsec.yaml/.yml
// in standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself, which Viper's built-in SetConfigName
// would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("contentsec")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: CONTENTSEC_POLICY_GRAPH_DSN
	viper.SetEnvPrefix("CONTENTSEC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Bind nested keys for env var support
	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a contentsec config file
// with an explicit YAML extension (.yaml or .yml). This prevents Viper from
// matching the binary "contentsec" (no extension) in the current directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".contentsec"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "contentsec"))
		}
	} else {
		paths = append(paths, "/etc/contentsec")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for contentsec.yaml
// or .yml. Returns the full path of the first match, or empty string if
// none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "contentsec"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// Example: CONTENTSEC_SCAN_WORKER_COUNT overrides scan.worker_count.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("scan.small_max_bytes")
	_ = viper.BindEnv("scan.medium_max_bytes")
	_ = viper.BindEnv("scan.max_scan_bytes")
	_ = viper.BindEnv("scan.chunk_size_bytes")
	_ = viper.BindEnv("scan.chunk_overlap_bytes")
	_ = viper.BindEnv("scan.large_scan_bytes")
	_ = viper.BindEnv("scan.worker_count")
	_ = viper.BindEnv("scan.queue_capacity")
	_ = viper.BindEnv("scan.scan_timeout")
	_ = viper.BindEnv("scan.engine_socket_path")

	_ = viper.BindEnv("quarantine.dir")
	_ = viper.BindEnv("quarantine.delete_retry_initial")

	_ = viper.BindEnv("traffic.max_patterns")
	_ = viper.BindEnv("traffic.alert_buffer_capacity")
	_ = viper.BindEnv("traffic.min_requests_to_analyse")
	_ = viper.BindEnv("traffic.analysis_cooldown")

	_ = viper.BindEnv("policy_graph.dsn")
	_ = viper.BindEnv("policy_graph.cache_size")
	_ = viper.BindEnv("policy_graph.breaker_fail_threshold")
	_ = viper.BindEnv("policy_graph.breaker_success_threshold")
	_ = viper.BindEnv("policy_graph.breaker_open_timeout")

	_ = viper.BindEnv("telemetry.log_level")
	_ = viper.BindEnv("telemetry.metrics_addr")
	_ = viper.BindEnv("telemetry.otel_exporter")

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the validated Config.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but does
// NOT validate. Use this when CLI flags may override DevMode before
// validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars and defaults only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded. Returns an empty string if no config file was found (env vars
// and defaults only).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
