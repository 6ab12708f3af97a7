package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	configName = "lifecycle"
	envPrefix  = "LIFECYCLE"
)

var defaults = map[string]interface{}{
	"env":                        "DEV",
	"log_level":                  "info",
	"listen_addr":                ":8080",
	"db_path":                    "./data/lifecycle.db",
	"trust_proxy_headers":        false,
	"identity.base_url":          "http://localhost:5000/api/simple",
	"identity.refresh_fallbacks": []string{},
	"refresh.skew_window":        "5m",
	"refresh.min_interval":       "10s",
	"refresh.max_retries":        3,
	"refresh.backoff_base":       "500ms",
	"refresh.backoff_cap":        "10s",
	"refresh.default_expiry":     "24h",
	"session.idle_timeout":       "0s",
	"session.policy":             "replace",
	"vault.key":                  "",
	"vault.passphrase":           "",
	"vault.salt":                 "",
	"credentials.base_url":       "",
	"credentials.admin_key":      "",
	"credentials.upsert_timeout": "10s",
}

// Load reads configFile, or lifecycle.yaml from the working directory or
// ~/.lifecycle when configFile is empty, then applies LIFECYCLE_ environment
// overrides (LIFECYCLE_REFRESH_MAX_RETRIES overrides refresh.max_retries).
// A missing config file is not an error.
func Load(configFile string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		v.SetConfigFile(found)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return mainConfig{Settings: s}, nil
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	for _, dir := range []string{".", filepath.Join(home, "."+configName)} {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
