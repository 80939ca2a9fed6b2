package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tidwall/jsonc"
)

// Config holds winbus settings.
type Config struct {
	// Store is the directory of the shared event store.
	Store string `json:"store,omitempty"`
	// Prefix is the namespace prefix for event keys.
	Prefix string `json:"prefix,omitempty"`
	// Log configures the logger.
	Log LogConfig `json:"log,omitempty"`
	// Server configures the HTTP bridge.
	Server ServerConfig `json:"server,omitempty"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Pretty bool   `json:"pretty,omitempty"`
}

// ServerConfig configures the HTTP bridge.
type ServerConfig struct {
	Port int   `json:"port,omitempty"`
	CORS *bool `json:"cors,omitempty"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Store:  GetPaths().StorePath(),
		Prefix: "window.events.",
		Log:    LogConfig{Level: "info"},
		Server: ServerConfig{Port: 8080},
	}
}

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/winbus/winbus.json or .jsonc)
// 2. Project config (<directory>/winbus.json or .jsonc)
// 3. WINBUS_CONFIG file
// 4. Environment variables
func Load(directory string) (*Config, error) {
	config := Default()

	globalPath := GetPaths().Config
	loadConfigFile(filepath.Join(globalPath, "winbus.json"), config)
	loadConfigFile(filepath.Join(globalPath, "winbus.jsonc"), config)

	if directory != "" {
		loadConfigFile(filepath.Join(directory, "winbus.json"), config)
		loadConfigFile(filepath.Join(directory, "winbus.jsonc"), config)
	}

	if configPath := os.Getenv("WINBUS_CONFIG"); configPath != "" {
		if err := loadConfigFile(configPath, config); err != nil {
			return nil, fmt.Errorf("load %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// loadConfigFile merges a single JSONC config file into config. A missing
// file is not an error.
func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fileConfig Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// mergeConfig overlays the non-zero fields of src onto dst.
func mergeConfig(dst, src *Config) {
	if src.Store != "" {
		dst.Store = src.Store
	}
	if src.Prefix != "" {
		dst.Prefix = src.Prefix
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.Pretty {
		dst.Log.Pretty = true
	}
	if src.Server.Port != 0 {
		dst.Server.Port = src.Server.Port
	}
	if src.Server.CORS != nil {
		dst.Server.CORS = src.Server.CORS
	}
}

// applyEnvOverrides applies WINBUS_* environment variables (highest
// priority).
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("WINBUS_STORE"); v != "" {
		config.Store = v
	}
	if v := os.Getenv("WINBUS_PREFIX"); v != "" {
		config.Prefix = v
	}
	if v := os.Getenv("WINBUS_LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}
	if v := os.Getenv("WINBUS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
}
