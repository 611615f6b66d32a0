// Package config loads a worker instance's settings from workers.ini-style
// YAML, mirroring the teacher's project-config loader.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings is a single worker instance's configuration.
type Settings struct {
	// Instance is this worker's instance number (WORKER_INSTANCE).
	Instance int `yaml:"instance"`

	// WebUIHost is the scheme+host of the web UI, e.g. "http://openqa.example".
	WebUIHost string `yaml:"web_ui_host"`

	// APIKey authenticates REST/WebSocket calls to the web UI as a bearer
	// token. APISecret is decoded but not used by any caller.
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret,omitempty"`

	// PoolBaseDir is the parent directory under which each instance's pool
	// directory (pool/<instance>) is created.
	PoolBaseDir string `yaml:"pool_base_dir"`

	// IsotovideoCommand is the path to the isotovideo binary.
	IsotovideoCommand string `yaml:"isotovideo_command"`

	// Debug enables verbose logging.
	Debug bool `yaml:"debug,omitempty"`
}

// Load reads and decodes a Settings file at path.
func Load(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var s Settings
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if s.Instance <= 0 {
		return nil, fmt.Errorf("config: %s: instance must be a positive integer", path)
	}
	if s.WebUIHost == "" {
		return nil, fmt.Errorf("config: %s: web_ui_host is required", path)
	}
	return &s, nil
}
