package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the on-disk shape of config.yaml written by `config init`.
type LocalConfig struct {
	Root        string      `yaml:"root"`
	PalletsDir  string      `yaml:"pallets-dir,omitempty"`
	LeakDir     string      `yaml:"leak-dir,omitempty"`
	QualityFile string      `yaml:"quality-file,omitempty"`
	Actor       string      `yaml:"actor,omitempty"`
	JSON        bool        `yaml:"json"`
	Lock        LockConfig  `yaml:"lock"`
	Check       CheckConfig `yaml:"check"`
}

// LockConfig holds ledger lock retry settings.
type LockConfig struct {
	RetryMaxElapsed      string `yaml:"retry-max-elapsed"`
	RetryInitialInterval string `yaml:"retry-initial-interval"`
}

// CheckConfig holds multi-batch check settings.
type CheckConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// DefaultLocalConfig returns the configuration written for a new site.
func DefaultLocalConfig(root string) LocalConfig {
	return LocalConfig{
		Root: root,
		Lock: LockConfig{
			RetryMaxElapsed:      "5s",
			RetryInitialInterval: "50ms",
		},
		Check: CheckConfig{Concurrency: 4},
	}
}

// LoadLocalConfig reads config.yaml from dir directly, bypassing viper.
// Returns an empty LocalConfig if the file is missing or unparseable.
func LoadLocalConfig(dir string) *LocalConfig {
	data, err := os.ReadFile(filepath.Join(dir, "config.yaml")) // #nosec G304 - config path from caller
	if err != nil {
		return &LocalConfig{}
	}
	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}
	return &cfg
}

// WriteLocalConfig writes cfg to dir/config.yaml, creating dir. An existing
// file is only replaced when force is set.
func WriteLocalConfig(dir string, cfg LocalConfig, force bool) (string, error) {
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	header := []byte("# strawtrace site configuration\n# Environment variables STRAW_<KEY> override these values.\n")
	if err := os.WriteFile(path, append(header, data...), 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
