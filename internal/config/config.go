// Package config loads strawtrace settings from config.yaml, STRAW_*
// environment variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DirName is the per-site configuration directory searched for config.yaml.
const DirName = ".strawtrace"

// EnvPrefix prefixes every environment variable binding (STRAW_ROOT, ...).
const EnvPrefix = "STRAW"

// Configuration keys.
const (
	KeyRoot                  = "root"
	KeyPalletsDir            = "pallets-dir"
	KeyLeakDir               = "leak-dir"
	KeyQualityFile           = "quality-file"
	KeyActor                 = "actor"
	KeyJSON                  = "json"
	KeyLockRetryMaxElapsed   = "lock.retry-max-elapsed"
	KeyLockRetryInitInterval = "lock.retry-initial-interval"
	KeyCheckConcurrency      = "check.concurrency"
	KeyEventsLog             = "events-log"
)

var v *viper.Viper

// Initialize sets up the viper singleton. Safe to call more than once; each
// call starts from a clean instance.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	path, err := findConfigFile()
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyRoot, ".")
	v.SetDefault(KeyPalletsDir, "")
	v.SetDefault(KeyLeakDir, "")
	v.SetDefault(KeyQualityFile, "")
	v.SetDefault(KeyActor, "")
	v.SetDefault(KeyJSON, false)
	v.SetDefault(KeyLockRetryMaxElapsed, 5*time.Second)
	v.SetDefault(KeyLockRetryInitInterval, 50*time.Millisecond)
	v.SetDefault(KeyCheckConcurrency, 4)
	v.SetDefault(KeyEventsLog, "")
}

// findConfigFile returns the first config.yaml found walking up from the
// working directory, then the user config directory. Empty means none.
func findConfigFile() (string, error) {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("config file from %s_CONFIG: %w", EnvPrefix, err)
		}
		return p, nil
	}
	if p, err := findProjectConfigYaml(); err == nil {
		return p, nil
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, "strawtrace", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// ResetForTesting drops the singleton so the next Initialize starts fresh.
func ResetForTesting() {
	v = nil
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set overrides a configuration value for this process (flags).
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns the merged configuration.
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// Paths are the ledger locations derived from the root and overrides.
type Paths struct {
	Root        string
	PalletsDir  string
	QualityFile string
	EventsLog   string
}

// ResolvePaths applies the layout defaults: pallets/ and leak/LeakTestResults.csv
// below root unless overridden.
func ResolvePaths() Paths {
	root := GetString(KeyRoot)
	if root == "" {
		root = "."
	}
	p := Paths{
		Root:        root,
		PalletsDir:  GetString(KeyPalletsDir),
		QualityFile: GetString(KeyQualityFile),
		EventsLog:   GetString(KeyEventsLog),
	}
	if p.PalletsDir == "" {
		p.PalletsDir = filepath.Join(root, "pallets")
	}
	if p.QualityFile == "" {
		leak := GetString(KeyLeakDir)
		if leak == "" {
			leak = filepath.Join(root, "leak")
		}
		p.QualityFile = filepath.Join(leak, "LeakTestResults.csv")
	}
	if p.EventsLog == "" {
		p.EventsLog = filepath.Join(root, "events.log")
	}
	return p
}
