package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// KnownKeys lists the keys `config set` accepts.
var KnownKeys = map[string]bool{
	KeyRoot:                  true,
	KeyPalletsDir:            true,
	KeyLeakDir:               true,
	KeyQualityFile:           true,
	KeyActor:                 true,
	KeyJSON:                  true,
	KeyLockRetryMaxElapsed:   true,
	KeyLockRetryInitInterval: true,
	KeyCheckConcurrency:      true,
	KeyEventsLog:             true,
}

// SetYamlConfig sets key in the site's config.yaml, replacing an existing
// (possibly commented-out) line or appending a new one.
func SetYamlConfig(key, value string) error {
	if !KnownKeys[key] {
		return fmt.Errorf("unknown config key %q", key)
	}
	configPath, err := findProjectConfigYaml()
	if err != nil {
		return err
	}

	content, err := os.ReadFile(configPath) //nolint:gosec // configPath is from findProjectConfigYaml
	if err != nil {
		return fmt.Errorf("failed to read config.yaml: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(updateYamlKey(string(content), key, value)), 0o600); err != nil { //nolint:gosec // configPath is validated
		return fmt.Errorf("failed to write config.yaml: %w", err)
	}
	return nil
}

// findProjectConfigYaml walks up from the working directory looking for
// .strawtrace/config.yaml.
func findProjectConfigYaml() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		configPath := filepath.Join(dir, DirName, "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
	}
	return "", fmt.Errorf("no %s/config.yaml found (run 'strawtrace config init' first)", DirName)
}

// updateYamlKey rewrites the line for a top-level or dotted key. Dotted keys
// are written flat ("lock.retry-max-elapsed: 5s"), which viper reads as nested.
func updateYamlKey(content, key, value string) string {
	newLine := fmt.Sprintf("%s: %s", key, formatYamlValue(value))
	keyPattern := regexp.MustCompile(`^(\s*)(#\s*)?` + regexp.QuoteMeta(key) + `\s*:`)

	found := false
	var result []string
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if m := keyPattern.FindStringSubmatch(line); m != nil && !found {
			result = append(result, m[1]+newLine)
			found = true
			continue
		}
		result = append(result, line)
	}
	if !found {
		if len(result) > 0 && result[len(result)-1] != "" {
			result = append(result, "")
		}
		result = append(result, newLine)
	}
	return strings.Join(result, "\n") + "\n"
}

func formatYamlValue(value string) string {
	lower := strings.ToLower(value)
	if lower == "true" || lower == "false" {
		return lower
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return value
	}
	if _, err := time.ParseDuration(value); err == nil {
		return value
	}
	if strings.ContainsAny(value, ":#[]{},&*!|>'\"%@`\\") || strings.TrimSpace(value) != value || value == "" {
		return strconv.Quote(value)
	}
	return value
}
