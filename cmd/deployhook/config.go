package main

import (
	"fmt"
	"os"
	"strings"

	"deployhook/internal/security"
	"deployhook/internal/target"
	"deployhook/pkg/fileutil"
)

// ConfigFileName is the name searched for in the default locations.
const ConfigFileName = "deployhook.yaml"

// resolveConfigPath returns the explicit path when set, otherwise the first
// default location that exists.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	searchPaths := fileutil.DefaultConfigPaths(ConfigFileName)
	if path := fileutil.SearchPathsOptional(searchPaths); path != "" {
		return path, nil
	}

	var b strings.Builder
	b.WriteString("no configuration file found in default locations:\n")
	for _, path := range searchPaths {
		fmt.Fprintf(&b, "  - %s\n", path)
	}
	b.WriteString("use --config or DEPLOYHOOK_CONFIG to specify a custom location")
	return "", fmt.Errorf("%s", b.String())
}

// loadConfig resolves and loads the configuration file.
func loadConfig(explicit string) (target.Config, string, error) {
	path, err := resolveConfigPath(explicit)
	if err != nil {
		return target.Config{}, "", err
	}
	cfg, err := target.Load(path)
	if err != nil {
		return target.Config{}, path, err
	}
	return cfg, path, nil
}

// secretWarnings lists weak secrets, one line per global or target secret.
func secretWarnings(cfg target.Config) []string {
	var warnings []string
	if reason := security.WeakSecretReason(cfg.Secret); cfg.Secret != "" && reason != "" {
		warnings = append(warnings, fmt.Sprintf("global secret %s", reason))
	}
	for _, name := range target.NewRegistry(cfg.Targets).List() {
		t := cfg.Targets[name]
		if t.Secret == cfg.Secret {
			continue
		}
		if reason := security.WeakSecretReason(t.Secret); reason != "" {
			warnings = append(warnings, fmt.Sprintf("secret of target '%s' %s", name, reason))
		}
	}
	return warnings
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
