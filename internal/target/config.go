package target

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // zone data for log.time_zone on hosts without it

	"deployhook/internal/environment"
	"deployhook/internal/security"
	"deployhook/pkg/cmdutil"
	"deployhook/pkg/fileutil"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHost          = "0.0.0.0"
	DefaultPort          = 9000
	DefaultTimeout       = 5 * time.Minute
	DefaultLogDir        = "./logs"
	DefaultTimeZone      = "Asia/Shanghai"
	DefaultUnixScript    = "./auto_deploy.sh"
	DefaultWindowsScript = "./auto_deploy.bat"
	DefaultUnixShell     = "bash"
	DefaultWindowsShell  = "cmd /C"

	// RoutePrefix is prepended to the target name when no path is configured.
	RoutePrefix = "/webhook/"
)

// Environment variables that override file settings.
const (
	EnvSecret           = "DEPLOYHOOK_SECRET"
	EnvTestBranch       = "DEPLOYHOOK_TEST_BRANCH"
	EnvTestBuildScript  = "DEPLOYHOOK_TEST_BUILD_SCRIPT"
	EnvProdBranch       = "DEPLOYHOOK_PROD_BRANCH"
	EnvProdBuildScript  = "DEPLOYHOOK_PROD_BUILD_SCRIPT"
	EnvTestHosts        = "DEPLOYHOOK_TEST_HOSTS"
	EnvExecutionTimeout = "DEPLOYHOOK_TIMEOUT"
)

// Load reads, overrides from the process environment, and validates the
// YAML configuration at configPath. Relative paths in the file are
// resolved against the file's directory.
func Load(configPath string) (Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve config path: %w", err)
	}

	return Parse(data, filepath.Dir(absPath), os.Getenv)
}

// Parse decodes YAML data, applies environment overrides read through
// getenv and validates the result.
func Parse(data []byte, baseDir string, getenv func(string) string) (Config, error) {
	var fc FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := ApplyEnv(&fc, getenv); err != nil {
		return Config{}, err
	}

	if problems := ValidateConfig(fc); len(problems) > 0 {
		return Config{}, fmt.Errorf("invalid configuration:\n%s", strings.Join(problems, "\n"))
	}

	return build(fc, baseDir)
}

// ApplyEnv overrides file settings with DEPLOYHOOK_* environment variables.
func ApplyEnv(fc *FileConfig, getenv func(string) string) error {
	if getenv == nil {
		return nil
	}
	if v := getenv(EnvSecret); v != "" {
		fc.Secret = v
	}
	if v := getenv(EnvTestBranch); v != "" {
		fc.Environments.Test.Branch = v
	}
	if v := getenv(EnvTestBuildScript); v != "" {
		fc.Environments.Test.BuildScript = v
	}
	if v := getenv(EnvProdBranch); v != "" {
		fc.Environments.Production.Branch = v
	}
	if v := getenv(EnvProdBuildScript); v != "" {
		fc.Environments.Production.BuildScript = v
	}
	if v := getenv(EnvTestHosts); v != "" {
		fc.Environments.TestHosts = splitList(v)
	}
	if v := getenv(EnvExecutionTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvExecutionTimeout, v, err)
		}
		fc.Timeout = d
	}
	return nil
}

// ValidateConfig checks a decoded file configuration and returns one line
// per problem found.
func ValidateConfig(fc FileConfig) []string {
	var problems []string

	if fc.Listen.Port < 0 || fc.Listen.Port > 65535 {
		problems = append(problems, fmt.Sprintf("  - listen.port must be between 1 and 65535, got %d", fc.Listen.Port))
	}

	if fc.Timeout < 0 {
		problems = append(problems, fmt.Sprintf("  - timeout must be positive, got %s", fc.Timeout))
	}

	if fc.Log.TimeZone != "" {
		if _, err := time.LoadLocation(fc.Log.TimeZone); err != nil {
			problems = append(problems, fmt.Sprintf("  - log.time_zone %q is not a known zone: %v", fc.Log.TimeZone, err))
		}
	}

	for label, branch := range map[string]string{
		"environments.test.branch":       fc.Environments.Test.Branch,
		"environments.production.branch": fc.Environments.Production.Branch,
	} {
		if branch == "" {
			continue
		}
		if err := security.ValidateBranchName(branch); err != nil {
			problems = append(problems, fmt.Sprintf("  - %s: %v", label, err))
		}
	}

	for label, shell := range map[string]string{
		"scripts.unix_shell":    fc.Scripts.UnixShell,
		"scripts.windows_shell": fc.Scripts.WindowsShell,
	} {
		if strings.TrimSpace(shell) == "" {
			continue
		}
		parts, err := cmdutil.ParseCommandString(shell)
		if err != nil {
			problems = append(problems, fmt.Sprintf("  - %s: %v", label, err))
			continue
		}
		if err := security.ValidateInterpreter(parts); err != nil {
			problems = append(problems, fmt.Sprintf("  - %s: %v", label, err))
		}
	}

	routes := make(map[string]string)
	for name, tc := range fc.Targets {
		if err := security.ValidateTargetName(name); err != nil {
			problems = append(problems, fmt.Sprintf("  - Target '%s': %v", name, err))
			continue
		}

		if tc.RemoteURL == "" {
			problems = append(problems, fmt.Sprintf("  - Target '%s': missing required 'remote_url' field", name))
		} else if err := security.ValidateRemoteURL(tc.RemoteURL); err != nil {
			problems = append(problems, fmt.Sprintf("  - Target '%s': %v", name, err))
		}

		if fc.Secret == "" && tc.Secret == "" {
			problems = append(problems, fmt.Sprintf("  - Target '%s': no secret configured (set 'secret' globally, per target, or %s)", name, EnvSecret))
		}

		if tc.Timeout < 0 {
			problems = append(problems, fmt.Sprintf("  - Target '%s': timeout must be positive, got %s", name, tc.Timeout))
		}

		if tc.ProjectDir != "" && (filepath.IsAbs(tc.ProjectDir) || strings.Contains(tc.ProjectDir, "..")) {
			problems = append(problems, fmt.Sprintf("  - Target '%s': project_dir must be a relative subdirectory, got '%s'", name, tc.ProjectDir))
		}

		path := routePath(name, tc)
		if err := security.ValidateRoutePath(path); err != nil {
			problems = append(problems, fmt.Sprintf("  - Target '%s': %v", name, err))
		} else if other, taken := routes[path]; taken {
			problems = append(problems, fmt.Sprintf("  - Target '%s': route '%s' already used by target '%s'", name, path, other))
		} else {
			routes[path] = name
		}
	}

	return problems
}

// build applies defaults to a validated file configuration.
func build(fc FileConfig, baseDir string) (Config, error) {
	cfg := Config{
		Host:               withDefault(fc.Listen.Host, DefaultHost),
		Port:               fc.Listen.Port,
		Secret:             fc.Secret,
		Timeout:            fc.Timeout,
		TrustForwardedHost: fc.TrustForwardedHost,
		EnvPassthrough:     fc.EnvPassthrough,
		LogDir:             fileutil.ResolveRelative(baseDir, withDefault(fc.Log.Dir, DefaultLogDir)),
		TestHosts:          fc.Environments.TestHosts,
		Targets:            make(map[string]*Target, len(fc.Targets)),
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	loc, err := time.LoadLocation(withDefault(fc.Log.TimeZone, DefaultTimeZone))
	if err != nil {
		return Config{}, fmt.Errorf("failed to load time zone: %w", err)
	}
	cfg.Location = loc

	cfg.Test = environment.Profile{
		Name:        environment.Test,
		Branch:      withDefault(fc.Environments.Test.Branch, environment.DefaultTestBranch),
		BuildScript: withDefault(fc.Environments.Test.BuildScript, environment.DefaultTestBuildScript),
	}
	cfg.Production = environment.Profile{
		Name:        environment.Production,
		Branch:      withDefault(fc.Environments.Production.Branch, environment.DefaultProductionBranch),
		BuildScript: withDefault(fc.Environments.Production.BuildScript, environment.DefaultProductionBuildScript),
	}

	cfg.Scripts = ScriptSet{
		Unix:    fileutil.ResolveRelative(baseDir, withDefault(fc.Scripts.Unix, DefaultUnixScript)),
		Windows: fileutil.ResolveRelative(baseDir, withDefault(fc.Scripts.Windows, DefaultWindowsScript)),
	}
	cfg.Scripts.UnixShell = withDefault(fc.Scripts.UnixShell, DefaultUnixShell)
	cfg.Scripts.WindowsShell = withDefault(fc.Scripts.WindowsShell, DefaultWindowsShell)

	for name, tc := range fc.Targets {
		t := &Target{
			Name:       name,
			Path:       routePath(name, tc),
			ProjectDir: tc.ProjectDir,
			RemoteURL:  tc.RemoteURL,
			PM2AppName: withDefault(tc.PM2AppName, name),
			LogPath:    fileutil.ResolveRelative(baseDir, tc.LogPath),
			Secret:     withDefault(tc.Secret, fc.Secret),
			Timeout:    tc.Timeout,
		}
		if t.LogPath == "" {
			t.LogPath = filepath.Join(cfg.LogDir, fmt.Sprintf("deploy-%s.log", name))
		}
		cfg.Targets[name] = t
	}

	return cfg, nil
}

func routePath(name string, tc TargetConfig) string {
	if tc.Path != "" {
		return tc.Path
	}
	return RoutePrefix + name
}

func withDefault(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
