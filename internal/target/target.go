package target

import (
	"time"

	"deployhook/internal/environment"
)

// Target is a validated, immutable deploy target: one deployable unit with
// its own repository, process-manager name and deploy log.
type Target struct {
	Name       string
	Path       string // webhook route
	ProjectDir string // optional subdirectory override passed to the script
	RemoteURL  string
	PM2AppName string
	LogPath    string
	Secret     string
	Timeout    time.Duration // zero means the global timeout
}

// ScriptSet holds the per-platform deploy script entry points.
type ScriptSet struct {
	Unix         string
	Windows      string
	UnixShell    string // shell-quoted interpreter command line
	WindowsShell string
}

// Config is the validated process configuration. It is built once at
// startup and handed by value to every component.
type Config struct {
	Host               string
	Port               int
	Secret             string
	Timeout            time.Duration
	TrustForwardedHost bool
	EnvPassthrough     []string
	LogDir             string
	Location           *time.Location
	TestHosts          []string
	Test               environment.Profile
	Production         environment.Profile
	Scripts            ScriptSet
	Targets            map[string]*Target
}

// TargetConfig represents the YAML configuration for a target
type TargetConfig struct {
	Path       string        `yaml:"path"`
	ProjectDir string        `yaml:"project_dir"`
	RemoteURL  string        `yaml:"remote_url"`
	PM2AppName string        `yaml:"pm2_app_name"`
	LogPath    string        `yaml:"log_path"`
	Secret     string        `yaml:"secret"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ProfileConfig represents one environment profile in YAML.
type ProfileConfig struct {
	Branch      string `yaml:"branch"`
	BuildScript string `yaml:"build_script"`
}

// FileConfig represents the root configuration structure
type FileConfig struct {
	Listen struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"listen"`
	Secret             string        `yaml:"secret"`
	Timeout            time.Duration `yaml:"timeout"`
	TrustForwardedHost bool          `yaml:"trust_forwarded_host"`
	EnvPassthrough     []string      `yaml:"env_passthrough"`
	Log                struct {
		Dir      string `yaml:"dir"`
		TimeZone string `yaml:"time_zone"`
	} `yaml:"log"`
	Environments struct {
		TestHosts  []string      `yaml:"test_hosts"`
		Test       ProfileConfig `yaml:"test"`
		Production ProfileConfig `yaml:"production"`
	} `yaml:"environments"`
	Scripts struct {
		Unix         string `yaml:"unix"`
		Windows      string `yaml:"windows"`
		UnixShell    string `yaml:"unix_shell"`
		WindowsShell string `yaml:"windows_shell"`
	} `yaml:"scripts"`
	Targets map[string]TargetConfig `yaml:"targets"`
}

// EffectiveTimeout returns the target's timeout, falling back to def.
func (t *Target) EffectiveTimeout(def time.Duration) time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return def
}
