package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"deployhook/internal/metrics"
	"deployhook/internal/target"
	"deployhook/pkg/cmdutil"
	"deployhook/pkg/fileutil"
)

// KillGracePeriod bounds how long Execute waits for output pipes to close
// after the script has been killed.
const KillGracePeriod = 5 * time.Second

// Variables passed to the deploy script.
const (
	EnvGitBranch   = "DEPLOY_GIT_BRANCH"
	EnvPM2AppName  = "DEPLOY_PM2_APP_NAME"
	EnvRemoteURL   = "DEPLOY_REMOTE_URL"
	EnvLogPath     = "DEPLOY_LOG_PATH"
	EnvBuildScript = "DEPLOY_BUILD_SCRIPT"
	EnvEnvironment = "DEPLOY_ENVIRONMENT"
	EnvTarget      = "DEPLOY_TARGET"
	EnvProjectDir  = "DEPLOY_PROJECT_DIR"
)

// DefaultEnvPassthrough lists the process variables a deploy script
// inherits. Everything else, including the webhook secret, is withheld.
var DefaultEnvPassthrough = []string{
	"PATH", "HOME", "USER", "LOGNAME", "SHELL", "LANG", "LC_ALL", "TZ",
	"SSH_AUTH_SOCK", "NVM_DIR", "PM2_HOME",
	"SYSTEMROOT", "SYSTEMDRIVE", "COMSPEC", "PATHEXT", "WINDIR", "TEMP", "TMP",
	"USERPROFILE", "APPDATA", "LOCALAPPDATA", "PROGRAMFILES",
}

// Options configures a Supervisor.
type Options struct {
	Scripts        target.ScriptSet
	EnvPassthrough []string // added to DefaultEnvPassthrough
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	GOOS           string              // defaults to runtime.GOOS
	Getenv         func(string) string // defaults to os.Getenv
}

// Supervisor runs deploy scripts with a hard timeout and records exactly
// one terminal outcome per job.
type Supervisor struct {
	scripts     target.ScriptSet
	passthrough []string
	logger      *slog.Logger
	metrics     *metrics.Metrics
	goos        string
	getenv      func(string) string

	wg      sync.WaitGroup
	mu      sync.Mutex
	running map[string]int
	last    map[string]Outcome
}

// NewSupervisor creates a supervisor.
func NewSupervisor(opts Options) *Supervisor {
	s := &Supervisor{
		scripts: opts.Scripts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		goos:    opts.GOOS,
		getenv:  opts.Getenv,
		running: make(map[string]int),
		last:    make(map[string]Outcome),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.goos == "" {
		s.goos = runtime.GOOS
	}
	if s.getenv == nil {
		s.getenv = os.Getenv
	}

	seen := make(map[string]struct{})
	for _, name := range append(append([]string{}, DefaultEnvPassthrough...), opts.EnvPassthrough...) {
		if _, ok := seen[name]; ok || name == "" {
			continue
		}
		seen[name] = struct{}{}
		s.passthrough = append(s.passthrough, name)
	}
	return s
}

// Command returns the script path and the argv used to run it on the
// supervisor's platform.
func (s *Supervisor) Command() (string, []string, error) {
	script, shell := s.scripts.Unix, s.scripts.UnixShell
	if s.goos == "windows" {
		script, shell = s.scripts.Windows, s.scripts.WindowsShell
	}
	if script == "" {
		return "", nil, fmt.Errorf("no deploy script configured for %s", s.goos)
	}

	argv, err := cmdutil.BuildCommand(shell, script)
	if err != nil {
		return "", nil, fmt.Errorf("invalid interpreter for %s: %w", s.goos, err)
	}
	return script, argv, nil
}

// Environment builds the restricted environment for job's script.
func (s *Supervisor) Environment(job *Job) []string {
	vars := make(map[string]string)
	for _, name := range s.passthrough {
		if v := s.getenv(name); v != "" {
			vars[name] = v
		}
	}

	vars[EnvGitBranch] = job.Profile.Branch
	vars[EnvBuildScript] = job.Profile.BuildScript
	vars[EnvEnvironment] = job.Profile.Name
	vars[EnvTarget] = job.Target.Name
	vars[EnvPM2AppName] = job.Target.PM2AppName
	vars[EnvRemoteURL] = job.Target.RemoteURL
	vars[EnvLogPath] = job.Target.LogPath
	if job.Target.ProjectDir != "" {
		vars[EnvProjectDir] = job.Target.ProjectDir
	}

	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// Dispatch runs job in the background and returns its handle.
func (s *Supervisor) Dispatch(job *Job) *Task {
	task := newTask(job)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		task.transition(StateRunning)
		task.finish(s.Execute(context.Background(), job))
	}()
	return task
}

// Wait blocks until every dispatched job has finished.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Execute runs job's script to completion or timeout and returns its
// outcome. A panic while running is reported as a failed outcome.
func (s *Supervisor) Execute(ctx context.Context, job *Job) (outcome Outcome) {
	start := time.Now()
	if job == nil || job.Target == nil {
		s.logger.Error("deploy failed", "error", "job has no target")
		outcome = Outcome{State: StateFailed, Message: "deploy job has no target", FinishedAt: time.Now()}
		if job != nil {
			outcome.JobID = job.ID
		}
		return outcome
	}
	logger := s.logger.With("job_id", job.ID, "target", job.Target.Name)

	finished := false
	defer func() {
		if r := recover(); r != nil && !finished {
			outcome = s.finish(logger, job, start, Outcome{
				State:   StateFailed,
				Message: fmt.Sprintf("deploy supervisor panic: %v", r),
			})
		}
	}()

	s.markRunning(job.Target.Name)
	s.metrics.DeployStarted(job.Target.Name)

	result := s.run(ctx, logger, job)
	outcome = s.finish(logger, job, start, result)
	finished = true
	return outcome
}

func (s *Supervisor) run(ctx context.Context, logger *slog.Logger, job *Job) Outcome {
	script, argv, err := s.Command()
	if err != nil {
		return Outcome{State: StateFailed, Message: err.Error()}
	}
	if !fileutil.FileExists(script) {
		return Outcome{State: StateFailed, Message: fmt.Sprintf("deploy script not found: %s", script)}
	}

	logger.Info("deploy started",
		"reason", job.Reason,
		"environment", job.Profile.Name,
		"branch", job.Profile.Branch,
		"command", cmdutil.FormatCommand(argv),
		"timeout", job.Timeout.String())

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = target.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = filepath.Dir(script)
	cmd.Env = s.Environment(job)
	cmd.WaitDelay = KillGracePeriod
	configureProcess(cmd)

	secrets := []string{job.Target.Secret}
	stdout := newLineWriter(func(line string) {
		logger.Info("script output", "line", cmdutil.SanitizeLine(line, secrets))
	})
	stderr := newLineWriter(func(line string) {
		logger.Warn("script error output", "line", cmdutil.SanitizeLine(line, secrets))
	})
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err = cmd.Run()
	stdout.Flush()
	stderr.Flush()

	return outcomeFor(err, runCtx.Err(), ctx.Err(), timeout)
}

// outcomeFor interprets the result of cmd.Run. A clean exit wins over a
// deadline that expired after the script returned.
func outcomeFor(runErr, runCtxErr, parentErr error, timeout time.Duration) Outcome {
	if runErr == nil {
		code := 0
		return Outcome{State: StateSucceeded, ExitCode: &code, Message: "deploy succeeded"}
	}
	if errors.Is(runCtxErr, context.DeadlineExceeded) {
		return Outcome{State: StateTimedOut, Message: fmt.Sprintf("deploy script timed out after %s", timeout)}
	}
	if parentErr != nil {
		return Outcome{State: StateFailed, Message: fmt.Sprintf("deploy cancelled: %v", parentErr)}
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		code := exitErr.ExitCode()
		return Outcome{State: StateFailed, ExitCode: &code, Message: fmt.Sprintf("deploy script exited with code %d", code)}
	}
	return Outcome{State: StateFailed, Message: fmt.Sprintf("failed to run deploy script: %v", runErr)}
}

// finish stamps the outcome, writes the single terminal log line and
// publishes the outcome for status queries.
func (s *Supervisor) finish(logger *slog.Logger, job *Job, start time.Time, o Outcome) Outcome {
	o.JobID = job.ID
	o.Target = job.Target.Name
	o.Reason = job.Reason
	o.FinishedAt = time.Now()
	o.Duration = o.FinishedAt.Sub(start)
	o.Seconds = o.Duration.Seconds()

	attrs := []any{"state", string(o.State), "duration_ms", o.Duration.Milliseconds()}
	if o.ExitCode != nil {
		attrs = append(attrs, "exit_code", *o.ExitCode)
	}
	switch o.State {
	case StateSucceeded:
		logger.Info("deploy succeeded", attrs...)
	case StateTimedOut:
		logger.Error("deploy timed out", append(attrs, "error", o.Message)...)
	default:
		logger.Error("deploy failed", append(attrs, "error", o.Message)...)
	}

	s.mu.Lock()
	s.last[job.Target.Name] = o
	if s.running[job.Target.Name] > 0 {
		s.running[job.Target.Name]--
	}
	s.mu.Unlock()

	s.metrics.DeployFinished(job.Target.Name, string(o.State), o.Duration)
	return o
}

func (s *Supervisor) markRunning(targetName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[targetName]++
}

// Status reports whether a deploy for targetName is running and the last
// outcome recorded for it, if any.
func (s *Supervisor) Status(targetName string) (bool, *Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := s.running[targetName] > 0
	if o, ok := s.last[targetName]; ok {
		return running, &o
	}
	return running, nil
}
