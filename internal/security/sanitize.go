package security

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// Safe patterns for validation
	httpsRemotePattern = regexp.MustCompile(`^https://(github\.com|gitee\.com)/[a-zA-Z0-9_.-]+/[a-zA-Z0-9_.-]+(?:\.git)?$`)
	scpRemotePattern   = regexp.MustCompile(`^git@(github\.com|gitee\.com):[a-zA-Z0-9_.-]+/[a-zA-Z0-9_.-]+(?:\.git)?$`)
	branchPattern      = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
	targetPattern      = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// AllowedRemoteHosts lists the source-control hosts a target may pull from.
var AllowedRemoteHosts = []string{"github.com", "gitee.com"}

// ValidateRemoteURL ensures a target's remote is a GitHub or Gitee
// repository reachable over HTTPS or SSH (scp-style). The value is handed
// to the deploy script unchanged, so anything else is rejected.
func ValidateRemoteURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("remote URL cannot be empty")
	}

	if strings.HasPrefix(rawURL, "git@") {
		if !scpRemotePattern.MatchString(rawURL) {
			return fmt.Errorf("SSH remote must look like git@<host>:<owner>/<repo>.git with host in %v", AllowedRemoteHosts)
		}
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("only HTTPS or git@ SSH remotes allowed, got scheme %q", u.Scheme)
	}
	if !httpsRemotePattern.MatchString(rawURL) {
		return fmt.Errorf("remote %s is not a repository on %v", rawURL, AllowedRemoteHosts)
	}

	return nil
}

// ValidateBranchName ensures branch name is safe for git operations.
// Prevents command injection through branch names.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters")
	}
	return nil
}

// ValidateTargetName ensures a deploy target name is safe for use in
// routes, metric labels and process-manager names.
func ValidateTargetName(name string) error {
	if name == "" {
		return fmt.Errorf("target name cannot be empty")
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("target name cannot start with '-' or '.'")
	}
	if !targetPattern.MatchString(name) {
		return fmt.Errorf("target name contains invalid characters (only a-z, A-Z, 0-9, _, - allowed)")
	}
	return nil
}

// ReservedRoutes are served by the receiver itself and cannot be used as
// webhook routes.
var ReservedRoutes = []string{"/health", "/metrics", "/status"}

// ValidateRoutePath ensures a webhook route is an absolute, plain URL path.
func ValidateRoutePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("route path must start with '/', got %q", path)
	}
	if strings.ContainsAny(path, "{}*?#") || strings.Contains(path, "..") {
		return fmt.Errorf("route path %q contains pattern or traversal characters", path)
	}
	if path == "/" {
		return fmt.Errorf("route path cannot be '/'")
	}
	for _, reserved := range ReservedRoutes {
		if path == reserved || strings.HasPrefix(path, reserved+"/") {
			return fmt.Errorf("route path %q is reserved", path)
		}
	}
	return nil
}
