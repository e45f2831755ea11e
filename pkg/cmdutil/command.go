package cmdutil

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Redacted replaces secrets in sanitized output.
const Redacted = "***REDACTED***"

// ParseCommandString parses a shell-quoted command string into parts.
//
// Example:
//
//	"cmd /C" -> ["cmd", "/C"]
//	"bash -e" -> ["bash", "-e"]
func ParseCommandString(cmdStr string) ([]string, error) {
	parts, err := shellquote.Split(cmdStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command string: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command string")
	}
	return parts, nil
}

// BuildCommand appends a script path to an interpreter command line.
// An empty interpreter runs the script directly.
func BuildCommand(interpreter, script string) ([]string, error) {
	if script == "" {
		return nil, fmt.Errorf("empty script path")
	}
	if strings.TrimSpace(interpreter) == "" {
		return []string{script}, nil
	}
	parts, err := ParseCommandString(interpreter)
	if err != nil {
		return nil, err
	}
	return append(parts, script), nil
}

// FormatCommand formats command parts into a readable string for logging.
// Example: ["bash", "/srv/my deploy.sh"] -> "bash '/srv/my deploy.sh'"
func FormatCommand(cmdParts []string) string {
	if len(cmdParts) == 0 {
		return "<empty command>"
	}

	quoted := make([]string, len(cmdParts))
	for i, part := range cmdParts {
		if strings.ContainsAny(part, " \t\n\"'") {
			quoted[i] = shellquote.Join(part)
		} else {
			quoted[i] = part
		}
	}

	return strings.Join(quoted, " ")
}

// SanitizeLine removes secrets from a single line of command output.
func SanitizeLine(line string, secrets []string) string {
	for _, secret := range secrets {
		if secret != "" {
			line = strings.ReplaceAll(line, secret, Redacted)
		}
	}
	return line
}
