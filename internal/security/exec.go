package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// AllowedInterpreters is the set of programs a deploy script may be run
// through. An empty interpreter means the script is executed directly.
var AllowedInterpreters = map[string]bool{
	"bash":           true,
	"sh":             true,
	"zsh":            true,
	"cmd":            true,
	"cmd.exe":        true,
	"powershell":     true,
	"powershell.exe": true,
	"pwsh":           true,
}

// ValidateInterpreter checks an interpreter command line, already split into
// parts, before it is used to launch deploy scripts.
func ValidateInterpreter(parts []string) error {
	if len(parts) == 0 {
		return nil
	}

	base := strings.ToLower(filepath.Base(strings.ReplaceAll(parts[0], `\`, "/")))
	if !AllowedInterpreters[base] {
		return fmt.Errorf("interpreter not allowed: %s", parts[0])
	}

	for i, arg := range parts[1:] {
		if containsShellMetachars(arg) {
			return fmt.Errorf("interpreter argument %d contains shell metacharacters: %s", i+1, arg)
		}
	}

	return nil
}

// containsShellMetachars checks if a string contains shell metacharacters.
// These characters can be used for command injection attacks.
func containsShellMetachars(s string) bool {
	dangerous := []string{
		";",  // Command separator
		"|",  // Pipe
		"&",  // Background/AND
		"$",  // Variable expansion
		"`",  // Command substitution
		"\n", // Newline (command separator)
		">",  // Redirect output
		"<",  // Redirect input
		"(",  // Subshell start
		")",  // Subshell end
		"*",  // Glob wildcard
		"?",  // Glob single char
		"'",
		"\"",
	}

	for _, char := range dangerous {
		if strings.Contains(s, char) {
			return true
		}
	}

	return false
}
