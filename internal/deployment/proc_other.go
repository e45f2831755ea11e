//go:build !unix

package deployment

import "os/exec"

// configureProcess keeps the default cancellation, which kills the direct
// child only.
func configureProcess(cmd *exec.Cmd) {}
