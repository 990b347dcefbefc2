// Package runner executes local helper commands (archiving, preprocessing).
// It is the boundary to local process execution; everything above it only sees
// the Runner interface.
package runner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner runs a local command and fails on nonzero exit.
type Runner interface {
	// Run executes name with args, discarding output unless the command fails.
	Run(ctx context.Context, name string, args ...string) error
}

// Exec is the os/exec backed Runner.
type Exec struct {
	// Dir is the working directory for commands; empty means inherit.
	Dir string
}

func (e Exec) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", name, err, tail(out))
	}
	return nil
}

// tail keeps error messages bounded when a command dumps a lot of output.
func tail(out []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(out))
	if len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}
