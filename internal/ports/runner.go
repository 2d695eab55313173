package ports

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner is the exec boundary between adapters and the host.
// Adapters never shell out directly so tests can substitute a fake.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	// RunInput feeds stdin to the command (chpasswd and friends).
	RunInput(ctx context.Context, input string, name string, args ...string) ([]byte, error)
}

type ExecRunner struct{}

var _ CommandRunner = ExecRunner{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return runCmd(ctx, "", name, args...)
}

func (ExecRunner) RunInput(ctx context.Context, input string, name string, args ...string) ([]byte, error) {
	return runCmd(ctx, input, name, args...)
}

func runCmd(ctx context.Context, input, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return out.Bytes(), fmt.Errorf("run %s: %w", name, err)
		}
		return out.Bytes(), fmt.Errorf("run %s: %w: %s", name, err, msg)
	}

	return out.Bytes(), nil
}
