// Package smoketest launches the external LiteLLM smoke test script with the
// loaded environment and propagates its exit status.
package smoketest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"

	"go.uber.org/zap"

	"github.com/llmutils/llmutils/services"
)

// ExitCommandNotFound mirrors the shell convention for an unlocatable command.
const ExitCommandNotFound = 127

// DefaultCommand is the conventional smoke test invocation.
var DefaultCommand = []string{"python3", "litellm_utils.py"}

// Runner launches the smoke test subprocess.
type Runner struct {
	// Command is the argv to execute (DefaultCommand when empty).
	Command []string

	// Dir is the working directory for the child (inherited when empty).
	Dir string

	// Stdout and Stderr default to the process's own streams.
	Stdout io.Writer
	Stderr io.Writer

	Logger *zap.Logger
}

// Run executes the smoke test with extra KEY=VALUE pairs layered over the
// inherited environment. The ambient environment of this process is never
// mutated; the child receives the composed set directly. Returns the child's
// exit code; any non-zero exit also yields a subprocess error. Blocks until
// the child exits unless ctx is canceled.
func (r *Runner) Run(ctx context.Context, extra map[string]string) (int, error) {
	argv := r.Command
	if len(argv) == 0 {
		argv = DefaultCommand
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if _, err := exec.LookPath(argv[0]); err != nil {
		return ExitCommandNotFound, services.WrapSubprocess(
			fmt.Sprintf("smoke test command %q not found", argv[0]), err)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	cmd.Env = composeEnv(extra)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	logger.Info("running smoke test",
		zap.Strings("command", argv),
		zap.Int("env_overrides", len(extra)))

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		domainErr := services.NewDomainError(services.ErrorTypeSubprocess,
			fmt.Sprintf("smoke test exited with status %d", code), err).
			WithDetail("exit_code", code)
		return code, domainErr
	}

	return ExitCommandNotFound, services.WrapSubprocess("smoke test failed to start", err)
}

// composeEnv layers extra over the inherited environment. Extra entries are
// appended in sorted key order; os/exec resolves duplicates last-wins, so the
// overrides take effect without touching the parent's environment table.
func composeEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
