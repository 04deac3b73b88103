package smoketest

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/llmutils/llmutils/services"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestRun_Success(t *testing.T) {
	script := writeScript(t, "exit 0\n")
	r := &Runner{Command: []string{script}, Logger: zaptest.NewLogger(t)}

	code, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestRun_PropagatesExitCode(t *testing.T) {
	script := writeScript(t, "exit 3\n")
	r := &Runner{Command: []string{script}, Logger: zaptest.NewLogger(t)}

	code, err := r.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 3, code)
	assert.True(t, services.IsSubprocessError(err))
	assert.Equal(t, 3, services.GetErrorDetails(err)["exit_code"])
}

func TestRun_ChildSeesComposedEnv(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "placeholder")
	os.Unsetenv("LLM_PROVIDER")

	script := writeScript(t, `printf '%s' "$LLM_PROVIDER"`+"\n")

	var out bytes.Buffer
	r := &Runner{
		Command: []string{script},
		Stdout:  &out,
		Logger:  zaptest.NewLogger(t),
	}

	code, err := r.Run(context.Background(), map[string]string{"LLM_PROVIDER": "azure"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "azure", out.String())

	// the parent process environment stays untouched
	_, set := os.LookupEnv("LLM_PROVIDER")
	assert.False(t, set)
}

func TestRun_OverridesInheritedVariable(t *testing.T) {
	t.Setenv("LLM_MODEL", "inherited")
	script := writeScript(t, `printf '%s' "$LLM_MODEL"`+"\n")

	var out bytes.Buffer
	r := &Runner{Command: []string{script}, Stdout: &out, Logger: zaptest.NewLogger(t)}

	_, err := r.Run(context.Background(), map[string]string{"LLM_MODEL": "from-file"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", out.String())
	assert.Equal(t, "inherited", os.Getenv("LLM_MODEL"))
}

func TestRun_CommandNotFound(t *testing.T) {
	r := &Runner{
		Command: []string{"definitely-not-a-real-command-42"},
		Logger:  zaptest.NewLogger(t),
	}

	code, err := r.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, ExitCommandNotFound, code)
	assert.True(t, services.IsSubprocessError(err))
}

func TestRun_CanceledContext(t *testing.T) {
	script := writeScript(t, "sleep 10\n")
	r := &Runner{Command: []string{script}, Logger: zaptest.NewLogger(t)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, nil)
	assert.Error(t, err)
}

func TestComposeEnv_SortedAndAppended(t *testing.T) {
	env := composeEnv(map[string]string{"B_KEY": "2", "A_KEY": "1"})
	require.GreaterOrEqual(t, len(env), 2)
	assert.Equal(t, "A_KEY=1", env[len(env)-2])
	assert.Equal(t, "B_KEY=2", env[len(env)-1])
}
