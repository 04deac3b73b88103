package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestRun_Dispatch(t *testing.T) {
	t.Run("no arguments", func(t *testing.T) {
		code, _, stderr := runCLI(t)
		assert.Equal(t, exitUsage, code)
		assert.Contains(t, stderr, "Usage:")
	})

	t.Run("unknown command", func(t *testing.T) {
		code, _, stderr := runCLI(t, "frobnicate")
		assert.Equal(t, exitUsage, code)
		assert.Contains(t, stderr, "unknown command")
	})

	t.Run("help", func(t *testing.T) {
		code, stdout, _ := runCLI(t, "help")
		assert.Equal(t, exitOK, code)
		assert.Contains(t, stdout, "echo-env")
		assert.Contains(t, stdout, "test-litellm")
	})
}

func TestEchoEnv(t *testing.T) {
	t.Run("prints recognized variables in order", func(t *testing.T) {
		path := writeEnvFile(t, "LLM_PROVIDER=openai\nOPENAI_API_KEY=sk-test\n")

		code, stdout, stderr := runCLI(t, "echo-env", "-env-file", path)
		require.Equal(t, exitOK, code, stderr)

		lines := strings.Split(strings.TrimRight(stdout, "\n"), "\n")
		assert.Equal(t, []string{
			"LLM_PROVIDER=openai",
			"LLM_MODEL=",
			"LLM_MAX_TOKEN=",
			"AZURE_API_KEY=",
			"AZURE_API_BASE=",
			"AZURE_API_VERSION=",
			"OPENAI_API_KEY=sk-test",
		}, lines)
	})

	t.Run("missing env file", func(t *testing.T) {
		code, stdout, stderr := runCLI(t, "echo-env", "-env-file", filepath.Join(t.TempDir(), "nope.env"))
		assert.Equal(t, exitError, code)
		assert.Empty(t, stdout)
		assert.Contains(t, stderr, "configuration")
	})

	t.Run("malformed env file produces no output", func(t *testing.T) {
		path := writeEnvFile(t, "LLM_PROVIDER=azure\nNOEQUALSSIGN\n")
		code, stdout, _ := runCLI(t, "echo-env", "-env-file", path)
		assert.Equal(t, exitError, code)
		assert.Empty(t, stdout)
	})

	t.Run("identical output across invocations", func(t *testing.T) {
		path := writeEnvFile(t, "LLM_MODEL=gpt-4o\n")
		_, first, _ := runCLI(t, "echo-env", "-env-file", path)
		_, second, _ := runCLI(t, "echo-env", "-env-file", path)
		assert.Equal(t, first, second)
	})
}

func TestTestLitellm(t *testing.T) {
	t.Run("propagates child exit code", func(t *testing.T) {
		env := writeEnvFile(t, "LLM_PROVIDER=azure\n")
		script := writeScript(t, "exit 3\n")

		code, _, stderr := runCLI(t, "test-litellm", "-env-file", env, script)
		assert.Equal(t, 3, code)
		assert.Contains(t, stderr, "status 3")
	})

	t.Run("child sees loaded environment", func(t *testing.T) {
		env := writeEnvFile(t, "LLM_MODEL=gpt-4o\n")
		script := writeScript(t, `[ "$LLM_MODEL" = "gpt-4o" ] || exit 9`+"\n")

		code, _, stderr := runCLI(t, "test-litellm", "-env-file", env, script)
		assert.Equal(t, exitOK, code, stderr)
	})

	t.Run("missing env file aborts before launch", func(t *testing.T) {
		script := writeScript(t, "exit 0\n")
		code, _, stderr := runCLI(t, "test-litellm",
			"-env-file", filepath.Join(t.TempDir(), "nope.env"), script)
		assert.Equal(t, exitError, code)
		assert.Contains(t, stderr, "configuration")
	})
}

func TestConfigCommand(t *testing.T) {
	t.Setenv("LLMUTILS_LLM_MODEL", "gpt-4-turbo")

	code, stdout, stderr := runCLI(t, "config")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "llm_model")
	assert.Contains(t, stdout, "gpt-4-turbo")

	t.Run("flag overrides env", func(t *testing.T) {
		code, stdout, _ := runCLI(t, "config", "-llm_model", "gpt-4o-mini")
		require.Equal(t, exitOK, code)
		assert.Contains(t, stdout, "gpt-4o-mini")
	})

	t.Run("invalid option rejected", func(t *testing.T) {
		code, _, stderr := runCLI(t, "config", "-nthreads", "0")
		assert.Equal(t, exitError, code)
		assert.Contains(t, stderr, "configuration")
	})
}

func TestComplete_NoCredentials(t *testing.T) {
	for _, key := range []string{"OPENAI_API_KEY", "AZURE_API_KEY"} {
		t.Setenv(key, "placeholder")
		os.Unsetenv(key)
	}

	code, _, stderr := runCLI(t, "complete", "-prompt", "hi")
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "no provider credentials configured")
}

func TestPeekFlag(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"separate value", []string{"-config", "a.yaml"}, "a.yaml"},
		{"equals form", []string{"-config=b.yaml"}, "b.yaml"},
		{"double dash", []string{"--config", "c.yaml"}, "c.yaml"},
		{"double dash equals", []string{"--config=d.yaml"}, "d.yaml"},
		{"absent", []string{"-llm_model", "gpt-4o"}, ""},
		{"dangling flag", []string{"-config"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, peekFlag(tt.args, "config"))
		})
	}
}
