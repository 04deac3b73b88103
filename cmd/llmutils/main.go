// Command llmutils is a developer convenience around LLM environment
// configuration: it echoes the recognized environment variables, runs the
// LiteLLM smoke test script, and drives completions one-off or in batch.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/llmutils/llmutils/config"
	"github.com/llmutils/llmutils/envfile"
	"github.com/llmutils/llmutils/internal/jsonl"
	"github.com/llmutils/llmutils/internal/observability"
	"github.com/llmutils/llmutils/services"
	"github.com/llmutils/llmutils/services/batch"
	"github.com/llmutils/llmutils/services/completion"
	"github.com/llmutils/llmutils/services/providers"
	"github.com/llmutils/llmutils/services/providers/azure"
	"github.com/llmutils/llmutils/services/providers/openai"
	"github.com/llmutils/llmutils/services/smoketest"
)

// smokePrompt is the canonical smoke test completion request.
const smokePrompt = "Write a short story about a cat."

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "echo-env":
		return runEchoEnv(rest, stdout, stderr)
	case "test-litellm":
		return runSmokeTest(rest, stdout, stderr)
	case "config":
		return runConfig(rest, stdout, stderr)
	case "complete":
		return runComplete(rest, stdout, stderr)
	case "batch":
		return runBatch(rest, stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		usage(stderr)
		return exitUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Usage: llmutils <command> [flags]

Commands:
  echo-env      load the environment file and print the recognized variables
  test-litellm  load the environment file and run the LiteLLM smoke test script
  config        print the resolved configuration
  complete      run a single completion against the configured provider
  batch         run completions over a JSONL dataset, resuming prior output
  help          show this message
`)
}

// runEchoEnv loads the environment file and prints the recognized variables
// in their fixed order.
func runEchoEnv(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("echo-env", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envPath := fs.String("env-file", envfile.DefaultPath, "environment file to load")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	env, err := envfile.Load(*envPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	if err := envfile.Echo(stdout, env); err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	return exitOK
}

// runSmokeTest loads the environment file and hands it to the external
// script's subprocess. The script's exit code becomes ours.
func runSmokeTest(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("test-litellm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envPath := fs.String("env-file", envfile.DefaultPath, "environment file to load")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	env, err := envfile.Load(*envPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	logger, err := observability.NewLogger(false, false)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	defer logger.Sync()

	runner := &smoketest.Runner{
		Command: fs.Args(), // optional override of the script argv
		Stdout:  stdout,
		Stderr:  stderr,
		Logger:  logger,
	}

	code, err := runner.Run(context.Background(), env)
	if err != nil {
		fmt.Fprintln(stderr, err)
	}
	return code
}

// runConfig resolves the layered configuration and prints it.
func runConfig(args []string, stdout, stderr io.Writer) int {
	cfg, code := resolveConfig("config", args, nil, stderr)
	if cfg == nil {
		return code
	}
	fmt.Fprintf(stdout, "Starting run with the following parameters:\n%s\n", cfg.PrettyString())
	return exitOK
}

// runComplete performs a single completion using the configured provider.
func runComplete(args []string, stdout, stderr io.Writer) int {
	var prompt, system string
	cfg, code := resolveConfig("complete", args, func(fs *flag.FlagSet) {
		fs.StringVar(&prompt, "prompt", smokePrompt, "user prompt")
		fs.StringVar(&system, "system", "", "optional system prompt")
	}, stderr)
	if cfg == nil {
		return code
	}

	logger, err := observability.NewLogger(cfg.Debug, cfg.Verbose)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	defer logger.Sync()

	svc, err := newCompletionService(cfg, logger)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	resp, err := svc.Complete(context.Background(), &completion.Request{
		Provider:     cfg.LLMProvider,
		Model:        cfg.LLMModel,
		MaxTokens:    cfg.LLMMaxToken,
		Temperature:  cfg.LLMTemperature,
		UserPrompt:   prompt,
		SystemPrompt: system,
		Identifier:   "smoke-test",
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	fmt.Fprintln(stdout, resp.Text())
	return exitOK
}

// runBatch runs completions over a dataset, resuming from prior output.
func runBatch(args []string, stdout, stderr io.Writer) int {
	var idKey string
	cfg, code := resolveConfig("batch", args, func(fs *flag.FlagSet) {
		fs.StringVar(&idKey, "id_key", batch.DefaultIDKey, "dataset field identifying an item")
	}, stderr)
	if cfg == nil {
		return code
	}

	logger, err := observability.NewLogger(cfg.Debug, cfg.Verbose)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	defer logger.Sync()

	dataset, err := loadDataset(cfg.InputPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		fmt.Fprintf(stderr, "creating output dir: %v\n", err)
		return exitError
	}
	outputPath := filepath.Join(cfg.OutputDir, "results.jsonl")
	if cfg.Override {
		if err := os.Remove(outputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stderr, "removing previous results: %v\n", err)
			return exitError
		}
	}

	svc, err := newCompletionService(cfg, logger)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	runner := &batch.Runner{
		Workers: cfg.NThreads,
		IDKey:   idKey,
		Logger:  logger,
	}

	summary, err := runner.Run(context.Background(), dataset, completionPipeline(cfg, svc, idKey), outputPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	fmt.Fprintf(stdout, "batch complete: %d processed, %d skipped, %d failed (results in %s)\n",
		summary.Processed, summary.Skipped, summary.Failed, outputPath)
	if summary.Failed > 0 {
		return exitError
	}
	return exitOK
}

// resolveConfig builds the layered config for a subcommand: defaults, env,
// optional YAML file, then flags. extraFlags registers subcommand-specific
// flags on the same set. Returns nil and an exit code on failure.
func resolveConfig(name string, args []string, extraFlags func(*flag.FlagSet), stderr io.Writer) (*config.Config, int) {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return nil, exitError
	}

	// The YAML path has to be known before the main flag layer is applied,
	// so it gets its own scan of the argument list.
	yamlPath := peekFlag(args, "config")
	if yamlPath != "" {
		if err := cfg.ApplyYAML(yamlPath); err != nil {
			fmt.Fprintln(stderr, err)
			return nil, exitError
		}
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.String("config", "", "YAML config file")
	cfg.BindFlags(fs)
	if extraFlags != nil {
		extraFlags(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, exitUsage
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return nil, exitError
	}
	return cfg, exitOK
}

// peekFlag extracts a single string flag value from raw args without
// consuming them.
func peekFlag(args []string, name string) string {
	dash, dashEq := "-"+name, "-"+name+"="
	ddash, ddashEq := "--"+name, "--"+name+"="
	for i, arg := range args {
		switch {
		case arg == dash || arg == ddash:
			if i+1 < len(args) {
				return args[i+1]
			}
		case len(arg) > len(dashEq) && arg[:len(dashEq)] == dashEq:
			return arg[len(dashEq):]
		case len(arg) > len(ddashEq) && arg[:len(ddashEq)] == ddashEq:
			return arg[len(ddashEq):]
		}
	}
	return ""
}

// newCompletionService wires the provider registry from credentials.
func newCompletionService(cfg *config.Config, logger *zap.Logger) (*completion.Service, error) {
	registry := providers.NewRegistry()

	if cfg.Credentials.AzureAPIKey != "" {
		adapter := azure.New(providers.ProviderConfig{
			APIKey:     cfg.Credentials.AzureAPIKey,
			BaseURL:    cfg.Credentials.AzureAPIBase,
			APIVersion: cfg.Credentials.AzureAPIVersion,
		})
		if err := registry.RegisterProvider(adapter); err != nil {
			return nil, err
		}
	}
	if cfg.Credentials.OpenAIAPIKey != "" {
		adapter := openai.New(providers.ProviderConfig{
			APIKey: cfg.Credentials.OpenAIAPIKey,
		})
		if err := registry.RegisterProvider(adapter); err != nil {
			return nil, err
		}
	}

	if len(registry.ListProviders()) == 0 {
		return nil, services.NewDomainError(services.ErrorTypeConfiguration,
			"no provider credentials configured: set AZURE_API_KEY or OPENAI_API_KEY", nil)
	}

	return completion.NewService(registry, logger, cfg.MaxAttempts), nil
}

// completionPipeline maps a dataset item with a "prompt" field through the
// completion service.
func completionPipeline(cfg *config.Config, svc *completion.Service, idKey string) batch.Pipeline {
	return batch.Pipeline{
		Assemble: func(item batch.Item) (interface{}, error) {
			prompt, ok := item["prompt"].(string)
			if !ok || prompt == "" {
				return nil, fmt.Errorf("item has no prompt field")
			}
			return prompt, nil
		},
		Invoke: func(ctx context.Context, input interface{}) (interface{}, error) {
			return svc.Complete(ctx, &completion.Request{
				Provider:    cfg.LLMProvider,
				Model:       cfg.LLMModel,
				MaxTokens:   cfg.LLMMaxToken,
				Temperature: cfg.LLMTemperature,
				UserPrompt:  input.(string),
			})
		},
		Process: func(item batch.Item, input, result interface{}) (batch.Item, error) {
			resp := result.(*providers.ChatResponse)
			return batch.Item{
				idKey:          item[idKey],
				"prompt":       input,
				"completion":   resp.Text(),
				"model":        resp.Model,
				"provider":     resp.Provider,
				"total_tokens": resp.Usage.TotalTokens,
			}, nil
		},
	}
}

// loadDataset accepts either a JSONL file or a JSON array file.
func loadDataset(path string) ([]batch.Item, error) {
	if filepath.Ext(path) == ".jsonl" {
		return jsonl.Read(path)
	}
	return jsonl.ReadJSON(path)
}
