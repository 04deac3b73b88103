// Package config resolves tool configuration through a layered hierarchy:
// code defaults, then LLMUTILS_-prefixed environment variables, then an
// optional YAML file, then command-line flags. Later layers override earlier
// ones.
package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/llmutils/llmutils/services"
)

// EnvPrefix is the prefix for environment variable overrides
// (e.g. LLMUTILS_LLM_MODEL).
const EnvPrefix = "llmutils"

// Config holds the user-configurable options. Options carrying an explicit
// envconfig name also honor that name unprefixed, so the LLM_* variables from
// the environment file reach the config layer directly.
type Config struct {
	LLMProvider    string  `envconfig:"LLM_PROVIDER" default:"azure" yaml:"llm_provider" validate:"required"`
	LLMModel       string  `envconfig:"LLM_MODEL" default:"gpt-4o" yaml:"llm_model" validate:"required"`
	LLMMaxToken    int     `envconfig:"LLM_MAX_TOKEN" default:"1000" yaml:"llm_max_token" validate:"gt=0"`
	LLMTemperature float64 `envconfig:"LLM_TEMPERATURE" default:"0.1" yaml:"llm_temperature" validate:"gte=0,lte=2"`
	MaxAttempts    int     `envconfig:"MAX_ATTEMPTS" default:"5" yaml:"max_attempts" validate:"gt=0"`
	Debug          bool    `default:"false" yaml:"debug"`
	Verbose        bool    `default:"false" yaml:"verbose"`
	Log            string  `default:"log.yaml" yaml:"log"`
	InputPath      string  `envconfig:"INPUT_PATH" default:"input.json" yaml:"input_path"`
	OutputDir      string  `envconfig:"OUTPUT_DIR" default:"output_data" yaml:"output_dir"`
	Override       bool    `default:"false" yaml:"override"`
	NThreads       int     `default:"1" yaml:"nthreads" validate:"gt=0"`

	// Credentials come from the unprefixed ambient names and are never
	// overridable via YAML or flags.
	Credentials Credentials `ignored:"true" yaml:"-" validate:"-"`
}

// Credentials holds provider secrets and endpoints.
type Credentials struct {
	OpenAIAPIKey    string
	AzureAPIKey     string
	AzureAPIBase    string
	AzureAPIVersion string
}

// New creates a Config by applying defaults and then environment variables.
// A conventional .env file in the invocation directory is loaded best-effort
// first, matching how deployments source their local environment.
func New() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, services.WrapConfiguration("processing environment variables", err)
	}
	cfg.Credentials = loadCredentials()
	return cfg, nil
}

// loadCredentials reads provider secrets from the ambient environment.
func loadCredentials() Credentials {
	return Credentials{
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AzureAPIKey:     getEnv("AZURE_API_KEY", ""),
		AzureAPIBase:    getEnv("AZURE_API_BASE", ""),
		AzureAPIVersion: getEnv("AZURE_API_VERSION", "2024-02-01"),
	}
}

// ApplyYAML overlays values from a YAML file onto the config. Keys absent from
// the file keep their current values. Unknown keys are rejected.
func (c *Config) ApplyYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return services.WrapConfiguration(fmt.Sprintf("reading YAML config %q", path), err)
	}

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return services.WrapConfiguration(fmt.Sprintf("parsing YAML config %q", path), err)
	}
	return nil
}

// BindFlags registers one flag per user-configurable option on fs, with the
// config's current values as defaults. Parsing fs afterwards applies the
// command-line layer.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.LLMProvider, "llm_provider", c.LLMProvider, "LLM provider (azure, openai)")
	fs.StringVar(&c.LLMModel, "llm_model", c.LLMModel, "LLM model")
	fs.IntVar(&c.LLMMaxToken, "llm_max_token", c.LLMMaxToken, "maximum number of tokens")
	fs.Float64Var(&c.LLMTemperature, "llm_temperature", c.LLMTemperature, "LLM temperature")
	fs.IntVar(&c.MaxAttempts, "max_attempts", c.MaxAttempts, "maximum number of completion attempts")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "log LLM calls")
	fs.BoolVar(&c.Verbose, "verbose", c.Verbose, "verbose output")
	fs.StringVar(&c.Log, "log", c.Log, "log file")
	fs.StringVar(&c.InputPath, "input_path", c.InputPath, "input dataset file")
	fs.StringVar(&c.OutputDir, "output_dir", c.OutputDir, "output directory")
	fs.BoolVar(&c.Override, "override", c.Override, "override existing results in the output file")
	fs.IntVar(&c.NThreads, "nthreads", c.NThreads, "number of worker threads")
}

// Validate checks the configuration against its struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return services.WrapConfiguration("config validation failed", err)
	}
	return nil
}

// ToMap returns the user-configurable options keyed the way the YAML layer
// names them.
func (c *Config) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"llm_provider":    c.LLMProvider,
		"llm_model":       c.LLMModel,
		"llm_max_token":   c.LLMMaxToken,
		"llm_temperature": c.LLMTemperature,
		"max_attempts":    c.MaxAttempts,
		"debug":           c.Debug,
		"verbose":         c.Verbose,
		"log":             c.Log,
		"input_path":      c.InputPath,
		"output_dir":      c.OutputDir,
		"override":        c.Override,
		"nthreads":        c.NThreads,
	}
}

// PrettyString renders the resolved options as aligned key/value lines in a
// stable order.
func (c *Config) PrettyString() string {
	m := c.ToMap()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%-30s %v", k, m[k]))
	}
	return strings.Join(lines, "\n")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
