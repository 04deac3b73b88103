// Package envfile loads deployment environment files and echoes the
// recognized LLM configuration variables. The loaded variables are returned
// as an explicit mapping; the ambient process environment is never mutated.
package envfile

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/llmutils/llmutils/services"
)

// DefaultPath is the conventional environment file name in the invocation directory.
const DefaultPath = ".env"

// Var describes a recognized environment variable.
type Var struct {
	Name        string
	Description string
}

// Recognized is the fixed, ordered list of variables the echo operation
// reports. Echo output follows this order regardless of file order.
var Recognized = []Var{
	{Name: "LLM_PROVIDER", Description: "LLM provider name (azure, openai)"},
	{Name: "LLM_MODEL", Description: "model identifier passed to the provider"},
	{Name: "LLM_MAX_TOKEN", Description: "maximum number of completion tokens"},
	{Name: "AZURE_API_KEY", Description: "Azure OpenAI API key"},
	{Name: "AZURE_API_BASE", Description: "Azure OpenAI endpoint base URL"},
	{Name: "AZURE_API_VERSION", Description: "Azure OpenAI API version"},
	{Name: "OPENAI_API_KEY", Description: "OpenAI API key"},
}

// Load reads the environment file at path and returns its KEY=VALUE pairs.
// Blank lines and lines starting with # are skipped; a line without a key/value
// separator is a configuration error. Duplicate keys resolve last-write-wins.
// Nothing is returned (and nothing is exported anywhere) on a parse failure.
func Load(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, services.WrapConfiguration(
				fmt.Sprintf("environment file %q not found", path), err)
		}
		return nil, services.WrapConfiguration(
			fmt.Sprintf("environment file %q not readable", path), err)
	}

	env, err := godotenv.Read(path)
	if err != nil {
		return nil, services.WrapConfiguration(
			fmt.Sprintf("environment file %q is malformed", path), err)
	}
	return env, nil
}

// Echo writes one KEY=value line per recognized variable to w, in the fixed
// recognized order. Variables absent from env produce an empty value.
func Echo(w io.Writer, env map[string]string) error {
	for _, v := range Recognized {
		if _, err := fmt.Fprintf(w, "%s=%s\n", v.Name, env[v.Name]); err != nil {
			return fmt.Errorf("writing %s: %w", v.Name, err)
		}
	}
	return nil
}
