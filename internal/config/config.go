// Package config loads runtime settings, the entity registry and the
// predicate vocabulary.
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrConfig indicates a missing or unparsable configuration resource.
var ErrConfig = errors.New("configuration error")

// Runtime holds settings read from the environment (and an optional .env).
type Runtime struct {
	StorePath  string `env:"SEKAI_MEMORY_STORE" envDefault:"memories.jsonl"`
	ResultsDir string `env:"SEKAI_MEMORY_RESULTS" envDefault:"eval/runs"`

	OpenAIKey     string `env:"OPENAI_API_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	Debug bool `env:"SEKAI_MEMORY_DEBUG" envDefault:"false"`
}

// LoadRuntime reads the runtime configuration. A .env file in the working
// directory is honored when present.
func LoadRuntime() (*Runtime, error) {
	_ = godotenv.Load()
	c := &Runtime{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("%w: parse environment: %v", ErrConfig, err)
	}
	return c, nil
}
