package cli

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cardotrejos/x402"
)

// fileConfig is the YAML shape of --config files. Durations are integer
// milliseconds so plain YAML numbers work.
type fileConfig struct {
	BaseURL          string `yaml:"base_url"`
	MaxRetries       int    `yaml:"max_retries"`
	RetryBackoffMs   int    `yaml:"retry_backoff_ms"`
	ReceiveTimeoutMs int    `yaml:"receive_timeout_ms"`
	MaxConcurrent    int    `yaml:"max_concurrent"`
}

// LoadConfig reads a YAML client config. Unknown keys are rejected so a
// typoed field fails loudly instead of silently selecting a default.
func LoadConfig(path string) (*x402.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &x402.Config{
		BaseURL:        fc.BaseURL,
		MaxRetries:     fc.MaxRetries,
		RetryBackoff:   time.Duration(fc.RetryBackoffMs) * time.Millisecond,
		ReceiveTimeout: time.Duration(fc.ReceiveTimeoutMs) * time.Millisecond,
		MaxConcurrent:  fc.MaxConcurrent,
	}, nil
}
