// Package config holds prosearch configuration: model selection, research
// loop bounds, provider credentials, and the server/store surfaces.
// Values come from defaults, then an optional YAML file, then environment
// variables (highest precedence).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all prosearch configuration.
type Config struct {
	// Model routing
	Models ModelsConfig `yaml:"models"`

	// Research loop bounds
	Research ResearchConfig `yaml:"research"`

	// Gemini API access
	Gemini GeminiConfig `yaml:"gemini"`

	// Run history store
	Store StoreConfig `yaml:"store"`

	// HTTP API
	Server ServerConfig `yaml:"server"`
}

// ModelsConfig routes the three call types to model ids.
type ModelsConfig struct {
	QueryGenerator string `yaml:"query_generator"` // structured query generation
	Reasoning      string `yaml:"reasoning"`       // reflection
	Answer         string `yaml:"answer"`          // final answer synthesis
}

// ResearchConfig bounds the research loop.
type ResearchConfig struct {
	NumberOfInitialQueries int `yaml:"number_of_initial_queries"`
	MaxResearchLoops       int `yaml:"max_research_loops"`
}

// GeminiConfig configures the Gemini REST client.
type GeminiConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Timeout    string `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`
}

// StoreConfig configures run-history persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Models: ModelsConfig{
			QueryGenerator: "gemini-2.0-flash",
			Reasoning:      "gemini-2.5-flash-preview-04-17",
			Answer:         "gemini-2.5-pro-preview-05-06",
		},
		Research: ResearchConfig{
			NumberOfInitialQueries: 3,
			MaxResearchLoops:       2,
		},
		Gemini: GeminiConfig{
			BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
			Timeout:    "120s",
			MaxRetries: 3,
		},
		Store: StoreConfig{
			DatabasePath: "data/prosearch.db",
		},
		Server: ServerConfig{
			Addr: ":8123",
		},
	}
}

// Load loads configuration from a YAML file. A missing file is not an
// error: defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variables on top of loaded values.
func (c *Config) applyEnvOverrides() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString(&c.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&c.Models.QueryGenerator, "QUERY_GENERATOR_MODEL")
	setString(&c.Models.Reasoning, "REASONING_MODEL")
	setString(&c.Models.Answer, "ANSWER_MODEL")
	setInt(&c.Research.NumberOfInitialQueries, "NUMBER_OF_INITIAL_QUERIES")
	setInt(&c.Research.MaxResearchLoops, "MAX_RESEARCH_LOOPS")
	setString(&c.Store.DatabasePath, "PROSEARCH_DB")
	setString(&c.Server.Addr, "PROSEARCH_ADDR")
}

// Validate checks that the configuration can support a run. Called once at
// startup; a failure here is fatal before any research begins.
func (c *Config) Validate() error {
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("configuration: GEMINI_API_KEY is not set")
	}
	if c.Research.NumberOfInitialQueries < 1 {
		return fmt.Errorf("configuration: number_of_initial_queries must be >= 1, got %d", c.Research.NumberOfInitialQueries)
	}
	if c.Research.MaxResearchLoops < 1 {
		return fmt.Errorf("configuration: max_research_loops must be >= 1, got %d", c.Research.MaxResearchLoops)
	}
	if c.Models.QueryGenerator == "" || c.Models.Reasoning == "" || c.Models.Answer == "" {
		return fmt.Errorf("configuration: all three model ids must be set")
	}
	if _, err := c.GeminiTimeout(); err != nil {
		return fmt.Errorf("configuration: invalid gemini timeout: %w", err)
	}
	return nil
}

// GeminiTimeout parses the configured request timeout.
func (c *Config) GeminiTimeout() (time.Duration, error) {
	if c.Gemini.Timeout == "" {
		return 120 * time.Second, nil
	}
	return time.ParseDuration(c.Gemini.Timeout)
}
