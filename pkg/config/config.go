// Package config provides configuration loading and defaults for coagent
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML either as a Go
// duration string ("90s", "2m") or as a bare number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var secs float64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration: %s", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// AgentConfig holds all configurable agent parameters
type AgentConfig struct {
	Provider string `yaml:"provider"` // "openai" or "google"
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`

	SessionKey string `yaml:"session_key"`

	Workspace string `yaml:"workspace"`
	DBPath    string `yaml:"db_path"`
	KVDir     string `yaml:"kv_dir"`
	BackupDir string `yaml:"backup_dir"`

	// Planner/executor
	Workers int `yaml:"workers"` // max concurrent tool calls per batch (0: batch size)

	// Context management
	ContextTokens       int     `yaml:"context_tokens"`
	ReserveTokens       int     `yaml:"reserve_tokens"`
	CompactionThreshold float64 `yaml:"compaction_threshold"`
	KeepMessages        int     `yaml:"keep_messages"`

	Temperature float64  `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	HTTPTimeout Duration `yaml:"http_timeout"`

	// Tool depth: how many provider round-trips one user turn may trigger
	MaxToolDepth int `yaml:"max_tool_depth"`

	// Memory recall
	RecallLimit    int     `yaml:"recall_limit"`
	RecallMinScore float64 `yaml:"recall_min_score"`

	// Embeddings
	EmbeddingModel  string `yaml:"embedding_model"`
	EmbeddingServer string `yaml:"embedding_server"`

	// Backups
	BackupInterval Duration `yaml:"backup_interval"`
}

// Default returns the default agent configuration
func Default() *AgentConfig {
	return &AgentConfig{
		Provider:            "openai",
		SessionKey:          "main",
		Workspace:           DefaultWorkspaceDir(),
		DBPath:              DefaultDBPath(),
		KVDir:               DefaultKVDir(),
		BackupDir:           DefaultBackupDir(),
		Workers:             0,
		ContextTokens:       DefaultContextTokens,
		ReserveTokens:       DefaultReserveTokens,
		CompactionThreshold: 0.7,
		KeepMessages:        30,
		Temperature:         0.7,
		MaxTokens:           1000,
		HTTPTimeout:         Duration(120 * time.Second),
		MaxToolDepth:        4,
		RecallLimit:         3,
		RecallMinScore:      0.3,
		EmbeddingModel:      "text-embedding-3-small",
		BackupInterval:      0, // disabled unless configured
	}
}

// Load reads configuration from a YAML file, then applies environment
// overrides. A missing file is not an error: defaults + env apply.
func Load(path string) (*AgentConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *AgentConfig) {
	if v := os.Getenv("COAGENT_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("COAGENT_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.APIKey == "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("COAGENT_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("COAGENT_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("COAGENT_WORKSPACE"); v != "" {
		cfg.Workspace = v
	}
	if v := os.Getenv("COAGENT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
}

// Validate checks configuration invariants
func (c *AgentConfig) Validate() error {
	switch c.Provider {
	case "openai", "google":
		// ok
	default:
		return fmt.Errorf("unknown provider: %s", c.Provider)
	}
	if c.CompactionThreshold < 0 || c.CompactionThreshold > 1 {
		return fmt.Errorf("compaction_threshold must be in [0,1], got %v", c.CompactionThreshold)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	return nil
}
