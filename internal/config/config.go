// Package config provides configuration loading for duri.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the duri daemon.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Storage     StorageConfig     `koanf:"storage"`
	Semantic    SemanticConfig    `koanf:"semantic"`
	Session     SessionConfig     `koanf:"session"`
	Consolidate ConsolidateConfig `koanf:"consolidate"`
	Judgment    JudgmentConfig    `koanf:"judgment"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Path is the SQLite database file. "~" is expanded.
	Path string `koanf:"path"`

	// MaxTraces bounds the trace store. Oldest archived traces are
	// evicted first once the bound is exceeded. 0 means unbounded.
	MaxTraces int `koanf:"max_traces"`
}

// SemanticConfig holds vector index settings.
type SemanticConfig struct {
	// Path is the chromem-go persistence directory. "~" is expanded.
	Path string `koanf:"path"`

	// VectorSize is the hashed TF-IDF dimension.
	VectorSize int `koanf:"vector_size"`

	// DefaultLimit is the default number of search results.
	DefaultLimit int `koanf:"default_limit"`

	// MinSimilarity filters results below this cosine score.
	MinSimilarity float64 `koanf:"min_similarity"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	MaxSessions int      `koanf:"max_sessions"`
	IdleTimeout Duration `koanf:"idle_timeout"`
}

// ConsolidateConfig holds background consolidation settings.
type ConsolidateConfig struct {
	Enabled             bool     `koanf:"enabled"`
	Interval            Duration `koanf:"interval"`
	SimilarityThreshold float64  `koanf:"similarity_threshold"`
	MaxClustersPerRun   int      `koanf:"max_clusters_per_run"`
}

// JudgmentConfig holds the declarative decision rules.
type JudgmentConfig struct {
	Rules []RuleConfig `koanf:"rules"`
}

// RuleConfig declares a single CEL decision rule.
type RuleConfig struct {
	// Name identifies the rule in verdicts and logs.
	Name string `koanf:"name"`

	// Severity weights the rule when aggregating a verdict score.
	// One of: low, medium, high, critical.
	Severity string `koanf:"severity"`

	// Expr is a CEL expression over the decision context.
	Expr string `koanf:"expr"`

	// Action taken when the rule fires: deny or review.
	Action string `koanf:"action"`
}

// applyDefaults fills zero values with defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9120
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "~/.config/duri/duri.db"
	}
	if cfg.Storage.MaxTraces == 0 {
		cfg.Storage.MaxTraces = 50000
	}
	if cfg.Semantic.Path == "" {
		cfg.Semantic.Path = "~/.config/duri/index"
	}
	if cfg.Semantic.VectorSize == 0 {
		cfg.Semantic.VectorSize = 512
	}
	if cfg.Semantic.DefaultLimit == 0 {
		cfg.Semantic.DefaultLimit = 10
	}
	if cfg.Semantic.MinSimilarity == 0 {
		cfg.Semantic.MinSimilarity = 0.1
	}
	if cfg.Session.MaxSessions == 0 {
		cfg.Session.MaxSessions = 256
	}
	if cfg.Session.IdleTimeout == 0 {
		cfg.Session.IdleTimeout = Duration(2 * time.Hour)
	}
	if cfg.Consolidate.Interval == 0 {
		cfg.Consolidate.Interval = Duration(24 * time.Hour)
	}
	if cfg.Consolidate.SimilarityThreshold == 0 {
		cfg.Consolidate.SimilarityThreshold = 0.85
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Storage.MaxTraces < 0 {
		return fmt.Errorf("storage max_traces cannot be negative")
	}
	if c.Semantic.VectorSize < 16 {
		return fmt.Errorf("semantic vector_size must be >= 16, got %d", c.Semantic.VectorSize)
	}
	if c.Semantic.MinSimilarity < 0 || c.Semantic.MinSimilarity > 1 {
		return fmt.Errorf("semantic min_similarity must be in [0,1], got %f", c.Semantic.MinSimilarity)
	}
	if c.Session.MaxSessions < 1 {
		return fmt.Errorf("session max_sessions must be >= 1, got %d", c.Session.MaxSessions)
	}
	if c.Session.IdleTimeout.Duration() <= 0 {
		return fmt.Errorf("session idle_timeout must be > 0")
	}
	if c.Consolidate.Interval.Duration() <= 0 {
		return fmt.Errorf("consolidate interval must be > 0")
	}
	if t := c.Consolidate.SimilarityThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("consolidate similarity_threshold must be in (0,1], got %f", t)
	}
	if c.Consolidate.MaxClustersPerRun < 0 {
		return fmt.Errorf("consolidate max_clusters_per_run cannot be negative")
	}
	for i, r := range c.Judgment.Rules {
		if r.Name == "" {
			return fmt.Errorf("judgment rule %d: name cannot be empty", i)
		}
		if r.Expr == "" {
			return fmt.Errorf("judgment rule %q: expr cannot be empty", r.Name)
		}
		switch r.Severity {
		case "low", "medium", "high", "critical":
		default:
			return fmt.Errorf("judgment rule %q: severity must be low|medium|high|critical, got %q", r.Name, r.Severity)
		}
		switch r.Action {
		case "deny", "review":
		default:
			return fmt.Errorf("judgment rule %q: action must be deny|review, got %q", r.Name, r.Action)
		}
	}
	return nil
}
