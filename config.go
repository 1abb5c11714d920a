package engram

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config tunes extraction, ranking and the worker pool. Zero values are
// replaced with defaults when the Memory is built, so a partially filled
// struct (or YAML file) is fine.
type Config struct {
	// Extraction.
	ExtractionThreshold int           `yaml:"extraction_threshold"`
	ExtractionWindow    int           `yaml:"extraction_window"`
	ExtractionModel     string        `yaml:"extraction_model"`
	DuplicateSimilarity float64       `yaml:"duplicate_similarity"`
	Workers             int           `yaml:"workers"`
	QueueSize           int           `yaml:"queue_size"`
	ExtractionTimeout   time.Duration `yaml:"extraction_timeout"`

	// Ranking.
	CandidatePoolSize int           `yaml:"candidate_pool_size"`
	ContextLimit      int           `yaml:"context_limit"`
	MinSimilarity     float64       `yaml:"min_similarity"`
	SimilarityWeight  float64       `yaml:"similarity_weight"`
	ConfidenceWeight  float64       `yaml:"confidence_weight"`
	RecencyWeight     float64       `yaml:"recency_weight"`
	RecencyHalfLife   time.Duration `yaml:"recency_half_life"`

	// Stats.
	RecentStatsWindow time.Duration `yaml:"recent_stats_window"`
}

func DefaultConfig() Config {
	return Config{
		ExtractionThreshold: 3,
		ExtractionWindow:    12,
		DuplicateSimilarity: 0.92,
		Workers:             4,
		QueueSize:           256,
		ExtractionTimeout:   60 * time.Second,
		CandidatePoolSize:   20,
		ContextLimit:        5,
		MinSimilarity:       0.25,
		SimilarityWeight:    0.6,
		ConfidenceWeight:    0.25,
		RecencyWeight:       0.15,
		RecencyHalfLife:     30 * 24 * time.Hour,
		RecentStatsWindow:   7 * 24 * time.Hour,
	}
}

// UnmarshalYAML accepts durations in time.ParseDuration notation ("48h",
// "90s") since yaml.v3 has no native time.Duration support.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type rawConfig struct {
		ExtractionThreshold *int     `yaml:"extraction_threshold"`
		ExtractionWindow    *int     `yaml:"extraction_window"`
		ExtractionModel     *string  `yaml:"extraction_model"`
		DuplicateSimilarity *float64 `yaml:"duplicate_similarity"`
		Workers             *int     `yaml:"workers"`
		QueueSize           *int     `yaml:"queue_size"`
		ExtractionTimeout   *string  `yaml:"extraction_timeout"`
		CandidatePoolSize   *int     `yaml:"candidate_pool_size"`
		ContextLimit        *int     `yaml:"context_limit"`
		MinSimilarity       *float64 `yaml:"min_similarity"`
		SimilarityWeight    *float64 `yaml:"similarity_weight"`
		ConfidenceWeight    *float64 `yaml:"confidence_weight"`
		RecencyWeight       *float64 `yaml:"recency_weight"`
		RecencyHalfLife     *string  `yaml:"recency_half_life"`
		RecentStatsWindow   *string  `yaml:"recent_stats_window"`
	}
	var raw rawConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}

	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setFloat := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setDuration := func(dst *time.Duration, src *string) error {
		if src == nil {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", *src, err)
		}
		*dst = d
		return nil
	}

	setInt(&c.ExtractionThreshold, raw.ExtractionThreshold)
	setInt(&c.ExtractionWindow, raw.ExtractionWindow)
	if raw.ExtractionModel != nil {
		c.ExtractionModel = *raw.ExtractionModel
	}
	setFloat(&c.DuplicateSimilarity, raw.DuplicateSimilarity)
	setInt(&c.Workers, raw.Workers)
	setInt(&c.QueueSize, raw.QueueSize)
	setInt(&c.CandidatePoolSize, raw.CandidatePoolSize)
	setInt(&c.ContextLimit, raw.ContextLimit)
	setFloat(&c.MinSimilarity, raw.MinSimilarity)
	setFloat(&c.SimilarityWeight, raw.SimilarityWeight)
	setFloat(&c.ConfidenceWeight, raw.ConfidenceWeight)
	setFloat(&c.RecencyWeight, raw.RecencyWeight)
	if err := setDuration(&c.ExtractionTimeout, raw.ExtractionTimeout); err != nil {
		return err
	}
	if err := setDuration(&c.RecencyHalfLife, raw.RecencyHalfLife); err != nil {
		return err
	}
	return setDuration(&c.RecentStatsWindow, raw.RecentStatsWindow)
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.sanitize()
	return cfg, nil
}

// sanitize replaces zero or out-of-range values with defaults and clamps
// weights into [0, 1].
func (c *Config) sanitize() {
	def := DefaultConfig()

	if c.ExtractionThreshold <= 0 {
		c.ExtractionThreshold = def.ExtractionThreshold
	}
	if c.ExtractionWindow <= 0 {
		c.ExtractionWindow = def.ExtractionWindow
	}
	if c.DuplicateSimilarity <= 0 || c.DuplicateSimilarity > 1 {
		c.DuplicateSimilarity = def.DuplicateSimilarity
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.ExtractionTimeout <= 0 {
		c.ExtractionTimeout = def.ExtractionTimeout
	}
	if c.CandidatePoolSize <= 0 {
		c.CandidatePoolSize = def.CandidatePoolSize
	}
	if c.ContextLimit <= 0 {
		c.ContextLimit = def.ContextLimit
	}
	// Zero means unset for the floats below; use a small positive value to
	// effectively disable a signal.
	if c.MinSimilarity <= 0 || c.MinSimilarity >= 1 {
		c.MinSimilarity = def.MinSimilarity
	}
	if c.SimilarityWeight <= 0 || c.SimilarityWeight > 1 {
		c.SimilarityWeight = def.SimilarityWeight
	}
	if c.ConfidenceWeight <= 0 || c.ConfidenceWeight > 1 {
		c.ConfidenceWeight = def.ConfidenceWeight
	}
	if c.RecencyWeight <= 0 || c.RecencyWeight > 1 {
		c.RecencyWeight = def.RecencyWeight
	}
	if c.RecencyHalfLife <= 0 {
		c.RecencyHalfLife = def.RecencyHalfLife
	}
	if c.RecentStatsWindow <= 0 {
		c.RecentStatsWindow = def.RecentStatsWindow
	}
	if c.CandidatePoolSize < c.ContextLimit {
		c.CandidatePoolSize = c.ContextLimit
	}
}
