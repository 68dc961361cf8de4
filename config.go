package lshkv

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/lshkv/bucket"
	"github.com/hupe1980/lshkv/distance"
	"github.com/hupe1980/lshkv/ingest"
	"github.com/hupe1980/lshkv/internal/manifest"
	"github.com/hupe1980/lshkv/tuner"
)

const (
	// DefaultPrefix is the key namespace used when Config.Prefix is empty.
	DefaultPrefix = "lsh"

	// DefaultThreshold is the similarity threshold used by DefaultConfig.
	DefaultThreshold = 0.7
)

// Config describes an index. Dimension, metric, threshold and banding
// parameters are fixed when the index is created and stored in its
// manifest; reopening with different values is a ConfigurationError.
type Config struct {
	Dimension           int     `yaml:"dimension"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	Metric              string  `yaml:"metric,omitempty"`

	// NumBands and RowsPerBand fix the banding explicitly. When unset they
	// are tuned from the bounds below or from the hyperplane budget.
	NumBands    int `yaml:"num_bands,omitempty"`
	RowsPerBand int `yaml:"rows_per_band,omitempty"`

	Hyperplanes      int     `yaml:"hyperplanes,omitempty"`
	MaxHyperplanes   int     `yaml:"max_hyperplanes,omitempty"`
	MinRecall        float64 `yaml:"min_recall,omitempty"`
	MaxFalsePositive float64 `yaml:"max_false_positive,omitempty"`
	Margin           float64 `yaml:"margin,omitempty"`

	// Seed makes the projection bank reproducible. Zero picks a random seed
	// when the index is created.
	Seed uint64 `yaml:"seed,omitempty"`

	// Prefix namespaces every key of the index. It must not contain ':'.
	Prefix    string `yaml:"prefix,omitempty"`
	BatchSize int    `yaml:"batch_size,omitempty"`

	// Compression of the stored manifest: none, lz4 or zstd.
	Compression string `yaml:"compression,omitempty"`
}

// DefaultConfig returns a config for vectors of the given dimension.
func DefaultConfig(dim int) Config {
	return Config{
		Dimension:           dim,
		SimilarityThreshold: DefaultThreshold,
		Metric:              distance.MetricCosine.String(),
		Hyperplanes:         tuner.DefaultHyperplanes,
		Prefix:              DefaultPrefix,
		BatchSize:           ingest.DefaultBatchSize,
		Compression:         manifest.CompressionZSTD.String(),
	}
}

// LoadConfig reads a YAML config file and fills in defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML.
func SaveConfig(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = DefaultThreshold
	}
	if c.Metric == "" {
		c.Metric = distance.MetricCosine.String()
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.BatchSize == 0 {
		c.BatchSize = ingest.DefaultBatchSize
	}
	if c.Compression == "" {
		c.Compression = manifest.CompressionZSTD.String()
	}
}

// Validate checks the config without touching any store.
func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return &ConfigurationError{Field: "dimension", Err: fmt.Errorf("%w: %d", ErrInvalidDimension, c.Dimension)}
	}
	if !(c.SimilarityThreshold > 0 && c.SimilarityThreshold < 1) {
		return &ConfigurationError{Field: "similarity_threshold", Err: fmt.Errorf("%w: got %v", tuner.ErrInvalidThreshold, c.SimilarityThreshold)}
	}
	if _, err := distance.ParseMetric(c.Metric); err != nil {
		return &ConfigurationError{Field: "metric", Err: err}
	}
	if err := bucket.ValidatePrefix(c.Prefix); err != nil {
		return &ConfigurationError{Field: "prefix", Err: err}
	}
	if c.BatchSize < 0 {
		return &ConfigurationError{Field: "batch_size", Err: fmt.Errorf("negative batch size %d", c.BatchSize)}
	}
	if _, err := manifest.ParseCompression(c.Compression); err != nil {
		return &ConfigurationError{Field: "compression", Err: err}
	}
	if c.NumBands > 0 && c.RowsPerBand > 0 {
		p := tuner.Params{NumBands: c.NumBands, RowsPerBand: c.RowsPerBand}
		if err := p.Validate(c.MaxHyperplanes); err != nil {
			return &ConfigurationError{Field: "num_bands", Err: err}
		}
	}
	return nil
}

func (c Config) targets() tuner.Targets {
	return tuner.Targets{
		Threshold:        c.SimilarityThreshold,
		NumBands:         c.NumBands,
		RowsPerBand:      c.RowsPerBand,
		MinRecall:        c.MinRecall,
		MaxFalsePositive: c.MaxFalsePositive,
		Margin:           c.Margin,
		Hyperplanes:      c.Hyperplanes,
		MaxHyperplanes:   c.MaxHyperplanes,
	}
}

// compatible reports whether c can open an index described by m.
// Settings left at zero take the stored value.
func (c Config) compatible(m *manifest.Manifest) error {
	mismatch := func(field string, want, got any) error {
		return &ConfigurationError{
			Field: field,
			Err:   fmt.Errorf("%w: stored %v, configured %v", ErrConfigMismatch, want, got),
		}
	}
	if c.Dimension != m.Dim {
		return mismatch("dimension", m.Dim, c.Dimension)
	}
	if c.Metric != m.Metric {
		return mismatch("metric", m.Metric, c.Metric)
	}
	if c.SimilarityThreshold != m.Threshold {
		return mismatch("similarity_threshold", m.Threshold, c.SimilarityThreshold)
	}
	if c.NumBands != 0 && c.NumBands != m.NumBands {
		return mismatch("num_bands", m.NumBands, c.NumBands)
	}
	if c.RowsPerBand != 0 && c.RowsPerBand != m.RowsPerBand {
		return mismatch("rows_per_band", m.RowsPerBand, c.RowsPerBand)
	}
	if c.Seed != 0 && c.Seed != m.Seed {
		return mismatch("seed", m.Seed, c.Seed)
	}
	return nil
}

// configFromManifest returns a config that opens the index m describes.
func configFromManifest(m *manifest.Manifest) Config {
	cfg := DefaultConfig(m.Dim)
	cfg.SimilarityThreshold = m.Threshold
	cfg.Metric = m.Metric
	cfg.NumBands = m.NumBands
	cfg.RowsPerBand = m.RowsPerBand
	cfg.MaxHyperplanes = m.MaxHyperplanes
	cfg.Seed = m.Seed
	cfg.Prefix = m.Prefix
	return cfg
}
