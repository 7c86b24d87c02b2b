package vektordb

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Config holds the full configuration of an index. Zero values are filled
// with defaults by Create/Open.
type Config struct {
	Dim    int
	Metric DistanceMetric

	// Normalize pre-normalizes stored vectors; only meaningful for cosine,
	// where distance then reduces to 1 - a.b. Recorded in the manifest.
	Normalize bool

	// HNSW hyperparameters
	M              int
	MMax0          int
	EfConstruction int
	EfSearch       int
	MaxLevels      int
	MaxElements    int // 0 = unbounded

	Metadata MetadataConfig

	// DeleteIfExists removes any prior index at the path before creating
	DeleteIfExists bool

	// LegacyBackend opens the JSON-document backend instead of the
	// LSM+mmap backend; accepted only below LegacyMaxItems.
	LegacyBackend  bool
	LegacyMaxItems int

	// CompactionThreshold is the tombstone ratio that makes commits
	// schedule a compaction when AutoCompact is set
	CompactionThreshold float64
	AutoCompact         bool

	// RetryCap bounds the filtered-query over-provisioning factor
	RetryCap int

	RandomSeed int64
	SyncWrites bool

	// Registry receives the index metrics; a private registry by default
	Registry prometheus.Registerer
}

func defaultConfig() *Config {
	return &Config{
		Metric:              Cosine,
		Normalize:           true,
		M:                   16,
		EfConstruction:      200,
		EfSearch:            200,
		MaxLevels:           16,
		Metadata:            MetadataConfig{Stored: true, MaxSizeBytes: 1 << 20, Dynamic: true},
		CompactionThreshold: 0.2,
		RetryCap:            64,
		SyncWrites:          true,
	}
}

func (c *Config) fill() {
	if c.MMax0 <= 0 {
		c.MMax0 = 2 * c.M
	}
	if c.Metric != Cosine {
		c.Normalize = false
	}
	if c.Metadata.MaxSizeBytes <= 0 {
		c.Metadata.MaxSizeBytes = 1 << 20
	}
	if c.RetryCap <= 0 {
		c.RetryCap = 64
	}
}

func (c *Config) validate() error {
	if c.Dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if c.Metric < Cosine || c.Metric > DotProduct {
		return fmt.Errorf("%w: unknown distance metric", ErrInvalidConfig)
	}
	if c.M <= 0 || c.EfConstruction <= 0 || c.EfSearch <= 0 {
		return fmt.Errorf("%w: HNSW parameters must be positive", ErrInvalidConfig)
	}
	if c.MaxLevels <= 0 || c.MaxLevels > 255 {
		return fmt.Errorf("%w: max levels must be in 1..255", ErrInvalidConfig)
	}
	if c.CompactionThreshold < 0 || c.CompactionThreshold >= 1 {
		return fmt.Errorf("%w: compaction threshold must be in [0,1)", ErrInvalidConfig)
	}
	return nil
}

// Option represents an index configuration option
type Option func(*Config) error

// WithDimension sets the vector dimensionality
func WithDimension(dim int) Option {
	return func(c *Config) error {
		if dim <= 0 {
			return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
		}
		c.Dim = dim
		return nil
	}
}

// WithMetric sets the distance metric
func WithMetric(metric DistanceMetric) Option {
	return func(c *Config) error {
		c.Metric = metric
		return nil
	}
}

// WithNormalize controls cosine pre-normalization at insert time
func WithNormalize(enabled bool) Option {
	return func(c *Config) error {
		c.Normalize = enabled
		return nil
	}
}

// WithHNSW configures the core HNSW parameters
func WithHNSW(m, efConstruction, efSearch int) Option {
	return func(c *Config) error {
		if m <= 0 || efConstruction <= 0 || efSearch <= 0 {
			return fmt.Errorf("%w: HNSW parameters must be positive", ErrInvalidConfig)
		}
		c.M = m
		c.EfConstruction = efConstruction
		c.EfSearch = efSearch
		return nil
	}
}

// WithMMax0 overrides the layer-0 neighbor cap (default 2M)
func WithMMax0(mMax0 int) Option {
	return func(c *Config) error {
		if mMax0 <= 0 {
			return fmt.Errorf("%w: MMax0 must be positive", ErrInvalidConfig)
		}
		c.MMax0 = mMax0
		return nil
	}
}

// WithMaxLevels caps the graph height
func WithMaxLevels(levels int) Option {
	return func(c *Config) error {
		c.MaxLevels = levels
		return nil
	}
}

// WithMaxElements bounds the number of live items
func WithMaxElements(n int) Option {
	return func(c *Config) error {
		c.MaxElements = n
		return nil
	}
}

// WithMetadataConfig sets indexed paths and the metadata size bound
func WithMetadataConfig(mc MetadataConfig) Option {
	return func(c *Config) error {
		c.Metadata = mc
		return nil
	}
}

// WithDeleteIfExists removes any prior index at the path on create
func WithDeleteIfExists(enabled bool) Option {
	return func(c *Config) error {
		c.DeleteIfExists = enabled
		return nil
	}
}

// WithLegacyBackend selects the JSON-document backend, with its size bound
func WithLegacyBackend(maxItems int) Option {
	return func(c *Config) error {
		c.LegacyBackend = true
		c.LegacyMaxItems = maxItems
		return nil
	}
}

// WithCompactionThreshold sets the tombstone ratio that triggers automatic
// compaction at commit boundaries
func WithCompactionThreshold(ratio float64) Option {
	return func(c *Config) error {
		c.CompactionThreshold = ratio
		c.AutoCompact = true
		return nil
	}
}

// WithRandomSeed makes level generation reproducible
func WithRandomSeed(seed int64) Option {
	return func(c *Config) error {
		c.RandomSeed = seed
		return nil
	}
}

// WithSyncWrites controls per-commit fsync of the KV store
func WithSyncWrites(enabled bool) Option {
	return func(c *Config) error {
		c.SyncWrites = enabled
		return nil
	}
}

// WithMetricsRegistry registers index metrics against reg instead of a
// private registry
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(c *Config) error {
		if reg == nil {
			return fmt.Errorf("%w: nil metrics registry", ErrInvalidConfig)
		}
		c.Registry = reg
		return nil
	}
}
