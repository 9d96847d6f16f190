package perchdb

import "perchdb/internal/base"

// Config carries the split thresholds: the byte-occupancy boundary that
// decides which partition receives each entry during a split. Explicit
// values rather than compiled-in constants so tests and tools can shape
// splits without re-deriving page geometry.
type Config struct {
	// InternalHalf is the half-capacity threshold for internal pages.
	InternalHalf int
	// LeafHalf is the half-capacity threshold for leaf pages.
	LeafHalf int
}

// DefaultConfig derives both thresholds from the page capacity.
func DefaultConfig() Config {
	return Config{
		InternalHalf: base.DataCapacity / 2,
		LeafHalf:     base.DataCapacity / 2,
	}
}

// Options configures index behavior.
type Options struct {
	poolSize int // Maximum number of cached page frames.
	config   Config
	logger   Logger
}

// DefaultOptions returns safe default configuration.
//
//goland:noinspection GoUnusedExportedFunction
func DefaultOptions() Options {
	return Options{
		poolSize: 1024,
		config:   DefaultConfig(),
		logger:   DiscardLogger{},
	}
}

// Option configures index options using the functional options pattern.
type Option func(*Options)

// WithPoolSize sets the maximum number of page frames kept in memory.
//
//goland:noinspection GoUnusedExportedFunction
func WithPoolSize(n int) Option {
	return func(opts *Options) {
		opts.poolSize = n
	}
}

// WithLogger routes index lifecycle and split events to l.
//
//goland:noinspection GoUnusedExportedFunction
func WithLogger(l Logger) Option {
	return func(opts *Options) {
		opts.logger = l
	}
}

// WithSplitThresholds overrides the per-page-kind half-capacity
// thresholds. Intended for tests and tools; both values must stay below
// the occupancy a split source page can reach.
//
//goland:noinspection GoUnusedExportedFunction
func WithSplitThresholds(internalHalf, leafHalf int) Option {
	return func(opts *Options) {
		opts.config = Config{InternalHalf: internalHalf, LeafHalf: leafHalf}
	}
}
