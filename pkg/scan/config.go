package scan

import (
	"encoding/binary"
	"errors"
	"runtime"
	"time"

	"github.com/memscan/memscan/pkg/logflags"
	"github.com/memscan/memscan/pkg/metrics"
)

const (
	DefaultChunkSize       = 64 * 1024
	DefaultCoalesceWindow  = 4 * 1024
	DefaultRefineBatch     = 4096
	DefaultRetries         = 3
	DefaultRefineRetries   = 0
	DefaultRetryBackoff    = 10 * time.Millisecond
	DefaultMaxRetryBackoff = 500 * time.Millisecond
	DefaultReadTimeout     = 2 * time.Second
)

// Config holds the tunables of a Scanner.
type Config struct {
	// ChunkSize is the size of the reads issued by a full scan.
	ChunkSize int
	// CoalesceWindow is the largest range read a refine issues to read
	// neighboring candidates at once. Zero makes every read a point read.
	CoalesceWindow int
	// RefineBatch is the number of candidates processed by one unit of
	// work of a refine.
	RefineBatch int
	// Workers is the number of concurrent reads.
	Workers int

	// Retries is the number of times a read failing with a transient
	// error is retried.
	Retries int
	// RefineRetries is the number of times the read of a candidate failing
	// with a transient error is retried during a refine. By default the
	// candidate is dropped on the first failure.
	RefineRetries   int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	// ReadTimeout bounds each single read, zero disables it.
	ReadTimeout time.Duration

	// Unaligned scans every byte offset instead of the natural alignment
	// of the scan type.
	Unaligned bool
	// ByteOrder of the values in the target memory.
	ByteOrder binary.ByteOrder
	// RevalidateRegions makes every refine capture a new region catalog
	// and drop candidates that are no longer mapped.
	RevalidateRegions bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:         DefaultChunkSize,
		CoalesceWindow:    DefaultCoalesceWindow,
		RefineBatch:       DefaultRefineBatch,
		Workers:           runtime.GOMAXPROCS(0),
		Retries:           DefaultRetries,
		RefineRetries:     DefaultRefineRetries,
		RetryBackoff:      DefaultRetryBackoff,
		MaxRetryBackoff:   DefaultMaxRetryBackoff,
		ReadTimeout:       DefaultReadTimeout,
		ByteOrder:         binary.LittleEndian,
		RevalidateRegions: true,
	}
}

// normalize replaces unset fields with their defaults.
func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.CoalesceWindow < 0 {
		c.CoalesceWindow = 0
	}
	if c.RefineBatch <= 0 {
		c.RefineBatch = def.RefineBatch
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RefineRetries < 0 {
		c.RefineRetries = 0
	}
	if c.ByteOrder == nil {
		c.ByteOrder = def.ByteOrder
	}
	return c
}

func (c Config) retryPolicy() retryPolicy {
	return retryPolicy{
		retries:    c.Retries,
		backoff:    c.RetryBackoff,
		maxBackoff: c.MaxRetryBackoff,
		timeout:    c.ReadTimeout,
	}
}

// refinePolicy is the retry policy of the candidate reads of a refine.
func (c Config) refinePolicy() retryPolicy {
	p := c.retryPolicy()
	p.retries = c.RefineRetries
	return p
}

// Option configures a Scanner.
type Option func(*Scanner) error

// WithConfig sets the tunables of the Scanner, unset fields keep their
// defaults.
func WithConfig(cfg Config) Option {
	return func(sc *Scanner) error {
		if cfg.ChunkSize < 0 || cfg.RefineBatch < 0 || cfg.Workers < 0 {
			return errors.New("negative scanner tunable")
		}
		sc.cfg = cfg.normalize()
		return nil
	}
}

// WithLogger sets the logger of the Scanner. By default the scanner logs
// through logflags.ScannerLogger.
func WithLogger(log logflags.Logger) Option {
	return func(sc *Scanner) error {
		if log == nil {
			return errors.New("nil logger")
		}
		sc.log = log
		return nil
	}
}

// WithMetrics makes the Scanner record scan statistics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(sc *Scanner) error {
		sc.metrics = m
		return nil
	}
}
