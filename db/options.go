package db

import (
	"go.uber.org/zap"

	"github.com/perchlab/datasetdb/codec"
)

// Mode selects read-only or read-write behavior at open time.
type Mode int

const (
	// ModeRead opens an existing store for lookups and iteration only.
	ModeRead Mode = iota
	// ModeWrite opens a store for appending, creating the file if absent.
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

// DefaultBatchSize is the number of staged entries that triggers an
// automatic flush.
const DefaultBatchSize = 512

// Option configures a store handle at open time.
type Option func(*config)

type config struct {
	codec     codec.Codec
	batchSize int
	logger    *zap.Logger
}

func defaultConfig() config {
	return config{
		codec:     codec.NewJSON(),
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
	}
}

// WithCodec selects the serialization codec. The choice is persisted in the
// file; reopening with a different codec fails with ErrCodecMismatch.
func WithCodec(c codec.Codec) Option {
	return func(cfg *config) { cfg.codec = c }
}

// WithBatchSize sets the write-buffer flush threshold. Values below 1 keep
// the default.
func WithBatchSize(n int) Option {
	return func(cfg *config) {
		if n >= 1 {
			cfg.batchSize = n
		}
	}
}

// WithLogger attaches a logger to the handle. The default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}
