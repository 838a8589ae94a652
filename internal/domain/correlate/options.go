package correlate

import (
	"time"

	"github.com/beatkit/tempo/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithWindow sets the deadline window a lone event waits for its
// counterpart before settling alone.
func WithWindow(window time.Duration) Option {
	return func(e *Engine) {
		if window > 0 {
			e.window = window
		}
	}
}

// WithShardCount sets the number of pending-map shards.
func WithShardCount(count int) Option {
	return func(e *Engine) {
		if count > 0 {
			e.shardCount = count
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
