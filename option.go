package x402

import (
	"github.com/cardotrejos/x402/hooks"
	"github.com/cardotrejos/x402/logger"
	"github.com/cardotrejos/x402/metrics"
	"github.com/cardotrejos/x402/transport"
)

type Option func(*Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) {
		e.metrics = r
	}
}

func WithHooks(h hooks.Hooks) Option {
	return func(e *Engine) {
		e.hooks = h
	}
}

func WithTransport(d transport.Doer) Option {
	return func(e *Engine) {
		e.doer = d
	}
}
