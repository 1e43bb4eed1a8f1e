// Package x402 implements the client half of the x402 payment protocol: it
// submits payment payloads to a facilitator for verification and settlement
// and reports outcomes as typed responses and errors.
//
// The zero-config path works out of the box:
//
//	engine, err := x402.New(nil)
//	resp, err := engine.Verify(ctx, payload, requirement)
//
// Retry bounds, lifecycle hooks, logging, metrics and the HTTP client are
// all adjustable through Config and Option values.
package x402

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/cardotrejos/x402/hooks"
	"github.com/cardotrejos/x402/logger"
	"github.com/cardotrejos/x402/metrics"
	"github.com/cardotrejos/x402/transport"
	"github.com/cardotrejos/x402/types"
)

// DefaultBaseURL is the facilitator used when Config.BaseURL is empty.
const DefaultBaseURL = "https://x402.org/facilitator"

// Version information
const (
	Version         = "1.0.0"
	ProtocolVersion = 1
)

var validate = validator.New()

// Config carries the engine settings. The zero value selects defaults for
// every field; negative values are rejected by New.
type Config struct {
	// BaseURL is the facilitator endpoint. Empty selects DefaultBaseURL.
	BaseURL string `validate:"omitempty,url"`

	// MaxRetries is the number of retries after the first attempt, so a
	// call makes at most MaxRetries+1 attempts. Zero selects 2.
	MaxRetries int `validate:"gte=0"`

	// RetryBackoff is the delay before the first retry, doubled after
	// every failed attempt. Zero selects 100ms.
	RetryBackoff time.Duration `validate:"gte=0"`

	// ReceiveTimeout caps each individual attempt. Zero selects 5s.
	ReceiveTimeout time.Duration `validate:"gte=0"`

	// MaxConcurrent bounds in-flight facilitator calls across all
	// goroutines sharing the engine. Zero means unbounded.
	MaxConcurrent int `validate:"gte=0"`
}

// Engine is a facilitator client. It holds configuration only, never call
// state, so a single Engine is safe for concurrent use from any number of
// goroutines.
type Engine struct {
	baseURL   string
	opts      transport.Options
	doer      transport.Doer
	transport *transport.Client
	hooks     hooks.Hooks
	logger    logger.Logger
	metrics   metrics.Recorder
	sem       *semaphore.Weighted
}

// New builds an Engine from cfg. A nil cfg behaves like the zero Config.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, &types.X402Error{
			Type:   types.ErrInvalidOption,
			Reason: "invalid config: " + err.Error(),
			Err:    err,
		}
	}

	topts := transport.DefaultOptions()
	if cfg.MaxRetries > 0 {
		topts.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryBackoff > 0 {
		topts.RetryBackoff = cfg.RetryBackoff
	}
	if cfg.ReceiveTimeout > 0 {
		topts.ReceiveTimeout = cfg.ReceiveTimeout
	}

	e := &Engine{
		baseURL: cfg.BaseURL,
		opts:    topts,
		hooks:   hooks.Noop{},
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	if e.baseURL == "" {
		e.baseURL = DefaultBaseURL
	}
	if cfg.MaxConcurrent > 0 {
		e.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}

	for _, opt := range opts {
		opt(e)
	}
	if e.hooks == nil {
		e.hooks = hooks.Noop{}
	}
	if e.logger == nil {
		e.logger = logger.NoopLogger{}
	}
	if e.metrics == nil {
		e.metrics = metrics.NoopRecorder{}
	}
	if e.doer == nil {
		e.doer = http.DefaultClient
	}
	e.transport = &transport.Client{Doer: e.doer, Logger: e.logger}

	return e, nil
}

// BaseURL returns the facilitator endpoint the engine talks to.
func (e *Engine) BaseURL() string {
	return e.baseURL
}

// Verify asks the facilitator whether payload satisfies req.
func (e *Engine) Verify(ctx context.Context, payload types.PaymentPayload, req types.PaymentRequirement) (*types.Response, error) {
	return e.call(ctx, verifyStage, payload, req, e.hooks)
}

// VerifyWithHooks runs Verify with hx in place of the engine's hooks for
// this one call. A nil hx falls back to the engine's hooks.
func (e *Engine) VerifyWithHooks(ctx context.Context, payload types.PaymentPayload, req types.PaymentRequirement, hx hooks.Hooks) (*types.Response, error) {
	if hx == nil {
		hx = e.hooks
	}
	return e.call(ctx, verifyStage, payload, req, hx)
}

// Settle asks the facilitator to execute the payment on chain.
func (e *Engine) Settle(ctx context.Context, payload types.PaymentPayload, req types.PaymentRequirement) (*types.Response, error) {
	return e.call(ctx, settleStage, payload, req, e.hooks)
}

// SettleWithHooks runs Settle with hx in place of the engine's hooks for
// this one call. A nil hx falls back to the engine's hooks.
func (e *Engine) SettleWithHooks(ctx context.Context, payload types.PaymentPayload, req types.PaymentRequirement, hx hooks.Hooks) (*types.Response, error) {
	if hx == nil {
		hx = e.hooks
	}
	return e.call(ctx, settleStage, payload, req, hx)
}

func (e *Engine) call(ctx context.Context, st stage, payload types.PaymentPayload, req types.PaymentRequirement, hx hooks.Hooks) (*types.Response, error) {
	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil, &types.X402Error{
				Type:      types.ErrTransportError,
				Reason:    "canceled while waiting for a call slot",
				Retryable: true,
				Err:       err,
			}
		}
		defer e.sem.Release(1)
	}

	meta := hooks.Metadata{
		Operation: st.op,
		Endpoint:  e.baseURL,
		CallID:    uuid.NewString(),
	}
	e.logger.Debug("facilitator call starting", logger.Fields{
		"operation": meta.Operation,
		"endpoint":  meta.Endpoint,
		"call_id":   meta.CallID,
	})

	start := time.Now()
	resp, err := e.run(ctx, st, meta, payload, req, hx)
	e.span(meta, time.Since(start), resp, err)
	return resp, err
}

// span emits the log line and metric pair every call ends with.
func (e *Engine) span(meta hooks.Metadata, elapsed time.Duration, resp *types.Response, err error) {
	latencyLabels := map[string]string{
		"operation": meta.Operation,
		"endpoint":  meta.Endpoint,
	}

	if err == nil {
		e.logger.Info("facilitator call succeeded", logger.Fields{
			"operation":   meta.Operation,
			"endpoint":    meta.Endpoint,
			"call_id":     meta.CallID,
			"status":      resp.Status,
			"attempt":     resp.Attempt,
			"duration_ms": elapsed.Milliseconds(),
		})
		e.metrics.IncCounter("facilitator_call", map[string]string{
			"operation": meta.Operation,
			"result":    "ok",
		})
		e.metrics.ObserveLatency("facilitator_call", elapsed, latencyLabels)
		return
	}

	fields := logger.Fields{
		"operation":   meta.Operation,
		"endpoint":    meta.Endpoint,
		"call_id":     meta.CallID,
		"duration_ms": elapsed.Milliseconds(),
		"error":       err.Error(),
	}
	result := "error"
	if xerr, ok := types.AsX402Error(err); ok {
		result = string(xerr.Type)
		fields["error_type"] = string(xerr.Type)
		fields["retryable"] = xerr.Retryable
		fields["attempt"] = xerr.Attempt
		if xerr.Status != 0 {
			fields["status"] = xerr.Status
		}
	}
	e.logger.Error("facilitator call failed", fields)
	e.metrics.IncCounter("facilitator_call", map[string]string{
		"operation": meta.Operation,
		"result":    result,
	})
	e.metrics.ObserveLatency("facilitator_call", elapsed, latencyLabels)
}
