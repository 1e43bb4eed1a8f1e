// Package gin adapts the payment gate to gin's handler chain. Gin owns its
// ResponseWriter, so the net/http trick of holding back the success status
// until settlement clears does not translate; this adapter settles before
// calling the handler instead. A handler that fails after that point cannot
// undo a settled payment, so prefer the net/http gate where that matters.
package gin

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cardotrejos/x402"
	"github.com/cardotrejos/x402/address"
	"github.com/cardotrejos/x402/cache"
	"github.com/cardotrejos/x402/encoding"
	"github.com/cardotrejos/x402/logger"
	"github.com/cardotrejos/x402/middleware"
	"github.com/cardotrejos/x402/types"
	"github.com/cardotrejos/x402/validation"
)

// Config is the same gate configuration the net/http middleware takes.
type Config = middleware.Config

// ContextKey is the gin context key the verified payment is stored under.
const ContextKey = "x402_payment"

// New builds a gin middleware enforcing the gate.
func New(cfg Config) (gin.HandlerFunc, error) {
	if cfg.Engine == nil {
		return nil, errors.New("gin middleware: an engine is required")
	}
	if len(cfg.Accepts) == 0 {
		return nil, errors.New("gin middleware: at least one payment requirement is required")
	}

	accepts := make([]types.PaymentRequirement, len(cfg.Accepts))
	for i, req := range cfg.Accepts {
		norm := types.NormalizeRequirement(req, nil)
		if err := norm.Validate(); err != nil {
			return nil, fmt.Errorf("gin middleware: requirement %d: %w", i, err)
		}
		if err := address.ValidForNetwork(norm.PayTo, norm.Network); err != nil {
			return nil, fmt.Errorf("gin middleware: requirement %d payTo: %w", i, err)
		}
		accepts[i] = norm
	}

	g := &gate{
		engine:     cfg.Engine,
		accepts:    accepts,
		replay:     cfg.Replay,
		replayTTL:  cfg.ReplayTTL,
		verifyOnly: cfg.VerifyOnly,
		log:        cfg.Logger,
	}
	if g.replay == nil {
		g.replay = cache.NewMemoryStore()
	}
	if g.log == nil {
		g.log = logger.NoopLogger{}
	}
	return g.handle, nil
}

// PaymentFromContext returns the verified payment stored by the gate, if
// any. Handlers can equally read it from the request's stdlib context with
// the middleware package's accessor.
func PaymentFromContext(c *gin.Context) (*middleware.Verified, bool) {
	value, ok := c.Get(ContextKey)
	if !ok {
		return nil, false
	}
	v, ok := value.(*middleware.Verified)
	return v, ok
}

type gate struct {
	engine     *x402.Engine
	accepts    []types.PaymentRequirement
	replay     cache.Store
	replayTTL  time.Duration
	verifyOnly bool
	log        logger.Logger
}

func (g *gate) handle(c *gin.Context) {
	header := c.GetHeader(middleware.PaymentHeader)
	if header == "" {
		g.challenge(c, "payment required")
		return
	}

	payload, err := encoding.DecodePayment(header)
	if err != nil {
		g.log.Warn("malformed payment header", logger.Fields{
			"path":  c.Request.URL.Path,
			"error": err.Error(),
		})
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"x402Version": x402.ProtocolVersion,
			"error":       "malformed payment header",
		})
		return
	}

	req, ok := g.match(payload)
	if !ok {
		g.challenge(c, "no matching payment requirement")
		return
	}

	if err := validation.Validate(payload, req); err != nil {
		g.challenge(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	_, spent, err := g.replay.Get(ctx, middleware.ReplayKey(payload))
	if err != nil {
		g.log.Error("replay lookup failed", logger.Fields{"error": err.Error()})
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"x402Version": x402.ProtocolVersion,
			"error":       "replay check unavailable",
		})
		return
	}
	if spent {
		g.challenge(c, "payment already used")
		return
	}

	resp, err := g.engine.Verify(ctx, payload, req)
	if err != nil {
		g.log.Error("verification call failed", logger.Fields{"error": err.Error()})
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"x402Version": x402.ProtocolVersion,
			"error":       "payment verification failed",
		})
		return
	}
	outcome := resp.VerifyOutcome()
	if !outcome.IsValid {
		g.challenge(c, reasonOr(outcome.InvalidReason, "payment rejected"))
		return
	}

	if !g.verifyOnly && !g.settle(c, payload, req) {
		return
	}

	verified := &middleware.Verified{Payload: payload, Outcome: outcome}
	c.Set(ContextKey, verified)
	c.Request = c.Request.WithContext(middleware.WithPayment(ctx, verified))
	c.Next()
}

func (g *gate) settle(c *gin.Context, payload types.PaymentPayload, req types.PaymentRequirement) bool {
	resp, err := g.engine.Settle(c.Request.Context(), payload, req)
	if err != nil {
		g.log.Error("settlement call failed", logger.Fields{"error": err.Error()})
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"x402Version": x402.ProtocolVersion,
			"error":       "payment settlement failed",
		})
		return false
	}
	outcome := resp.SettleOutcome()
	if !outcome.Success {
		g.challenge(c, reasonOr(outcome.ErrorReason, "settlement rejected"))
		return false
	}

	if encoded, err := encoding.EncodeSettlement(resp.Body); err == nil {
		c.Header(middleware.PaymentResponseHeader, encoded)
	}
	if err := g.replay.Set(c.Request.Context(), middleware.ReplayKey(payload), "settled", g.replayTTL); err != nil {
		g.log.Error("replay mark failed", logger.Fields{"error": err.Error()})
	}
	g.log.Info("payment settled", logger.Fields{
		"transaction": outcome.Transaction,
		"network":     outcome.Network,
	})
	return true
}

func (g *gate) match(payload types.PaymentPayload) (types.PaymentRequirement, bool) {
	scheme, network := payload.Scheme(), payload.Network()
	for _, req := range g.accepts {
		if req.Scheme == scheme && req.Network == network {
			return req, true
		}
	}
	return types.PaymentRequirement{}, false
}

func (g *gate) challenge(c *gin.Context, reason string) {
	g.log.Info("payment required", logger.Fields{
		"path":   c.Request.URL.Path,
		"reason": reason,
	})

	accepts := make([]types.PaymentRequirement, len(g.accepts))
	copy(accepts, g.accepts)
	for i := range accepts {
		if accepts[i].Resource == "" {
			accepts[i].Resource = resourceURL(c.Request)
		}
	}
	c.AbortWithStatusJSON(http.StatusPaymentRequired, middleware.Challenge{
		X402Version: x402.ProtocolVersion,
		Error:       reason,
		Accepts:     accepts,
	})
}

func resourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.RequestURI
}

func reasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}
