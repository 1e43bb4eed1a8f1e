// Package middleware gates HTTP handlers behind x402 payment. Requests
// without a valid X-PAYMENT header receive a 402 challenge listing the
// accepted requirements; paid requests are verified up front and settled
// through the facilitator just before the handler's success response
// commits. Settled payments land in a replay ledger so the same payment
// cannot buy the resource twice.
package middleware

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cardotrejos/x402"
	"github.com/cardotrejos/x402/address"
	"github.com/cardotrejos/x402/cache"
	"github.com/cardotrejos/x402/encoding"
	"github.com/cardotrejos/x402/logger"
	"github.com/cardotrejos/x402/types"
	"github.com/cardotrejos/x402/validation"
)

const (
	// PaymentHeader carries the encoded payment payload on requests.
	PaymentHeader = "X-PAYMENT"

	// PaymentResponseHeader carries the encoded settlement outcome on
	// responses.
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
)

// Challenge is the JSON body of a 402 response.
type Challenge struct {
	X402Version int                        `json:"x402Version"`
	Error       string                     `json:"error,omitempty"`
	Accepts     []types.PaymentRequirement `json:"accepts"`
}

// Config wires a payment gate.
type Config struct {
	// Engine performs the facilitator calls. Required.
	Engine *x402.Engine

	// Accepts lists the payment requirements the resource takes, in
	// preference order. At least one is required.
	Accepts []types.PaymentRequirement

	// Replay records spent payments. Nil selects a process-local store.
	Replay cache.Store

	// ReplayTTL bounds how long spent payments are remembered. Zero
	// keeps them forever.
	ReplayTTL time.Duration

	// VerifyOnly skips settlement, for staging setups without real
	// funds.
	VerifyOnly bool

	// Logger receives gate decisions. Nil disables logging.
	Logger logger.Logger
}

// Verified carries the accepted payment through the request context.
type Verified struct {
	Payload types.PaymentPayload
	Outcome types.VerifyOutcome
}

type contextKey struct{}

// WithPayment returns ctx carrying v for handlers downstream of the gate.
func WithPayment(ctx context.Context, v *Verified) context.Context {
	return context.WithValue(ctx, contextKey{}, v)
}

// PaymentFromContext returns the verified payment on ctx, if any.
func PaymentFromContext(ctx context.Context) (*Verified, bool) {
	v, ok := ctx.Value(contextKey{}).(*Verified)
	return v, ok
}

// New builds the gate middleware. Requirements are normalized and checked
// once here, so a misconfigured gate fails at startup instead of per
// request.
func New(cfg Config) (func(http.Handler) http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("middleware: an engine is required")
	}
	if len(cfg.Accepts) == 0 {
		return nil, errors.New("middleware: at least one payment requirement is required")
	}

	accepts := make([]types.PaymentRequirement, len(cfg.Accepts))
	for i, req := range cfg.Accepts {
		norm := types.NormalizeRequirement(req, nil)
		if err := norm.Validate(); err != nil {
			return nil, fmt.Errorf("middleware: requirement %d: %w", i, err)
		}
		if err := address.ValidForNetwork(norm.PayTo, norm.Network); err != nil {
			return nil, fmt.Errorf("middleware: requirement %d payTo: %w", i, err)
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

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}, nil
}

type gate struct {
	engine     *x402.Engine
	accepts    []types.PaymentRequirement
	replay     cache.Store
	replayTTL  time.Duration
	verifyOnly bool
	log        logger.Logger
}

func (g *gate) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	header := r.Header.Get(PaymentHeader)
	if header == "" {
		g.challenge(w, r, "payment required")
		return
	}

	payload, err := encoding.DecodePayment(header)
	if err != nil {
		g.log.Warn("malformed payment header", logger.Fields{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"x402Version": x402.ProtocolVersion,
			"error":       "malformed payment header",
		})
		return
	}

	req, ok := g.match(payload)
	if !ok {
		g.challenge(w, r, "no matching payment requirement")
		return
	}

	if err := validation.Validate(payload, req); err != nil {
		g.challenge(w, r, err.Error())
		return
	}

	spent, err := g.spent(r.Context(), payload)
	if err != nil {
		g.log.Error("replay lookup failed", logger.Fields{"error": err.Error()})
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"x402Version": x402.ProtocolVersion,
			"error":       "replay check unavailable",
		})
		return
	}
	if spent {
		g.challenge(w, r, "payment already used")
		return
	}

	resp, err := g.engine.Verify(r.Context(), payload, req)
	if err != nil {
		g.log.Error("verification call failed", logger.Fields{"error": err.Error()})
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"x402Version": x402.ProtocolVersion,
			"error":       "payment verification failed",
		})
		return
	}
	outcome := resp.VerifyOutcome()
	if !outcome.IsValid {
		g.challenge(w, r, reasonOr(outcome.InvalidReason, "payment rejected"))
		return
	}

	r = r.WithContext(WithPayment(r.Context(), &Verified{
		Payload: payload,
		Outcome: outcome,
	}))

	gw := &gateWriter{
		ResponseWriter: w,
		settle: func() bool {
			return g.settle(w, r, payload, req)
		},
	}
	next.ServeHTTP(gw, r)
}

// settle runs at the moment the handler commits a success response. A false
// return means the failure response is already on the wire.
func (g *gate) settle(w http.ResponseWriter, r *http.Request, payload types.PaymentPayload, req types.PaymentRequirement) bool {
	if g.verifyOnly {
		return true
	}

	resp, err := g.engine.Settle(r.Context(), payload, req)
	if err != nil {
		g.log.Error("settlement call failed", logger.Fields{"error": err.Error()})
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"x402Version": x402.ProtocolVersion,
			"error":       "payment settlement failed",
		})
		return false
	}
	outcome := resp.SettleOutcome()
	if !outcome.Success {
		g.challenge(w, r, reasonOr(outcome.ErrorReason, "settlement rejected"))
		return false
	}

	if encoded, err := encoding.EncodeSettlement(resp.Body); err == nil {
		w.Header().Set(PaymentResponseHeader, encoded)
	}
	g.mark(r.Context(), payload)
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

func (g *gate) spent(ctx context.Context, payload types.PaymentPayload) (bool, error) {
	_, found, err := g.replay.Get(ctx, ReplayKey(payload))
	return found, err
}

func (g *gate) mark(ctx context.Context, payload types.PaymentPayload) {
	if err := g.replay.Set(ctx, ReplayKey(payload), "settled", g.replayTTL); err != nil {
		g.log.Error("replay mark failed", logger.Fields{"error": err.Error()})
	}
}

// ReplayKey is the ledger key a settled payment is recorded under. Every
// gate flavor sharing a store must agree on it, so it lives here rather
// than per adapter.
func ReplayKey(payload types.PaymentPayload) string {
	return "replay:" + payload.Network() + ":" + payload.TransactionHash()
}

func (g *gate) challenge(w http.ResponseWriter, r *http.Request, reason string) {
	g.log.Info("payment required", logger.Fields{
		"path":   r.URL.Path,
		"reason": reason,
	})

	accepts := make([]types.PaymentRequirement, len(g.accepts))
	copy(accepts, g.accepts)
	for i := range accepts {
		if accepts[i].Resource == "" {
			accepts[i].Resource = resourceURL(r)
		}
	}
	writeJSON(w, http.StatusPaymentRequired, Challenge{
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

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func reasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}

// gateWriter holds back the handler's success status until settlement
// clears. Error statuses pass through untouched and skip settlement.
type gateWriter struct {
	http.ResponseWriter
	settle    func() bool
	committed bool
	blocked   bool
}

func (g *gateWriter) Write(b []byte) (int, error) {
	if !g.committed {
		g.WriteHeader(http.StatusOK)
	}
	if g.blocked {
		// The settlement failure response is already on the wire; the
		// handler's body is dropped to keep the response unmixed.
		return len(b), nil
	}
	return g.ResponseWriter.Write(b)
}

func (g *gateWriter) WriteHeader(status int) {
	if g.committed {
		return
	}
	g.committed = true

	if status >= 400 {
		g.ResponseWriter.WriteHeader(status)
		return
	}
	if !g.settle() {
		g.blocked = true
		return
	}
	g.ResponseWriter.WriteHeader(status)
}

func (g *gateWriter) Flush() {
	if g.blocked {
		return
	}
	if f, ok := g.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack settles before releasing the connection, so upgrades such as
// websockets stay behind the gate.
func (g *gateWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := g.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	if !g.committed {
		g.committed = true
		if !g.settle() {
			g.blocked = true
			return nil, nil, errors.New("payment settlement failed")
		}
	}
	return hj.Hijack()
}
