// Package hooks defines the lifecycle callbacks wrapped around facilitator
// calls and the decisions those callbacks can return.
package hooks

import (
	"context"

	"github.com/cardotrejos/x402/types"
)

// Context is the mutable state threaded through one verify or settle call.
// Before hooks may replace Payload and Requirements; Result and Err are set
// once the transport has an outcome. A Context belongs to a single call and
// is never shared across calls.
type Context struct {
	Payload      types.PaymentPayload
	Requirements types.PaymentRequirement
	Result       *types.Response
	Err          error
}

// Metadata identifies the call a hook is observing.
type Metadata struct {
	// Operation is "verify" or "settle".
	Operation string

	// Endpoint is the facilitator base URL the call targets.
	Endpoint string

	// CallID uniquely names this call across log lines and hook stages.
	CallID string
}

// Hooks receives control at each stage of a facilitator call. Before hooks
// may halt the call, after hooks may substitute the result, failure hooks may
// recover a failure into a success. Implementations run inline on the calling
// goroutine and are expected to be fast.
type Hooks interface {
	BeforeVerify(ctx context.Context, hc *Context, meta Metadata) Decision
	AfterVerify(ctx context.Context, hc *Context, meta Metadata) Decision
	OnVerifyFailure(ctx context.Context, hc *Context, meta Metadata) Decision
	BeforeSettle(ctx context.Context, hc *Context, meta Metadata) Decision
	AfterSettle(ctx context.Context, hc *Context, meta Metadata) Decision
	OnSettleFailure(ctx context.Context, hc *Context, meta Metadata) Decision
}

type decisionKind int

const (
	kindNone decisionKind = iota
	kindContinue
	kindHalt
	kindRecover
)

// Decision is the tagged return value of a hook. Build one with Continue,
// Halt or Recover; the zero Decision is invalid and the orchestrator rejects
// it. Not every decision is valid at every stage: before hooks may continue
// or halt, after hooks may only continue, failure hooks may continue or
// recover.
type Decision struct {
	kind   decisionKind
	hc     *Context
	reason string
	result *types.Response
}

// Continue proceeds with hc as the call's context.
func Continue(hc *Context) Decision {
	return Decision{kind: kindContinue, hc: hc}
}

// Halt stops the call before the transport runs.
func Halt(reason string) Decision {
	return Decision{kind: kindHalt, reason: reason}
}

// Recover converts a failed call into a success carrying result.
func Recover(result *types.Response) Decision {
	return Decision{kind: kindRecover, result: result}
}

// Continued returns the context to carry forward when the decision is a
// continue.
func (d Decision) Continued() (*Context, bool) {
	return d.hc, d.kind == kindContinue
}

// Halted returns the halt reason when the decision is a halt.
func (d Decision) Halted() (string, bool) {
	return d.reason, d.kind == kindHalt
}

// Recovered returns the substitute result when the decision is a recover.
func (d Decision) Recovered() (*types.Response, bool) {
	return d.result, d.kind == kindRecover
}

func (d Decision) String() string {
	switch d.kind {
	case kindContinue:
		return "continue"
	case kindHalt:
		return "halt"
	case kindRecover:
		return "recover"
	default:
		return "no decision"
	}
}

// Noop continues every stage with the context untouched. It is the engine
// default.
type Noop struct{}

var _ Hooks = Noop{}

func (Noop) BeforeVerify(_ context.Context, hc *Context, _ Metadata) Decision {
	return Continue(hc)
}

func (Noop) AfterVerify(_ context.Context, hc *Context, _ Metadata) Decision {
	return Continue(hc)
}

func (Noop) OnVerifyFailure(_ context.Context, hc *Context, _ Metadata) Decision {
	return Continue(hc)
}

func (Noop) BeforeSettle(_ context.Context, hc *Context, _ Metadata) Decision {
	return Continue(hc)
}

func (Noop) AfterSettle(_ context.Context, hc *Context, _ Metadata) Decision {
	return Continue(hc)
}

func (Noop) OnSettleFailure(_ context.Context, hc *Context, _ Metadata) Decision {
	return Continue(hc)
}
