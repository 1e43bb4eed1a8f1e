package x402

import (
	"context"
	"fmt"

	"github.com/cardotrejos/x402/hooks"
	"github.com/cardotrejos/x402/types"
)

// Callback names carried on hook-related errors.
const (
	callbackBeforeVerify    = "before_verify"
	callbackAfterVerify     = "after_verify"
	callbackOnVerifyFailure = "on_verify_failure"
	callbackBeforeSettle    = "before_settle"
	callbackAfterSettle     = "after_settle"
	callbackOnSettleFailure = "on_settle_failure"
)

type hookFunc func(hooks.Hooks, context.Context, *hooks.Context, hooks.Metadata) hooks.Decision

// stage binds one operation to its endpoint path and hook methods.
type stage struct {
	op          string
	path        string
	beforeName  string
	afterName   string
	failureName string
	before      hookFunc
	after       hookFunc
	onFailure   hookFunc
}

var verifyStage = stage{
	op:          "verify",
	path:        "verify",
	beforeName:  callbackBeforeVerify,
	afterName:   callbackAfterVerify,
	failureName: callbackOnVerifyFailure,
	before:      hooks.Hooks.BeforeVerify,
	after:       hooks.Hooks.AfterVerify,
	onFailure:   hooks.Hooks.OnVerifyFailure,
}

var settleStage = stage{
	op:          "settle",
	path:        "settle",
	beforeName:  callbackBeforeSettle,
	afterName:   callbackAfterSettle,
	failureName: callbackOnSettleFailure,
	before:      hooks.Hooks.BeforeSettle,
	after:       hooks.Hooks.AfterSettle,
	onFailure:   hooks.Hooks.OnSettleFailure,
}

// run drives one call through its hook stages. The hook context starts with
// a copy of the payload and the normalized requirement, so hooks never
// mutate caller state.
func (e *Engine) run(ctx context.Context, st stage, meta hooks.Metadata, payload types.PaymentPayload, req types.PaymentRequirement, hx hooks.Hooks) (*types.Response, error) {
	hc := &hooks.Context{
		Payload:      payload.Clone(),
		Requirements: types.NormalizeRequirement(req, payload),
	}

	dec, xerr := callHook(st.before, st.beforeName, hx, ctx, hc, meta)
	if xerr != nil {
		return nil, xerr
	}
	if reason, ok := dec.Halted(); ok {
		return nil, &types.X402Error{
			Type:     types.ErrHookHalted,
			Reason:   reason,
			Callback: st.beforeName,
		}
	}
	hc, xerr = continued(dec, st.beforeName)
	if xerr != nil {
		return nil, xerr
	}

	resp, terr := e.transport.Request(ctx, e.baseURL, st.path, types.FacilitatorRequest{
		Payload:      hc.Payload,
		Requirements: hc.Requirements,
	}, e.opts)

	if terr == nil {
		hc.Result = resp
		dec, xerr := callHook(st.after, st.afterName, hx, ctx, hc, meta)
		if xerr != nil {
			return nil, xerr
		}
		next, xerr := continued(dec, st.afterName)
		if xerr != nil {
			return nil, xerr
		}
		if next.Result != nil {
			return next.Result, nil
		}
		return resp, nil
	}

	hc.Err = terr
	dec, xerr = callHook(st.onFailure, st.failureName, hx, ctx, hc, meta)
	if xerr != nil {
		return nil, xerr
	}
	if result, ok := dec.Recovered(); ok {
		if result == nil {
			return nil, invalidReturn(st.failureName, "recover carried a nil result")
		}
		return result, nil
	}
	if next, ok := dec.Continued(); ok {
		if next != nil && next.Err != nil {
			return nil, next.Err
		}
		return nil, terr
	}
	return nil, invalidReturn(st.failureName, fmt.Sprintf("hook returned %s", dec))
}

// callHook invokes one hook method, converting a panic into a typed error.
func callHook(fn hookFunc, name string, hx hooks.Hooks, ctx context.Context, hc *hooks.Context, meta hooks.Metadata) (dec hooks.Decision, xerr *types.X402Error) {
	defer func() {
		if r := recover(); r != nil {
			dec = hooks.Decision{}
			xerr = &types.X402Error{
				Type:     types.ErrHookCallbackFailed,
				Reason:   fmt.Sprintf("hook panicked: %v", r),
				Callback: name,
			}
		}
	}()
	return fn(hx, ctx, hc, meta), nil
}

// continued unpacks a decision that is only allowed to be a continue.
func continued(dec hooks.Decision, callback string) (*hooks.Context, *types.X402Error) {
	next, ok := dec.Continued()
	if !ok {
		return nil, invalidReturn(callback, fmt.Sprintf("hook returned %s", dec))
	}
	if next == nil {
		return nil, invalidReturn(callback, "continue carried a nil context")
	}
	return next, nil
}

func invalidReturn(callback, detail string) *types.X402Error {
	return &types.X402Error{
		Type:     types.ErrHookInvalidReturn,
		Reason:   detail,
		Callback: callback,
	}
}
