package x402

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardotrejos/x402/hooks"
	"github.com/cardotrejos/x402/types"
)

func countingServer(t *testing.T, hits *atomic.Int32, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(body))
	}))
}

func TestBeforeVerifyHalts(t *testing.T) {
	var hits atomic.Int32
	server := countingServer(t, &hits, `{"isValid": true}`)
	defer server.Close()

	hx := hookFuncs{
		beforeVerify: func(_ context.Context, _ *hooks.Context, _ hooks.Metadata) hooks.Decision {
			return hooks.Halt("blocked")
		},
	}
	engine := testEngine(t, server.URL, WithHooks(hx))

	_, err := engine.Verify(context.Background(), testPayload(), testRequirement())
	xerr, ok := types.AsX402Error(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrHookHalted, xerr.Type)
	assert.Equal(t, "before_verify", xerr.Callback)
	assert.Equal(t, "blocked", xerr.Reason)
	assert.False(t, xerr.Retryable)
	assert.Equal(t, int32(0), hits.Load())
}

func TestBeforeSettleHalts(t *testing.T) {
	var hits atomic.Int32
	server := countingServer(t, &hits, `{"success": true}`)
	defer server.Close()

	hx := hookFuncs{
		beforeSettle: func(_ context.Context, _ *hooks.Context, _ hooks.Metadata) hooks.Decision {
			return hooks.Halt("daily spend cap reached")
		},
	}
	engine := testEngine(t, server.URL, WithHooks(hx))

	_, err := engine.Settle(context.Background(), testPayload(), testRequirement())
	xerr, ok := types.AsX402Error(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrHookHalted, xerr.Type)
	assert.Equal(t, "before_settle", xerr.Callback)
	assert.Equal(t, int32(0), hits.Load())
}

func TestBeforeVerifyMutatesRequest(t *testing.T) {
	var gotBody struct {
		Payload map[string]any `json:"payload"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		w.Write([]byte(`{"isValid": true}`))
	}))
	defer server.Close()

	hx := hookFuncs{
		beforeVerify: func(_ context.Context, hc *hooks.Context, _ hooks.Metadata) hooks.Decision {
			hc.Payload["sessionToken"] = "tok-123"
			return hooks.Continue(hc)
		},
	}
	engine := testEngine(t, server.URL, WithHooks(hx))

	payload := testPayload()
	_, err := engine.Verify(context.Background(), payload, testRequirement())
	require.NoError(t, err)

	assert.Equal(t, "tok-123", gotBody.Payload["sessionToken"])
	// The hook works on a copy; the caller's payload has no token.
	assert.NotContains(t, payload, "sessionToken")
}

func TestAfterVerifySubstitutesResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"isValid": true}`))
	}))
	defer server.Close()

	substitute := &types.Response{
		Status: 200,
		Body:   map[string]any{"isValid": false, "invalidReason": "vetoed"},
	}
	hx := hookFuncs{
		afterVerify: func(_ context.Context, hc *hooks.Context, _ hooks.Metadata) hooks.Decision {
			require.NotNil(t, hc.Result)
			assert.Equal(t, true, hc.Result.Body["isValid"])
			hc.Result = substitute
			return hooks.Continue(hc)
		},
	}
	engine := testEngine(t, server.URL, WithHooks(hx))

	resp, err := engine.Verify(context.Background(), testPayload(), testRequirement())
	require.NoError(t, err)
	assert.Same(t, substitute, resp)
	assert.False(t, resp.VerifyOutcome().IsValid)
}

func TestOnVerifyFailureRecovers(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var seen *types.X402Error
	hx := hookFuncs{
		onVerifyFailure: func(_ context.Context, hc *hooks.Context, _ hooks.Metadata) hooks.Decision {
			seen, _ = types.AsX402Error(hc.Err)
			return hooks.Recover(&types.Response{Status: 200, Body: map[string]any{"isValid": true}})
		},
	}
	engine := testEngine(t, server.URL, WithHooks(hx))

	resp, err := engine.Verify(context.Background(), testPayload(), testRequirement())
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.True(t, resp.VerifyOutcome().IsValid)

	// The hook saw the real failure after all retries ran.
	require.NotNil(t, seen)
	assert.Equal(t, types.ErrHTTPError, seen.Type)
	assert.Equal(t, 3, seen.Attempt)
	assert.Equal(t, int32(3), hits.Load())
}

func TestOnVerifyFailureReplacesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	replacement := &types.X402Error{Type: types.ErrTransportError, Reason: "rewritten"}
	hx := hookFuncs{
		onVerifyFailure: func(_ context.Context, hc *hooks.Context, _ hooks.Metadata) hooks.Decision {
			hc.Err = replacement
			return hooks.Continue(hc)
		},
	}
	engine := testEngine(t, server.URL, WithHooks(hx))

	_, err := engine.Verify(context.Background(), testPayload(), testRequirement())
	xerr, ok := types.AsX402Error(err)
	require.True(t, ok)
	assert.Same(t, replacement, xerr)
}

func TestHookPanicBecomesCallbackError(t *testing.T) {
	var hits atomic.Int32
	server := countingServer(t, &hits, `{"isValid": true}`)
	defer server.Close()

	t.Run("before", func(t *testing.T) {
		hx := hookFuncs{
			beforeVerify: func(_ context.Context, _ *hooks.Context, _ hooks.Metadata) hooks.Decision {
				panic("boom")
			},
		}
		engine := testEngine(t, server.URL, WithHooks(hx))
		_, err := engine.Verify(context.Background(), testPayload(), testRequirement())
		xerr, ok := types.AsX402Error(err)
		require.True(t, ok)
		assert.Equal(t, types.ErrHookCallbackFailed, xerr.Type)
		assert.Equal(t, "before_verify", xerr.Callback)
		assert.Equal(t, "hook panicked: boom", xerr.Reason)
		assert.Equal(t, int32(0), hits.Load())
	})

	t.Run("after", func(t *testing.T) {
		hx := hookFuncs{
			afterVerify: func(_ context.Context, _ *hooks.Context, _ hooks.Metadata) hooks.Decision {
				panic("late boom")
			},
		}
		engine := testEngine(t, server.URL, WithHooks(hx))
		_, err := engine.Verify(context.Background(), testPayload(), testRequirement())
		xerr, ok := types.AsX402Error(err)
		require.True(t, ok)
		assert.Equal(t, types.ErrHookCallbackFailed, xerr.Type)
		assert.Equal(t, "after_verify", xerr.Callback)
		assert.Equal(t, "hook panicked: late boom", xerr.Reason)
	})
}

func TestInvalidHookReturns(t *testing.T) {
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"isValid": true}`))
	}))
	defer okServer.Close()

	failServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer failServer.Close()

	cases := []struct {
		name     string
		url      string
		hx       hookFuncs
		callback string
		reason   string
	}{
		{
			name: "before recovers",
			url:  okServer.URL,
			hx: hookFuncs{
				beforeVerify: func(_ context.Context, _ *hooks.Context, _ hooks.Metadata) hooks.Decision {
					return hooks.Recover(&types.Response{Status: 200})
				},
			},
			callback: "before_verify",
			reason:   "hook returned recover",
		},
		{
			name: "before returns zero decision",
			url:  okServer.URL,
			hx: hookFuncs{
				beforeVerify: func(_ context.Context, _ *hooks.Context, _ hooks.Metadata) hooks.Decision {
					return hooks.Decision{}
				},
			},
			callback: "before_verify",
			reason:   "hook returned no decision",
		},
		{
			name: "before continues with nil context",
			url:  okServer.URL,
			hx: hookFuncs{
				beforeVerify: func(_ context.Context, _ *hooks.Context, _ hooks.Metadata) hooks.Decision {
					return hooks.Continue(nil)
				},
			},
			callback: "before_verify",
			reason:   "continue carried a nil context",
		},
		{
			name: "after halts",
			url:  okServer.URL,
			hx: hookFuncs{
				afterVerify: func(_ context.Context, _ *hooks.Context, _ hooks.Metadata) hooks.Decision {
					return hooks.Halt("too late")
				},
			},
			callback: "after_verify",
			reason:   "hook returned halt",
		},
		{
			name: "failure halts",
			url:  failServer.URL,
			hx: hookFuncs{
				onVerifyFailure: func(_ context.Context, _ *hooks.Context, _ hooks.Metadata) hooks.Decision {
					return hooks.Halt("cannot halt here")
				},
			},
			callback: "on_verify_failure",
			reason:   "hook returned halt",
		},
		{
			name: "failure recovers with nil result",
			url:  failServer.URL,
			hx: hookFuncs{
				onVerifyFailure: func(_ context.Context, _ *hooks.Context, _ hooks.Metadata) hooks.Decision {
					return hooks.Recover(nil)
				},
			},
			callback: "on_verify_failure",
			reason:   "recover carried a nil result",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := testEngine(t, tc.url, WithHooks(tc.hx))
			_, err := engine.Verify(context.Background(), testPayload(), testRequirement())
			xerr, ok := types.AsX402Error(err)
			require.True(t, ok)
			assert.Equal(t, types.ErrHookInvalidReturn, xerr.Type)
			assert.Equal(t, tc.callback, xerr.Callback)
			assert.Equal(t, tc.reason, xerr.Reason)
		})
	}
}

func TestWithHooksPerCallOverride(t *testing.T) {
	var hits atomic.Int32
	server := countingServer(t, &hits, `{"isValid": true}`)
	defer server.Close()

	halting := hookFuncs{
		beforeVerify: func(_ context.Context, _ *hooks.Context, _ hooks.Metadata) hooks.Decision {
			return hooks.Halt("default hooks block everything")
		},
	}
	engine := testEngine(t, server.URL, WithHooks(halting))

	// Per-call hooks replace the engine default for one call.
	resp, err := engine.VerifyWithHooks(context.Background(), testPayload(), testRequirement(), hookFuncs{})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, int32(1), hits.Load())

	// Nil falls back to the engine default.
	_, err = engine.VerifyWithHooks(context.Background(), testPayload(), testRequirement(), nil)
	xerr, ok := types.AsX402Error(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrHookHalted, xerr.Type)

	// The default is still in place for plain calls.
	_, err = engine.Verify(context.Background(), testPayload(), testRequirement())
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestSettleHookFlow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "transaction": "0xfeed"}`))
	}))
	defer server.Close()

	var order []string
	hx := hookFuncs{
		beforeSettle: func(_ context.Context, hc *hooks.Context, meta hooks.Metadata) hooks.Decision {
			order = append(order, "before "+meta.Operation)
			return hooks.Continue(hc)
		},
		afterSettle: func(_ context.Context, hc *hooks.Context, meta hooks.Metadata) hooks.Decision {
			order = append(order, "after "+meta.Operation)
			return hooks.Continue(hc)
		},
	}
	engine := testEngine(t, server.URL, WithHooks(hx))

	resp, err := engine.Settle(context.Background(), testPayload(), testRequirement())
	require.NoError(t, err)
	assert.True(t, resp.SettleOutcome().Success)
	assert.Equal(t, []string{"before settle", "after settle"}, order)
}
