// Package transport performs the HTTP exchange with a facilitator: one POST
// per call, JSON both ways, with bounded retries for transient failures.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cardotrejos/x402/logger"
	"github.com/cardotrejos/x402/types"
)

// Doer issues a single HTTP request. *http.Client satisfies it, as does the
// fasthttp adapter in this package.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

var transientStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// TransientStatus reports whether an HTTP status is worth retrying.
func TransientStatus(code int) bool {
	return transientStatuses[code]
}

// Options bound a single facilitator request. Zero values are taken
// literally here; defaulting happens in the engine config.
type Options struct {
	// MaxRetries is the number of retries after the first attempt, so a
	// request makes at most MaxRetries+1 attempts.
	MaxRetries int

	// RetryBackoff is the delay before the first retry. It doubles after
	// every failed attempt.
	RetryBackoff time.Duration

	// ReceiveTimeout caps each individual attempt. Zero disables the
	// per-attempt deadline.
	ReceiveTimeout time.Duration
}

// DefaultOptions returns the retry and timeout bounds used when the caller
// configures nothing.
func DefaultOptions() Options {
	return Options{
		MaxRetries:     2,
		RetryBackoff:   100 * time.Millisecond,
		ReceiveTimeout: 5 * time.Second,
	}
}

func (o Options) validate() *types.X402Error {
	var reason string
	switch {
	case o.MaxRetries < 0:
		reason = "max retries must not be negative"
	case o.RetryBackoff < 0:
		reason = "retry backoff must not be negative"
	case o.ReceiveTimeout < 0:
		reason = "receive timeout must not be negative"
	default:
		return nil
	}
	return &types.X402Error{Type: types.ErrInvalidOption, Reason: reason}
}

// Client sends facilitator requests over a Doer. The zero value is not
// usable; set Doer before calling Request.
type Client struct {
	Doer   Doer
	Logger logger.Logger
}

func (c *Client) log() logger.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logger.NoopLogger{}
}

// Request POSTs body as JSON to baseURL joined with path and returns the
// decoded response. Failures come back as *types.X402Error with the attempt
// count that produced them; transient failures are retried with doubling
// backoff until opts.MaxRetries is exhausted.
func (c *Client) Request(ctx context.Context, baseURL, path string, body any, opts Options) (*types.Response, error) {
	if xerr := opts.validate(); xerr != nil {
		return nil, xerr
	}
	if c.Doer == nil {
		return nil, &types.X402Error{
			Type:   types.ErrTransportUnavailable,
			Reason: "no http client configured",
		}
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, &types.X402Error{
			Type:   types.ErrRequestSetupFailed,
			Reason: "encoding request body: " + err.Error(),
			Err:    err,
		}
	}

	resp, xerr := c.send(ctx, joinURL(baseURL, path), encoded, opts)
	if xerr != nil {
		return nil, xerr
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, url string, body []byte, opts Options) (*types.Response, *types.X402Error) {
	attempt := 0
	for {
		attempt++
		resp, xerr := c.attempt(ctx, url, body, opts.ReceiveTimeout)
		if xerr == nil {
			resp.Attempt = attempt
			return resp, nil
		}
		xerr.Attempt = attempt
		if !xerr.Retryable || attempt > opts.MaxRetries {
			return nil, xerr
		}

		delay := opts.RetryBackoff << uint(attempt-1)
		c.log().Debug("retrying facilitator request", logger.Fields{
			"url":        url,
			"attempt":    attempt,
			"delay_ms":   delay.Milliseconds(),
			"error_type": string(xerr.Type),
		})
		if !sleep(ctx, delay) {
			return nil, xerr
		}
	}
}

func (c *Client) attempt(ctx context.Context, url string, body []byte, timeout time.Duration) (resp *types.Response, xerr *types.X402Error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			xerr = &types.X402Error{
				Type:      types.ErrTransportError,
				Reason:    fmt.Sprintf("http client panic: %v", r),
				Retryable: true,
			}
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &types.X402Error{
			Type:   types.ErrRequestSetupFailed,
			Reason: "building request: " + err.Error(),
			Err:    err,
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.Doer.Do(req)
	if err != nil {
		typ := types.ErrTransportError
		if isTimeout(err) {
			typ = types.ErrTimeout
		}
		return nil, &types.X402Error{
			Type:      typ,
			Reason:    err.Error(),
			Retryable: true,
			Err:       err,
		}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &types.X402Error{
			Type:      types.ErrTransportError,
			Status:    httpResp.StatusCode,
			Reason:    "reading response body: " + err.Error(),
			Retryable: true,
			Err:       err,
		}
	}

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		obj, err := decodeObject(raw)
		if err != nil {
			return nil, &types.X402Error{
				Type:   types.ErrInvalidJSON,
				Status: httpResp.StatusCode,
				Reason: err.Error(),
				Err:    err,
			}
		}
		return &types.Response{Status: httpResp.StatusCode, Body: obj}, nil
	}

	return nil, &types.X402Error{
		Type:      types.ErrHTTPError,
		Status:    httpResp.StatusCode,
		Body:      errorBody(raw),
		Reason:    fmt.Sprintf("facilitator returned status %d", httpResp.StatusCode),
		Retryable: TransientStatus(httpResp.StatusCode),
	}
}

// decodeObject parses a success body. An empty body counts as an empty
// object; anything that is not a JSON object is an error.
func decodeObject(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decoding response body: %w", err)
	}
	if obj == nil {
		return nil, errors.New("decoding response body: expected a JSON object, got null")
	}
	return obj, nil
}

// errorBody keeps whatever diagnostic payload a failed response carried. A
// non-object body is preserved under raw_body.
func errorBody(raw []byte) map[string]any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"raw_body": string(raw)}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// sleep waits for d or until ctx is done, reporting whether the wait ran its
// full course.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
