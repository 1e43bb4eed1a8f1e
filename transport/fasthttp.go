package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/valyala/fasthttp"
)

// FastHTTPDoer adapts a fasthttp.Client to the Doer interface for callers
// that already run fasthttp elsewhere and want one connection pool.
type FastHTTPDoer struct {
	Client *fasthttp.Client
}

// NewFastHTTPDoer returns a Doer backed by a fasthttp client with default
// settings.
func NewFastHTTPDoer() *FastHTTPDoer {
	return &FastHTTPDoer{Client: &fasthttp.Client{}}
}

// Do translates a net/http request into a fasthttp exchange. The request
// context's deadline is honored; cancellation without a deadline is not,
// since fasthttp has no mid-flight cancel.
func (d *FastHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	freq := fasthttp.AcquireRequest()
	fresp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(freq)
	defer fasthttp.ReleaseResponse(fresp)

	freq.SetRequestURI(req.URL.String())
	freq.Header.SetMethod(req.Method)
	for key, values := range req.Header {
		for _, value := range values {
			freq.Header.Set(key, value)
		}
	}
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		freq.SetBody(body)
	}

	var err error
	if deadline, ok := req.Context().Deadline(); ok {
		err = d.Client.DoDeadline(freq, fresp, deadline)
	} else {
		err = d.Client.Do(freq, fresp)
	}
	if err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, fasthttp.ErrDialTimeout) || errors.Is(err, fasthttp.ErrTLSHandshakeTimeout) {
			return nil, &timeoutError{err: err}
		}
		return nil, err
	}

	header := make(http.Header)
	fresp.Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	body := make([]byte, len(fresp.Body()))
	copy(body, fresp.Body())

	return &http.Response{
		StatusCode:    fresp.StatusCode(),
		Status:        fmt.Sprintf("%d %s", fresp.StatusCode(), http.StatusText(fresp.StatusCode())),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}

// timeoutError carries fasthttp timeouts across the net.Error check the
// retry loop uses to classify failures.
type timeoutError struct{ err error }

var _ net.Error = (*timeoutError)(nil)

func (e *timeoutError) Error() string   { return e.err.Error() }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }
func (e *timeoutError) Unwrap() error   { return e.err }
