// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package netctx

import (
	"io"
	"net/http"
	"net/url"
	"time"
)

// A Request describes a single logical HTTP send issued through a
// Context. It is deliberately flat: the engine adapters that consume
// this library build one, hand it to the context, and receive a
// Response or an error.
type Request struct {
	// Method specifies the HTTP method (GET, POST, PUT, etc.). An
	// empty string means GET.
	Method string

	// URL is the absolute URL to access.
	URL string

	// Header contains the request header fields to send. A nil header
	// sends no extra fields.
	Header http.Header

	// Body is the pre-buffered request body. A nil or empty body means
	// no request body is sent.
	Body []byte

	// Stream, when true, leaves the response body unread: the Response
	// carries an open Stream the caller must close. When false the
	// body is fully buffered into Response.Body.
	Stream bool

	// Timeout overrides the context's time budget for this send. The
	// effective attempt timeout is always clamped to the context's
	// remaining time; Timeout can only shrink it further. Zero means
	// use the context budget.
	Timeout time.Duration

	// FollowRedirects controls whether redirect responses are followed
	// up to the network's (or this request's) redirect limit.
	FollowRedirects bool

	// RaiseForStatus requests that an error-class response status
	// (4xx/5xx) outside the network's retry-triggering set be surfaced
	// as a *StatusError instead of a normal Response.
	RaiseForStatus bool

	// Verify overrides the network's TLS verification setting for this
	// request. A non-nil value selects a different pooled client.
	Verify *bool

	// MaxRedirects overrides the network's redirect limit for this
	// request. A non-nil value selects a different pooled client.
	MaxRedirects *int
}

// A Response wraps the native HTTP response produced by a client. It is
// an explicit adapter: the underlying *http.Response is carried along
// unmodified rather than being monkey-patched with extra fields.
type Response struct {
	// StatusCode is the numeric HTTP status code of the response.
	StatusCode int

	// Status is the status line text, e.g. "200 OK".
	Status string

	// Header contains the response headers.
	Header http.Header

	// Body is the fully buffered response body. It is nil when the
	// response was streamed.
	Body []byte

	// Stream is the open response body of a streamed request. It is
	// nil for buffered responses. The consumer owns it and must close
	// it, even when abandoning the stream early; closing releases the
	// underlying connection.
	Stream io.ReadCloser

	// URL is the URL the final response was received from, after any
	// redirects.
	URL *url.URL

	// HTTP is the underlying native response. Body on it has already
	// been consumed (buffered mode) or is aliased by Stream.
	HTTP *http.Response
}

// OK reports whether the response status is outside the error class,
// i.e. below 400.
func (r *Response) OK() bool {
	return r.StatusCode < 400
}

// Close releases the resources held by a streamed response. It is a
// no-op for buffered responses and is safe to call more than once.
func (r *Response) Close() error {
	if r.Stream == nil {
		return nil
	}
	err := r.Stream.Close()
	r.Stream = nil
	return err
}

// RaiseForStatus returns a *StatusError if the response has an
// error-class status, and nil otherwise.
func (r *Response) RaiseForStatus() error {
	if r.OK() {
		return nil
	}
	return NewStatusError(r)
}

// An HTTPClient sends a single HTTP request attempt. Package network
// provides the implementation; the retry strategies in this package
// only depend on this interface.
//
// Implementations must be safe for concurrent use by multiple
// goroutines.
type HTTPClient interface {
	// Send performs one HTTP send. Request.Timeout bounds the attempt.
	// Send returns *SoftRetryError when the response status is in the
	// network's retry-triggering set; the error carries the response
	// as a usable fallback.
	Send(req *Request) (*Response, error)

	// Close releases the client's connections. After Close, IsClosed
	// reports true and the client must not be reused.
	Close() error

	// IsClosed reports whether the client has been closed.
	IsClosed() bool
}

// A ClientFactory produces the next HTTP client for a context,
// advancing the owning network's egress rotation (source address and
// proxy cursors) by one position per call.
type ClientFactory func() (HTTPClient, error)
