// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package outnet

import (
	"errors"
	"io"
	"net/http"
	"time"
)

// An Option adjusts one request made through a Dispatcher.
type Option func(*requestOptions)

type requestOptions struct {
	network      string
	timeout      time.Duration
	start        time.Time
	header       http.Header
	raise        bool
	follow       bool
	verify       *bool
	maxRedirects *int
}

// OnNetwork routes the request through the named network instead of
// the default one.
func OnNetwork(name string) Option {
	return func(o *requestOptions) { o.network = name }
}

// WithTimeout caps the request's total time budget. Without it the
// network's default budget applies.
func WithTimeout(d time.Duration) Option {
	return func(o *requestOptions) { o.timeout = d }
}

// WithStart moves the budget's baseline to an earlier instant, so
// time already spent before the request counts against it.
func WithStart(t time.Time) Option {
	return func(o *requestOptions) { o.start = t }
}

// WithHeader sets one request header.
func WithHeader(name, value string) Option {
	return func(o *requestOptions) {
		if o.header == nil {
			o.header = make(http.Header)
		}
		o.header.Set(name, value)
	}
}

// WithHeaders merges a full header set into the request.
func WithHeaders(h http.Header) Option {
	return func(o *requestOptions) {
		if o.header == nil {
			o.header = make(http.Header)
		}
		for name, values := range h {
			o.header[name] = values
		}
	}
}

// WithContentType sets the Content-Type header.
func WithContentType(ct string) Option {
	return WithHeader("Content-Type", ct)
}

// RaiseForStatus turns any 4xx or 5xx response into a
// netctx.StatusError instead of a response.
func RaiseForStatus() Option {
	return func(o *requestOptions) { o.raise = true }
}

// FollowRedirects enables or disables redirect following. Redirects
// are not followed unless asked for.
func FollowRedirects(follow bool) Option {
	return func(o *requestOptions) { o.follow = follow }
}

// WithVerify overrides the network's TLS verification for this
// request only.
func WithVerify(verify bool) Option {
	return func(o *requestOptions) { o.verify = &verify }
}

// WithMaxRedirects overrides the network's redirect limit for this
// request only.
func WithMaxRedirects(n int) Option {
	return func(o *requestOptions) { o.maxRedirects = &n }
}

func buildOptions(opts []Option) requestOptions {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

const badBodyTypeMsg = "outnet: invalid type (for body use nil, " +
	"string, []byte, io.Reader or io.ReadCloser)"

// bodyBytes converts a generic body parameter to a byte slice. The
// body may be nil, a string, a []byte, an io.Reader or an
// io.ReadCloser; readers are drained (and closed, if closeable).
func bodyBytes(body any) ([]byte, error) {
	switch x := body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(x), nil
	case []byte:
		return x, nil
	case io.ReadCloser:
		b, err := io.ReadAll(x)
		if err != nil {
			return nil, err
		}
		err = x.Close()
		if err != nil {
			return nil, err
		}
		return b, nil
	case io.Reader:
		b, err := io.ReadAll(x)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, errors.New(badBodyTypeMsg)
	}
}
