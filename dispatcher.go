// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package outnet

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/metaseek/outnet/netctx"
	"github.com/metaseek/outnet/network"
)

// A Dispatcher is the front door for outgoing requests: it picks the
// network for each request, opens a retrying request context on it,
// and runs the exchange. It is safe for concurrent use.
type Dispatcher struct {
	reg    *network.Registry
	logger *slog.Logger
}

// NewDispatcher wraps a registry. A nil logger means slog.Default.
func NewDispatcher(reg *network.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{reg: reg, logger: logger}
}

// Registry returns the dispatcher's network registry.
func (d *Dispatcher) Registry() *network.Registry {
	return d.reg
}

// Close closes the underlying registry and all of its networks.
func (d *Dispatcher) Close() error {
	return d.reg.Close()
}

// Request performs one HTTP request with the configured retries and
// time budget. The final response at retry exhaustion is returned even
// when its status triggered the retries.
func (d *Dispatcher) Request(method, url string, body any, opts ...Option) (*netctx.Response, error) {
	return d.do(method, url, body, false, opts)
}

// Get performs a GET request.
func (d *Dispatcher) Get(url string, opts ...Option) (*netctx.Response, error) {
	return d.do(http.MethodGet, url, nil, false, opts)
}

// Post performs a POST request. For body see the Option docs: nil,
// string, []byte, io.Reader and io.ReadCloser are accepted.
func (d *Dispatcher) Post(url string, body any, opts ...Option) (*netctx.Response, error) {
	return d.do(http.MethodPost, url, body, false, opts)
}

// Put performs a PUT request.
func (d *Dispatcher) Put(url string, body any, opts ...Option) (*netctx.Response, error) {
	return d.do(http.MethodPut, url, body, false, opts)
}

// Patch performs a PATCH request.
func (d *Dispatcher) Patch(url string, body any, opts ...Option) (*netctx.Response, error) {
	return d.do(http.MethodPatch, url, body, false, opts)
}

// Delete performs a DELETE request.
func (d *Dispatcher) Delete(url string, opts ...Option) (*netctx.Response, error) {
	return d.do(http.MethodDelete, url, nil, false, opts)
}

// Head performs a HEAD request.
func (d *Dispatcher) Head(url string, opts ...Option) (*netctx.Response, error) {
	return d.do(http.MethodHead, url, nil, false, opts)
}

// Options performs an OPTIONS request.
func (d *Dispatcher) Options(url string, opts ...Option) (*netctx.Response, error) {
	return d.do(http.MethodOptions, url, nil, false, opts)
}

// Stream performs a request whose response body is read incrementally
// through Response.Stream. The caller must close the response.
//
// When the final attempt's status is in the network's retry-triggering
// set, the response comes back with Body buffered and Stream nil: the
// body had to be read to decide the retry, so there is nothing left to
// stream. Callers should check Stream before iterating.
func (d *Dispatcher) Stream(method, url string, opts ...Option) (*netctx.Response, error) {
	return d.do(method, url, nil, true, opts)
}

func (d *Dispatcher) do(method, url string, body any, stream bool, opts []Option) (*netctx.Response, error) {
	o := buildOptions(opts)
	b, err := bodyBytes(body)
	if err != nil {
		return nil, err
	}
	// The caller's timeout is the context budget, so the retry loop
	// checks it before every attempt; a zero timeout means the default.
	ctx := d.reg.Context(o.network, o.start, o.timeout)
	return ctx.Do(&netctx.Request{
		Method:          method,
		URL:             url,
		Header:          o.header,
		Body:            b,
		Stream:          stream,
		FollowRedirects: o.follow,
		RaiseForStatus:  o.raise,
		Verify:          o.verify,
		MaxRedirects:    o.maxRedirects,
	})
}

// A BatchRequest is one request in a MultiRequest call.
type BatchRequest struct {
	Method string
	URL    string
	Body   any
	// Options apply after the batch-wide options, so a request can
	// override them.
	Options []Option
}

// A BatchResult pairs a batch request's response with its error.
// Exactly one of the two is set.
type BatchResult struct {
	Response *netctx.Response
	Err      error
}

// MultiRequest runs the batch concurrently and waits for all of it.
// Every request shares the same budget baseline, so slow requests
// cannot stretch the batch beyond the configured timeout. Results are
// in request order; one failure does not disturb the others.
func (d *Dispatcher) MultiRequest(reqs []BatchRequest, opts ...Option) []BatchResult {
	results := make([]BatchResult, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	// One baseline for the whole batch.
	shared := make([]Option, 0, len(opts)+1)
	shared = append(shared, WithStart(time.Now()))
	shared = append(shared, opts...)

	var wg sync.WaitGroup
	wg.Add(len(reqs))
	for i, req := range reqs {
		i, req := i, req
		go func() {
			defer wg.Done()
			all := append(append([]Option{}, shared...), req.Options...)
			res, err := d.Request(req.Method, req.URL, req.Body, all...)
			if err != nil {
				d.logger.Debug("batch request failed", "method", req.Method, "url", req.URL, "error", err)
			}
			results[i] = BatchResult{Response: res, Err: err}
		}()
	}
	wg.Wait()
	return results
}
