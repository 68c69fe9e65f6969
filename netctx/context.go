// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package netctx

import (
	"fmt"
	"time"
)

// DefaultBudget is the time budget used by a Context when the caller
// does not declare one.
const DefaultBudget = 120 * time.Second

// budgetSlack is a fixed per-call allowance for connection setup. It is
// added on top of the declared budget when computing the remaining
// time, and is deliberately not configurable per call.
const budgetSlack = 200 * time.Millisecond

// A Strategy selects how a failed call is repeated. The zero value is
// RetryNewClient, which is the recommended strategy unless an engine
// explicitly needs session continuity across retries.
type Strategy int

const (
	// RetryNewClient resends the failed HTTP request, obtaining a new
	// client (new egress identity) for each attempt.
	RetryNewClient Strategy = iota
	// RetrySameClient resends the failed HTTP request using the same
	// client, and therefore potentially the same connection.
	RetrySameClient
	// RetryFunction re-runs the entire caller-supplied function with a
	// fresh client per invocation; all HTTP requests inside one
	// invocation share one egress identity. See Context.Call.
	RetryFunction
)

var strategyNames = map[Strategy]string{
	RetryNewClient:  "new_client",
	RetrySameClient: "same_client",
	RetryFunction:   "function",
}

// String returns the configuration name of the strategy.
func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy converts a configuration value into a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	for s, n := range strategyNames {
		if n == name {
			return s, nil
		}
	}
	return RetryNewClient, fmt.Errorf("outnet/netctx: %q is not a retry strategy", name)
}

// A Context tracks the elapsed-time budget and retry budget of a
// single outbound call sequence. Create one per top-level call and
// discard it when the call returns; a Context is owned by a single
// goroutine and must not be shared across concurrently-running calls.
type Context struct {
	strategy  Strategy
	remaining int
	factory   ClientFactory
	client    HTTPClient
	start     time.Time
	budget    time.Duration
	httpTime  time.Duration
}

// New creates a Context for one logical call.
//
// retries is the number of additional attempts allowed after the first
// one. A zero start time means "now"; passing an earlier start time
// lets several contexts share one deadline baseline, as a multi-request
// batch does. A zero budget means DefaultBudget.
func New(strategy Strategy, retries int, factory ClientFactory, start time.Time, budget time.Duration) *Context {
	if start.IsZero() {
		start = time.Now()
	}
	if budget == 0 {
		budget = DefaultBudget
	}
	return &Context{
		strategy:  strategy,
		remaining: retries,
		factory:   factory,
		start:     start,
		budget:    budget,
	}
}

// RemainingTime returns the time still available for the next attempt:
// the declared budget (or the override, when positive) plus a fixed
// connection-setup slack, minus the time elapsed since the context
// started. The result decreases monotonically; once it reaches zero no
// further attempt may be started.
func (c *Context) RemainingTime(override time.Duration) time.Duration {
	budget := c.budget
	if override > 0 {
		budget = override
	}
	return budget + budgetSlack - time.Since(c.start)
}

// HTTPTime returns the total wall-clock time spent waiting on HTTP
// sends across all attempts so far. Callers use it for timeout
// accounting and diagnostics.
func (c *Context) HTTPTime() time.Duration {
	return c.httpTime
}

// Retries returns the remaining retry budget.
func (c *Context) Retries() int {
	return c.remaining
}

func (c *Context) budgetErr() error {
	return &BudgetError{Budget: c.budget, Elapsed: time.Since(c.start)}
}

// recordHTTPTime returns a release function that adds the elapsed time
// since the call to the context's HTTP time. Use with defer so the
// time is accumulated even when the send fails.
func (c *Context) recordHTTPTime() func() {
	before := time.Now()
	return func() {
		c.httpTime += time.Since(before)
	}
}

// bind obtains a fresh client from the factory and makes it the active
// client, wrapped so that its sends are clamped to the remaining time
// and recorded.
func (c *Context) bind() (HTTPClient, error) {
	raw, err := c.factory()
	if err != nil {
		return nil, err
	}
	c.client = &budgetClient{ctx: c, inner: raw}
	return c.client, nil
}

func (c *Context) unbind() {
	c.client = nil
}

// budgetClient wraps an HTTPClient so that every send is issued with
// its timeout clamped to the context's remaining time, its duration is
// accumulated into the context's HTTP time, and a retry-triggering
// response is surfaced as the fallback once the retry budget is spent.
type budgetClient struct {
	ctx   *Context
	inner HTTPClient
}

func (b *budgetClient) Send(req *Request) (*Response, error) {
	remaining := b.ctx.RemainingTime(req.Timeout)
	if remaining <= 0 {
		// Forwarding a non-positive timeout would remove the attempt's
		// deadline instead of enforcing it.
		return nil, b.ctx.budgetErr()
	}
	clamped := *req
	clamped.Timeout = remaining
	defer b.ctx.recordHTTPTime()()
	resp, err := b.inner.Send(&clamped)
	if err != nil {
		var soft *SoftRetryError
		if asSoftRetry(err, &soft) && b.ctx.remaining <= 0 {
			// Out of retries: the fallback response is authoritative.
			return soft.Response, nil
		}
	}
	return resp, err
}

func (b *budgetClient) Close() error {
	return b.inner.Close()
}

func (b *budgetClient) IsClosed() bool {
	return b.inner.IsClosed()
}
