// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package netctx

import (
	"errors"
	"net/url"

	"github.com/metaseek/outnet/transient"
)

// Do performs one logical HTTP send under the context's retry
// strategy. "retries=N" on the context means up to N+1 total attempts.
//
// The terminal states are:
//
// • a response whose status is not in the network's retry-triggering
// set is returned as soon as it is received;
//
// • a response whose status is in the retry-triggering set is retried
// while retry budget remains; once it is spent, the last response is
// returned as the authoritative result, not an error;
//
// • a transport error is retried while retry budget remains, then
// surfaced;
//
// • once the remaining time reaches zero, a *BudgetError is returned
// before any further attempt is started, regardless of the retry
// counter;
//
// • a remote disconnect on a kept-alive connection closes the client
// and is retried once per call on a fresh client without consuming the
// retry budget.
//
// Permanent errors (invalid arguments, misconfiguration) are never
// retried and propagate immediately.
func (c *Context) Do(req *Request) (*Response, error) {
	defer c.unbind()
	exempted := false
	for {
		if c.RemainingTime(0) <= 0 {
			return nil, c.budgetErr()
		}
		if c.remaining < 0 {
			return nil, errExhausted
		}

		client := c.client
		if client == nil || c.strategy != RetrySameClient || client.IsClosed() {
			var err error
			client, err = c.bind()
			if err != nil {
				return nil, err
			}
		}

		resp, err := client.Send(req)
		if err == nil {
			return resp, nil
		}

		var soft *SoftRetryError
		if asSoftRetry(err, &soft) {
			// Retry-triggering status with budget left; at exhaustion
			// the budget client already returned the fallback.
			c.remaining--
			continue
		}

		if cat := transient.Categorize(err); cat == transient.Disconnect && !exempted {
			exempted = true
			_ = client.Close()
			c.unbind()
			continue
		}

		if !retryable(err) {
			return nil, err
		}
		if c.remaining <= 0 {
			return nil, err
		}
		c.remaining--
	}
}

// Call runs fn under the RetryFunction strategy: the whole function is
// the unit of retry. A fresh client is bound before each invocation, so
// all HTTP requests fn makes through the provided client share one
// egress identity; when any of them fails with a retryable error, the
// entire function is re-run with a new client.
//
// The exit conditions are the same as for Do. A retry-triggering
// response status observed once the retry budget is spent is handed to
// fn as a normal response, so fn's final invocation always sees a
// result it can work with.
func (c *Context) Call(fn func(client HTTPClient) error) error {
	defer c.unbind()
	exempted := false
	for {
		if c.RemainingTime(0) <= 0 {
			return c.budgetErr()
		}
		if c.remaining < 0 {
			return errExhausted
		}

		client, err := c.bind()
		if err != nil {
			return err
		}

		err = fn(client)
		if err == nil {
			return nil
		}

		var soft *SoftRetryError
		if asSoftRetry(err, &soft) {
			c.remaining--
			continue
		}

		if cat := transient.Categorize(err); cat == transient.Disconnect && !exempted {
			exempted = true
			_ = client.Close()
			continue
		}

		if !retryable(err) {
			return err
		}
		if c.remaining <= 0 {
			return err
		}
		c.remaining--
	}
}

func asSoftRetry(err error, soft **SoftRetryError) bool {
	return errors.As(err, soft)
}

// retryable reports whether a send error is worth repeating. Transport
// errors (TLS failures, connection errors, malformed responses) are;
// permanent errors are not.
func retryable(err error) bool {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	if transient.Categorize(err) != transient.Not {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
