// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package netctx

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// errExhausted is returned if the retry loop falls through without
// reaching a terminal state. It indicates a bug in this package, not a
// network condition.
var errExhausted = errors.New("outnet/netctx: retry loop exhausted without terminal state")

// A SoftRetryError signals that an HTTP send produced a response whose
// status is in the network's retry-triggering set: the attempt counts
// as a failure for retry purposes, but the response itself is a usable
// fallback. The retry strategies consume this error internally; once
// the retry budget is exhausted the fallback response is returned to
// the caller and the error never crosses the package boundary.
type SoftRetryError struct {
	Response *Response
}

func (e *SoftRetryError) Error() string {
	return fmt.Sprintf("outnet/netctx: retryable response status %d", e.Response.StatusCode)
}

// A StatusError reports an error-class HTTP response status when the
// caller asked for statuses to be raised (Request.RaiseForStatus). The
// response is carried so callers can still inspect it.
type StatusError struct {
	StatusCode int
	Reason     string
	URL        string
	Response   *Response
}

// NewStatusError builds a *StatusError from an error-class response.
func NewStatusError(r *Response) *StatusError {
	var u string
	if r.URL != nil {
		u = r.URL.String()
	}
	return &StatusError{
		StatusCode: r.StatusCode,
		Reason:     statusReason(r.StatusCode),
		URL:        u,
		Response:   r,
	}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("outnet/netctx: HTTP status %d (%s) for %s", e.StatusCode, e.Reason, e.URL)
}

func statusReason(status int) string {
	switch status {
	case http.StatusPaymentRequired, http.StatusForbidden:
		return "access denied"
	case http.StatusTooManyRequests:
		return "too many requests"
	default:
		if text := http.StatusText(status); text != "" {
			return text
		}
		return "unknown status"
	}
}

// A PermanentError marks an error that retrying cannot fix, such as a
// configuration problem or an invalid argument. The retry strategies
// propagate it immediately without consuming retry budget.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// A BudgetError reports that the context's time budget ran out before
// an attempt could be started. It implements the Timeout method, so
// transient.Categorize classifies it as a timeout.
type BudgetError struct {
	Budget  time.Duration
	Elapsed time.Duration
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("outnet/netctx: time budget of %s exhausted after %s", e.Budget, e.Elapsed.Round(time.Millisecond))
}

// Timeout reports true; budget exhaustion is a timeout condition.
func (e *BudgetError) Timeout() bool {
	return true
}
