// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transient

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/net/http2"
)

type timeoutErr struct{ timeout bool }

func (e *timeoutErr) Error() string { return "timeout error" }
func (e *timeoutErr) Timeout() bool { return e.timeout }

func TestCategorize(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil", nil, Not},
		{"plain", errors.New("an error"), Not},
		{"timeout", &timeoutErr{true}, Timeout},
		{"non-timeout timeouter", &timeoutErr{false}, Not},
		{"wrapped timeout", fmt.Errorf("outer: %w", &timeoutErr{true}), Timeout},
		{"refused", syscall.ECONNREFUSED, ConnRefused},
		{"reset", syscall.ECONNRESET, ConnReset},
		{"pipe", syscall.EPIPE, Disconnect},
		{"wrapped errno", &url.Error{Op: "Get", URL: "http://x", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, ConnRefused},
		{"unexpected EOF", io.ErrUnexpectedEOF, Disconnect},
		{"EOF", io.EOF, Disconnect},
		{"wrapped EOF", &url.Error{Op: "Get", URL: "http://x", Err: io.ErrUnexpectedEOF}, Disconnect},
		{"goaway", http2.GoAwayError{ErrCode: http2.ErrCodeNo}, Disconnect},
		{"refused stream", http2.StreamError{Code: http2.ErrCodeRefusedStream}, Disconnect},
		{"other stream error", http2.StreamError{Code: http2.ErrCodeProtocol}, Not},
		{"permission denied", syscall.EACCES, Not},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.expected, Categorize(testCase.err))
		})
	}
}

func TestCategorizeTimeoutWins(t *testing.T) {
	// A timeout that also wraps a reset is still a timeout.
	err := &url.Error{Op: "Get", URL: "http://x", Err: &timeoutWrappingReset{}}
	assert.Equal(t, Timeout, Categorize(err))
}

type timeoutWrappingReset struct{}

func (e *timeoutWrappingReset) Error() string { return "timeout wrapping reset" }
func (e *timeoutWrappingReset) Timeout() bool { return true }
func (e *timeoutWrappingReset) Unwrap() error { return syscall.ECONNRESET }
