// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transient

import (
	"errors"
	"io"
	"syscall"

	"golang.org/x/net/http2"
)

// A Category is the transience category of a particular error, as
// reported by function Categorize().
//
// The category Not means the error is not transient from the
// perspective of completing an HTTP request attempt successfully, or
// in other words that a retry after encountering this error is very
// unlikely to succeed. All other categories indicate a retry has some
// prospect of success.
type Category int

const (
	// Not indicates any non-transient error.
	Not Category = iota
	// Timeout indicates a client-side timeout. The server may be going
	// through a temporary period of slowness, or the client may succeed
	// on a future attempt with a longer timeout.
	//
	// Function Categorize() returns Timeout if the error or any of its
	// wrapped causes has a Timeout() function that reports true.
	Timeout
	// ConnRefused indicates the remote host refused the connection, and
	// corresponds to the POSIX error code ECONNREFUSED.
	//
	// Connection refusal can happen while the service on the remote
	// host is starting or restarting, so it is classified as transient
	// even though it may also be a permanent condition.
	ConnRefused
	// ConnReset indicates the remote host returned an RST packet on a
	// previously active TCP connection, and corresponds to the POSIX
	// error code ECONNRESET.
	ConnReset
	// Disconnect indicates the remote host tore down an established
	// HTTP connection part way through the protocol exchange: the
	// server went away on a kept-alive connection, sent an HTTP/2
	// GOAWAY or RST_STREAM frame, or closed the socket before a
	// complete response was written.
	//
	// A Disconnect is usually a keep-alive race: the server closed an
	// idle connection at the same moment the client reused it. A single
	// immediate retry on a fresh connection has a very high probability
	// of success, which is why the retry strategies treat Disconnect
	// specially (see package netctx).
	Disconnect
)

// Categorize returns the transience category of the given error. A nil
// error, and an error that is not transient from the perspective of
// completing an HTTP request attempt, both produce the return value
// Not.
//
// In assessing transience, Categorize looks at wrapped cause errors
// contained within err, not just err itself. It never checks whether an
// error has a Temporary() function, as the semantics of Temporary()
// aren't entirely clear.
func Categorize(err error) Category {
	if err == nil {
		return Not
	}

	var hasTimeout hasTimeout
	if errors.As(err, &hasTimeout) && hasTimeout.Timeout() {
		return Timeout
	}

	if isDisconnect(err) {
		return Disconnect
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET:
			return ConnReset
		case syscall.ECONNREFUSED:
			return ConnRefused
		case syscall.EPIPE:
			return Disconnect
		}
	}

	return Not
}

func isDisconnect(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	var goAway http2.GoAwayError
	if errors.As(err, &goAway) {
		return true
	}

	var stream http2.StreamError
	if errors.As(err, &stream) {
		return stream.Code == http2.ErrCodeRefusedStream || stream.Code == http2.ErrCodeNo
	}

	return false
}

type hasTimeout interface {
	Timeout() bool
}
