// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package netctx implements the per-call network context: the time budget
shared by all HTTP request attempts of one logical call, and the retry
strategies that decide how failed attempts are repeated.

A Context is created fresh for every top-level call, usually via
network.Network.Context. It tracks the call's start time, its total
time budget, the remaining retry budget, and the wall-clock time spent
waiting on HTTP sends. Every individual send is issued with its timeout
clamped to the context's remaining time, so retries respect the overall
deadline instead of each attempt getting a fresh allowance.

Three retry strategies are available:

• RetryNewClient (the default) resends the failed HTTP request, binding
a brand-new client (new egress identity) for each attempt.

• RetrySameClient resends the failed HTTP request on the same client,
testing whether the same connection recovers.

• RetryFunction re-runs an entire caller-supplied function with a fresh
client per invocation, so all HTTP requests inside one invocation share
one egress identity. Use Context.Call for this strategy.

Regardless of strategy, a remote disconnect on a kept-alive connection
is retried once per call on a fresh client without consuming the retry
budget, guarding against keep-alive races.
*/
package netctx
