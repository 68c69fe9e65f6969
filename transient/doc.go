// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package transient classifies errors encountered while sending HTTP
// requests by how likely a retry is to succeed.
//
// The retry strategies in package netctx use transient.Categorize to
// distinguish transport errors that are worth retrying (timeouts,
// refused or reset connections, keep-alive disconnects) from errors
// that are not (programming errors, misconfiguration).
package transient
