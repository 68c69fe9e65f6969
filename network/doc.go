// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package network implements named bundles of egress configuration and
the process-wide registry that owns them.

A Network couples timeouts, pool limits, proxies, source addresses, and
retry policy under one name. Each call for a client advances the
network's rotation cursors (round-robin over source addresses, with
CIDR entries expanded host by host, and independently over each proxy
pattern group) and resolves a cached HTTP client for the resulting
egress identity. Clients are pooled by the (verify, maxRedirects,
sourceAddress, proxySet) tuple; only one client is ever constructed per
key, even under concurrent first use.

A Registry is built once from configuration at startup and is immutable
afterwards. It always contains the built-in networks "default", "ipv4",
"ipv6", "image_proxy" and "autocomplete", plus any networks declared in
the outgoing settings and one per engine. Registry.Close tears down
every pooled client exactly once.
*/
package network
