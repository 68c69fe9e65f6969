// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package outnet manages the outgoing HTTP traffic of a metasearch
service: one registry of named networks, each with its own source
address rotation, proxy rotation, client pool, retry strategy and time
budget, fronted by a small request facade.

# Basic usage

Build a registry from a settings file and send requests through a
dispatcher:

	cfg, err := network.LoadConfig("settings.yml")
	if err != nil {
		log.Fatal(err)
	}
	reg, err := network.NewRegistry(cfg.Outgoing, cfg.Engines, nil)
	if err != nil {
		log.Fatal(err)
	}
	d := outnet.NewDispatcher(reg, nil)
	defer d.Close()

	res, err := d.Get("https://example.org/search?q=tardigrade",
		outnet.OnNetwork("example"),
		outnet.WithTimeout(3*time.Second))

Every request runs under a time budget: the per-request timeout (or
the default budget) plus a small slack, measured from the request's
start. Retries, including their exchanges, fit inside that budget; a
request never consumes more time because its retries were slow.

# Networks and retries

Each network decides how its requests are retried. The retry count and
strategy, the statuses that trigger a retry, source addresses and
proxies are all per-network settings; see the network package. When
retries are exhausted by retryable statuses, the last response is
returned rather than an error, so callers can still inspect it.

# Batches

MultiRequest fans a set of requests out concurrently under one shared
budget baseline and collects all results, successes and failures
alike, in request order.
*/
package outnet
