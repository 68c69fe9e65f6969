// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package network

import "net/netip"

// An addressCycle walks the configured source addresses round-robin,
// expanding subnet entries into their usable host addresses one at a
// time. Not safe for concurrent use; the owning Network serializes
// access.
type addressCycle struct {
	addresses []Address
	idx       int
	cur       netip.Addr
	inSubnet  bool
}

func newAddressCycle(addresses []Address) *addressCycle {
	return &addressCycle{addresses: addresses}
}

// Next returns the next source address, or ok == false when no
// addresses are configured.
func (c *addressCycle) Next() (addr string, ok bool) {
	if len(c.addresses) == 0 {
		return "", false
	}
	for {
		entry := c.addresses[c.idx]
		if !entry.subnet {
			c.idx = (c.idx + 1) % len(c.addresses)
			return entry.addr.String(), true
		}
		if !c.inSubnet {
			c.cur = firstHost(entry.prefix)
			c.inSubnet = true
		} else {
			c.cur = c.cur.Next()
		}
		if isHost(entry.prefix, c.cur) {
			return c.cur.String(), true
		}
		c.inSubnet = false
		c.idx = (c.idx + 1) % len(c.addresses)
	}
}

// firstHost returns the first usable host address of a prefix. For
// IPv4 prefixes shorter than /31 the network address is skipped; for
// IPv6 prefixes shorter than /127 the subnet-router anycast address
// is skipped.
func firstHost(p netip.Prefix) netip.Addr {
	base := p.Addr()
	if base.Is4() && p.Bits() < 31 {
		return base.Next()
	}
	if base.Is6() && p.Bits() < 127 {
		return base.Next()
	}
	return base
}

// isHost reports whether a is a usable host address within p. The IPv4
// broadcast address of prefixes shorter than /31 is not usable.
func isHost(p netip.Prefix, a netip.Addr) bool {
	if !a.IsValid() || !p.Contains(a) {
		return false
	}
	if a.Is4() && p.Bits() < 31 && !p.Contains(a.Next()) {
		return false
	}
	return true
}

// A proxyCycle rotates every proxy pattern through its URL list, one
// independent cursor per pattern. Not safe for concurrent use; the
// owning Network serializes access.
type proxyCycle struct {
	groups  []ProxyGroup
	cursors []int
}

func newProxyCycle(groups []ProxyGroup) *proxyCycle {
	return &proxyCycle{groups: groups, cursors: make([]int, len(groups))}
}

// Next returns the pattern-to-proxy-URL mapping for one request,
// advancing every pattern's cursor. It returns nil when no proxies are
// configured.
func (c *proxyCycle) Next() map[string]string {
	if len(c.groups) == 0 {
		return nil
	}
	picks := make(map[string]string, len(c.groups))
	for i, g := range c.groups {
		picks[g.Pattern] = g.URLs[c.cursors[i]]
		c.cursors[i] = (c.cursors[i] + 1) % len(g.URLs)
	}
	return picks
}
