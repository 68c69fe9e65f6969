// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/metaseek/outnet/netctx"
)

// ErrNetworkClosed is returned for requests on a closed network.
var ErrNetworkClosed = errors.New("outnet/network: network is closed")

// A Network owns the outgoing-traffic policy for one group of
// upstreams: source address and proxy rotation, a pool of clients
// keyed by their transport-affecting parameters, and the retry
// settings handed to every request context it creates.
//
// A Network is safe for concurrent use.
type Network struct {
	settings Settings
	logger   *slog.Logger

	rotateMu  sync.Mutex
	addresses *addressCycle
	proxies   *proxyCycle

	poolMu sync.RWMutex
	pool   map[clientKey]*httpClient

	creating singleflight.Group

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a Network from its settings. Settings are copied; later
// mutation of s does not affect the network.
func New(s Settings, logger *slog.Logger) *Network {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Network{
		settings:  s,
		logger:    logger.With("network", s.Name),
		addresses: newAddressCycle(s.Addresses),
		proxies:   newProxyCycle(s.Proxies),
		pool:      make(map[clientKey]*httpClient),
		closed:    make(chan struct{}),
	}
	if len(s.Addresses) == 0 && len(s.Proxies) == 0 {
		n.logger.Debug("no source addresses or proxies configured, using system egress")
	}
	return n
}

// Settings returns a copy of the network's settings.
func (n *Network) Settings() Settings {
	return n.settings
}

func (n *Network) isClosed() bool {
	select {
	case <-n.closed:
		return true
	default:
		return false
	}
}

// Close releases every pooled client. It is idempotent; requests
// already in flight finish, new ones fail with ErrNetworkClosed.
func (n *Network) Close() error {
	n.closeOnce.Do(func() {
		close(n.closed)
		n.poolMu.Lock()
		for key, c := range n.pool {
			c.Close()
			delete(n.pool, key)
		}
		n.poolMu.Unlock()
	})
	return nil
}

// Context returns a fresh request context carrying the network's retry
// strategy and budget accounting. A zero start means now; a zero
// budget means the default.
func (n *Network) Context(start time.Time, budget time.Duration) *netctx.Context {
	return netctx.New(n.settings.RetryStrategy, n.settings.Retries, n.factory(), start, budget)
}

func (n *Network) factory() netctx.ClientFactory {
	return func() (netctx.HTTPClient, error) {
		if n.isClosed() {
			return nil, ErrNetworkClosed
		}
		return &rotatedClient{n: n}, nil
	}
}

// Check verifies the network is usable at startup. For Tor networks it
// forces a client build, which probes Tor connectivity.
func (n *Network) Check(ctx context.Context) error {
	if !n.settings.UsingTorProxy {
		return nil
	}
	done := make(chan error, 1)
	go func() {
		_, _, err := n.getClient(n.settings.Verify, n.settings.MaxRedirects)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rotate advances both cursors and returns the picks for one client.
func (n *Network) rotate() (localAddr string, picks map[string]string) {
	n.rotateMu.Lock()
	defer n.rotateMu.Unlock()
	localAddr, _ = n.addresses.Next()
	picks = n.proxies.Next()
	return localAddr, picks
}

// getClient returns the pooled client for the next rotation step,
// building it when the pool has no live client under that key.
// Creation is exclusive per key so a burst of requests cannot build
// the same client twice.
func (n *Network) getClient(verify bool, maxRedirects int) (*httpClient, clientKey, error) {
	if n.isClosed() {
		return nil, clientKey{}, ErrNetworkClosed
	}
	localAddr, picks := n.rotate()
	key := clientKey{
		verify:       verify,
		maxRedirects: maxRedirects,
		localAddr:    localAddr,
		proxies:      proxiesKey(picks),
	}

	n.poolMu.RLock()
	c := n.pool[key]
	n.poolMu.RUnlock()
	if c != nil && !c.IsClosed() {
		return c, key, nil
	}

	flightKey := fmt.Sprintf("%t|%d|%s|%s", key.verify, key.maxRedirects, key.localAddr, key.proxies)
	v, err, _ := n.creating.Do(flightKey, func() (any, error) {
		n.poolMu.RLock()
		c := n.pool[key]
		n.poolMu.RUnlock()
		if c != nil && !c.IsClosed() {
			return c, nil
		}

		c, err := newHTTPClient(&n.settings, key, picks, n.logger)
		if err != nil {
			return nil, err
		}
		if n.settings.UsingTorProxy {
			if err := verifyTorProxy(c, key.proxies, n.logger); err != nil {
				c.Close()
				return nil, &ConfigError{Network: n.settings.Name, Setting: "using_tor_proxy", Err: err}
			}
		}

		n.poolMu.Lock()
		n.pool[key] = c
		n.poolMu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, clientKey{}, err
	}
	return v.(*httpClient), key, nil
}

func (n *Network) resolve(req *netctx.Request) (verify bool, maxRedirects int) {
	verify = n.settings.Verify
	if req.Verify != nil {
		verify = *req.Verify
	}
	maxRedirects = n.settings.MaxRedirects
	if req.MaxRedirects != nil {
		maxRedirects = *req.MaxRedirects
	}
	return verify, maxRedirects
}

// A rotatedClient is the per-context view of a network's pool. It
// picks a pooled client on first use and sticks to it, so a
// same-client retry strategy really does reuse the transport; closing
// it closes the underlying pooled client, which forces the pool to
// rebuild it and reconnect.
type rotatedClient struct {
	n *Network

	mu     sync.Mutex
	key    clientKey
	cur    *httpClient
	closed bool
}

func (r *rotatedClient) Send(req *netctx.Request) (*netctx.Response, error) {
	verify, maxRedirects := r.n.resolve(req)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errClientClosed
	}
	c := r.cur
	if c == nil || c.IsClosed() || r.key.verify != verify || r.key.maxRedirects != maxRedirects {
		var err error
		c, r.key, err = r.n.getClient(verify, maxRedirects)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		r.cur = c
	}
	r.mu.Unlock()

	return c.Send(req)
}

func (r *rotatedClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.cur != nil {
		return r.cur.Close()
	}
	return nil
}

func (r *rotatedClient) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
