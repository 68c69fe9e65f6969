// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package network

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/metaseek/outnet/netctx"
)

// DefaultNetwork is the name of the network used when no other network
// is selected.
const DefaultNetwork = "default"

// Built-in networks created by every registry alongside the default:
// ipv4 and ipv6 force the address family of outgoing connections,
// image_proxy and autocomplete isolate those traffic classes from
// engine traffic.
var builtinNetworks = []string{"ipv4", "ipv6", "image_proxy", "autocomplete"}

// EngineSettings is the slice of an engine definition the registry
// cares about.
type EngineSettings struct {
	// Name is the engine name; it doubles as the network name when the
	// engine gets a network of its own.
	Name string
	// Network selects the engine's network: a string referencing a
	// shared network, a map[string]any inline definition, or nil to
	// derive one from Attrs.
	Network any
	// Attrs are the engine's raw settings. When Network is nil, any
	// network-relevant keys in here parameterize the engine's network.
	Attrs map[string]any
}

// A Registry owns a named set of networks: the default, the built-ins,
// the networks declared under outgoing.networks, and one per engine.
// All lookups after construction are read-only, so the registry is
// safe for concurrent use.
type Registry struct {
	logger    *slog.Logger
	networks  map[string]*Network
	closeOnce sync.Once
}

// NewRegistry builds all networks from the outgoing settings block and
// the engine definitions. Any configuration error aborts construction;
// networks built so far are closed.
func NewRegistry(outgoing map[string]any, engines []EngineSettings, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:   logger,
		networks: make(map[string]*Network),
	}

	defaults, err := DecodeSettings(DefaultNetwork, DefaultSettings(), outgoing)
	if err != nil {
		return nil, err
	}
	r.networks[DefaultNetwork] = New(defaults, logger)

	if err := r.addBuiltins(defaults); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.addDeclared(defaults, outgoing); err != nil {
		r.Close()
		return nil, err
	}
	for _, engine := range engines {
		if err := r.bindEngine(defaults, engine); err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) addBuiltins(defaults Settings) error {
	overrides := map[string]map[string]any{
		"ipv4": {"source_ips": "0.0.0.0"},
		"ipv6": {"source_ips": "::"},
		// Proxied media fetches go over HTTP/1.1.
		"image_proxy": {"enable_http2": false},
	}
	for _, name := range builtinNetworks {
		s, err := DecodeSettings(name, defaults, overrides[name])
		if err != nil {
			return err
		}
		r.networks[name] = New(s, r.logger)
	}
	return nil
}

func (r *Registry) addDeclared(defaults Settings, outgoing map[string]any) error {
	raw, ok := outgoing["networks"]
	if !ok || raw == nil {
		return nil
	}
	decls, ok := raw.(map[string]any)
	if !ok {
		return &ConfigError{Setting: "networks",
			Err: fmt.Errorf("networks must be a map, got %T", raw)}
	}
	for name, decl := range decls {
		def, ok := decl.(map[string]any)
		if !ok {
			return &ConfigError{Network: name,
				Err: fmt.Errorf("network definition must be a map, got %T", decl)}
		}
		s, err := DecodeSettings(name, defaults, def)
		if err != nil {
			return err
		}
		r.networks[name] = New(s, r.logger)
	}
	return nil
}

// bindEngine gives an engine its network: a shared one when referenced
// by name, a dedicated one otherwise.
func (r *Registry) bindEngine(defaults Settings, engine EngineSettings) error {
	switch sel := engine.Network.(type) {
	case nil:
		s, err := DecodeSettings(engine.Name, defaults, engine.Attrs)
		if err != nil {
			return err
		}
		r.networks[engine.Name] = New(s, r.logger)
	case string:
		shared, ok := r.networks[sel]
		if !ok {
			return &ConfigError{Network: engine.Name, Setting: "network",
				Err: fmt.Errorf("references unknown network %q", sel)}
		}
		r.networks[engine.Name] = shared
	case map[string]any:
		s, err := DecodeSettings(engine.Name, defaults, sel)
		if err != nil {
			return err
		}
		r.networks[engine.Name] = New(s, r.logger)
	default:
		return &ConfigError{Network: engine.Name, Setting: "network",
			Err: fmt.Errorf("network must be a name or a map, got %T", engine.Network)}
	}
	return nil
}

// Get returns the named network, falling back to the default for an
// empty or unknown name.
func (r *Registry) Get(name string) *Network {
	if n, ok := r.networks[name]; ok {
		return n
	}
	return r.networks[DefaultNetwork]
}

// Lookup returns the named network and whether it exists.
func (r *Registry) Lookup(name string) (*Network, bool) {
	n, ok := r.networks[name]
	return n, ok
}

// Names returns the sorted names of all registered networks.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.networks))
	for name := range r.networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Context returns a fresh request context on the named network.
func (r *Registry) Context(name string, start time.Time, budget time.Duration) *netctx.Context {
	return r.Get(name).Context(start, budget)
}

// CheckAll verifies every network concurrently and reports the first
// failure. Tor networks probe their proxies here rather than on the
// first user request.
func (r *Registry) CheckAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	seen := make(map[*Network]bool)
	for _, n := range r.networks {
		if seen[n] {
			continue
		}
		seen[n] = true
		n := n
		g.Go(func() error {
			return n.Check(ctx)
		})
	}
	return g.Wait()
}

// Close closes every network. Shared networks are closed once.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		seen := make(map[*Network]bool)
		for _, n := range r.networks {
			if !seen[n] {
				seen[n] = true
				n.Close()
			}
		}
	})
	return nil
}
