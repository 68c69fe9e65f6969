// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package network

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaseek/outnet/netctx"
)

func TestNewRegistry(t *testing.T) {
	t.Run("Builtins", func(t *testing.T) {
		r, err := NewRegistry(nil, nil, nil)
		require.NoError(t, err)
		defer r.Close()

		assert.Equal(t, []string{"autocomplete", "default", "image_proxy", "ipv4", "ipv6"}, r.Names())

		ipv4 := r.Get("ipv4").Settings()
		require.Len(t, ipv4.Addresses, 1)
		assert.Equal(t, "0.0.0.0", ipv4.Addresses[0].String())

		ipv6 := r.Get("ipv6").Settings()
		require.Len(t, ipv6.Addresses, 1)
		assert.Equal(t, "::", ipv6.Addresses[0].String())

		assert.False(t, r.Get("image_proxy").Settings().EnableHTTP2)
		assert.True(t, r.Get("autocomplete").Settings().EnableHTTP2)
	})
	t.Run("OutgoingDefaultsPropagate", func(t *testing.T) {
		r, err := NewRegistry(map[string]any{
			"enable_http2": false,
			"retries":      3,
		}, nil, nil)
		require.NoError(t, err)
		defer r.Close()

		for _, name := range r.Names() {
			s := r.Get(name).Settings()
			assert.False(t, s.EnableHTTP2, name)
			assert.Equal(t, 3, s.Retries, name)
		}
	})
	t.Run("DeclaredNetworks", func(t *testing.T) {
		r, err := NewRegistry(map[string]any{
			"networks": map[string]any{
				"onion": map[string]any{
					"proxies":         "socks5h://127.0.0.1:9050",
					"using_tor_proxy": true,
				},
			},
		}, nil, nil)
		require.NoError(t, err)
		defer r.Close()

		onion, ok := r.Lookup("onion")
		require.True(t, ok)
		assert.True(t, onion.Settings().UsingTorProxy)
		require.Len(t, onion.Settings().Proxies, 1)
	})
	t.Run("EngineReference", func(t *testing.T) {
		r, err := NewRegistry(nil, []EngineSettings{
			{Name: "wikipedia", Network: "ipv6"},
		}, nil)
		require.NoError(t, err)
		defer r.Close()

		assert.Same(t, r.Get("ipv6"), r.Get("wikipedia"), "a reference shares the network")
	})
	t.Run("EngineInline", func(t *testing.T) {
		r, err := NewRegistry(nil, []EngineSettings{
			{Name: "example", Network: map[string]any{"max_redirects": 1}},
		}, nil)
		require.NoError(t, err)
		defer r.Close()

		assert.NotSame(t, r.Get("default"), r.Get("example"))
		assert.Equal(t, 1, r.Get("example").Settings().MaxRedirects)
	})
	t.Run("EngineLegacyAttrs", func(t *testing.T) {
		r, err := NewRegistry(nil, []EngineSettings{
			{Name: "legacy", Attrs: map[string]any{
				"shortcut":    "lg",
				"enable_http": true,
				"retries":     2,
			}},
		}, nil)
		require.NoError(t, err)
		defer r.Close()

		s := r.Get("legacy").Settings()
		assert.True(t, s.EnableHTTP)
		assert.Equal(t, 2, s.Retries)
	})
	t.Run("UnknownReference", func(t *testing.T) {
		_, err := NewRegistry(nil, []EngineSettings{
			{Name: "broken", Network: "no-such-network"},
		}, nil)
		var ce *ConfigError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "broken", ce.Network)
	})
	t.Run("InvalidEngineSetting", func(t *testing.T) {
		_, err := NewRegistry(nil, []EngineSettings{
			{Name: "broken", Attrs: map[string]any{"retry_on_http_error": "yes please"}},
		}, nil)
		var ce *ConfigError
		require.ErrorAs(t, err, &ce)
	})
}

func TestRegistryGetFallback(t *testing.T) {
	r, err := NewRegistry(nil, nil, nil)
	require.NoError(t, err)
	defer r.Close()

	assert.Same(t, r.Get("default"), r.Get(""))
	assert.Same(t, r.Get("default"), r.Get("nonexistent"))

	_, ok := r.Lookup("nonexistent")
	assert.False(t, ok)
}

func TestRegistryCheckAll(t *testing.T) {
	// No tor networks configured, so the check is a no-op success.
	r, err := NewRegistry(nil, nil, nil)
	require.NoError(t, err)
	defer r.Close()
	assert.NoError(t, r.CheckAll(context.Background()))
}

func TestRegistryClose(t *testing.T) {
	r, err := NewRegistry(nil, []EngineSettings{{Name: "wiki", Network: "ipv4"}}, nil)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close(), "close is idempotent")

	_, err = r.Get("wiki").Context(time.Time{}, 0).Do(&netctx.Request{Method: "GET", URL: "http://localhost/"})
	assert.ErrorIs(t, err, ErrNetworkClosed)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
outgoing:
  enable_http2: false
  retries: 1
  networks:
    onion:
      proxies: socks5h://127.0.0.1:9050
engines:
  - name: wikipedia
    network: ipv6
  - name: example
    retries: 2
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, false, cfg.Outgoing["enable_http2"])
	require.Len(t, cfg.Engines, 2)
	assert.Equal(t, "wikipedia", cfg.Engines[0].Name)
	assert.Equal(t, "ipv6", cfg.Engines[0].Network)
	assert.Nil(t, cfg.Engines[1].Network)

	r, err := NewRegistry(cfg.Outgoing, cfg.Engines, nil)
	require.NoError(t, err)
	defer r.Close()

	onion, ok := r.Lookup("onion")
	require.True(t, ok)
	assert.False(t, onion.Settings().EnableHTTP2)
	assert.Equal(t, 2, r.Get("example").Settings().Retries)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
