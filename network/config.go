// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package network

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Config is the parsed settings file: the outgoing block that
// parameterizes the default network, and the engine definitions bound
// to networks by NewRegistry.
type Config struct {
	Outgoing map[string]any
	Engines  []EngineSettings
}

// LoadConfig reads a settings file (YAML, JSON or TOML, by extension).
// Values can be overridden through OUTNET_-prefixed environment
// variables, e.g. OUTNET_OUTGOING_ENABLE_HTTP2=false.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("OUTNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("outnet/network: reading settings: %w", err)
	}

	cfg := &Config{Outgoing: v.GetStringMap("outgoing")}
	if cfg.Outgoing == nil {
		cfg.Outgoing = make(map[string]any)
	}

	engines, err := parseEngines(v.Get("engines"))
	if err != nil {
		return nil, err
	}
	cfg.Engines = engines
	return cfg, nil
}

// NewRegistryFromConfig is a convenience wrapper combining LoadConfig
// and NewRegistry.
func NewRegistryFromConfig(path string, logger *slog.Logger) (*Registry, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(cfg.Outgoing, cfg.Engines, logger)
}

func parseEngines(raw any) ([]EngineSettings, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("outnet/network: engines must be a list, got %T", raw)
	}
	engines := make([]EngineSettings, 0, len(list))
	for i, item := range list {
		attrs, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("outnet/network: engine %d must be a map, got %T", i, item)
		}
		name, _ := attrs["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("outnet/network: engine %d has no name", i)
		}
		es := EngineSettings{Name: name, Attrs: attrs}
		if sel, ok := attrs["network"]; ok {
			es.Network = sel
		}
		engines = append(engines, es)
	}
	return engines, nil
}
