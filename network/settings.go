// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package network

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/metaseek/outnet/netctx"
)

// A ConfigError reports invalid network configuration. It is fatal for
// the affected network: it aborts registry initialization and is never
// retried.
type ConfigError struct {
	Network string
	Setting string
	Err     error
}

func (e *ConfigError) Error() string {
	name := e.Network
	if name == "" {
		name = "<unnamed>"
	}
	if e.Setting == "" {
		return fmt.Sprintf("outnet/network: network %q: %v", name, e.Err)
	}
	return fmt.Sprintf("outnet/network: network %q: setting %q: %v", name, e.Setting, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// An Address is one configured egress source: either a single IP
// address or a whole subnet whose host addresses are rotated through.
type Address struct {
	addr   netip.Addr
	prefix netip.Prefix
	subnet bool
}

// ParseAddress parses a source address in either plain ("192.168.1.5")
// or CIDR ("192.168.0.0/30") notation.
func ParseAddress(s string) (Address, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return Address{}, err
		}
		return Address{prefix: p.Masked(), subnet: true}, nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return Address{}, err
	}
	return Address{addr: a}, nil
}

// MustParseAddress is ParseAddress for statically known inputs; it
// panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsSubnet reports whether the address is a CIDR entry.
func (a Address) IsSubnet() bool {
	return a.subnet
}

func (a Address) String() string {
	if a.subnet {
		return a.prefix.String()
	}
	return a.addr.String()
}

// A ProxyGroup is one proxy pattern with the list of proxy URLs rotated
// through for requests matching that pattern.
type ProxyGroup struct {
	// Pattern is a URL prefix such as "all://", "https://" or
	// "https://example.org".
	Pattern string
	// URLs are the proxy URLs for the pattern, rotated round-robin.
	URLs []string
}

// A StatusRule decides whether a response status code triggers a
// retry. The zero value never matches.
type StatusRule struct {
	mode   ruleMode
	status int
	set    map[int]struct{}
}

type ruleMode int

const (
	ruleNone ruleMode = iota
	ruleAnyError
	ruleExact
	ruleSet
)

// RetryOnAnyError returns a rule matching every status in [400, 599].
func RetryOnAnyError() StatusRule {
	return StatusRule{mode: ruleAnyError}
}

// RetryOnStatus returns a rule matching exactly the given status codes.
func RetryOnStatus(statuses ...int) StatusRule {
	if len(statuses) == 1 {
		return StatusRule{mode: ruleExact, status: statuses[0]}
	}
	set := make(map[int]struct{}, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return StatusRule{mode: ruleSet, set: set}
}

// Matches reports whether status triggers a retry under the rule.
func (r StatusRule) Matches(status int) bool {
	switch r.mode {
	case ruleAnyError:
		return status >= 400 && status <= 599
	case ruleExact:
		return status == r.status
	case ruleSet:
		_, ok := r.set[status]
		return ok
	default:
		return false
	}
}

// Empty reports whether the rule never matches.
func (r StatusRule) Empty() bool {
	return r.mode == ruleNone
}

func (r StatusRule) String() string {
	switch r.mode {
	case ruleAnyError:
		return "4xx-5xx"
	case ruleExact:
		return fmt.Sprintf("%d", r.status)
	case ruleSet:
		statuses := make([]int, 0, len(r.set))
		for s := range r.set {
			statuses = append(statuses, s)
		}
		sort.Ints(statuses)
		return strings.Trim(strings.Join(strings.Fields(fmt.Sprint(statuses)), ","), "[]")
	default:
		return "none"
	}
}

// Settings parameterize one Network. The zero value is not useful;
// start from DefaultSettings.
type Settings struct {
	// Name identifies the network within a registry and names its
	// logger.
	Name string

	// Verify enables TLS certificate verification.
	Verify bool
	// CACert optionally points at a CA bundle file used instead of the
	// system roots when Verify is on.
	CACert string

	// EnableHTTP permits plain http:// requests. Off by default so
	// unencrypted upstream traffic has to be opted into.
	EnableHTTP bool
	// EnableHTTP2 negotiates HTTP/2 with upstreams that support it.
	EnableHTTP2 bool

	// MaxConnections bounds the concurrent connections per client.
	MaxConnections int
	// MaxKeepaliveConnections bounds the idle kept-alive connections
	// per client.
	MaxKeepaliveConnections int
	// KeepaliveExpiry is how long an idle connection is kept around.
	KeepaliveExpiry time.Duration

	// MaxRedirects bounds redirect following per request.
	MaxRedirects int

	// Addresses are the egress source IPs/subnets rotated through.
	Addresses []Address
	// Proxies are the proxy pattern groups rotated through.
	Proxies []ProxyGroup
	// UsingTorProxy marks the proxies as Tor entry points; clients are
	// only handed out after Tor connectivity has been verified.
	UsingTorProxy bool

	// Retries is the number of additional attempts after the first.
	Retries int
	// RetryStrategy selects how failed attempts are repeated.
	RetryStrategy netctx.Strategy
	// RetryOnStatus is the retry-triggering status rule.
	RetryOnStatus StatusRule
}

// DefaultSettings returns the built-in network defaults.
func DefaultSettings() Settings {
	return Settings{
		Verify:                  true,
		EnableHTTP:              false,
		EnableHTTP2:             true,
		MaxConnections:          10,
		MaxKeepaliveConnections: 100,
		KeepaliveExpiry:         5 * time.Second,
		MaxRedirects:            30,
		RetryStrategy:           netctx.RetryNewClient,
	}
}

// proxyPatternAliases maps requests-style proxy keys to URL-prefix
// patterns, for compatibility with configurations written for the
// older stack.
var proxyPatternAliases = map[string]string{
	"http":     "http://",
	"https":    "https://",
	"socks4":   "socks4://",
	"socks5":   "socks5://",
	"socks5h":  "socks5h://",
	"http:":    "http://",
	"https:":   "https://",
	"socks4:":  "socks4://",
	"socks5:":  "socks5://",
	"socks5h:": "socks5h://",
}

// DecodeSettings applies a loosely-typed configuration map, as produced
// by the settings loader, on top of base. Unknown keys are ignored so
// engine definitions can mix network settings with engine-only ones.
func DecodeSettings(name string, base Settings, raw map[string]any) (Settings, error) {
	s := base
	s.Name = name

	fail := func(setting string, err error) (Settings, error) {
		return Settings{}, &ConfigError{Network: name, Setting: setting, Err: err}
	}

	for key, value := range raw {
		if value == nil {
			continue
		}
		var err error
		switch key {
		case "verify":
			// verify: false | true | path-to-ca-bundle
			if path, ok := value.(string); ok {
				s.Verify = true
				s.CACert = path
				continue
			}
			s.Verify, err = cast.ToBoolE(value)
		case "enable_http":
			s.EnableHTTP, err = cast.ToBoolE(value)
		case "enable_http2":
			s.EnableHTTP2, err = cast.ToBoolE(value)
		case "max_redirects":
			s.MaxRedirects, err = cast.ToIntE(value)
		case "pool_connections", "max_connections":
			s.MaxConnections, err = cast.ToIntE(value)
		case "pool_maxsize", "max_keepalive_connections":
			s.MaxKeepaliveConnections, err = cast.ToIntE(value)
		case "keepalive_expiry":
			s.KeepaliveExpiry, err = decodeDuration(value)
		case "source_ips", "local_addresses":
			s.Addresses, err = decodeAddresses(value)
		case "proxies":
			s.Proxies, err = decodeProxies(value)
		case "using_tor_proxy":
			s.UsingTorProxy, err = cast.ToBoolE(value)
		case "retries":
			s.Retries, err = cast.ToIntE(value)
		case "retry_strategy":
			var strategyName string
			strategyName, err = cast.ToStringE(value)
			if err == nil {
				s.RetryStrategy, err = netctx.ParseStrategy(strategyName)
			}
		case "retry_on_http_error":
			s.RetryOnStatus, err = decodeStatusRule(value)
		default:
			// Not a network setting; engine definitions carry extra keys.
			continue
		}
		if err != nil {
			return fail(key, err)
		}
	}
	return s, nil
}

func decodeDuration(value any) (time.Duration, error) {
	if text, ok := value.(string); ok {
		return time.ParseDuration(text)
	}
	seconds, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func decodeAddresses(value any) ([]Address, error) {
	var entries []string
	switch v := value.(type) {
	case string:
		entries = []string{v}
	default:
		var err error
		entries, err = cast.ToStringSliceE(value)
		if err != nil {
			return nil, fmt.Errorf("source IPs must be a string or a list of strings: %w", err)
		}
	}
	addresses := make([]Address, 0, len(entries))
	for _, entry := range entries {
		a, err := ParseAddress(entry)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, a)
	}
	return addresses, nil
}

func decodeProxies(value any) ([]ProxyGroup, error) {
	switch v := value.(type) {
	case string:
		// proxies: socks5h://localhost:4000
		return []ProxyGroup{{Pattern: "all://", URLs: []string{v}}}, nil
	case []any:
		// proxies: [socks5h://host:4000, socks5h://host:5000]
		urls, err := cast.ToStringSliceE(v)
		if err != nil {
			return nil, err
		}
		return []ProxyGroup{{Pattern: "all://", URLs: urls}}, nil
	case map[string]any:
		groups := make([]ProxyGroup, 0, len(v))
		for pattern, urlsValue := range v {
			if alias, ok := proxyPatternAliases[pattern]; ok {
				pattern = alias
			}
			var urls []string
			if single, ok := urlsValue.(string); ok {
				urls = []string{single}
			} else {
				var err error
				urls, err = cast.ToStringSliceE(urlsValue)
				if err != nil {
					return nil, fmt.Errorf("proxy URLs for pattern %q: %w", pattern, err)
				}
			}
			if len(urls) == 0 {
				return nil, fmt.Errorf("proxy pattern %q has no URLs", pattern)
			}
			groups = append(groups, ProxyGroup{Pattern: pattern, URLs: urls})
		}
		// Map iteration order is random; keep the groups deterministic.
		sort.Slice(groups, func(i, j int) bool { return groups[i].Pattern < groups[j].Pattern })
		return groups, nil
	default:
		return nil, fmt.Errorf("proxies must be a string, a list or a map, got %T", value)
	}
}

func decodeStatusRule(value any) (StatusRule, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return RetryOnAnyError(), nil
		}
		return StatusRule{}, nil
	case int:
		return RetryOnStatus(v), nil
	case int64:
		return RetryOnStatus(int(v)), nil
	case float64:
		return RetryOnStatus(int(v)), nil
	case []any:
		statuses := make([]int, 0, len(v))
		for _, item := range v {
			status, err := cast.ToIntE(item)
			if err != nil {
				return StatusRule{}, fmt.Errorf("retry status must be an integer: %w", err)
			}
			statuses = append(statuses, status)
		}
		return RetryOnStatus(statuses...), nil
	default:
		// The older stack silently retried everything here; that was a
		// foot-gun, so an unsupported type is a hard error instead.
		return StatusRule{}, fmt.Errorf("retry_on_http_error must be a bool, an integer or a list, got %T", value)
	}
}
