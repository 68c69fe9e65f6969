// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package network

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"

	"github.com/metaseek/outnet/netctx"
)

// ErrHTTPDisabled is returned, wrapped in a netctx.PermanentError, for
// plain http:// requests on a network that has not enabled them.
var ErrHTTPDisabled = errors.New("outnet/network: plain http is disabled for this network")

var errClientClosed = errors.New("outnet/network: client is closed")

// A clientKey identifies one pooled client. Two requests share a
// client exactly when their TLS verification, redirect limit, source
// address and proxy picks coincide.
type clientKey struct {
	verify       bool
	maxRedirects int
	localAddr    string
	proxies      string
}

// proxiesKey encodes a pattern-to-URL mapping canonically so it can be
// part of a map key.
func proxiesKey(picks map[string]string) string {
	if len(picks) == 0 {
		return ""
	}
	patterns := make([]string, 0, len(picks))
	for p := range picks {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	var b strings.Builder
	for i, p := range patterns {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p)
		b.WriteByte('=')
		b.WriteString(picks[p])
	}
	return b.String()
}

// followRedirectsKey carries the per-request redirect-following flag
// through to the shared redirect policy.
type followRedirectsKey struct{}

// An httpClient is one pooled client: a fixed transport stack bound to
// one source address and one set of proxy picks. It implements
// netctx.HTTPClient.
type httpClient struct {
	hc         *http.Client
	enableHTTP bool
	retryRule  StatusRule
	transports []*http.Transport
	closed     atomic.Bool
	logger     *slog.Logger
}

func newHTTPClient(s *Settings, key clientKey, picks map[string]string, logger *slog.Logger) (*httpClient, error) {
	tlsConfig, err := newTLSConfig(s, key.verify)
	if err != nil {
		return nil, err
	}

	c := &httpClient{
		enableHTTP: s.EnableHTTP,
		retryRule:  s.RetryOnStatus,
		logger:     logger,
	}

	build := func(proxyURL string) (*http.Transport, error) {
		t, err := newTransport(s, tlsConfig, key.localAddr, proxyURL)
		if err != nil {
			return nil, err
		}
		c.transports = append(c.transports, t)
		return t, nil
	}

	router := &transportRouter{}
	for pattern, proxyURL := range picks {
		t, err := build(proxyURL)
		if err != nil {
			return nil, err
		}
		if pattern == "all://" {
			router.fallback = t
			continue
		}
		entry, err := newRoute(pattern, t)
		if err != nil {
			return nil, err
		}
		router.entries = append(router.entries, entry)
	}
	if router.fallback == nil {
		t, err := build("")
		if err != nil {
			return nil, err
		}
		router.fallback = t
	}
	sort.SliceStable(router.entries, func(i, j int) bool {
		return router.entries[i].specificity() > router.entries[j].specificity()
	})

	maxRedirects := key.maxRedirects
	c.hc = &http.Client{
		Transport: router,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if follow, _ := req.Context().Value(followRedirectsKey{}).(bool); !follow {
				return http.ErrUseLastResponse
			}
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return c, nil
}

// Send performs one HTTP exchange. A status matching the network's
// retry rule comes back as a netctx.SoftRetryError carrying the
// buffered response; a failing status on a request that asked for
// status checking comes back as a netctx.StatusError.
func (c *httpClient) Send(req *netctx.Request) (*netctx.Response, error) {
	if c.closed.Load() {
		return nil, errClientClosed
	}
	if !c.enableHTTP && strings.EqualFold(urlScheme(req.URL), "http") {
		return nil, &netctx.PermanentError{Err: ErrHTTPDisabled}
	}

	ctx := context.WithValue(context.Background(), followRedirectsKey{}, req.FollowRedirects)
	cancel := context.CancelFunc(func() {})
	if req.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		cancel()
		return nil, &netctx.PermanentError{Err: err}
	}
	for name, values := range req.Header {
		hr.Header[name] = values
	}

	hres, err := c.hc.Do(hr)
	if err != nil {
		cancel()
		return nil, err
	}

	res := &netctx.Response{
		StatusCode: hres.StatusCode,
		Status:     hres.Status,
		Header:     hres.Header,
		URL:        hres.Request.URL,
		HTTP:       hres,
	}

	if req.Stream && !c.retryRule.Matches(hres.StatusCode) {
		res.Stream = &cancelReadCloser{rc: hres.Body, cancel: cancel}
		return c.finish(req, res)
	}

	res.Body, err = io.ReadAll(hres.Body)
	hres.Body.Close()
	cancel()
	if err != nil {
		return nil, err
	}
	return c.finish(req, res)
}

func (c *httpClient) finish(req *netctx.Request, res *netctx.Response) (*netctx.Response, error) {
	if c.retryRule.Matches(res.StatusCode) {
		c.logger.Debug("retryable status", "status", res.StatusCode, "url", req.URL)
		return nil, &netctx.SoftRetryError{Response: res}
	}
	if req.RaiseForStatus && !res.OK() {
		res.Close()
		return nil, netctx.NewStatusError(res)
	}
	return res, nil
}

// Close releases the client's idle connections. In-flight requests are
// allowed to finish.
func (c *httpClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	for _, t := range c.transports {
		t.CloseIdleConnections()
	}
	return nil
}

func (c *httpClient) IsClosed() bool {
	return c.closed.Load()
}

func urlScheme(rawURL string) string {
	if i := strings.Index(rawURL, "://"); i >= 0 {
		return rawURL[:i]
	}
	return ""
}

// A cancelReadCloser releases the request context when a streamed body
// is closed.
type cancelReadCloser struct {
	rc     io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelReadCloser) Read(p []byte) (int, error) {
	return r.rc.Read(p)
}

func (r *cancelReadCloser) Close() error {
	err := r.rc.Close()
	r.cancel()
	return err
}

// A transportRouter dispatches each request to the transport whose
// proxy pattern matches its URL, most specific pattern first, falling
// back to the direct (or all://) transport.
type transportRouter struct {
	entries  []route
	fallback http.RoundTripper
}

func (r *transportRouter) RoundTrip(req *http.Request) (*http.Response, error) {
	for _, e := range r.entries {
		if e.matches(req.URL) {
			return e.rt.RoundTrip(req)
		}
	}
	return r.fallback.RoundTrip(req)
}

// A route is one proxy pattern ("https://", "https://example.org")
// bound to a transport.
type route struct {
	scheme string
	host   string
	rt     http.RoundTripper
}

func newRoute(pattern string, rt http.RoundTripper) (route, error) {
	u, err := url.Parse(pattern)
	if err != nil {
		return route{}, fmt.Errorf("invalid proxy pattern %q: %w", pattern, err)
	}
	return route{scheme: u.Scheme, host: u.Host, rt: rt}, nil
}

func (e route) matches(u *url.URL) bool {
	if e.scheme != "all" && !strings.EqualFold(e.scheme, u.Scheme) {
		return false
	}
	if e.host == "" {
		return true
	}
	host := u.Hostname()
	return strings.EqualFold(host, e.host) || strings.HasSuffix(strings.ToLower(host), "."+strings.ToLower(e.host))
}

func (e route) specificity() int {
	n := 0
	if e.scheme != "all" {
		n++
	}
	if e.host != "" {
		n += 2
	}
	return n
}

func newTLSConfig(s *Settings, verify bool) (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: !verify}
	if verify && s.CACert != "" {
		pem, err := os.ReadFile(s.CACert)
		if err != nil {
			return nil, &ConfigError{Network: s.Name, Setting: "verify", Err: err}
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &ConfigError{Network: s.Name, Setting: "verify",
				Err: fmt.Errorf("no certificates found in %s", s.CACert)}
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// newTransport builds one transport bound to an optional source
// address and an optional proxy URL.
func newTransport(s *Settings, tlsConfig *tls.Config, localAddr, proxyURL string) (*http.Transport, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	if localAddr != "" {
		ip := net.ParseIP(localAddr)
		if ip == nil {
			return nil, &ConfigError{Network: s.Name, Setting: "source_ips",
				Err: fmt.Errorf("invalid source address %q", localAddr)}
		}
		dialer.LocalAddr = &net.TCPAddr{IP: ip}
	}

	t := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSClientConfig:     tlsConfig.Clone(),
		MaxConnsPerHost:     s.MaxConnections,
		MaxIdleConnsPerHost: s.MaxKeepaliveConnections,
		MaxIdleConns:        s.MaxKeepaliveConnections,
		IdleConnTimeout:     s.KeepaliveExpiry,
	}

	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, &ConfigError{Network: s.Name, Setting: "proxies", Err: err}
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			t.Proxy = http.ProxyURL(u)
		case "socks5", "socks5h":
			if err := configureSOCKS(t, u, dialer); err != nil {
				return nil, &ConfigError{Network: s.Name, Setting: "proxies", Err: err}
			}
		default:
			return nil, &ConfigError{Network: s.Name, Setting: "proxies",
				Err: fmt.Errorf("unsupported proxy scheme %q", u.Scheme)}
		}
	}

	if s.EnableHTTP2 {
		if err := http2.ConfigureTransport(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// configureSOCKS routes the transport's dials through a SOCKS5 proxy.
// The socks5h scheme hands hostnames to the proxy for resolution; the
// socks5 scheme resolves them locally first.
func configureSOCKS(t *http.Transport, u *url.URL, forward *net.Dialer) error {
	var auth *proxy.Auth
	if u.User != nil {
		password, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: password}
	}
	d, err := proxy.SOCKS5("tcp", u.Host, auth, forward)
	if err != nil {
		return err
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return fmt.Errorf("socks5 dialer does not support contexts")
	}

	if strings.EqualFold(u.Scheme, "socks5h") {
		t.DialContext = cd.DialContext
		return nil
	}
	t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		if net.ParseIP(host) == nil {
			ips, err := net.DefaultResolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			addr = net.JoinHostPort(ips[0], port)
		}
		return cd.DialContext(ctx, network, addr)
	}
	return nil
}
