// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package network

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/metaseek/outnet/netctx"
)

// torProbeURL answers whether the caller reaches it through a Tor
// exit node.
const torProbeURL = "https://check.torproject.org/api/ip"

const torProbeTimeout = 30 * time.Second

// Probe results are cached per proxy set: every rotation step over the
// same proxies would otherwise re-probe on first use.
var torChecked = struct {
	sync.Mutex
	ok map[string]bool
}{ok: make(map[string]bool)}

// verifyTorProxy confirms that traffic through the client really exits
// via Tor. The result is cached for the proxy set identified by
// proxiesID.
func verifyTorProxy(c *httpClient, proxiesID string, logger *slog.Logger) error {
	torChecked.Lock()
	ok := torChecked.ok[proxiesID]
	torChecked.Unlock()
	if ok {
		return nil
	}

	res, err := c.Send(&netctx.Request{
		Method:          http.MethodGet,
		URL:             torProbeURL,
		Timeout:         torProbeTimeout,
		FollowRedirects: true,
	})
	if err != nil {
		return fmt.Errorf("tor connectivity check failed: %w", err)
	}
	defer res.Close()
	if !res.OK() {
		return fmt.Errorf("tor connectivity check failed: %s", res.Status)
	}

	var payload struct {
		IsTor bool   `json:"IsTor"`
		IP    string `json:"IP"`
	}
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return fmt.Errorf("tor connectivity check: unexpected response: %w", err)
	}
	if !payload.IsTor {
		return fmt.Errorf("traffic does not exit via tor (exit IP %s)", payload.IP)
	}

	logger.Debug("tor connectivity verified", "exit_ip", payload.IP)
	torChecked.Lock()
	torChecked.ok[proxiesID] = true
	torChecked.Unlock()
	return nil
}
