// Copyright 2026 The outnet Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package outnet

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaseek/outnet/netctx"
	"github.com/metaseek/outnet/network"
)

// testDispatcher builds a dispatcher whose networks accept plain http,
// as served by httptest.
func testDispatcher(t *testing.T, outgoing map[string]any) *Dispatcher {
	t.Helper()
	if outgoing == nil {
		outgoing = make(map[string]any)
	}
	if _, ok := outgoing["enable_http"]; !ok {
		outgoing["enable_http"] = true
	}
	outgoing["enable_http2"] = false
	reg, err := network.NewRegistry(outgoing, nil, nil)
	require.NoError(t, err)
	d := NewDispatcher(reg, nil)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDispatcherVerbs(t *testing.T) {
	type seen struct {
		method string
		body   string
		ct     string
	}
	var last atomic.Pointer[seen]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		last.Store(&seen{method: r.Method, body: string(b), ct: r.Header.Get("Content-Type")})
		w.Write([]byte("done"))
	}))
	defer srv.Close()

	d := testDispatcher(t, nil)

	t.Run("Get", func(t *testing.T) {
		res, err := d.Get(srv.URL)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, "done", string(res.Body))
		assert.Equal(t, http.MethodGet, last.Load().method)
	})
	t.Run("PostString", func(t *testing.T) {
		_, err := d.Post(srv.URL, "q=tardigrade", WithContentType("application/x-www-form-urlencoded"))
		require.NoError(t, err)
		assert.Equal(t, http.MethodPost, last.Load().method)
		assert.Equal(t, "q=tardigrade", last.Load().body)
		assert.Equal(t, "application/x-www-form-urlencoded", last.Load().ct)
	})
	t.Run("PostBytes", func(t *testing.T) {
		_, err := d.Post(srv.URL, []byte{0x01, 0x02})
		require.NoError(t, err)
		assert.Equal(t, "\x01\x02", last.Load().body)
	})
	t.Run("PostReader", func(t *testing.T) {
		_, err := d.Post(srv.URL, strings.NewReader("from a reader"))
		require.NoError(t, err)
		assert.Equal(t, "from a reader", last.Load().body)
	})
	t.Run("PostBadBodyType", func(t *testing.T) {
		_, err := d.Post(srv.URL, 42)
		require.EqualError(t, err, badBodyTypeMsg)
	})
	t.Run("PutPatchDelete", func(t *testing.T) {
		_, err := d.Put(srv.URL, "v1")
		require.NoError(t, err)
		assert.Equal(t, http.MethodPut, last.Load().method)

		_, err = d.Patch(srv.URL, "v2")
		require.NoError(t, err)
		assert.Equal(t, http.MethodPatch, last.Load().method)

		_, err = d.Delete(srv.URL)
		require.NoError(t, err)
		assert.Equal(t, http.MethodDelete, last.Load().method)
	})
	t.Run("Head", func(t *testing.T) {
		res, err := d.Head(srv.URL)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Empty(t, res.Body)
		assert.Equal(t, http.MethodHead, last.Load().method)
	})
	t.Run("Header", func(t *testing.T) {
		hdr := make(chan string, 1)
		hsrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hdr <- r.Header.Get("X-Probe")
		}))
		defer hsrv.Close()
		_, err := d.Get(hsrv.URL, WithHeader("X-Probe", "yes"))
		require.NoError(t, err)
		assert.Equal(t, "yes", <-hdr)
	})
}

func TestDispatcherRaiseForStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := testDispatcher(t, nil)

	res, err := d.Get(srv.URL)
	require.NoError(t, err, "statuses are not errors unless asked for")
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)

	_, err = d.Get(srv.URL, RaiseForStatus())
	var se *netctx.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, "too many requests", se.Reason)
}

func TestDispatcherNetworkRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("finally"))
	}))
	defer srv.Close()

	d := testDispatcher(t, map[string]any{
		"networks": map[string]any{
			"flaky": map[string]any{
				"retries":             2,
				"retry_on_http_error": []any{503},
			},
		},
	})

	res, err := d.Get(srv.URL, OnNetwork("flaky"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "finally", string(res.Body))
	assert.Equal(t, int32(3), hits.Load())
}

func TestDispatcherTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	d := testDispatcher(t, nil)

	start := time.Now()
	_, err := d.Get(srv.URL, WithTimeout(50*time.Millisecond))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "the budget, not the server, bounds the wait")
}

func TestDispatcherTimeoutWithRetries(t *testing.T) {
	// A hung upstream plus a retrying network must not stretch the call
	// past the caller's budget: the deadline is checked before every
	// attempt, not only when retries are exhausted.
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(1500 * time.Millisecond)
		w.Write([]byte("too late"))
	}))
	defer srv.Close()

	d := testDispatcher(t, map[string]any{
		"networks": map[string]any{
			"flaky": map[string]any{
				"retries":             2,
				"retry_on_http_error": []any{503},
			},
		},
	})

	start := time.Now()
	_, err := d.Get(srv.URL, OnNetwork("flaky"), WithTimeout(100*time.Millisecond))
	elapsed := time.Since(start)

	var budgetErr *netctx.BudgetError
	require.ErrorAs(t, err, &budgetErr)
	assert.Less(t, elapsed, time.Second, "retries do not outlive the declared budget")
	assert.Less(t, hits.Load(), int32(3), "the deadline wins before the retry counter")
}

func TestDispatcherStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("chunked content"))
	}))
	defer srv.Close()

	d := testDispatcher(t, nil)

	res, err := d.Stream(http.MethodGet, srv.URL)
	require.NoError(t, err)
	require.NotNil(t, res.Stream)
	b, err := io.ReadAll(res.Stream)
	require.NoError(t, err)
	assert.Equal(t, "chunked content", string(b))
	require.NoError(t, res.Close())
}

func TestMultiRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	d := testDispatcher(t, nil)

	t.Run("Empty", func(t *testing.T) {
		assert.Empty(t, d.MultiRequest(nil))
	})
	t.Run("OrderAndPartialFailure", func(t *testing.T) {
		results := d.MultiRequest([]BatchRequest{
			{Method: http.MethodGet, URL: srv.URL + "/a"},
			{Method: http.MethodGet, URL: "http://127.0.0.1:1/unreachable"},
			{Method: http.MethodPost, URL: srv.URL + "/b", Body: "payload"},
		})
		require.Len(t, results, 3)

		require.NoError(t, results[0].Err)
		assert.Equal(t, "/a", string(results[0].Response.Body))

		assert.Error(t, results[1].Err, "one failure does not disturb the batch")
		assert.Nil(t, results[1].Response)

		require.NoError(t, results[2].Err)
		assert.Equal(t, "/b", string(results[2].Response.Body))
	})
	t.Run("SharedBudget", func(t *testing.T) {
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(2 * time.Second)
		}))
		defer slow.Close()

		start := time.Now()
		results := d.MultiRequest([]BatchRequest{
			{Method: http.MethodGet, URL: srv.URL + "/fast"},
			{Method: http.MethodGet, URL: slow.URL},
		}, WithTimeout(100*time.Millisecond))
		assert.Less(t, time.Since(start), time.Second)

		require.NoError(t, results[0].Err)
		assert.Error(t, results[1].Err)
	})
}
