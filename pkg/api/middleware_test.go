package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitMiddleware(t *testing.T) {
	// Setup limiter: 1 req/sec, burst 2
	limiter := NewGlobalRateLimiter(1, 2)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ts := httptest.NewServer(handler)
	defer ts.Close()

	client := ts.Client()

	// Bursts: 2 allowed immediately
	for i := 0; i < 2; i++ {
		resp, err := client.Get(ts.URL)
		if err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
		assert.Equal(t, http.StatusOK, resp.StatusCode, "Within burst limit")
		assert.NoError(t, resp.Body.Close())
	}

	// 3rd request exceeds the burst; with Limit 1 a token takes a second.
	resp, err := client.Get(ts.URL)
	if err != nil {
		t.Fatalf("Request 3 failed: %v", err)
	}
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, "Exceeded burst")
	assert.NoError(t, resp.Body.Close())

	// Wait 1.1s for token refill
	time.Sleep(1100 * time.Millisecond)

	resp, err = client.Get(ts.URL)
	if err != nil {
		t.Fatalf("Request 4 failed: %v", err)
	}
	assert.Equal(t, http.StatusOK, resp.StatusCode, "Refilled token")
	assert.NoError(t, resp.Body.Close())
}

func TestNodeRateLimiter_IsolatesNodes(t *testing.T) {
	limiter := NewNodeRateLimiter(1, 1)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	request := func(nodeID string) int {
		req := httptest.NewRequest("POST", "/v1/inbox/lender", nil)
		req = req.WithContext(WithNodeID(req.Context(), nodeID))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, request("node-1"))
	assert.Equal(t, http.StatusTooManyRequests, request("node-1"))
	// A different node has its own bucket.
	assert.Equal(t, http.StatusOK, request("node-2"))
}

func TestNodeRateLimiter_PassthroughWithoutIdentity(t *testing.T) {
	limiter := NewNodeRateLimiter(1, 1)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/v1/nodes", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
