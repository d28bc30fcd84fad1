package update

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/enrichd/internal/telemetry"
	"github.com/fyrsmithlabs/enrichd/internal/tenant"
)

var testTarget = tenant.Config{
	ID:             "acme",
	Name:           "Acme",
	ExternalSystem: "tickets.acme.example",
	ProjectKey:     "ACME",
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(baseURL, "sekrit", fastRetry(), nil, nil)
	require.NoError(t, err)
	return c
}

func TestApply_Success(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/tickets/TKT-1/context", r.URL.Path)
		assert.Equal(t, "acme", r.URL.Query().Get("tenant"))
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))

		var payload struct {
			Project string `json:"project"`
			Content string `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "ACME", payload.Project)
		assert.Equal(t, "enhanced context", payload.Content)

		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ok := newTestClient(t, srv.URL).Apply(context.Background(), testTarget, "TKT-1", "enhanced context")
	assert.True(t, ok)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestApply_RetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ok := newTestClient(t, srv.URL).Apply(context.Background(), testTarget, "TKT-1", "content")
	assert.True(t, ok)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestApply_ExhaustsAttempts(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ok := newTestClient(t, srv.URL).Apply(context.Background(), testTarget, "TKT-1", "content")
	assert.False(t, ok)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestApply_RejectionNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "no such ticket", http.StatusNotFound)
	}))
	defer srv.Close()

	ok := newTestClient(t, srv.URL).Apply(context.Background(), testTarget, "TKT-1", "content")
	assert.False(t, ok)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestApply_RateLimitIsRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ok := newTestClient(t, srv.URL).Apply(context.Background(), testTarget, "TKT-1", "content")
	assert.True(t, ok)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestApply_StopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "", RetryConfig{MaxAttempts: 3, InitialBackoff: time.Hour}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	ok := c.Apply(ctx, testTarget, "TKT-1", "content")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestApply_RejectionCountedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such ticket", http.StatusNotFound)
	}))
	defer srv.Close()

	m := telemetry.NewMetrics()
	c, err := NewClient(srv.URL, "", fastRetry(), nil, m)
	require.NoError(t, err)

	before := testutil.ToFloat64(m.UpdateRejectionsTotal)
	ok := c.Apply(context.Background(), testTarget, "TKT-1", "content")
	assert.False(t, ok)
	assert.Equal(t, before+1, testutil.ToFloat64(m.UpdateRejectionsTotal))
}

func TestApply_DeadContextNotCountedAsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := telemetry.NewMetrics()
	c, err := NewClient(srv.URL, "", fastRetry(), nil, m)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	before := testutil.ToFloat64(m.UpdateRejectionsTotal)
	ok := c.Apply(ctx, testTarget, "TKT-1", "content")
	assert.False(t, ok)
	assert.Equal(t, before, testutil.ToFloat64(m.UpdateRejectionsTotal))
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient("", "tok", RetryConfig{}, nil, nil)
	require.Error(t, err)
}

func TestRetryConfig_ApplyDefaults(t *testing.T) {
	var cfg RetryConfig
	cfg.ApplyDefaults()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.InitialBackoff)
}
