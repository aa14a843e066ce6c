package infra

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, rl.Wait(ctx))
	assert.NoError(t, rl.Wait(ctx))
	assert.Error(t, rl.Wait(ctx), "third request must wait past the deadline")
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 100; i++ {
		require.NoError(t, rl.Wait(ctx))
	}
	var nilRL *RateLimiter
	assert.NoError(t, nilRL.Wait(context.Background()))
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	require.NoError(t, rl.Wait(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx))
}

func TestHTTPClientGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/value", r.URL.Path)
		assert.Equal(t, "62701", r.URL.Query().Get("zip"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Contains(t, r.Header.Get("User-Agent"), "arvscout")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price": 250000}`))
	}))
	defer srv.Close()

	c := NewHTTPClient("test", HTTPOptions{BaseURL: srv.URL, Headers: map[string]string{"X-Api-Key": "secret"}})
	var out struct {
		Price float64 `json:"price"`
	}
	err := c.GetJSON(context.Background(), "/v1/value", map[string]string{"zip": "62701"}, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, 250000.0, out.Price)
}

func TestHTTPClientStatusErrors(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()
	c := NewHTTPClient("test", HTTPOptions{BaseURL: srv.URL})

	_, err := c.Get(context.Background(), "/x", nil, nil)
	var he *HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, 503, he.StatusCode)
	assert.True(t, IsTemporary(err))

	status = http.StatusUnauthorized
	_, err = c.Get(context.Background(), "/x", nil, nil)
	assert.False(t, IsTemporary(err))
	assert.False(t, IsNotFound(err))

	status = http.StatusNotFound
	_, err = c.Get(context.Background(), "/x", nil, nil)
	assert.True(t, IsNotFound(err))

	status = http.StatusTooManyRequests
	_, err = c.Get(context.Background(), "/x", nil, nil)
	assert.True(t, IsTemporary(err))
}

func TestHTTPClientDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()
	c := NewHTTPClient("test", HTTPOptions{BaseURL: srv.URL})
	var out map[string]any
	err := c.GetJSON(context.Background(), "/", nil, nil, &out)
	require.Error(t, err)
	assert.True(t, IsTemporary(err), "decode failures are retried")
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug", "json")
	require.NoError(t, err)
	assert.NotNil(t, l)

	l, err = NewLogger("INFO", "text")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)
}
