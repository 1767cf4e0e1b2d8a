package oracle

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic_LatestPrice(t *testing.T) {
	o := NewStatic(200000000000, 8)

	quote, err := o.LatestPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(200000000000), quote.Value)
	assert.Equal(t, 8, quote.Decimals)
	assert.InDelta(t, 2000.0, quote.USD(), 0.0001)
}

func TestStatic_ZeroPrice(t *testing.T) {
	o := NewStatic(0, 8)

	_, err := o.LatestPrice(context.Background())
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestFeedClient_LatestPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"price": "185023000000", "decimals": 8, "updated_at": "2024-01-15T10:00:00Z"}`))
	}))
	defer server.Close()

	c := NewFeedClient(server.URL, WithMinGap(0))

	quote, err := c.LatestPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "185023000000", quote.Value.String())
	assert.Equal(t, 8, quote.Decimals)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), quote.At)
}

func TestFeedClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewFeedClient(server.URL)

	_, err := c.LatestPrice(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestFeedClient_MalformedPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price": "not-a-number", "decimals": 8}`))
	}))
	defer server.Close()

	c := NewFeedClient(server.URL)

	_, err := c.LatestPrice(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "malformed price")
}

func TestFeedClient_NonPositivePrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price": "0", "decimals": 8}`))
	}))
	defer server.Close()

	c := NewFeedClient(server.URL)

	_, err := c.LatestPrice(context.Background())
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestFeedClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"price": "1", "decimals": 0}`))
	}))
	defer server.Close()

	c := NewFeedClient(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.LatestPrice(ctx)
	assert.Error(t, err)
}
