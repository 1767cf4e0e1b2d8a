package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/torpedo-one/torpedo/internal/metrics"
)

const (
	defaultFeedTimeout = 10 * time.Second
	maxFeedBody        = 1 << 16
)

// FeedClient is a PriceOracle backed by an external HTTP price feed. The
// feed serves JSON of the form {"price": "200000000000", "decimals": 8,
// "updated_at": "..."}, with the price as a decimal string so feeds are not
// bound by int64.
type FeedClient struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// FeedOption configures the feed client
type FeedOption func(*FeedClient)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) FeedOption {
	return func(c *FeedClient) {
		c.httpClient = client
	}
}

// WithMinGap sets the minimum spacing between feed requests
func WithMinGap(d time.Duration) FeedOption {
	return func(c *FeedClient) {
		if d > 0 {
			c.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// NewFeedClient creates a price feed client for the given endpoint.
func NewFeedClient(url string, opts ...FeedOption) *FeedClient {
	c := &FeedClient{
		url:        url,
		httpClient: &http.Client{Timeout: defaultFeedTimeout},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type feedResponse struct {
	Price     string    `json:"price"`
	Decimals  int       `json:"decimals"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LatestPrice fetches the current price from the feed. The call is
// synchronous and context-cancellable; retry policy belongs to the caller's
// deployment, not this layer.
func (c *FeedClient) LatestPrice(ctx context.Context) (Quote, error) {
	start := time.Now()
	quote, err := c.fetch(ctx)
	metrics.RecordOracleRead(quote.USD(), time.Since(start), err)
	return quote, err
}

func (c *FeedClient) fetch(ctx context.Context) (Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Quote{}, fmt.Errorf("price feed rate wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build price feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("price feed request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBody))
	if err != nil {
		return Quote{}, fmt.Errorf("read price feed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("price feed returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var fr feedResponse
	if err := json.Unmarshal(body, &fr); err != nil {
		return Quote{}, fmt.Errorf("decode price feed response: %w", err)
	}

	value, ok := new(big.Int).SetString(fr.Price, 10)
	if !ok {
		return Quote{}, fmt.Errorf("price feed returned malformed price %q", fr.Price)
	}
	if value.Sign() <= 0 {
		return Quote{}, fmt.Errorf("price feed returned %s: %w", fr.Price, ErrNoPrice)
	}
	if fr.Decimals < 0 || fr.Decimals > 30 {
		return Quote{}, fmt.Errorf("price feed returned unreasonable decimals %d", fr.Decimals)
	}

	at := fr.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}

	return Quote{Value: value, Decimals: fr.Decimals, At: at}, nil
}
