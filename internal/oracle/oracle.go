package oracle

import (
	"context"
	"errors"
	"math"
	"math/big"
	"time"
)

// ErrNoPrice is returned when the oracle has no usable price.
var ErrNoPrice = errors.New("no price available")

// Quote is one observation of the settlement currency's USD price. Value is
// the price scaled by 10^Decimals, the convention used by on-chain
// aggregator feeds.
type Quote struct {
	Value    *big.Int
	Decimals int
	At       time.Time
}

// USD returns the quote as a float, for display and metrics only. Pricing
// arithmetic must use Value/Decimals directly.
func (q Quote) USD() float64 {
	if q.Value == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(q.Value),
		big.NewFloat(math.Pow10(q.Decimals)),
	).Float64()
	return f
}

// PriceOracle reports the current USD price of one settlement unit. The
// source is an external collaborator: a live feed in production, a fixed
// value in local and test deployments.
type PriceOracle interface {
	LatestPrice(ctx context.Context) (Quote, error)
}

// Static is a PriceOracle serving a fixed price. It stands in for the mock
// aggregator used on local networks.
type Static struct {
	value    *big.Int
	decimals int
}

// NewStatic creates a fixed-price oracle.
func NewStatic(value int64, decimals int) *Static {
	return &Static{value: big.NewInt(value), decimals: decimals}
}

// LatestPrice returns the configured price.
func (s *Static) LatestPrice(_ context.Context) (Quote, error) {
	if s.value == nil || s.value.Sign() <= 0 {
		return Quote{}, ErrNoPrice
	}
	return Quote{
		Value:    new(big.Int).Set(s.value),
		Decimals: s.decimals,
		At:       time.Now(),
	}, nil
}
