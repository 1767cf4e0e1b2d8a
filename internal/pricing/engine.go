// Package pricing converts resource requests into USD quotes and between USD
// and the settlement currency. Quotes are deterministic functions of the
// request and the configured per-unit rates; currency conversion is exact
// big-integer arithmetic with a single truncation at the final output, so
// round-trip error is bounded by one unit plus price-feed movement between
// the two reads.
package pricing

import (
	"context"
	"fmt"
	"math/big"

	"github.com/torpedo-one/torpedo/internal/oracle"
	"github.com/torpedo-one/torpedo/pkg/models"
)

// Rates are the per-unit USD rates, in cents per unit-hour. They are
// deployment constants injected from configuration, never hard-coded.
type Rates struct {
	CPUCentsHour       int64
	GPUCentsHour       int64
	DiskCentsHourPerGB int64
	RAMCentsHourPerGB  int64
}

// Engine quotes requests and converts between USD cents and settlement base
// units using the price oracle.
type Engine struct {
	rates              Rates
	settlementDecimals int
	oracle             oracle.PriceOracle
}

// New creates a pricing engine. settlementDecimals is the number of base
// units per settlement unit, as a power of ten (18 for wei-like currencies).
func New(rates Rates, settlementDecimals int, po oracle.PriceOracle) *Engine {
	return &Engine{
		rates:              rates,
		settlementDecimals: settlementDecimals,
		oracle:             po,
	}
}

// QuoteUSDCents returns the USD cost of serving the request, in cents. The
// quote depends only on the request and the configured rates, never on which
// provider ends up serving it.
func (e *Engine) QuoteUSDCents(req models.SessionRequest) int64 {
	perHour := int64(req.CPUs)*e.rates.CPUCentsHour +
		int64(req.GPUs)*e.rates.GPUCentsHour +
		int64(req.DiskGB)*e.rates.DiskCentsHourPerGB +
		int64(req.RAMGB)*e.rates.RAMCentsHourPerGB
	return perHour * int64(req.DurationHours)
}

// RequiredSettlement returns the settlement amount a client must attach to
// cover the request, at the oracle's current price.
func (e *Engine) RequiredSettlement(ctx context.Context, req models.SessionRequest) (*big.Int, error) {
	return e.ToSettlement(ctx, e.QuoteUSDCents(req))
}

// ToSettlement converts a USD amount in cents to settlement base units at
// the oracle's current price.
func (e *Engine) ToSettlement(ctx context.Context, usdCents int64) (*big.Int, error) {
	quote, err := e.oracle.LatestPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("read price oracle: %w", err)
	}
	return e.ConvertToSettlement(usdCents, quote)
}

// ToUSDCents converts settlement base units to USD cents at the oracle's
// current price.
func (e *Engine) ToUSDCents(ctx context.Context, amount *big.Int) (int64, error) {
	quote, err := e.oracle.LatestPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("read price oracle: %w", err)
	}
	return e.ConvertToUSDCents(amount, quote)
}

// ConvertToSettlement is the pure conversion at a fixed quote:
//
//	amount = usdCents * 10^(settlementDecimals + quoteDecimals) / (100 * price)
//
// Truncation happens exactly once, here.
func (e *Engine) ConvertToSettlement(usdCents int64, quote oracle.Quote) (*big.Int, error) {
	if quote.Value == nil || quote.Value.Sign() <= 0 {
		return nil, fmt.Errorf("convert %d cents: %w", usdCents, oracle.ErrNoPrice)
	}
	if usdCents < 0 {
		return nil, fmt.Errorf("convert negative USD amount %d", usdCents)
	}

	num := new(big.Int).Mul(big.NewInt(usdCents), pow10(e.settlementDecimals+quote.Decimals))
	den := new(big.Int).Mul(big.NewInt(100), quote.Value)
	return num.Quo(num, den), nil
}

// ConvertToUSDCents is the exact inverse of ConvertToSettlement at the same
// quote, up to one truncation unit.
func (e *Engine) ConvertToUSDCents(amount *big.Int, quote oracle.Quote) (int64, error) {
	if quote.Value == nil || quote.Value.Sign() <= 0 {
		return 0, fmt.Errorf("convert settlement amount: %w", oracle.ErrNoPrice)
	}
	if amount == nil || amount.Sign() < 0 {
		return 0, fmt.Errorf("convert nil or negative settlement amount")
	}

	num := new(big.Int).Mul(amount, quote.Value)
	num.Mul(num, big.NewInt(100))
	num.Quo(num, pow10(e.settlementDecimals+quote.Decimals))

	if !num.IsInt64() {
		return 0, fmt.Errorf("USD amount overflows: %s cents", num.String())
	}
	return num.Int64(), nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
