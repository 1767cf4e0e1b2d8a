package pricing

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torpedo-one/torpedo/internal/oracle"
	"github.com/torpedo-one/torpedo/pkg/models"
)

// defaultRates mirror the deployment defaults.
var defaultRates = Rates{
	CPUCentsHour:       100,
	GPUCentsHour:       1000,
	DiskCentsHourPerGB: 50,
	RAMCentsHourPerGB:  150,
}

func newTestEngine() *Engine {
	// $2000 per settlement unit at 8 decimals, 18 settlement decimals
	return New(defaultRates, 18, oracle.NewStatic(200000000000, 8))
}

func TestQuoteUSDCents(t *testing.T) {
	e := newTestEngine()

	tests := []struct {
		name string
		req  models.SessionRequest
		want int64
	}{
		{
			name: "calibration request",
			req: models.SessionRequest{
				CPUs: 3, GPUs: 1, DurationHours: 2,
				GPUType: models.GPUTypeConsumer, ServiceType: models.ServiceTypeCompute,
				DiskGB: 10, RAMGB: 2,
			},
			want: 4200, // $42
		},
		{
			name: "cpu only single hour",
			req:  models.SessionRequest{CPUs: 2, DurationHours: 1},
			want: 200,
		},
		{
			name: "duration scales linearly",
			req:  models.SessionRequest{CPUs: 2, DurationHours: 10},
			want: 2000,
		},
		{
			name: "gpu heavy",
			req:  models.SessionRequest{GPUs: 4, DurationHours: 3},
			want: 12000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.QuoteUSDCents(tt.req))
		})
	}
}

func TestQuote_ProviderIndependent(t *testing.T) {
	e := newTestEngine()
	req := models.SessionRequest{CPUs: 2, GPUs: 1, DurationHours: 1, DiskGB: 10, RAMGB: 2}

	first := e.QuoteUSDCents(req)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.QuoteUSDCents(req))
	}
}

func TestConvert_KnownValues(t *testing.T) {
	e := newTestEngine()
	quote, err := oracle.NewStatic(200000000000, 8).LatestPrice(context.Background())
	require.NoError(t, err)

	// $2000 buys exactly one settlement unit
	amount, err := e.ConvertToSettlement(200000, quote)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", amount.String())

	cents, err := e.ConvertToUSDCents(amount, quote)
	require.NoError(t, err)
	assert.Equal(t, int64(200000), cents)
}

func TestConvert_RoundTripWithinOneCent(t *testing.T) {
	e := newTestEngine()

	// An awkward price so truncation actually occurs
	quote, err := oracle.NewStatic(185023456789, 8).LatestPrice(context.Background())
	require.NoError(t, err)

	for _, cents := range []int64{0, 1, 42, 4200, 99999, 123456789} {
		amount, err := e.ConvertToSettlement(cents, quote)
		require.NoError(t, err)

		back, err := e.ConvertToUSDCents(amount, quote)
		require.NoError(t, err)

		assert.LessOrEqual(t, back, cents)
		assert.GreaterOrEqual(t, back, cents-1, "round trip of %d cents drifted more than one unit", cents)
	}
}

func TestConvert_ZeroPrice(t *testing.T) {
	e := newTestEngine()
	_, err := e.ConvertToSettlement(100, oracle.Quote{Value: big.NewInt(0), Decimals: 8})
	assert.ErrorIs(t, err, oracle.ErrNoPrice)

	_, err = e.ConvertToUSDCents(big.NewInt(1), oracle.Quote{})
	assert.ErrorIs(t, err, oracle.ErrNoPrice)
}

func TestConvert_NegativeUSD(t *testing.T) {
	e := newTestEngine()
	quote, _ := oracle.NewStatic(200000000000, 8).LatestPrice(context.Background())

	_, err := e.ConvertToSettlement(-1, quote)
	assert.Error(t, err)
}

func TestRequiredSettlement(t *testing.T) {
	e := newTestEngine()

	req := models.SessionRequest{
		CPUs: 3, GPUs: 1, DurationHours: 2,
		DiskGB: 10, RAMGB: 2,
	}

	amount, err := e.RequiredSettlement(context.Background(), req)
	require.NoError(t, err)

	// $42 at $2000/unit = 0.021 units = 21e15 base units
	assert.Equal(t, "21000000000000000", amount.String())
}

func TestRates_AreConfiguration(t *testing.T) {
	doubled := Rates{
		CPUCentsHour:       200,
		GPUCentsHour:       2000,
		DiskCentsHourPerGB: 100,
		RAMCentsHourPerGB:  300,
	}
	e := New(doubled, 18, oracle.NewStatic(200000000000, 8))

	req := models.SessionRequest{CPUs: 3, GPUs: 1, DurationHours: 2, DiskGB: 10, RAMGB: 2}
	assert.Equal(t, int64(8400), e.QuoteUSDCents(req))
}
