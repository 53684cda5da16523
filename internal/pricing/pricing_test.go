package pricing

import (
	"context"
	"math/big"
	"testing"

	"github.com/fastlane-relay/gasless-relay/internal/relaytypes"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fixedGasPrice struct{ price *big.Int }

func (f fixedGasPrice) GasPrice(context.Context) (*big.Int, error) { return f.price, nil }

type fixedFetcher struct{ price float64 }

func (f fixedFetcher) Fetch(context.Context) (float64, error) { return f.price, nil }

func newTestEngine(t *testing.T, gasPriceWei int64, spot float64, markupPercent, minUSD, maxUSD float64) *Engine {
	t.Helper()
	oracle := NewOracle(fixedFetcher{price: spot}, nil)
	oracle.mu.Lock()
	oracle.spot = spot
	oracle.mu.Unlock()
	return New(fixedGasPrice{price: big.NewInt(gasPriceWei)}, oracle, Config{
		MarkupPercent: markupPercent,
		MinPriceUSD:   minUSD,
		MaxPriceUSD:   maxUSD,
	})
}

func TestPrice_MonotonicAcrossTiers(t *testing.T) {
	engine := newTestEngine(t, 5000*1_000_000_000, 0.15, 20, 0.005, 5.0)
	gas := big.NewInt(100000)

	slow, err := engine.Price(context.Background(), gas, relaytypes.TierSlow)
	require.NoError(t, err)
	normal, err := engine.Price(context.Background(), gas, relaytypes.TierNormal)
	require.NoError(t, err)
	fast, err := engine.Price(context.Background(), gas, relaytypes.TierFast)
	require.NoError(t, err)

	require.True(t, fast.FinalPriceUsd >= normal.FinalPriceUsd, "fast %.6f should be >= normal %.6f", fast.FinalPriceUsd, normal.FinalPriceUsd)
	require.True(t, normal.FinalPriceUsd >= slow.FinalPriceUsd, "normal %.6f should be >= slow %.6f", normal.FinalPriceUsd, slow.FinalPriceUsd)
}

func TestPrice_ClampedToConfiguredMax(t *testing.T) {
	// An enormous gas price should be clamped down to the configured ceiling.
	engine := newTestEngine(t, 500_000*1_000_000_000, 2000.0, 20, 0.005, 5.0)
	gas := big.NewInt(1_000_000)

	quote, err := engine.Price(context.Background(), gas, relaytypes.TierFast)
	require.NoError(t, err)
	require.LessOrEqual(t, quote.FinalPriceUsd, 5.0)
}

func TestPrice_ClampedToConfiguredFloor(t *testing.T) {
	// A near-zero cost should still clear the floor.
	engine := newTestEngine(t, 1, 0.0001, 20, 0.01, 5.0)
	gas := big.NewInt(21000)

	quote, err := engine.Price(context.Background(), gas, relaytypes.TierSlow)
	require.NoError(t, err)
	require.GreaterOrEqual(t, quote.FinalPriceUsd, absoluteMinUsd)
}

func TestPrice_UnknownTierDefaultsToNormal(t *testing.T) {
	engine := newTestEngine(t, 5000*1_000_000_000, 0.15, 20, 0.005, 5.0)
	gas := big.NewInt(100000)

	quote, err := engine.Price(context.Background(), gas, relaytypes.PriorityTier("bogus"))
	require.NoError(t, err)
	require.Equal(t, relaytypes.TierNormal, quote.Tier)
}

func TestPrice_FinalPriceRawMatchesStableString(t *testing.T) {
	engine := newTestEngine(t, 5000*1_000_000_000, 0.15, 20, 0.005, 5.0)
	gas := big.NewInt(100000)

	quote, err := engine.Price(context.Background(), gas, relaytypes.TierNormal)
	require.NoError(t, err)

	asDecimal, err := decimal.NewFromString(quote.FinalPriceStable)
	require.NoError(t, err)
	require.Equal(t, quote.FinalPriceRaw.String(), asDecimal.Shift(stablecoinDecimals).BigInt().String())
}

// TestBatchDiscount_FloorOf90Percent checks, in isolation, the decimal
// arithmetic the orchestrator's batch discount uses (restated here, not
// called): multiplying a raw price by 0.9 and truncating, never rounding.
func TestBatchDiscount_FloorOf90Percent(t *testing.T) {
	raw := big.NewInt(54000)
	discounted := decimal.NewFromBigInt(raw, 0).Mul(decimal.NewFromFloat(0.9)).Truncate(0).BigInt()
	require.Equal(t, big.NewInt(48600), discounted)
}
