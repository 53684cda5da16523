package pricing

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fastlane-relay/gasless-relay/internal/chain"
	"github.com/fastlane-relay/gasless-relay/internal/relaytypes"
	"github.com/shopspring/decimal"
)

func nowPlusValiditySeconds() time.Time {
	return time.Now().Add(quoteValiditySeconds * time.Second)
}

const (
	// quoteValiditySeconds is how long a PriceQuote remains honorable.
	quoteValiditySeconds = 60
	// gasEstimateBufferNumerator/Denominator apply the 20% safety margin
	// spec'd for every gas estimate this engine produces.
	gasEstimateBufferNumerator   = 6
	gasEstimateBufferDenominator = 5
	// absoluteMinUsd is the hard floor no tier's clamp may fall below.
	absoluteMinUsd = 0.005
	// stablecoinDecimals matches the EIP-3009 stablecoins this relay targets.
	stablecoinDecimals = 6
)

var weiPerEther = decimal.New(1, 18)
var weiPerGwei = decimal.New(1, 9)

// GasPriceSource is the narrow chain capability the pricing engine needs: the
// node's current suggested gas price.
type GasPriceSource interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

// GasEstimator is the narrow chain capability used to size a call before
// quoting it.
type GasEstimator interface {
	EstimateGas(ctx context.Context, call chain.CallParams) (uint64, error)
}

// Engine is the pure-computation pricing layer: gas estimate plus the
// current gas price plus the oracle's cached spot, turned into a quote.
type Engine struct {
	chain          GasPriceSource
	oracle         *Oracle
	markupPercent  float64
	minUsd         float64
	maxUsd         float64
	defaultGasUnit uint64
}

// Config bundles the operator-configured knobs the engine needs.
type Config struct {
	MarkupPercent  float64
	MinPriceUSD    float64
	MaxPriceUSD    float64
	DefaultGasUnit uint64 // used when EstimateGas fails
}

// New builds a pricing engine against a chain gas-price source and an
// already-running Oracle.
func New(chain GasPriceSource, oracle *Oracle, cfg Config) *Engine {
	if cfg.DefaultGasUnit == 0 {
		cfg.DefaultGasUnit = 150000
	}
	return &Engine{
		chain:          chain,
		oracle:         oracle,
		markupPercent:  cfg.MarkupPercent,
		minUsd:         cfg.MinPriceUSD,
		maxUsd:         cfg.MaxPriceUSD,
		defaultGasUnit: cfg.DefaultGasUnit,
	}
}

// EstimateGas simulates the call through estimator, adds a 20% safety
// buffer, and falls back to the engine's configured default if the node
// cannot estimate it (a common failure mode against contracts that revert
// under simulation for reasons unrelated to the real call).
func EstimateGas(ctx context.Context, estimator GasEstimator, from, to common.Address, data []byte, value *big.Int, fallback uint64) uint64 {
	gas, err := estimator.EstimateGas(ctx, chain.CallParams{From: from, To: to, Value: value, Data: data})
	if err != nil {
		return fallback
	}
	return gas + (gas / gasEstimateBufferDenominator) // +20%
}

// DefaultGasUnit is the fallback gas estimate used when the chain refuses to
// simulate a call.
func (e *Engine) DefaultGasUnit() uint64 { return e.defaultGasUnit }

// tierConfigOrDefault resolves a tier to its config, defaulting to normal
// for an unrecognized or empty value.
func tierConfigOrDefault(tier relaytypes.PriorityTier) (relaytypes.PriorityTier, relaytypes.TierConfig) {
	if cfg, ok := relaytypes.TierConfigs[tier]; ok {
		return tier, cfg
	}
	return relaytypes.TierNormal, relaytypes.TierConfigs[relaytypes.TierNormal]
}

// Price runs the six-step quoting algorithm against gasEstimate at the
// requested tier. All USD-scale arithmetic happens in decimal.Decimal to
// avoid float truncation error; gas×gasPrice happens in big.Int.
func (e *Engine) Price(ctx context.Context, gasEstimate *big.Int, tier relaytypes.PriorityTier) (*relaytypes.PriceQuote, error) {
	resolvedTier, tierCfg := tierConfigOrDefault(tier)

	gasPriceWei, err := e.chain.GasPrice(ctx)
	if err != nil {
		return nil, err
	}

	// 1. adjustedGasPrice = floor(gasPrice × tier.gasPriceMultiplier)
	adjustedGasPriceWei := decimal.NewFromBigInt(gasPriceWei, 0).
		Mul(decimal.NewFromFloat(tierCfg.GasPriceMultiplier)).
		Truncate(0).
		BigInt()

	// 2. baseCostUsd = (gasEstimate × adjustedGasPrice / 10^18) × nativeUsdPrice
	weiCost := new(big.Int).Mul(gasEstimate, adjustedGasPriceWei)
	etherCost := decimal.NewFromBigInt(weiCost, 0).Div(weiPerEther)
	spot := e.oracle.Snapshot()
	baseCostUsd := etherCost.Mul(decimal.NewFromFloat(spot))

	// 3. markup = 1 + (configuredMarkupPercent/100) × tier.markupMultiplier
	markup := decimal.NewFromInt(1).Add(
		decimal.NewFromFloat(e.markupPercent).Div(decimal.NewFromInt(100)).
			Mul(decimal.NewFromFloat(tierCfg.MarkupMultiplier)),
	)

	// 4. priceUsd = baseCostUsd × markup, clamped to [floor, maxUsd]
	priceUsd := baseCostUsd.Mul(markup)
	floor := decimal.NewFromFloat(e.minUsd).Mul(decimal.NewFromFloat(tierCfg.MarkupMultiplier))
	absFloor := decimal.NewFromFloat(absoluteMinUsd)
	if floor.LessThan(absFloor) {
		floor = absFloor
	}
	if priceUsd.LessThan(floor) {
		priceUsd = floor
	}
	ceiling := decimal.NewFromFloat(e.maxUsd)
	if priceUsd.GreaterThan(ceiling) {
		priceUsd = ceiling
	}

	// 5. convert to stablecoin base units: truncate to 6 decimals, no
	// rounding, then shift into an integer.
	priceUsdTruncated := priceUsd.Truncate(stablecoinDecimals)
	finalPriceRaw := priceUsdTruncated.Shift(stablecoinDecimals).BigInt()

	finalPriceUsd, _ := priceUsdTruncated.Float64()
	baseCostUsdFloat, _ := baseCostUsd.Float64()

	return &relaytypes.PriceQuote{
		GasEstimate:      new(big.Int).Set(gasEstimate),
		GasPriceGwei:     decimal.NewFromBigInt(adjustedGasPriceWei, 0).Div(weiPerGwei).Truncate(0).BigInt(),
		NativeUsdPrice:   spot,
		BaseCostUsd:      baseCostUsdFloat,
		MarkupFactor:     tierCfg.MarkupMultiplier,
		FinalPriceUsd:    finalPriceUsd,
		FinalPriceStable: priceUsdTruncated.StringFixed(stablecoinDecimals),
		FinalPriceRaw:    finalPriceRaw,
		ValidUntil:       nowPlusValiditySeconds(),
		Tier:             resolvedTier,
		TierConfig:       tierCfg,
	}, nil
}
