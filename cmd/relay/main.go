package main

import (
	"context"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"

	"github.com/fastlane-relay/gasless-relay/internal/chain"
	"github.com/fastlane-relay/gasless-relay/internal/config"
	"github.com/fastlane-relay/gasless-relay/internal/forwarder"
	"github.com/fastlane-relay/gasless-relay/internal/health"
	"github.com/fastlane-relay/gasless-relay/internal/httpapi"
	"github.com/fastlane-relay/gasless-relay/internal/orchestrator"
	"github.com/fastlane-relay/gasless-relay/internal/payment"
	"github.com/fastlane-relay/gasless-relay/internal/pricing"
	"github.com/fastlane-relay/gasless-relay/internal/ratelimit"
	"github.com/fastlane-relay/gasless-relay/internal/rebalance"
	"github.com/fastlane-relay/gasless-relay/internal/relayer"
)

// priceOracleRefreshInterval is how often the pricing oracle's background
// task re-fetches the native/USD spot (spec §4.3 names N seconds; 30s is
// the relay's chosen N).
const priceOracleRefreshInterval = 30 * time.Second

// rebalanceTickInterval is the auto-rebalance task's fixed period (spec §4.9).
const rebalanceTickInterval = 5 * time.Minute

// startupTimeout bounds how long cmd/relay waits on startup RPC calls.
const startupTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	logger := log.WithField("service", "gasless-relay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startupCtx, startupCancel := context.WithTimeout(ctx, startupTimeout)
	defer startupCancel()

	adapter, err := chain.New(startupCtx, cfg.ChainRPCURL, cfg.ChainID, time.Duration(cfg.RPCTimeoutSeconds)*time.Second, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to chain RPC")
	}

	wallets := make([]*chain.Wallet, 0, len(cfg.PrivateKeys()))
	for _, hexKey := range cfg.PrivateKeys() {
		wallet, err := chain.NewWallet(hexKey)
		if err != nil {
			logger.WithError(err).Fatal("invalid relayer private key")
		}
		wallets = append(wallets, wallet)
	}

	pool, err := relayer.New(startupCtx, adapter, wallets, relayer.PolicyLeastBusy)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize relayer pool")
	}
	logger.WithField("relayers", len(wallets)).Info("relayer pool ready")

	var fetcher pricing.Fetcher
	if cfg.PriceOracleURL != "" {
		fetcher = pricing.NewHTTPFetcher(cfg.PriceOracleURL, cfg.PriceOracleKey)
	}
	oracle := pricing.NewOracle(fetcher, logger)

	var wg sync.WaitGroup
	oracle.Start(ctx, priceOracleRefreshInterval, &wg)

	pricingEngine := pricing.New(adapter, oracle, pricing.Config{
		MarkupPercent: cfg.MarkupPercentage,
		MinPriceUSD:   cfg.MinPriceUSD,
		MaxPriceUSD:   cfg.MaxPriceUSD,
	})

	forwarderAddr := common.HexToAddress(cfg.ForwarderAddress)
	stablecoinAddr := common.HexToAddress(cfg.StablecoinAddress)
	receivingAddr := common.HexToAddress(cfg.ReceivingWallet)

	forwarderSvc := forwarder.New(adapter, pool, forwarderAddr, adapter.ChainID())
	paymentSvc := payment.New(adapter, pool, stablecoinAddr, receivingAddr)

	orch := orchestrator.New(forwarderSvc, paymentSvc, pricingEngine, orchestrator.PaymentTerms{
		Scheme:  "exact",
		Network: networkID(cfg.ChainID),
		Asset:   cfg.StablecoinAddress,
		PayTo:   cfg.ReceivingWallet,
	})

	tracker := &health.Tracker{}

	rebalanceCfg := rebalance.Config{Stablecoin: stablecoinAddr}
	// A deployment that wants auto-rebalance sets ROUTER_ADDRESS; absent
	// that, rebalanceTask.Enabled() is false and Start is a no-op.
	if cfg.RouterAddress != "" {
		rebalanceCfg.Router = common.HexToAddress(cfg.RouterAddress)
		rebalanceCfg.NativeWrapped = common.HexToAddress(cfg.NativeWrappedAddress)
	}
	rebalanceTask := rebalance.New(adapter, pool, oracle, rebalanceCfg, logger)
	rebalanceTask.Start(ctx, rebalanceTickInterval, &wg)

	healthSvc := health.New(adapter, pool, oracle, rebalanceTask, stablecoinAddr, tracker)

	limiter := ratelimit.New(ratelimit.DefaultConfig())
	wg.Add(1)
	go func() {
		defer wg.Done()
		limiter.Sweep(ctx, 5*time.Minute, 30*time.Minute)
	}()

	gasEstimator := &bufferedGasEstimator{adapter: adapter, fallback: pricingEngine.DefaultGasUnit()}

	router := httpapi.NewRouter(&httpapi.Container{
		Orchestrator:    orch,
		Forwarder:       forwarderSvc,
		Pricing:         pricingEngine,
		Gas:             gasEstimator,
		Health:          healthSvc,
		Limiter:         limiter,
		Tracker:         tracker,
		Primary:         pool,
		ForwarderAddr:   forwarderAddr,
		StablecoinAddr:  stablecoinAddr,
		ReceivingWallet: receivingAddr,
		Network:         networkID(cfg.ChainID),
		Log:             logger,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("relay listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("error during http shutdown")
	}

	cancel()
	wg.Wait()
	logger.Info("shutdown complete")
}

// networkID renders a CAIP-2-style network identifier for an EVM chain id.
func networkID(chainID int64) string {
	return "eip155:" + big.NewInt(chainID).String()
}

// bufferedGasEstimator adapts the chain adapter's raw EstimateGas into the
// httpapi.GasEstimator shape /estimate needs, applying pricing.EstimateGas's
// 20% safety buffer and default-on-failure fallback (spec §4.3). The
// pricing engine's Price itself takes a gas estimate as given.
type bufferedGasEstimator struct {
	adapter  *chain.Adapter
	fallback uint64
}

func (g *bufferedGasEstimator) EstimateGas(ctx context.Context, from, to common.Address, data []byte, value *big.Int) (uint64, error) {
	return pricing.EstimateGas(ctx, g.adapter, from, to, data, value, g.fallback), nil
}
