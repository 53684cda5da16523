// Package health aggregates the relay's liveness signal: primary relayer
// balance against a funding floor, per-wallet pool stats, the pricing
// oracle's current spot, relayed-transaction counters, and the
// auto-rebalance task's last outcome.
package health

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fastlane-relay/gasless-relay/internal/chain"
	"github.com/fastlane-relay/gasless-relay/internal/relaytypes"
)

// maxRecentTxRecords bounds the in-memory TxRecord ring the tracker keeps
// for /health; it is observability only and never persisted.
const maxRecentTxRecords = 50

// nativeHealthFloor is the minimum primary-relayer native balance (10
// whole units, 18 decimals) below which the service reports degraded.
var nativeHealthFloor = new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000_000_000_000))

var weiPerEther = new(big.Float).SetInt(big.NewInt(1_000_000_000_000_000_000))

// ChainReader is the narrow chain capability health checks need.
type ChainReader interface {
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	StablecoinBalance(ctx context.Context, stablecoin, addr common.Address) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
}

// PoolReader is the narrow relayer-pool capability health checks need.
type PoolReader interface {
	Stats() []relaytypes.RelayerState
	Primary() *chain.Wallet
	ResyncCount() int64
}

// PriceReader is the narrow pricing-oracle capability health checks need.
type PriceReader interface {
	Snapshot() float64
}

// RebalanceStatus is a snapshot of the auto-rebalance task's last tick.
type RebalanceStatus struct {
	InProgress  bool   `json:"inProgress"`
	LastOutcome string `json:"lastOutcome"`
}

// RebalanceReader reports the auto-rebalance task's current status. Optional:
// a nil RebalanceReader simply omits rebalance status from the report.
type RebalanceReader interface {
	Status() RebalanceStatus
}

// Tracker counts relayed transactions by outcome and keeps a bounded window
// of recent TxRecords for observability. Safe for concurrent use; the HTTP
// layer drives it around every orchestrator call.
type Tracker struct {
	succeeded atomic.Int64
	failed    atomic.Int64

	mu      sync.Mutex
	records []relaytypes.TxRecord
}

// RecordSuccess increments the succeeded counter.
func (t *Tracker) RecordSuccess() { t.succeeded.Add(1) }

// RecordFailure increments the failed counter.
func (t *Tracker) RecordFailure() { t.failed.Add(1) }

// RecordTx appends a TxRecord to the recent-transactions window, dropping
// the oldest entry once the window is full.
func (t *Tracker) RecordTx(rec relaytypes.TxRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, rec)
	if over := len(t.records) - maxRecentTxRecords; over > 0 {
		t.records = t.records[over:]
	}
}

// RecentTxs returns a snapshot of the recent-transactions window, oldest first.
func (t *Tracker) RecentTxs() []relaytypes.TxRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]relaytypes.TxRecord, len(t.records))
	copy(out, t.records)
	return out
}

// TxCounters is a point-in-time snapshot of the tracker.
type TxCounters struct {
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"`
}

// Snapshot returns the current counts.
func (t *Tracker) Snapshot() TxCounters {
	s, f := t.succeeded.Load(), t.failed.Load()
	return TxCounters{Succeeded: s, Failed: f, Total: s + f}
}

// RelayerBalance is one wallet's balances as reported to /health.
type RelayerBalance struct {
	Address           string `json:"address"`
	NativeBalance     string `json:"nativeBalance"`
	StablecoinBalance string `json:"stablecoinBalance"`
}

// Report is the full /health response body.
type Report struct {
	Status         string                    `json:"status"`
	Warnings       []string                  `json:"warnings,omitempty"`
	Relayers       []RelayerBalance          `json:"relayers"`
	PoolStats      []relaytypes.RelayerState `json:"poolStats"`
	GasPriceGwei   string                    `json:"gasPriceGwei"`
	NativeUsdPrice float64                   `json:"nativeUsdPrice"`
	TxCounters     TxCounters                `json:"txCounters"`
	ResyncCount    int64                     `json:"resyncCount"`
	RecentTxs      []relaytypes.TxRecord     `json:"recentTxs,omitempty"`
	Rebalance      *RebalanceStatus          `json:"rebalance,omitempty"`
}

// Service aggregates the chain, pool, pricing, and rebalance state behind a
// single Check call.
type Service struct {
	chain      ChainReader
	pool       PoolReader
	oracle     PriceReader
	rebalance  RebalanceReader
	stablecoin common.Address
	tracker    *Tracker
}

// New builds a health service. rebalance may be nil if auto-rebalance is
// not configured.
func New(chainR ChainReader, pool PoolReader, oracle PriceReader, rebalance RebalanceReader, stablecoin common.Address, tracker *Tracker) *Service {
	return &Service{chain: chainR, pool: pool, oracle: oracle, rebalance: rebalance, stablecoin: stablecoin, tracker: tracker}
}

// Check runs every health sub-check and returns the aggregate report plus
// whether the service is healthy (true) or degraded (false).
func (s *Service) Check(ctx context.Context) (*Report, bool) {
	report := &Report{
		Status:      "healthy",
		TxCounters:  s.tracker.Snapshot(),
		ResyncCount: s.pool.ResyncCount(),
		RecentTxs:   s.tracker.RecentTxs(),
	}

	primary := s.pool.Primary()
	primaryBalance, err := s.chain.Balance(ctx, primary.Address)
	if err != nil {
		report.Status = "degraded"
		report.Warnings = append(report.Warnings, fmt.Sprintf("Low confidence: could not read primary relayer balance: %v", err))
		primaryBalance = big.NewInt(0)
	} else if primaryBalance.Cmp(nativeHealthFloor) < 0 {
		report.Status = "degraded"
		report.Warnings = append(report.Warnings, fmt.Sprintf("Low native balance on primary relayer %s: %s", primary.Address.Hex(), weiToEtherString(primaryBalance)))
	}

	poolStats := s.pool.Stats()
	report.PoolStats = poolStats
	for _, stat := range poolStats {
		addr := common.HexToAddress(stat.Address)
		native, err := s.chain.Balance(ctx, addr)
		if err != nil {
			native = big.NewInt(0)
		}
		stable, err := s.chain.StablecoinBalance(ctx, s.stablecoin, addr)
		if err != nil {
			stable = big.NewInt(0)
		}
		report.Relayers = append(report.Relayers, RelayerBalance{
			Address:           stat.Address,
			NativeBalance:     weiToEtherString(native),
			StablecoinBalance: stable.String(),
		})
	}

	if gasPrice, err := s.chain.GasPrice(ctx); err == nil {
		report.GasPriceGwei = weiToGweiString(gasPrice)
	}

	if s.oracle != nil {
		report.NativeUsdPrice = s.oracle.Snapshot()
	}

	if s.rebalance != nil {
		status := s.rebalance.Status()
		report.Rebalance = &status
	}

	return report, report.Status == "healthy"
}

func weiToEtherString(wei *big.Int) string {
	f := new(big.Float).SetInt(wei)
	f.Quo(f, weiPerEther)
	return f.Text('f', 6)
}

func weiToGweiString(wei *big.Int) string {
	gwei := new(big.Float).SetInt(wei)
	gwei.Quo(gwei, big.NewFloat(1_000_000_000))
	return gwei.Text('f', 3)
}
