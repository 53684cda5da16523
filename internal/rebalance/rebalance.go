// Package rebalance implements the boundary-only auto-rebalance task (C9):
// a periodic tick that tops up the primary relayer's native-token balance
// by swapping a slice of its stablecoin holdings through a configured
// router contract.
package rebalance

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/fastlane-relay/gasless-relay/internal/chain"
	"github.com/fastlane-relay/gasless-relay/internal/health"
	"github.com/sirupsen/logrus"
)

// nativeTargetWei is the balance the task tries to top the primary wallet
// up to; nativeFloorWei is the balance below which a tick fires at all.
var (
	nativeFloorWei  = mulEther(big.NewInt(10))
	nativeTargetWei = mulEther(big.NewInt(10))
	minStableWei    = big.NewInt(1_000_000) // 1 unit at 6 decimals
)

func mulEther(units *big.Int) *big.Int {
	return new(big.Int).Mul(units, big.NewInt(1_000_000_000_000_000_000))
}

// slippageFloorPercent is the minimum-out factor applied to the router's
// amountOutMin (5% slippage tolerance): amountOutMin = expected * 0.95.
const slippageFloorPercent = 95

// ChainReadWriter is the narrow chain capability the rebalance task needs.
type ChainReadWriter interface {
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	StablecoinBalance(ctx context.Context, stablecoin, addr common.Address) (*big.Int, error)
	ContractRead(ctx context.Context, contract common.Address, contractABI []byte, fn string, args ...interface{}) (interface{}, error)
	SendContract(ctx context.Context, wallet *chain.Wallet, contract common.Address, contractABI []byte, fn string, args []interface{}, opts chain.TxOpts) (*chain.TxResponse, error)
	AwaitReceipt(ctx context.Context, hash common.Hash, confirmations uint64) (*gethtypes.Receipt, error)
}

// PriceReader is the narrow pricing-oracle capability needed to size a swap.
type PriceReader interface {
	Snapshot() float64
}

// PrimaryWallet is the narrow relayer-pool capability needed: the wallet the
// task watches and tops up.
type PrimaryWallet interface {
	Primary() *chain.Wallet
}

// Config bundles the router and stablecoin addresses the task swaps
// through. A zero Router means auto-rebalance is disabled.
type Config struct {
	Router     common.Address
	Stablecoin common.Address
	NativeWrapped common.Address // WETH-equivalent, the swap path's final hop target
}

// Task owns the single in-progress flag and last-outcome string guarding
// overlapping ticks, per spec §4.9.
type Task struct {
	chain      ChainReadWriter
	pool       PrimaryWallet
	oracle     PriceReader
	cfg        Config
	log        *logrus.Entry
	inProgress atomic.Bool
	mu         sync.Mutex
	lastOutcome string
}

// New builds a rebalance task. It is inert (never ticks) unless cfg.Router
// is set.
func New(chainRW ChainReadWriter, pool PrimaryWallet, oracle PriceReader, cfg Config, log *logrus.Entry) *Task {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Task{chain: chainRW, pool: pool, oracle: oracle, cfg: cfg, log: log.WithField("component", "rebalance")}
}

// Enabled reports whether a router was configured.
func (t *Task) Enabled() bool {
	return t.cfg.Router != (common.Address{})
}

// Status returns the task's current in-progress flag and last-tick outcome,
// satisfying health.RebalanceReader.
func (t *Task) Status() health.RebalanceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return health.RebalanceStatus{InProgress: t.inProgress.Load(), LastOutcome: t.lastOutcome}
}

// Start launches the periodic tick loop; it returns immediately and stops
// when ctx is cancelled. Callers join it via wg.
func (t *Task) Start(ctx context.Context, interval time.Duration, wg *sync.WaitGroup) {
	if !t.Enabled() {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Tick(ctx)
			}
		}
	}()
}

// Tick runs one rebalance attempt, skipping entirely if a prior tick is
// still in progress (the single in-progress flag required by spec §4.9).
func (t *Task) Tick(ctx context.Context) {
	if !t.inProgress.CompareAndSwap(false, true) {
		t.log.Debug("rebalance tick skipped, previous tick still in progress")
		return
	}
	defer t.inProgress.Store(false)

	outcome := t.run(ctx)
	t.mu.Lock()
	t.lastOutcome = outcome
	t.mu.Unlock()
	t.log.Info(outcome)
}

func (t *Task) run(ctx context.Context) string {
	primary := t.pool.Primary()

	nativeBal, err := t.chain.Balance(ctx, primary.Address)
	if err != nil {
		return fmt.Sprintf("skipped: could not read native balance: %v", err)
	}
	if nativeBal.Cmp(nativeFloorWei) >= 0 {
		return "skipped: native balance above floor"
	}

	stableBal, err := t.chain.StablecoinBalance(ctx, t.cfg.Stablecoin, primary.Address)
	if err != nil {
		return fmt.Sprintf("skipped: could not read stablecoin balance: %v", err)
	}
	if stableBal.Cmp(minStableWei) < 0 {
		return "skipped: stablecoin balance below minimum"
	}

	swapAmount := t.swapAmount(nativeBal, stableBal)
	if swapAmount.Sign() <= 0 {
		return "skipped: computed swap amount non-positive"
	}

	if err := t.ensureApproval(ctx, primary, swapAmount); err != nil {
		return fmt.Sprintf("failed: approval: %v", err)
	}

	amountOutMin := t.amountOutMin(swapAmount)
	deadline := big.NewInt(time.Now().Add(5 * time.Minute).Unix())
	path := []common.Address{t.cfg.Stablecoin, t.cfg.NativeWrapped}

	resp, err := t.chain.SendContract(ctx, primary, t.cfg.Router, chain.RouterABI, "swapExactTokensForETH",
		[]interface{}{swapAmount, amountOutMin, path, primary.Address, deadline}, chain.TxOpts{})
	if err != nil {
		return fmt.Sprintf("failed: swap submit: %v", err)
	}

	receipt, err := t.chain.AwaitReceipt(ctx, resp.Hash, 1)
	if err != nil {
		return fmt.Sprintf("failed: swap receipt: %v", err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return fmt.Sprintf("failed: swap reverted, tx %s", resp.Hash.Hex())
	}

	return fmt.Sprintf("succeeded: swapped %s stablecoin units for native via tx %s", swapAmount.String(), resp.Hash.Hex())
}

// swapAmount computes min((target-current) * nativePrice * 1.1, stableBal * 0.5),
// per spec §4.9, in stablecoin base units.
func (t *Task) swapAmount(nativeBal, stableBal *big.Int) *big.Int {
	deficitWei := new(big.Int).Sub(nativeTargetWei, nativeBal)
	if deficitWei.Sign() <= 0 {
		return big.NewInt(0)
	}

	deficitEther := new(big.Float).Quo(new(big.Float).SetInt(deficitWei), big.NewFloat(1e18))
	spot := t.oracle.Snapshot()
	neededUsd := new(big.Float).Mul(deficitEther, big.NewFloat(spot))
	neededUsd.Mul(neededUsd, big.NewFloat(1.1))
	neededStableUnits := new(big.Float).Mul(neededUsd, big.NewFloat(1_000_000)) // 6 decimals

	neededInt, _ := neededStableUnits.Int(nil)

	halfBalance := new(big.Int).Div(stableBal, big.NewInt(2))
	if neededInt.Cmp(halfBalance) > 0 {
		return halfBalance
	}
	return neededInt
}

// amountOutMin applies the 5% slippage floor to the swap's expected native
// proceeds, estimated from the same spot price used to size the swap.
func (t *Task) amountOutMin(stableIn *big.Int) *big.Int {
	spot := t.oracle.Snapshot()
	if spot <= 0 {
		return big.NewInt(0)
	}
	stableUsd := new(big.Float).Quo(new(big.Float).SetInt(stableIn), big.NewFloat(1_000_000))
	expectedNativeEther := new(big.Float).Quo(stableUsd, big.NewFloat(spot))
	expectedNativeWei := new(big.Float).Mul(expectedNativeEther, big.NewFloat(1e18))
	floored := new(big.Float).Mul(expectedNativeWei, big.NewFloat(float64(slippageFloorPercent)/100.0))
	out, _ := floored.Int(nil)
	return out
}

// ensureApproval reads the router's current allowance and approves an
// amount covering swapAmount if it falls short.
func (t *Task) ensureApproval(ctx context.Context, wallet *chain.Wallet, swapAmount *big.Int) error {
	result, err := t.chain.ContractRead(ctx, t.cfg.Stablecoin, chain.StablecoinABI, "allowance", wallet.Address, t.cfg.Router)
	if err != nil {
		return err
	}
	allowance, ok := result.(*big.Int)
	if !ok {
		return fmt.Errorf("rebalance: unexpected allowance return type %T", result)
	}
	if allowance.Cmp(swapAmount) >= 0 {
		return nil
	}

	resp, err := t.chain.SendContract(ctx, wallet, t.cfg.Stablecoin, chain.StablecoinABI, "approve",
		[]interface{}{t.cfg.Router, swapAmount}, chain.TxOpts{})
	if err != nil {
		return err
	}
	_, err = t.chain.AwaitReceipt(ctx, resp.Hash, 1)
	return err
}
