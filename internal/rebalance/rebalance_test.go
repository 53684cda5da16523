package rebalance

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/fastlane-relay/gasless-relay/internal/chain"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	nativeBal  *big.Int
	stableBal  *big.Int
	allowance  *big.Int
	sendCalls  []string
	failSwap   bool
}

func (f *fakeChain) Balance(_ context.Context, _ common.Address) (*big.Int, error) {
	return f.nativeBal, nil
}

func (f *fakeChain) StablecoinBalance(_ context.Context, _, _ common.Address) (*big.Int, error) {
	return f.stableBal, nil
}

func (f *fakeChain) ContractRead(_ context.Context, _ common.Address, _ []byte, fn string, _ ...interface{}) (interface{}, error) {
	if fn == "allowance" {
		return f.allowance, nil
	}
	return nil, nil
}

func (f *fakeChain) SendContract(_ context.Context, _ *chain.Wallet, _ common.Address, _ []byte, fn string, _ []interface{}, _ chain.TxOpts) (*chain.TxResponse, error) {
	f.sendCalls = append(f.sendCalls, fn)
	return &chain.TxResponse{Hash: common.HexToHash("0x01")}, nil
}

func (f *fakeChain) AwaitReceipt(_ context.Context, hash common.Hash, _ uint64) (*gethtypes.Receipt, error) {
	status := gethtypes.ReceiptStatusSuccessful
	if f.failSwap {
		status = gethtypes.ReceiptStatusFailed
	}
	return &gethtypes.Receipt{Status: status}, nil
}

type fakePool struct {
	wallet *chain.Wallet
}

func (f *fakePool) Primary() *chain.Wallet { return f.wallet }

type fakeOracle struct{ spot float64 }

func (f *fakeOracle) Snapshot() float64 { return f.spot }

func mustWallet() *chain.Wallet {
	w, _ := chain.NewWallet("000000000000000000000000000000000000000000000000000000000000000f")
	return w
}

func testConfig() Config {
	return Config{
		Router:        common.HexToAddress("0xRouter"),
		Stablecoin:    common.HexToAddress("0xStable"),
		NativeWrapped: common.HexToAddress("0xWrapped"),
	}
}

func TestTask_SkipsAboveFloor(t *testing.T) {
	fc := &fakeChain{nativeBal: mulEther(big.NewInt(20)), stableBal: big.NewInt(5_000_000), allowance: big.NewInt(0)}
	task := New(fc, &fakePool{wallet: mustWallet()}, &fakeOracle{spot: 0.15}, testConfig(), nil)
	task.Tick(context.Background())
	require.Contains(t, task.Status().LastOutcome, "above floor")
	require.Empty(t, fc.sendCalls)
}

func TestTask_SwapsWhenBelowFloor(t *testing.T) {
	fc := &fakeChain{nativeBal: mulEther(big.NewInt(5)), stableBal: big.NewInt(10_000_000), allowance: big.NewInt(0)}
	task := New(fc, &fakePool{wallet: mustWallet()}, &fakeOracle{spot: 0.15}, testConfig(), nil)
	task.Tick(context.Background())
	require.Contains(t, task.Status().LastOutcome, "succeeded")
	require.Equal(t, []string{"approve", "swapExactTokensForETH"}, fc.sendCalls)
}

func TestTask_SkipsBelowStablecoinMinimum(t *testing.T) {
	fc := &fakeChain{nativeBal: mulEther(big.NewInt(2)), stableBal: big.NewInt(100), allowance: big.NewInt(0)}
	task := New(fc, &fakePool{wallet: mustWallet()}, &fakeOracle{spot: 0.15}, testConfig(), nil)
	task.Tick(context.Background())
	require.Contains(t, task.Status().LastOutcome, "below minimum")
}

func TestTask_OverlappingTicksSkipWhileInProgress(t *testing.T) {
	fc := &fakeChain{nativeBal: mulEther(big.NewInt(5)), stableBal: big.NewInt(10_000_000), allowance: big.NewInt(0)}
	task := New(fc, &fakePool{wallet: mustWallet()}, &fakeOracle{spot: 0.15}, testConfig(), nil)

	task.inProgress.Store(true)
	task.Tick(context.Background())
	require.Empty(t, fc.sendCalls, "tick should have been skipped while another was in progress")
}

func TestTask_DisabledWithoutRouter(t *testing.T) {
	task := New(&fakeChain{}, &fakePool{wallet: mustWallet()}, &fakeOracle{}, Config{}, nil)
	require.False(t, task.Enabled())

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	task.Start(ctx, time.Millisecond, &wg)
	cancel()
	wg.Wait() // must return immediately; Start is a no-op when disabled
}
