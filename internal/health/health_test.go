package health

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fastlane-relay/gasless-relay/internal/chain"
	"github.com/fastlane-relay/gasless-relay/internal/relaytypes"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	balances map[string]*big.Int
	gasPrice *big.Int
}

func (f *fakeChain) Balance(_ context.Context, addr common.Address) (*big.Int, error) {
	if b, ok := f.balances[addr.Hex()]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChain) StablecoinBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	return big.NewInt(500_000_000), nil
}

func (f *fakeChain) GasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

type fakePool struct {
	primary     *chain.Wallet
	stats       []relaytypes.RelayerState
	resyncCount int64
}

func (f *fakePool) Stats() []relaytypes.RelayerState { return f.stats }
func (f *fakePool) Primary() *chain.Wallet            { return f.primary }
func (f *fakePool) ResyncCount() int64                { return f.resyncCount }

type fakeOracle struct{ price float64 }

func (f *fakeOracle) Snapshot() float64 { return f.price }

func primaryWallet() *chain.Wallet {
	return &chain.Wallet{Address: common.HexToAddress("0x1111111111111111111111111111111111111111")}
}

func TestCheck_HealthyAboveFloor(t *testing.T) {
	wallet := primaryWallet()
	c := &fakeChain{
		balances: map[string]*big.Int{wallet.Address.Hex(): weiForEther(20)},
		gasPrice: big.NewInt(5_000_000_000),
	}
	pool := &fakePool{primary: wallet, stats: []relaytypes.RelayerState{{Address: wallet.Address.Hex()}}}
	oracle := &fakeOracle{price: 0.15}
	svc := New(c, pool, oracle, nil, common.HexToAddress("0x2"), &Tracker{})

	report, healthy := svc.Check(context.Background())
	require.True(t, healthy)
	require.Equal(t, "healthy", report.Status)
	require.Empty(t, report.Warnings)
	require.Equal(t, 0.15, report.NativeUsdPrice)
}

func TestCheck_DegradedBelowFloor(t *testing.T) {
	wallet := primaryWallet()
	c := &fakeChain{
		balances: map[string]*big.Int{wallet.Address.Hex(): weiForEther(0.5)},
		gasPrice: big.NewInt(5_000_000_000),
	}
	pool := &fakePool{primary: wallet, stats: []relaytypes.RelayerState{{Address: wallet.Address.Hex()}}}
	svc := New(c, pool, &fakeOracle{}, nil, common.HexToAddress("0x2"), &Tracker{})

	report, healthy := svc.Check(context.Background())
	require.False(t, healthy)
	require.Equal(t, "degraded", report.Status)
	require.NotEmpty(t, report.Warnings)
	require.Contains(t, report.Warnings[0], "Low")
}

func TestCheck_TracksRelayCounters(t *testing.T) {
	wallet := primaryWallet()
	c := &fakeChain{balances: map[string]*big.Int{wallet.Address.Hex(): weiForEther(20)}, gasPrice: big.NewInt(1)}
	pool := &fakePool{primary: wallet}
	tracker := &Tracker{}
	tracker.RecordSuccess()
	tracker.RecordSuccess()
	tracker.RecordFailure()

	svc := New(c, pool, &fakeOracle{}, nil, common.HexToAddress("0x2"), tracker)
	report, _ := svc.Check(context.Background())
	require.Equal(t, int64(2), report.TxCounters.Succeeded)
	require.Equal(t, int64(1), report.TxCounters.Failed)
	require.Equal(t, int64(3), report.TxCounters.Total)
}

func TestCheck_SurfacesResyncCount(t *testing.T) {
	wallet := primaryWallet()
	c := &fakeChain{balances: map[string]*big.Int{wallet.Address.Hex(): weiForEther(20)}, gasPrice: big.NewInt(1)}
	pool := &fakePool{primary: wallet, resyncCount: 3}

	svc := New(c, pool, &fakeOracle{}, nil, common.HexToAddress("0x2"), &Tracker{})
	report, _ := svc.Check(context.Background())
	require.Equal(t, int64(3), report.ResyncCount)
}

func TestCheck_SurfacesRecentTxs(t *testing.T) {
	wallet := primaryWallet()
	c := &fakeChain{balances: map[string]*big.Int{wallet.Address.Hex(): weiForEther(20)}, gasPrice: big.NewInt(1)}
	pool := &fakePool{primary: wallet}
	tracker := &Tracker{}
	tracker.RecordTx(relaytypes.TxRecord{ID: "tx-1", Status: relaytypes.TxConfirmed})
	tracker.RecordTx(relaytypes.TxRecord{ID: "tx-2", Status: relaytypes.TxFailed})

	svc := New(c, pool, &fakeOracle{}, nil, common.HexToAddress("0x2"), tracker)
	report, _ := svc.Check(context.Background())
	require.Len(t, report.RecentTxs, 2)
	require.Equal(t, "tx-1", report.RecentTxs[0].ID)
	require.Equal(t, relaytypes.TxFailed, report.RecentTxs[1].Status)
}

func TestTracker_RecordTxDropsOldestPastWindow(t *testing.T) {
	tracker := &Tracker{}
	for i := 0; i < maxRecentTxRecords+5; i++ {
		tracker.RecordTx(relaytypes.TxRecord{ID: fmt.Sprintf("tx-%d", i)})
	}
	recent := tracker.RecentTxs()
	require.Len(t, recent, maxRecentTxRecords)
	require.Equal(t, "tx-5", recent[0].ID)
	require.Equal(t, fmt.Sprintf("tx-%d", maxRecentTxRecords+4), recent[len(recent)-1].ID)
}

func weiForEther(units float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(units), big.NewFloat(1_000_000_000_000_000_000))
	out, _ := f.Int(nil)
	return out
}
