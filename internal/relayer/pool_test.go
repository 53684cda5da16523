package relayer

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fastlane-relay/gasless-relay/internal/chain"
	"github.com/stretchr/testify/require"
)

type fakeNonceSource struct {
	mu     sync.Mutex
	calls  int
	nonces map[common.Address]uint64
}

func newFakeNonceSource() *fakeNonceSource {
	return &fakeNonceSource{nonces: map[common.Address]uint64{}}
}

func (f *fakeNonceSource) PendingNonce(_ context.Context, addr common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.nonces[addr], nil
}

func mustWallet(t *testing.T) *chain.Wallet {
	t.Helper()
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	require.NoError(t, err)
	return &chain.Wallet{PrivateKey: key, Address: crypto.PubkeyToAddress(key.PublicKey)}
}

func TestPool_LeastBusyPrefersIdleWallet(t *testing.T) {
	src := newFakeNonceSource()
	w1, w2 := mustWallet(t), mustWallet(t)
	pool, err := New(context.Background(), src, []*chain.Wallet{w1, w2}, PolicyLeastBusy)
	require.NoError(t, err)

	h1, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, w1.Address, h1.Wallet().Address)

	// w1 is now busy (pendingCount=1); next acquire must prefer w2.
	h2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, w2.Address, h2.Wallet().Address)

	h1.Release()
	h3, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, w1.Address, h3.Wallet().Address)
}

func TestPool_RoundRobinCyclesWallets(t *testing.T) {
	src := newFakeNonceSource()
	w1, w2, w3 := mustWallet(t), mustWallet(t), mustWallet(t)
	pool, err := New(context.Background(), src, []*chain.Wallet{w1, w2, w3}, PolicyRoundRobin)
	require.NoError(t, err)

	var seen []common.Address
	for i := 0; i < 4; i++ {
		h, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		seen = append(seen, h.Wallet().Address)
	}
	require.Equal(t, []common.Address{w1.Address, w2.Address, w3.Address, w1.Address}, seen)
}

func TestPool_ReleaseSaturatesAtZero(t *testing.T) {
	src := newFakeNonceSource()
	w1 := mustWallet(t)
	pool, err := New(context.Background(), src, []*chain.Wallet{w1}, PolicyLeastBusy)
	require.NoError(t, err)

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	h.Release()
	h.Release() // double release must not go negative

	stats := pool.Stats()
	require.Len(t, stats, 1)
	require.Equal(t, int64(0), stats[0].PendingCount)
}

func TestPool_AcquireIsConcurrencySafe(t *testing.T) {
	src := newFakeNonceSource()
	w1, w2 := mustWallet(t), mustWallet(t)
	pool, err := New(context.Background(), src, []*chain.Wallet{w1, w2}, PolicyLeastBusy)
	require.NoError(t, err)

	const jobs = 200
	var wg sync.WaitGroup
	wg.Add(jobs)
	for i := 0; i < jobs; i++ {
		go func() {
			defer wg.Done()
			h, err := pool.Acquire(context.Background())
			require.NoError(t, err)
			h.Release()
		}()
	}
	wg.Wait()

	var total int64
	for _, s := range pool.Stats() {
		total += s.PendingCount
	}
	require.Equal(t, int64(0), total)
}

func TestPool_Resync(t *testing.T) {
	src := newFakeNonceSource()
	w1 := mustWallet(t)
	src.nonces[w1.Address] = 5
	pool, err := New(context.Background(), src, []*chain.Wallet{w1}, PolicyLeastBusy)
	require.NoError(t, err)

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	src.nonces[w1.Address] = 9
	require.NoError(t, pool.Resync(context.Background(), h))

	stats := pool.Stats()
	require.Equal(t, uint64(9), stats[0].NonceHint)
	require.Equal(t, int64(1), pool.ResyncCount())
}
