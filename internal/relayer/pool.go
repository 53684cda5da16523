// Package relayer manages the set of funded gas wallets the relay submits
// transactions from, selecting one per job and tracking how busy each is.
package relayer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fastlane-relay/gasless-relay/internal/chain"
	"github.com/fastlane-relay/gasless-relay/internal/relaytypes"
)

// NonceSource is the narrow slice of the chain adapter the pool needs: a way
// to read a wallet's pending-nonce view from the node. Defined here, at the
// point of use, so tests can supply a fake without pulling in go-ethereum.
type NonceSource interface {
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
}

// Policy selects which wallet serves the next job.
type Policy string

const (
	// PolicyLeastBusy picks the smallest pendingCount, breaking ties by the
	// earliest lastUsedMillis. This is the default.
	PolicyLeastBusy Policy = "least-busy"
	// PolicyRoundRobin cycles through wallets in a fixed order, for even
	// distribution under identical load.
	PolicyRoundRobin Policy = "round-robin"
)

type entry struct {
	wallet         *chain.Wallet
	pendingCount   int64
	lastUsedMillis int64
	nonceHint      uint64
}

// Pool owns a fixed set of relayer wallets for the lifetime of the process.
// Every field mutation happens under mu; callers never see the internal
// entries, only RelayerState snapshots.
type Pool struct {
	mu          sync.Mutex
	entries     []*entry
	byAddr      map[common.Address]*entry
	policy      Policy
	rrCursor    int
	adapter     NonceSource
	resyncCount atomic.Int64
}

// New queries the pending nonce for every wallet and returns a ready pool.
func New(ctx context.Context, adapter NonceSource, wallets []*chain.Wallet, policy Policy) (*Pool, error) {
	if len(wallets) == 0 {
		return nil, fmt.Errorf("relayer: at least one wallet is required")
	}
	if policy == "" {
		policy = PolicyLeastBusy
	}

	p := &Pool{
		byAddr:  make(map[common.Address]*entry, len(wallets)),
		policy:  policy,
		adapter: adapter,
	}

	for _, w := range wallets {
		nonce, err := adapter.PendingNonce(ctx, w.Address)
		if err != nil {
			return nil, fmt.Errorf("relayer: seed nonce for %s: %w", w.Address.Hex(), err)
		}
		e := &entry{wallet: w, nonceHint: nonce}
		p.entries = append(p.entries, e)
		p.byAddr[w.Address] = e
	}

	return p, nil
}

// Handle is one job's claim on a wallet, counted in that wallet's
// pendingCount; other jobs may hold handles on the same wallet at the same
// time. Callers must call Release once, in success or failure, typically
// via defer.
type Handle struct {
	pool   *Pool
	entry  *entry
	done   bool
}

// Wallet returns the underlying chain wallet for signing.
func (h *Handle) Wallet() *chain.Wallet { return h.entry.wallet }

// Release decrements the wallet's pending count, saturating at zero. Safe
// to call multiple times; only the first call has effect.
func (h *Handle) Release() {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()
	if h.done {
		return
	}
	h.done = true
	if h.entry.pendingCount > 0 {
		h.entry.pendingCount--
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// Acquire selects a wallet per the pool's policy and returns an exclusive
// handle. No two concurrent jobs are ever handed the same handle, but the
// pool does not serialize calls to a single wallet beyond that — correctness
// relies on the chain adapter pulling the nonce from the node's pending
// view at submission time (§5).
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var chosen *entry
	switch p.policy {
	case PolicyRoundRobin:
		chosen = p.entries[p.rrCursor%len(p.entries)]
		p.rrCursor++
	default: // PolicyLeastBusy
		for _, e := range p.entries {
			if chosen == nil ||
				e.pendingCount < chosen.pendingCount ||
				(e.pendingCount == chosen.pendingCount && e.lastUsedMillis < chosen.lastUsedMillis) {
				chosen = e
			}
		}
	}

	chosen.pendingCount++
	chosen.lastUsedMillis = nowMillis()

	return &Handle{pool: p, entry: chosen}, nil
}

// Resync re-reads the pending nonce for the wallet behind handle from chain.
// Invoked after a nonceTooLow or underpriced chain.Error; every call, whether
// it succeeds or not, counts toward ResyncCount so operators can see wallet
// health degrade in /health before balances or nonces actually run out.
func (p *Pool) Resync(ctx context.Context, h *Handle) error {
	p.resyncCount.Add(1)
	nonce, err := p.adapter.PendingNonce(ctx, h.entry.wallet.Address)
	if err != nil {
		return fmt.Errorf("relayer: resync: %w", err)
	}
	p.mu.Lock()
	h.entry.nonceHint = nonce
	p.mu.Unlock()
	return nil
}

// ResyncCount returns how many forced nonce resyncs have happened since the
// pool was created, used by /health to surface wallet-contention telemetry.
func (p *Pool) ResyncCount() int64 {
	return p.resyncCount.Load()
}

// Stats is a point-in-time snapshot of every wallet's bookkeeping state.
func (p *Pool) Stats() []relaytypes.RelayerState {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]relaytypes.RelayerState, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, relaytypes.RelayerState{
			Address:        e.wallet.Address.Hex(),
			PendingCount:   e.pendingCount,
			LastUsedMillis: e.lastUsedMillis,
			NonceHint:      e.nonceHint,
		})
	}
	return out
}

// Addresses returns every wallet address the pool manages, in stable order.
func (p *Pool) Addresses() []common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]common.Address, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.wallet.Address
	}
	return out
}

// Primary returns the first-configured wallet, used by health checks and
// the auto-rebalance task as the wallet to watch/top up.
func (p *Pool) Primary() *chain.Wallet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries[0].wallet
}

// PrimaryAddress returns the primary wallet's address, used by /estimate to
// pick a from address for gas simulation without acquiring a job handle.
func (p *Pool) PrimaryAddress() common.Address {
	return p.Primary().Address
}
