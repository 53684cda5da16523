// Package chain is the relay's sole JSON-RPC boundary. Every other
// component reaches the chain only through an *Adapter, never directly
// through an *ethclient.Client, so every RPC failure gets classified into
// the same typed chain.Error.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// minGasPriceWei is the floor the adapter substitutes when a node reports a
// zero gas price (seen on some dev/testnets).
var minGasPriceWei = big.NewInt(1_000_000_000) // 1 gwei

// Wallet is a relayer-owned private key plus its derived address.
type Wallet struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
}

// NewWallet parses a hex-encoded private key (with or without 0x prefix).
func NewWallet(hexKey string) (*Wallet, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("chain: invalid private key: %w", err)
	}
	return &Wallet{
		PrivateKey: pk,
		Address:    crypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// CallParams describes a read-only or gas-estimation call.
type CallParams struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Data  []byte
}

// TxOpts configures a contract-writing submission.
type TxOpts struct {
	Value       *big.Int
	GasLimit    uint64 // 0 means estimate
	GasPriceWei *big.Int
}

// TxResponse is what SendContract returns once the transaction is broadcast.
type TxResponse struct {
	Hash     common.Hash
	Nonce    uint64
	GasLimit uint64
}

// Adapter wraps an ethclient.Client with the typed RPC surface the relay
// pipeline depends on.
type Adapter struct {
	client  *ethclient.Client
	chainID *big.Int
	timeout time.Duration
	log     *logrus.Entry
}

// New dials the RPC endpoint and returns a ready adapter.
func New(ctx context.Context, rpcURL string, chainID int64, timeout time.Duration, log *logrus.Entry) (*Adapter, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Adapter{
		client:  client,
		chainID: big.NewInt(chainID),
		timeout: timeout,
		log:     log.WithField("component", "chain"),
	}, nil
}

func (a *Adapter) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, a.timeout)
}

// Balance returns the native-token balance of addr.
func (a *Adapter) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	cctx, cancel := a.ctx(ctx)
	defer cancel()
	bal, err := a.client.BalanceAt(cctx, addr, nil)
	if err != nil {
		return nil, classify(err)
	}
	return bal, nil
}

// StablecoinBalance reads balanceOf(addr) on the configured stablecoin.
func (a *Adapter) StablecoinBalance(ctx context.Context, stablecoin, addr common.Address) (*big.Int, error) {
	result, err := a.ContractRead(ctx, stablecoin, StablecoinABI, "balanceOf", addr)
	if err != nil {
		return nil, err
	}
	bal, ok := result.(*big.Int)
	if !ok {
		return nil, newError(KindUnknown, false, fmt.Errorf("unexpected balanceOf return type %T", result))
	}
	return bal, nil
}

// GasPrice returns the node's suggested gas price, falling back to a sane
// floor if the node reports zero.
func (a *Adapter) GasPrice(ctx context.Context) (*big.Int, error) {
	cctx, cancel := a.ctx(ctx)
	defer cancel()
	price, err := a.client.SuggestGasPrice(cctx)
	if err != nil {
		return nil, classify(err)
	}
	if price == nil || price.Sign() == 0 {
		return new(big.Int).Set(minGasPriceWei), nil
	}
	return price, nil
}

// PendingNonce returns the next nonce to use for addr, as seen by the
// node's pending-transaction pool.
func (a *Adapter) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	cctx, cancel := a.ctx(ctx)
	defer cancel()
	nonce, err := a.client.PendingNonceAt(cctx, addr)
	if err != nil {
		return 0, classify(err)
	}
	return nonce, nil
}

// EstimateGas simulates a call and returns the estimated gas units.
func (a *Adapter) EstimateGas(ctx context.Context, call CallParams) (uint64, error) {
	cctx, cancel := a.ctx(ctx)
	defer cancel()
	msg := ethereum.CallMsg{
		From:  call.From,
		To:    &call.To,
		Value: call.Value,
		Data:  call.Data,
	}
	gas, err := a.client.EstimateGas(cctx, msg)
	if err != nil {
		return 0, classify(err)
	}
	return gas, nil
}

// Call performs a read-only simulation, used for revert detection ahead of
// a real broadcast.
func (a *Adapter) Call(ctx context.Context, call CallParams) ([]byte, error) {
	cctx, cancel := a.ctx(ctx)
	defer cancel()
	msg := ethereum.CallMsg{
		From:  call.From,
		To:    &call.To,
		Value: call.Value,
		Data:  call.Data,
	}
	out, err := a.client.CallContract(cctx, msg, nil)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// SendSigned broadcasts an already-signed transaction.
func (a *Adapter) SendSigned(ctx context.Context, tx *gethtypes.Transaction) (common.Hash, error) {
	cctx, cancel := a.ctx(ctx)
	defer cancel()
	if err := a.client.SendTransaction(cctx, tx); err != nil {
		return common.Hash{}, classify(err)
	}
	return tx.Hash(), nil
}

// SendContract packs fn(args...), signs with wallet, and broadcasts it.
// Nonce is always drawn from the node's pending view at submission time
// (§5's per-wallet ordering contract) — the pool never hands out a nonce
// itself.
func (a *Adapter) SendContract(
	ctx context.Context,
	wallet *Wallet,
	contract common.Address,
	contractABI []byte,
	fn string,
	args []interface{},
	opts TxOpts,
) (*TxResponse, error) {
	parsed, err := abi.JSON(strings.NewReader(string(contractABI)))
	if err != nil {
		return nil, newError(KindUnknown, false, fmt.Errorf("parse abi: %w", err))
	}
	data, err := parsed.Pack(fn, args...)
	if err != nil {
		return nil, newError(KindUnknown, false, fmt.Errorf("pack %s: %w", fn, err))
	}

	nonce, err := a.PendingNonce(ctx, wallet.Address)
	if err != nil {
		return nil, err
	}

	gasPrice := opts.GasPriceWei
	if gasPrice == nil {
		gasPrice, err = a.GasPrice(ctx)
		if err != nil {
			return nil, err
		}
	}

	gasLimit := opts.GasLimit
	if gasLimit == 0 {
		estimated, err := a.EstimateGas(ctx, CallParams{From: wallet.Address, To: contract, Value: opts.Value, Data: data})
		if err != nil {
			return nil, err
		}
		gasLimit = estimated + estimated/5 // 20% safety buffer
	}

	value := opts.Value
	if value == nil {
		value = big.NewInt(0)
	}

	tx := gethtypes.NewTransaction(nonce, contract, value, gasLimit, gasPrice, data)
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(a.chainID), wallet.PrivateKey)
	if err != nil {
		return nil, newError(KindUnknown, false, fmt.Errorf("sign tx: %w", err))
	}

	hash, err := a.SendSigned(ctx, signed)
	if err != nil {
		return nil, err
	}

	a.log.WithFields(logrus.Fields{
		"wallet": wallet.Address.Hex(),
		"fn":     fn,
		"nonce":  nonce,
		"tx":     hash.Hex(),
	}).Debug("submitted transaction")

	return &TxResponse{Hash: hash, Nonce: nonce, GasLimit: gasLimit}, nil
}

// AwaitReceipt polls until the transaction is mined and has at least
// confirmations confirmations (the inclusion block counts as the first; 0
// and 1 both return as soon as it is mined), or the context is cancelled.
func (a *Adapter) AwaitReceipt(ctx context.Context, hash common.Hash, confirmations uint64) (*gethtypes.Receipt, error) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, newError(KindNetwork, true, ctx.Err())
		case <-ticker.C:
			receipt, err := a.client.TransactionReceipt(ctx, hash)
			if err != nil {
				continue // not mined yet, or transient RPC hiccup
			}
			if confirmations == 0 {
				return receipt, nil
			}
			head, err := a.client.BlockNumber(ctx)
			if err != nil {
				continue
			}
			if head >= receipt.BlockNumber.Uint64()+confirmations-1 {
				return receipt, nil
			}
		}
	}
}

// ContractRead calls a read-only view function and unpacks its single
// return value (or a slice of values if the function returns more than one).
func (a *Adapter) ContractRead(ctx context.Context, contract common.Address, contractABI []byte, fn string, args ...interface{}) (interface{}, error) {
	parsed, err := abi.JSON(strings.NewReader(string(contractABI)))
	if err != nil {
		return nil, newError(KindUnknown, false, fmt.Errorf("parse abi: %w", err))
	}
	data, err := parsed.Pack(fn, args...)
	if err != nil {
		return nil, newError(KindUnknown, false, fmt.Errorf("pack %s: %w", fn, err))
	}

	out, err := a.Call(ctx, CallParams{To: contract, Data: data})
	if err != nil {
		return nil, err
	}

	unpacked, err := parsed.Unpack(fn, out)
	if err != nil {
		return nil, newError(KindUnknown, false, fmt.Errorf("unpack %s: %w", fn, err))
	}
	if len(unpacked) == 0 {
		return nil, nil
	}
	if len(unpacked) == 1 {
		return unpacked[0], nil
	}
	return unpacked, nil
}

// ParseLog decodes a single event log against contractABI.
func ParseLog(contractABI []byte, eventName string, log gethtypes.Log) (map[string]interface{}, error) {
	parsed, err := abi.JSON(strings.NewReader(string(contractABI)))
	if err != nil {
		return nil, fmt.Errorf("chain: parse abi: %w", err)
	}
	out := map[string]interface{}{}
	if err := parsed.UnpackIntoMap(out, eventName, log.Data); err != nil {
		return nil, fmt.Errorf("chain: unpack event %s: %w", eventName, err)
	}
	return out, nil
}

// ChainID returns the configured chain id.
func (a *Adapter) ChainID() *big.Int { return new(big.Int).Set(a.chainID) }
