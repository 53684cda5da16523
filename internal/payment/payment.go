// Package payment parses the X-Payment header, verifies an EIP-3009
// authorization off-chain and against current on-chain state, and settles
// it via transferWithAuthorization.
package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/fastlane-relay/gasless-relay/internal/chain"
	"github.com/fastlane-relay/gasless-relay/internal/relayer"
	"github.com/fastlane-relay/gasless-relay/internal/relaytypes"
)

// ChainReadWriter is the narrow chain capability the payment service needs.
type ChainReadWriter interface {
	ContractRead(ctx context.Context, contract common.Address, contractABI []byte, fn string, args ...interface{}) (interface{}, error)
	SendContract(ctx context.Context, wallet *chain.Wallet, contract common.Address, contractABI []byte, fn string, args []interface{}, opts chain.TxOpts) (*chain.TxResponse, error)
	AwaitReceipt(ctx context.Context, hash common.Hash, confirmations uint64) (*gethtypes.Receipt, error)
}

// WalletPool is the narrow relayer-pool capability settlement needs.
type WalletPool interface {
	Acquire(ctx context.Context) (*relayer.Handle, error)
}

// VerifyResult reports whether an authorization passes every check, and the
// reason for the first one that failed.
type VerifyResult struct {
	Valid  bool
	Reason string
}

// Service verifies and settles EIP-3009 payment authorizations against a
// single configured stablecoin and receiving address.
type Service struct {
	chain         ChainReadWriter
	pool          WalletPool
	stablecoin    common.Address
	receivingAddr common.Address
}

// New builds a payment service bound to one stablecoin and receiving wallet.
func New(chainRW ChainReadWriter, pool WalletPool, stablecoin, receivingAddr common.Address) *Service {
	return &Service{chain: chainRW, pool: pool, stablecoin: stablecoin, receivingAddr: receivingAddr}
}

// ParseHeader base64-decodes and JSON-parses the X-Payment header value,
// returning nil on any malformed input rather than an error — an absent or
// garbled header is a normal branch in the orchestrator's state machine, not
// a service failure.
func ParseHeader(header string) *relaytypes.PaymentEnvelope {
	if header == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil
	}
	var envelope relaytypes.PaymentEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}
	return &envelope
}

// Verify runs the ordered, short-circuiting checks from the payment
// protocol: recipient match, amount sufficiency, validity window, on-chain
// replay state, and on-chain balance. The first failing check returns.
func (s *Service) Verify(ctx context.Context, envelope *relaytypes.PaymentEnvelope, expectedAmount *big.Int) (VerifyResult, error) {
	auth := envelope.Payload.Authorization

	if !strings.EqualFold(auth.To, s.receivingAddr.Hex()) {
		return VerifyResult{Valid: false, Reason: "Recipient mismatch"}, nil
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return VerifyResult{Valid: false, Reason: "Invalid authorization value"}, nil
	}
	if value.Cmp(expectedAmount) < 0 {
		return VerifyResult{Valid: false, Reason: "Insufficient amount"}, nil
	}

	now := time.Now().Unix()
	if now <= auth.ValidAfter {
		return VerifyResult{Valid: false, Reason: "Authorization not yet valid"}, nil
	}
	if now >= auth.ValidBefore {
		return VerifyResult{Valid: false, Reason: "Authorization expired"}, nil
	}

	if !common.IsHexAddress(auth.From) {
		return VerifyResult{Valid: false, Reason: "Malformed payer address"}, nil
	}
	nonceBytes, err := decodeNonce(auth.Nonce)
	if err != nil {
		return VerifyResult{Valid: false, Reason: "Malformed authorization nonce"}, nil
	}

	used, err := s.authorizationUsed(ctx, common.HexToAddress(auth.From), nonceBytes)
	if err != nil {
		return VerifyResult{}, err
	}
	if used {
		return VerifyResult{Valid: false, Reason: "Authorization already used"}, nil
	}

	balance, err := s.chain.ContractRead(ctx, s.stablecoin, chain.StablecoinABI, "balanceOf", common.HexToAddress(auth.From))
	if err != nil {
		return VerifyResult{}, err
	}
	balanceInt, ok := balance.(*big.Int)
	if !ok {
		return VerifyResult{}, fmt.Errorf("payment: unexpected balanceOf return type %T", balance)
	}
	if balanceInt.Cmp(value) < 0 {
		return VerifyResult{Valid: false, Reason: "Insufficient balance"}, nil
	}

	return VerifyResult{Valid: true}, nil
}

func (s *Service) authorizationUsed(ctx context.Context, from common.Address, nonce [32]byte) (bool, error) {
	result, err := s.chain.ContractRead(ctx, s.stablecoin, chain.StablecoinABI, "authorizationState", from, nonce)
	if err != nil {
		return false, err
	}
	used, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("payment: unexpected authorizationState return type %T", result)
	}
	return used, nil
}

func decodeNonce(hexStr string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(hexStr, "0x")
	if len(trimmed) != 64 {
		return out, fmt.Errorf("payment: nonce must be 32 bytes, got %d", len(trimmed)/2)
	}
	raw := common.FromHex("0x" + trimmed)
	copy(out[:], raw)
	return out, nil
}

// Settle executes transferWithAuthorization from a pool wallet and returns
// its transaction hash. A non-success receipt status is treated as a
// settlement failure — the orchestrator must not proceed to execution.
func (s *Service) Settle(ctx context.Context, envelope *relaytypes.PaymentEnvelope) (string, error) {
	auth := envelope.Payload.Authorization

	sigBytes := common.FromHex(envelope.Payload.Signature)
	if len(sigBytes) != 65 {
		return "", fmt.Errorf("payment: signature must be 65 bytes, got %d", len(sigBytes))
	}
	var r, sVal [32]byte
	copy(r[:], sigBytes[0:32])
	copy(sVal[:], sigBytes[32:64])
	v := sigBytes[64]

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return "", fmt.Errorf("payment: invalid authorization value %q", auth.Value)
	}
	nonce, err := decodeNonce(auth.Nonce)
	if err != nil {
		return "", err
	}

	handle, err := s.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("payment: acquire relayer: %w", err)
	}
	defer handle.Release()

	resp, err := s.chain.SendContract(ctx, handle.Wallet(), s.stablecoin, chain.StablecoinABI, "transferWithAuthorization",
		[]interface{}{
			common.HexToAddress(auth.From),
			common.HexToAddress(auth.To),
			value,
			big.NewInt(auth.ValidAfter),
			big.NewInt(auth.ValidBefore),
			nonce,
			v,
			r,
			sVal,
		}, chain.TxOpts{})
	if err != nil {
		return "", err
	}

	receipt, err := s.chain.AwaitReceipt(ctx, resp.Hash, 1)
	if err != nil {
		return "", err
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return resp.Hash.Hex(), fmt.Errorf("payment: settlement transaction reverted")
	}

	return resp.Hash.Hex(), nil
}
