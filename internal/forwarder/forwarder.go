// Package forwarder holds the EIP-712 typed-data schema for ForwardRequest
// and drives the verify-then-execute cycle against the on-chain minimal
// forwarder contract.
package forwarder

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/fastlane-relay/gasless-relay/internal/chain"
	"github.com/fastlane-relay/gasless-relay/internal/relayer"
	"github.com/fastlane-relay/gasless-relay/internal/relaytypes"
)

// domainName and domainVersion are fixed by the forwarder contract itself;
// a client must sign against exactly these to recover to the right address.
const (
	domainName    = "MinimalForwarder"
	domainVersion = "1"
)

// Domain is the EIP-712 domain separator a client signs a ForwardRequest
// against. Served byte-exact to clients via GetDomain so the signature they
// produce is the one the on-chain verify() call expects.
type Domain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypeField is one field of an EIP-712 struct type definition.
type TypeField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

var forwardRequestTypes = []TypeField{
	{Name: "from", Type: "address"},
	{Name: "to", Type: "address"},
	{Name: "value", Type: "uint256"},
	{Name: "gas", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "deadline", Type: "uint256"},
	{Name: "data", Type: "bytes"},
}

// ChainReadWriter is the narrow chain capability the forwarder service needs:
// reading contract views and submitting signed contract calls.
type ChainReadWriter interface {
	ContractRead(ctx context.Context, contract common.Address, contractABI []byte, fn string, args ...interface{}) (interface{}, error)
	SendContract(ctx context.Context, wallet *chain.Wallet, contract common.Address, contractABI []byte, fn string, args []interface{}, opts chain.TxOpts) (*chain.TxResponse, error)
	AwaitReceipt(ctx context.Context, hash common.Hash, confirmations uint64) (*gethtypes.Receipt, error)
}

// WalletPool is the narrow relayer-pool capability the forwarder service
// needs: acquiring and releasing a wallet, and resyncing its nonce after a
// chain-level nonce conflict.
type WalletPool interface {
	Acquire(ctx context.Context) (*relayer.Handle, error)
	Resync(ctx context.Context, h *relayer.Handle) error
}

// Service wraps the forwarder contract: nonce lookups, off-contract
// verification, and dispatch through the relayer pool.
type Service struct {
	chain           ChainReadWriter
	pool            WalletPool
	forwarderAddr   common.Address
	chainID         *big.Int
}

// New builds a forwarder service bound to a single deployed contract.
func New(chainRW ChainReadWriter, pool WalletPool, forwarderAddr common.Address, chainID *big.Int) *Service {
	return &Service{
		chain:         chainRW,
		pool:          pool,
		forwarderAddr: forwarderAddr,
		chainID:       chainID,
	}
}

// GetDomain returns the EIP-712 domain a client must sign against.
func (s *Service) GetDomain() Domain {
	return Domain{
		Name:              domainName,
		Version:           domainVersion,
		ChainID:           new(big.Int).Set(s.chainID),
		VerifyingContract: s.forwarderAddr.Hex(),
	}
}

// GetTypes returns the ForwardRequest type schema for client-side signing.
func (s *Service) GetTypes() map[string][]TypeField {
	return map[string][]TypeField{"ForwardRequest": forwardRequestTypes}
}

// GetNonce reads the forwarder's current nonce for addr.
func (s *Service) GetNonce(ctx context.Context, addr common.Address) (*big.Int, error) {
	result, err := s.chain.ContractRead(ctx, s.forwarderAddr, chain.ForwarderABI, "getNonce", addr)
	if err != nil {
		return nil, err
	}
	nonce, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("forwarder: unexpected getNonce return type %T", result)
	}
	return nonce, nil
}

// forwardRequestTuple mirrors the ABI tuple's component names so
// accounts/abi can pack it positionally.
type forwardRequestTuple struct {
	From     common.Address
	To       common.Address
	Value    *big.Int
	Gas      *big.Int
	Nonce    *big.Int
	Deadline *big.Int
	Data     []byte
}

func toTuple(req *relaytypes.ForwardRequest) (forwardRequestTuple, error) {
	if !common.IsHexAddress(req.From) || !common.IsHexAddress(req.To) {
		return forwardRequestTuple{}, fmt.Errorf("forwarder: malformed address in request")
	}
	data, err := hexDecode(req.Data)
	if err != nil {
		return forwardRequestTuple{}, fmt.Errorf("forwarder: decode data: %w", err)
	}
	return forwardRequestTuple{
		From:     common.HexToAddress(req.From),
		To:       common.HexToAddress(req.To),
		Value:    req.Value,
		Gas:      req.Gas,
		Nonce:    req.Nonce,
		Deadline: big.NewInt(req.Deadline),
		Data:     data,
	}, nil
}

func hexDecode(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return []byte{}, nil
	}
	return common.FromHex("0x" + s), nil
}

// Verify calls the forwarder contract's view: true iff the signature
// recovers to from, the on-chain nonce equals request.nonce, and the
// request has not expired.
func (s *Service) Verify(ctx context.Context, req *relaytypes.ForwardRequest, signatureHex string) (bool, error) {
	tuple, err := toTuple(req)
	if err != nil {
		return false, err
	}
	sig, err := hexSignature(signatureHex)
	if err != nil {
		return false, err
	}

	result, err := s.chain.ContractRead(ctx, s.forwarderAddr, chain.ForwarderABI, "verify", tuple, sig)
	if err != nil {
		return false, err
	}
	ok, valid := result.(bool)
	if !valid {
		return false, fmt.Errorf("forwarder: unexpected verify return type %T", result)
	}
	return ok, nil
}

func hexSignature(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 130 {
		return nil, fmt.Errorf("forwarder: signature must be 65 bytes, got %d", len(s)/2)
	}
	return common.FromHex("0x" + s), nil
}

// Execute submits the forwarder's execute(req,sig) call through a pool
// wallet and decodes the inner Executed event. The outer transaction's
// mining success is orthogonal to the inner call's success: a relayed call
// that reverts inside the target still produces a mined outer transaction
// with success=false and a decoded error payload.
func (s *Service) Execute(ctx context.Context, req *relaytypes.ForwardRequest, signatureHex string) (*relaytypes.ExecuteResult, error) {
	tuple, err := toTuple(req)
	if err != nil {
		return nil, err
	}
	sig, err := hexSignature(signatureHex)
	if err != nil {
		return nil, err
	}

	handle, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("forwarder: acquire relayer: %w", err)
	}
	defer handle.Release()

	resp, err := s.chain.SendContract(ctx, handle.Wallet(), s.forwarderAddr, chain.ForwarderABI, "execute",
		[]interface{}{tuple, sig}, chain.TxOpts{Value: req.Value})
	if err != nil {
		if chainErr, ok := asChainError(err); ok && (chainErr.Kind == chain.KindNonceTooLow || chainErr.Kind == chain.KindUnderpriced) {
			_ = s.pool.Resync(ctx, handle)
		}
		return nil, err
	}

	receipt, err := s.chain.AwaitReceipt(ctx, resp.Hash, 1)
	if err != nil {
		return nil, err
	}

	result := &relaytypes.ExecuteResult{
		TxHash:      resp.Hash.Hex(),
		RelayerAddr: handle.Wallet().Address.Hex(),
		GasUsed:     new(big.Int).SetUint64(receipt.GasUsed),
	}

	for _, log := range receipt.Logs {
		if log.Address != s.forwarderAddr {
			continue
		}
		decoded, err := chain.ParseLog(chain.ForwarderABI, "Executed", *log)
		if err != nil {
			continue
		}
		if success, ok := decoded["success"].(bool); ok {
			result.Success = success
		}
		if returnData, ok := decoded["returnData"].([]byte); ok {
			result.ReturnData = returnData
		}
		break
	}

	return result, nil
}

func asChainError(err error) (*chain.Error, bool) {
	chainErr, ok := err.(*chain.Error)
	return chainErr, ok
}
