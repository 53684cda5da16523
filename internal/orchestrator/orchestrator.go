// Package orchestrator implements the HTTP-facing meta-relay state machine:
// validate, price, collect payment, settle, execute, respond. It is the one
// place that sequences the forwarder, payment, and pricing services against
// a single request.
package orchestrator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/fastlane-relay/gasless-relay/internal/apperr"
	"github.com/fastlane-relay/gasless-relay/internal/chain"
	"github.com/fastlane-relay/gasless-relay/internal/payment"
	"github.com/fastlane-relay/gasless-relay/internal/relaytypes"
	"github.com/shopspring/decimal"
)

// batchDiscountFactor is the 10% discount applied to a batch's combined quote.
var batchDiscountFactor = decimal.NewFromFloat(0.9)

// maxBatchSize bounds POST /meta/batch.
const maxBatchSize = 10

// stablecoinDecimals mirrors internal/pricing's EIP-3009 stablecoin scale,
// needed here to restate FinalPriceStable after discounting FinalPriceRaw.
const stablecoinDecimals = 6

// Forwarder is the narrow C4 surface the orchestrator drives.
type Forwarder interface {
	Verify(ctx context.Context, req *relaytypes.ForwardRequest, signatureHex string) (bool, error)
	Execute(ctx context.Context, req *relaytypes.ForwardRequest, signatureHex string) (*relaytypes.ExecuteResult, error)
}

// Payment is the narrow C5 surface the orchestrator drives.
type Payment interface {
	Verify(ctx context.Context, envelope *relaytypes.PaymentEnvelope, expectedAmount *big.Int) (payment.VerifyResult, error)
	Settle(ctx context.Context, envelope *relaytypes.PaymentEnvelope) (string, error)
}

// Pricer is the narrow C3 surface the orchestrator drives.
type Pricer interface {
	Price(ctx context.Context, gasEstimate *big.Int, tier relaytypes.PriorityTier) (*relaytypes.PriceQuote, error)
}

// PaymentTerms describes the protocol-level accept clause in a 402 body.
type PaymentTerms struct {
	Scheme  string
	Network string
	Asset   string
	PayTo   string
}

// Orchestrator wires the three services together per the relay protocol.
type Orchestrator struct {
	forwarder Forwarder
	payment   Payment
	pricing   Pricer
	terms     PaymentTerms
}

// New builds an orchestrator bound to one forwarder, payment, and pricing
// service, and the protocol terms advertised in every 402 response.
func New(forwarder Forwarder, payment Payment, pricing Pricer, terms PaymentTerms) *Orchestrator {
	return &Orchestrator{forwarder: forwarder, payment: payment, pricing: pricing, terms: terms}
}

// SingleResult is what /meta/relay returns on success, or carries partial
// information on a post-settlement execution failure.
type SingleResult struct {
	Success       bool
	TxHash        string
	PaymentTxHash string
	ReturnData    []byte
	GasUsed       *big.Int
	Tier          relaytypes.PriorityTier
}

// PaymentRequiredResponse is the 402 body's shape.
type PaymentRequiredResponse struct {
	Terms PaymentTerms
	Quote *relaytypes.PriceQuote
}

// Relay runs the single-request state machine. An empty paymentHeader means
// no X-Payment header was sent; the caller (HTTP layer) is responsible for
// turning a *PaymentRequiredResponse return into an HTTP 402.
func (o *Orchestrator) Relay(ctx context.Context, req *relaytypes.ForwardRequest, signatureHex string, tier relaytypes.PriorityTier, paymentHeader string) (*SingleResult, *PaymentRequiredResponse, error) {
	ok, err := o.forwarder.Verify(ctx, req, signatureHex)
	if err != nil {
		return nil, nil, apperr.Internal("forwarder verify failed", err)
	}
	if !ok {
		return nil, nil, apperr.InvalidSignature("signature did not recover or nonce/deadline mismatch")
	}

	if tier == "" {
		tier = relaytypes.TierNormal
	}
	quote, err := o.pricing.Price(ctx, req.Gas, tier)
	if err != nil {
		return nil, nil, apperr.Internal("pricing failed", err)
	}

	if paymentHeader == "" {
		return nil, &PaymentRequiredResponse{Terms: o.terms, Quote: quote}, nil
	}

	envelope := payment.ParseHeader(paymentHeader)
	if envelope == nil {
		return nil, nil, apperr.InvalidPayment("payment header could not be decoded")
	}

	verifyResult, err := o.payment.Verify(ctx, envelope, quote.FinalPriceRaw)
	if err != nil {
		return nil, nil, apperr.Internal("payment verification failed", err)
	}
	if !verifyResult.Valid {
		return nil, nil, apperr.PaymentInvalid(verifyResult.Reason)
	}

	paymentTxHash, err := o.payment.Settle(ctx, envelope)
	if err != nil {
		return nil, nil, apperr.PaymentFailed("settlement failed", err)
	}

	execResult, err := o.forwarder.Execute(ctx, req, signatureHex)
	if err != nil {
		if chainErr, ok := err.(*chain.Error); ok {
			wrapped := apperr.FromChainErrorKind(string(chainErr.Kind), chainErr.Retriable, chainErr)
			wrapped.Details = mergeDetails(wrapped.Details, map[string]any{"paymentTxHash": paymentTxHash})
			return nil, nil, wrapped
		}
		return nil, nil, apperr.Internal("execution failed after payment settled", err).WithDetails(map[string]any{"paymentTxHash": paymentTxHash})
	}

	return &SingleResult{
		Success:       execResult.Success,
		TxHash:        execResult.TxHash,
		PaymentTxHash: paymentTxHash,
		ReturnData:    execResult.ReturnData,
		GasUsed:       execResult.GasUsed,
		Tier:          tier,
	}, nil, nil
}

func mergeDetails(existing map[string]any, add map[string]any) map[string]any {
	if existing == nil {
		return add
	}
	for k, v := range add {
		existing[k] = v
	}
	return existing
}

// BatchItemResult is one item's outcome within a batch response.
type BatchItemResult struct {
	Success bool
	TxHash  string
	To      string
	Error   string
	GasUsed *big.Int
}

// BatchResult is what /meta/batch returns on success.
type BatchResult struct {
	Success       bool
	PaymentTxHash string
	Items         []BatchItemResult
	Tier          relaytypes.PriorityTier
}

// BatchItem is one signed request inside a batch.
type BatchItem struct {
	Request   *relaytypes.ForwardRequest
	Signature string
}

// RelayBatch verifies every item up front (rejecting the whole batch on any
// invalid signature), prices the combined gas once with a 10% discount,
// settles a single payment, then executes each item in order. Execution
// failures after settlement are per-item: the batch does not roll back and
// does not refund.
func (o *Orchestrator) RelayBatch(ctx context.Context, items []BatchItem, tier relaytypes.PriorityTier, paymentHeader string) (*BatchResult, *PaymentRequiredResponse, error) {
	if len(items) == 0 || len(items) > maxBatchSize {
		return nil, nil, apperr.Validation(fmt.Sprintf("batch size must be between 1 and %d", maxBatchSize))
	}

	totalGas := new(big.Int)
	for _, item := range items {
		ok, err := o.forwarder.Verify(ctx, item.Request, item.Signature)
		if err != nil {
			return nil, nil, apperr.Internal("forwarder verify failed", err)
		}
		if !ok {
			return nil, nil, apperr.InvalidSignature("one or more requests failed forwarder verification")
		}
		totalGas.Add(totalGas, item.Request.Gas)
	}

	if tier == "" {
		tier = relaytypes.TierNormal
	}
	quote, err := o.pricing.Price(ctx, totalGas, tier)
	if err != nil {
		return nil, nil, apperr.Internal("pricing failed", err)
	}
	discountedRaw := decimal.NewFromBigInt(quote.FinalPriceRaw, 0).Mul(batchDiscountFactor).Truncate(0).BigInt()

	if paymentHeader == "" {
		discountedQuote := *quote
		discountedQuote.FinalPriceRaw = discountedRaw
		discountedQuote.FinalPriceStable = decimal.NewFromBigInt(discountedRaw, -stablecoinDecimals).StringFixed(stablecoinDecimals)
		return nil, &PaymentRequiredResponse{Terms: o.terms, Quote: &discountedQuote}, nil
	}

	envelope := payment.ParseHeader(paymentHeader)
	if envelope == nil {
		return nil, nil, apperr.InvalidPayment("payment header could not be decoded")
	}

	verifyResult, err := o.payment.Verify(ctx, envelope, discountedRaw)
	if err != nil {
		return nil, nil, apperr.Internal("payment verification failed", err)
	}
	if !verifyResult.Valid {
		return nil, nil, apperr.PaymentInvalid(verifyResult.Reason)
	}

	paymentTxHash, err := o.payment.Settle(ctx, envelope)
	if err != nil {
		return nil, nil, apperr.PaymentFailed("settlement failed", err)
	}

	results := make([]BatchItemResult, len(items))
	overallSuccess := true
	for i, item := range items {
		execResult, err := o.forwarder.Execute(ctx, item.Request, item.Signature)
		if err != nil {
			overallSuccess = false
			results[i] = BatchItemResult{Success: false, To: item.Request.To, Error: err.Error()}
			continue
		}
		if !execResult.Success {
			overallSuccess = false
		}
		results[i] = BatchItemResult{Success: execResult.Success, TxHash: execResult.TxHash, To: item.Request.To, GasUsed: execResult.GasUsed}
	}

	return &BatchResult{
		Success:       overallSuccess,
		PaymentTxHash: paymentTxHash,
		Items:         results,
		Tier:          tier,
	}, nil, nil
}
