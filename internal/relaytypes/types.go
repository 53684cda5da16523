// Package relaytypes holds the data model shared by every component of the
// relay pipeline: the signed envelopes that cross the wire, the quotes the
// pricing engine produces, and the bookkeeping records the pool and health
// aggregator keep in memory.
package relaytypes

import (
	"math/big"
	"time"
)

// ForwardRequest is the signed EIP-2771-style envelope an agent submits.
// All integer fields arrive over the wire as decimal strings and are parsed
// into arbitrary-precision integers at the boundary; the pipeline computes
// with the *big.Int forms, and the *Str fields keep the original wire text.
type ForwardRequest struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Value    *big.Int `json:"-"`
	ValueStr string   `json:"value"`
	Gas      *big.Int `json:"-"`
	GasStr   string   `json:"gas"`
	Nonce    *big.Int `json:"-"`
	NonceStr string   `json:"nonce"`
	Deadline int64    `json:"deadline"`
	Data     string   `json:"data"`
}

// PaymentAuthorization is the EIP-3009 transferWithAuthorization message.
type PaymentAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// PaymentPayload carries the signature alongside the authorization it signs.
type PaymentPayload struct {
	Signature     string               `json:"signature"`
	Authorization PaymentAuthorization `json:"authorization"`
}

// PaymentEnvelope is the decoded form of the X-Payment HTTP header.
type PaymentEnvelope struct {
	Version int            `json:"version"`
	Scheme  string         `json:"scheme"`
	Network string         `json:"network"`
	Payload PaymentPayload `json:"payload"`
}

// PriorityTier names one of the three pricing tiers a client may request.
type PriorityTier string

const (
	TierSlow   PriorityTier = "slow"
	TierNormal PriorityTier = "normal"
	TierFast   PriorityTier = "fast"
)

// TierConfig is the fixed (markup, gas-price, latency) bundle for a tier.
type TierConfig struct {
	MarkupMultiplier   float64
	GasPriceMultiplier float64
	EstimatedTime      time.Duration
}

// TierConfigs is the fixed table of priority tiers, per spec: slow (0.5x
// markup, 0.8x gas price, ~30s), normal (1.0x, 1.0x, ~10s), fast (2.0x,
// 1.5x, ~3s).
var TierConfigs = map[PriorityTier]TierConfig{
	TierSlow:   {MarkupMultiplier: 0.5, GasPriceMultiplier: 0.8, EstimatedTime: 30 * time.Second},
	TierNormal: {MarkupMultiplier: 1.0, GasPriceMultiplier: 1.0, EstimatedTime: 10 * time.Second},
	TierFast:   {MarkupMultiplier: 2.0, GasPriceMultiplier: 1.5, EstimatedTime: 3 * time.Second},
}

// PriceQuote is a pure value the server does not retain once issued; the
// client attaches a payment whose amount meets or exceeds FinalPriceRaw.
type PriceQuote struct {
	GasEstimate         *big.Int
	GasPriceGwei        *big.Int
	NativeUsdPrice      float64
	BaseCostUsd         float64
	MarkupFactor        float64
	FinalPriceUsd       float64
	FinalPriceStable    string // human decimal string, e.g. "0.054000"
	FinalPriceRaw       *big.Int
	ValidUntil          time.Time
	Tier                PriorityTier
	TierConfig          TierConfig
}

// RelayerState is a point-in-time snapshot of one pool wallet's bookkeeping,
// as returned by the relayer pool's Stats. Jobs hold a relayer.Handle, not a
// RelayerState.
type RelayerState struct {
	Address        string
	PendingCount   int64
	LastUsedMillis int64
	NonceHint      uint64
}

// TxStatus is the observability-only lifecycle state of a TxRecord.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// TxRecord is an ephemeral, in-memory-only observability record; it is never
// persisted and does not survive a restart.
type TxRecord struct {
	ID              string
	AgentAddress    string
	EnvelopeHash    string
	ForwarderTxHash string
	Status          TxStatus
	GasEstimate     *big.Int
	GasUsed         *big.Int
	GasPriceGwei    *big.Int
	PaymentTxHash   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ExecuteResult is what the forwarder service returns for a single inner call.
type ExecuteResult struct {
	TxHash       string
	Success      bool
	ReturnData   []byte
	RelayerAddr  string
	GasUsed      *big.Int
}
