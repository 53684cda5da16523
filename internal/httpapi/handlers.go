package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/fastlane-relay/gasless-relay/internal/apperr"
	"github.com/fastlane-relay/gasless-relay/internal/orchestrator"
	"github.com/fastlane-relay/gasless-relay/internal/relaytypes"
)

// handleHealth serves spec §4.8: 200 "healthy" when the primary relayer's
// native balance clears the funding floor, 503 "degraded" otherwise.
func (c *Container) handleHealth(ctx *gin.Context) {
	report, healthy := c.Health.Check(ctx.Request.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	ctx.JSON(status, report)
}

// estimateQuoteBody is the wire shape of a single PriceQuote.
type estimateQuoteBody struct {
	GasEstimate          string  `json:"gasEstimate"`
	GasPriceGwei         string  `json:"gasPriceGwei"`
	NativeUsdPrice       float64 `json:"nativeUsdPrice"`
	BaseCostUsd          float64 `json:"baseCostUsd"`
	MarkupFactor         float64 `json:"markupFactor"`
	FinalPriceUsd        float64 `json:"finalPriceUsd"`
	FinalPriceStablecoin string  `json:"finalPriceStablecoin"`
	FinalPriceRaw        string  `json:"finalPriceRaw"`
	ValidUntil           string  `json:"validUntil"`
	Tier                 string  `json:"tier"`
	EstimatedTime        string  `json:"estimatedTime"`
}

func quoteToBody(q *relaytypes.PriceQuote) estimateQuoteBody {
	return estimateQuoteBody{
		GasEstimate:          q.GasEstimate.String(),
		GasPriceGwei:         q.GasPriceGwei.String(),
		NativeUsdPrice:       q.NativeUsdPrice,
		BaseCostUsd:          q.BaseCostUsd,
		MarkupFactor:         q.MarkupFactor,
		FinalPriceUsd:        q.FinalPriceUsd,
		FinalPriceStablecoin: q.FinalPriceStable,
		FinalPriceRaw:        q.FinalPriceRaw.String(),
		ValidUntil:           q.ValidUntil.Format("2006-01-02T15:04:05Z07:00"),
		Tier:                 string(q.Tier),
		EstimatedTime:        q.TierConfig.EstimatedTime.String(),
	}
}

// handleEstimate serves spec §6 GET /estimate: quotes across all three
// tiers, or a single tier when ?priority is given.
func (c *Container) handleEstimate(ctx *gin.Context) {
	toRaw := ctx.Query("to")
	if !common.IsHexAddress(toRaw) {
		writeErr(ctx, apperr.Validation("to must be a 20-byte hex address"))
		return
	}
	to := common.HexToAddress(toRaw)

	dataRaw := ctx.Query("data")
	data := common.FromHex(dataRaw)

	valueRaw := ctx.DefaultQuery("value", "0")
	value, ok := new(big.Int).SetString(valueRaw, 10)
	if !ok {
		writeErr(ctx, apperr.Validation("value must be a decimal integer string"))
		return
	}

	from := c.Primary.PrimaryAddress()
	gas, err := c.Gas.EstimateGas(ctx.Request.Context(), from, to, data, value)
	if err != nil {
		writeErr(ctx, apperr.Internal("gas estimation failed", err))
		return
	}
	gasEstimate := new(big.Int).SetUint64(gas)

	priority := ctx.Query("priority")
	if priority != "" {
		tier := relaytypes.PriorityTier(priority)
		if _, ok := relaytypes.TierConfigs[tier]; !ok {
			writeErr(ctx, apperr.Validation("priority must be one of slow, normal, fast"))
			return
		}
		quote, err := c.Pricing.Price(ctx.Request.Context(), gasEstimate, tier)
		if err != nil {
			writeErr(ctx, apperr.Internal("pricing failed", err))
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"gasEstimate": gasEstimate.String(), "quote": quoteToBody(quote)})
		return
	}

	tiers := gin.H{}
	for _, tier := range []relaytypes.PriorityTier{relaytypes.TierSlow, relaytypes.TierNormal, relaytypes.TierFast} {
		quote, err := c.Pricing.Price(ctx.Request.Context(), gasEstimate, tier)
		if err != nil {
			writeErr(ctx, apperr.Internal("pricing failed", err))
			return
		}
		tiers[string(tier)] = quoteToBody(quote)
	}
	ctx.JSON(http.StatusOK, gin.H{"gasEstimate": gasEstimate.String(), "quotes": tiers})
}

// handleMetaDomain serves spec §6 GET /meta/domain: the exact EIP-712
// domain and type schema a client must sign against.
func (c *Container) handleMetaDomain(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"domain":           c.Forwarder.GetDomain(),
		"types":            c.Forwarder.GetTypes(),
		"forwarderAddress": c.ForwarderAddr.Hex(),
	})
}

// handleMetaNonce serves spec §6 GET /meta/nonce/:address.
func (c *Container) handleMetaNonce(ctx *gin.Context) {
	addrRaw := ctx.Param("address")
	if !common.IsHexAddress(addrRaw) {
		writeErr(ctx, apperr.Validation("address must be a 20-byte hex address"))
		return
	}
	nonce, err := c.Forwarder.GetNonce(ctx.Request.Context(), common.HexToAddress(addrRaw))
	if err != nil {
		writeErr(ctx, apperr.Internal("could not read forwarder nonce", err))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"address": addrRaw, "nonce": nonce.String()})
}

// x402Accept is one entry of the 402 body's accepts array, per spec §6.
type x402Accept struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	Asset             string `json:"asset"`
	PayTo             string `json:"payTo"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Description       string `json:"description"`
}

type x402Terms struct {
	Version int          `json:"version"`
	Accepts []x402Accept `json:"accepts"`
}

type quoteSummary struct {
	GasEstimate  string  `json:"gasEstimate"`
	GasPriceGwei string  `json:"gasPriceGwei"`
	CroPrice     float64 `json:"croPrice"`
	PriceUSDC    string  `json:"priceUSDC"`
	Priority     string  `json:"priority"`
	ValidUntil   string  `json:"validUntil"`
}

type paymentRequiredBody struct {
	Error string       `json:"error"`
	X402  x402Terms    `json:"x402"`
	Quote quoteSummary `json:"quote"`
}

// buildPaymentRequired renders the exact 402 body shape spec §6 specifies.
func (c *Container) buildPaymentRequired(resp *orchestrator.PaymentRequiredResponse, description string) paymentRequiredBody {
	q := resp.Quote
	return paymentRequiredBody{
		Error: "Payment Required",
		X402: x402Terms{
			Version: 1,
			Accepts: []x402Accept{{
				Scheme:            resp.Terms.Scheme,
				Network:           resp.Terms.Network,
				Asset:             resp.Terms.Asset,
				PayTo:             resp.Terms.PayTo,
				MaxAmountRequired: q.FinalPriceRaw.String(),
				Description:       description,
			}},
		},
		Quote: quoteSummary{
			GasEstimate:  q.GasEstimate.String(),
			GasPriceGwei: q.GasPriceGwei.String(),
			CroPrice:     q.NativeUsdPrice,
			PriceUSDC:    q.FinalPriceStable,
			Priority:     string(q.Tier),
			ValidUntil:   q.ValidUntil.Format("2006-01-02T15:04:05Z07:00"),
		},
	}
}

// envelopeHash fingerprints a ForwardRequest's signed fields so a TxRecord
// can be correlated back to the envelope that produced it without retaining
// the envelope itself.
func envelopeHash(req *relaytypes.ForwardRequest) string {
	payload := fmt.Sprintf("%s|%s|%s|%s|%s|%d|%s", req.From, req.To, req.ValueStr, req.GasStr, req.NonceStr, req.Deadline, req.Data)
	return crypto.Keccak256Hash([]byte(payload)).Hex()
}

// buildTxRecord captures one terminal relay outcome (success or failure) as
// an observability-only TxRecord; it is never constructed for the
// awaiting-payment state, since no forwarder call has been attempted yet.
func buildTxRecord(req *relaytypes.ForwardRequest, success bool, txHash, paymentTxHash string, gasUsed *big.Int) relaytypes.TxRecord {
	status := relaytypes.TxConfirmed
	if !success {
		status = relaytypes.TxFailed
	}
	now := time.Now()
	return relaytypes.TxRecord{
		ID:              uuid.NewString(),
		AgentAddress:    req.From,
		EnvelopeHash:    envelopeHash(req),
		ForwarderTxHash: txHash,
		Status:          status,
		GasEstimate:     req.Gas,
		GasUsed:         gasUsed,
		PaymentTxHash:   paymentTxHash,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func readBody(ctx *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		return nil, apperr.Validation("could not read request body")
	}
	return body, nil
}

// handleMetaRelay implements spec §4.6's single-request state machine.
func (c *Container) handleMetaRelay(ctx *gin.Context) {
	body, err := readBody(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	if err := validateAgainst(forwardRequestValidator, body); err != nil {
		writeErr(ctx, err)
		return
	}

	var wire relayRequestBody
	if err := json.Unmarshal(body, &wire); err != nil {
		writeErr(ctx, apperr.Validation("malformed JSON body"))
		return
	}
	req, err := toForwardRequest(wire.Request)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	tier := parseTier(wire.Tier)
	paymentHeader := ctx.GetHeader("X-Payment")

	result, paymentRequired, err := c.Orchestrator.Relay(ctx.Request.Context(), req, wire.Signature, tier, paymentHeader)
	if err != nil {
		c.Tracker.RecordFailure()
		c.Tracker.RecordTx(buildTxRecord(req, false, "", "", nil))
		writeErr(ctx, err)
		return
	}
	if paymentRequired != nil {
		ctx.JSON(http.StatusPaymentRequired, c.buildPaymentRequired(paymentRequired, fmt.Sprintf("relay call to %s", req.To)))
		return
	}

	c.Tracker.RecordSuccess()
	c.Tracker.RecordTx(buildTxRecord(req, result.Success, result.TxHash, result.PaymentTxHash, result.GasUsed))
	ctx.JSON(http.StatusOK, gin.H{
		"success":       result.Success,
		"txHash":        result.TxHash,
		"paymentTxHash": result.PaymentTxHash,
		"result":        "0x" + common.Bytes2Hex(result.ReturnData),
		"tier":          result.Tier,
	})
}

// handleMetaBatch implements spec §4.6's batch variant: 1..10 requests,
// all-or-nothing signature verification, a single discounted payment, then
// sequential per-item execution with no rollback.
func (c *Container) handleMetaBatch(ctx *gin.Context) {
	body, err := readBody(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	if err := validateAgainst(batchRequestValidator, body); err != nil {
		writeErr(ctx, err)
		return
	}

	var wire batchRequestBody
	if err := json.Unmarshal(body, &wire); err != nil {
		writeErr(ctx, apperr.Validation("malformed JSON body"))
		return
	}

	items := make([]orchestrator.BatchItem, 0, len(wire.Requests))
	for _, item := range wire.Requests {
		req, err := toForwardRequest(item.Request)
		if err != nil {
			writeErr(ctx, err)
			return
		}
		items = append(items, orchestrator.BatchItem{Request: req, Signature: item.Signature})
	}
	tier := parseTier(wire.Tier)
	paymentHeader := ctx.GetHeader("X-Payment")

	result, paymentRequired, err := c.Orchestrator.RelayBatch(ctx.Request.Context(), items, tier, paymentHeader)
	if err != nil {
		c.Tracker.RecordFailure()
		for _, item := range items {
			c.Tracker.RecordTx(buildTxRecord(item.Request, false, "", "", nil))
		}
		writeErr(ctx, err)
		return
	}
	if paymentRequired != nil {
		ctx.JSON(http.StatusPaymentRequired, c.buildPaymentRequired(paymentRequired, fmt.Sprintf("batch relay of %d calls", len(items))))
		return
	}

	if result.Success {
		c.Tracker.RecordSuccess()
	} else {
		c.Tracker.RecordFailure()
	}

	type itemResult struct {
		Success bool   `json:"success"`
		TxHash  string `json:"txHash,omitempty"`
		To      string `json:"to"`
		Error   string `json:"error,omitempty"`
	}
	results := make([]itemResult, len(result.Items))
	for i, it := range result.Items {
		results[i] = itemResult{Success: it.Success, TxHash: it.TxHash, To: it.To, Error: it.Error}
		c.Tracker.RecordTx(buildTxRecord(items[i].Request, it.Success, it.TxHash, result.PaymentTxHash, it.GasUsed))
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success":       result.Success,
		"paymentTxHash": result.PaymentTxHash,
		"results":       results,
		"tier":          result.Tier,
	})
}

// handleFaucet is a deliberate boundary stub: spec §1 places the faucet
// out of core scope ("treated as black-box... faucet and deployment
// scripts"). The route exists so the surface matches spec §6 but does not
// implement a real funding flow.
func (c *Container) handleFaucet(ctx *gin.Context) {
	ctx.JSON(http.StatusNotImplemented, errorEnvelope{
		Error:   "NOT_IMPLEMENTED",
		Message: "the faucet is outside the relay's core transaction pipeline; run it as a separate service",
	})
}
