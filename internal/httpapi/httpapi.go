// Package httpapi is the relay's HTTP-facing surface (C6/C7): it decodes
// and schema-validates requests, drives the orchestrator, shapes the 402
// payment-challenge body, enforces per-route rate limits, and translates
// every apperr.Error into the uniform error envelope.
package httpapi

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/fastlane-relay/gasless-relay/internal/apperr"
	"github.com/fastlane-relay/gasless-relay/internal/forwarder"
	"github.com/fastlane-relay/gasless-relay/internal/health"
	"github.com/fastlane-relay/gasless-relay/internal/orchestrator"
	"github.com/fastlane-relay/gasless-relay/internal/ratelimit"
	"github.com/fastlane-relay/gasless-relay/internal/relaytypes"
	"github.com/sirupsen/logrus"
)

// Orchestrator is the narrow C6 surface handlers drive.
type Orchestrator interface {
	Relay(ctx context.Context, req *relaytypes.ForwardRequest, signatureHex string, tier relaytypes.PriorityTier, paymentHeader string) (*orchestrator.SingleResult, *orchestrator.PaymentRequiredResponse, error)
	RelayBatch(ctx context.Context, items []orchestrator.BatchItem, tier relaytypes.PriorityTier, paymentHeader string) (*orchestrator.BatchResult, *orchestrator.PaymentRequiredResponse, error)
}

// ForwarderInfo is the narrow C4 surface the read-only domain/nonce
// endpoints need.
type ForwarderInfo interface {
	GetDomain() forwarder.Domain
	GetTypes() map[string][]forwarder.TypeField
	GetNonce(ctx context.Context, addr common.Address) (*big.Int, error)
}

// Pricer is the narrow C3 surface /estimate needs.
type Pricer interface {
	Price(ctx context.Context, gasEstimate *big.Int, tier relaytypes.PriorityTier) (*relaytypes.PriceQuote, error)
	DefaultGasUnit() uint64
}

// GasEstimator is the narrow chain capability /estimate needs to size an
// unknown call before pricing it.
type GasEstimator interface {
	EstimateGas(ctx context.Context, from, to common.Address, data []byte, value *big.Int) (uint64, error)
}

// HealthChecker is the narrow C8 surface /health needs.
type HealthChecker interface {
	Check(ctx context.Context) (*health.Report, bool)
}

// PrimaryAddr reports the address /estimate should simulate calls from.
type PrimaryAddr interface {
	PrimaryAddress() common.Address
}

// Container wires every service the HTTP layer drives. Built once at
// startup in cmd/relay and passed into NewRouter; handlers hold no other
// state.
type Container struct {
	Orchestrator    Orchestrator
	Forwarder       ForwarderInfo
	Pricing         Pricer
	Gas             GasEstimator
	Health          HealthChecker
	Limiter         *ratelimit.Limiter
	Tracker         *health.Tracker
	Primary         PrimaryAddr
	ForwarderAddr   common.Address
	StablecoinAddr  common.Address
	ReceivingWallet common.Address
	Network         string // CAIP-2 style "<family>:<chainId>", e.g. "eip155:338"
	Log             *logrus.Entry
}

// NewRouter builds the relay's gin.Engine: every route from spec §6 wired
// against c, with rate limiting and a uniform error envelope.
func NewRouter(c *Container) *gin.Engine {
	if c.Log == nil {
		c.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(c.Log))

	r.GET("/health", c.rateLimited(ratelimit.RouteGeneral), c.handleHealth)
	r.GET("/estimate", c.rateLimited(ratelimit.RouteEstimate), c.handleEstimate)
	r.GET("/meta/domain", c.rateLimited(ratelimit.RouteGeneral), c.handleMetaDomain)
	r.GET("/meta/nonce/:address", c.rateLimited(ratelimit.RouteGeneral), c.handleMetaNonce)
	r.POST("/meta/relay", c.rateLimited(ratelimit.RouteRelay), c.handleMetaRelay)
	r.POST("/meta/batch", c.rateLimited(ratelimit.RouteRelay), c.handleMetaBatch)
	r.GET("/faucet/:address", c.rateLimited(ratelimit.RouteGeneral), c.handleFaucet)

	return r
}

// requestIDKey is the gin context key under which requestLogger stores the
// per-request id. TxRecord ids are minted separately in buildTxRecord.
const requestIDKey = "requestID"

// requestLogger attaches a per-request logrus entry with a fresh request id,
// following the teacher's structured-field logging convention.
func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()
		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set("X-Request-Id", requestID)
		c.Next()
		log.WithFields(logrus.Fields{
			"requestId": requestID,
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"duration":  time.Since(start).String(),
		}).Info("request handled")
	}
}

// rateLimitKey prefers a caller-asserted agent address header; a relay
// client that does not set it is keyed by peer IP instead, per spec §4.7.
func rateLimitKey(c *gin.Context) string {
	if addr := c.GetHeader("X-Agent-Address"); addr != "" {
		return addr
	}
	return c.ClientIP()
}

func (c *Container) rateLimited(route ratelimit.Route) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c.Limiter == nil {
			ctx.Next()
			return
		}
		ok, retryAfter := c.Limiter.Allow(route, rateLimitKey(ctx))
		if !ok {
			writeErr(ctx, apperr.RateLimited(int(retryAfter.Round(time.Second).Seconds())))
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

// errorEnvelope is the uniform {error, message, details?} shape every
// handler failure is translated into, per spec §7.
type errorEnvelope struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// rateLimitedBody is spec §4.7's literal 429 body — {error, retryAfter} at
// the top level, not nested under details — kept distinct from the §7
// uniform envelope so a client polling for retryAfter finds it directly.
type rateLimitedBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

func writeErr(c *gin.Context, err error) {
	if appErr, ok := err.(*apperr.Error); ok {
		if appErr.Code == apperr.CodeRateLimited {
			retryAfter, _ := appErr.Details["retryAfter"].(int)
			c.JSON(appErr.HTTPStatus, rateLimitedBody{Error: string(appErr.Code), RetryAfter: retryAfter})
			return
		}
		c.JSON(appErr.HTTPStatus, errorEnvelope{
			Error:   string(appErr.Code),
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, errorEnvelope{
		Error:   string(apperr.CodeInternal),
		Message: err.Error(),
	})
}
