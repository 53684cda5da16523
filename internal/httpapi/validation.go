package httpapi

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fastlane-relay/gasless-relay/internal/apperr"
	"github.com/fastlane-relay/gasless-relay/internal/relaytypes"
	"github.com/xeipuuv/gojsonschema"
)

// forwardRequestSchema is the JSON Schema every /meta/relay body is
// validated against before it is ever touched by the forwarder or payment
// services, per spec §9's "schema-validated at the boundary" design note.
// /meta/batch bodies are validated against batchRequestSchema instead.
const forwardRequestSchema = `{
	"type": "object",
	"required": ["request", "signature"],
	"properties": {
		"request": {
			"type": "object",
			"required": ["from", "to", "value", "gas", "nonce", "deadline", "data"],
			"properties": {
				"from": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
				"to": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
				"value": {"type": "string", "pattern": "^[0-9]+$"},
				"gas": {"type": "string", "pattern": "^[0-9]+$"},
				"nonce": {"type": "string", "pattern": "^[0-9]+$"},
				"deadline": {"type": "integer"},
				"data": {"type": "string"}
			}
		},
		"signature": {"type": "string", "pattern": "^0x[0-9a-fA-F]{130}$"},
		"tier": {"type": "string", "enum": ["slow", "normal", "fast"]}
	}
}`

// batchRequestSchema repeats forwardRequestSchema's request/signature shape
// for each item of the 1..10 bounded array spec §4.6 requires.
const batchRequestSchema = `{
	"type": "object",
	"required": ["requests"],
	"properties": {
		"requests": {
			"type": "array",
			"minItems": 1,
			"maxItems": 10,
			"items": {
				"type": "object",
				"required": ["request", "signature"],
				"properties": {
					"request": {
						"type": "object",
						"required": ["from", "to", "value", "gas", "nonce", "deadline", "data"],
						"properties": {
							"from": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
							"to": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
							"value": {"type": "string", "pattern": "^[0-9]+$"},
							"gas": {"type": "string", "pattern": "^[0-9]+$"},
							"nonce": {"type": "string", "pattern": "^[0-9]+$"},
							"deadline": {"type": "integer"},
							"data": {"type": "string"}
						}
					},
					"signature": {"type": "string", "pattern": "^0x[0-9a-fA-F]{130}$"}
				}
			}
		},
		"tier": {"type": "string", "enum": ["slow", "normal", "fast"]}
	}
}`

var (
	forwardRequestValidator = mustCompile(forwardRequestSchema)
	batchRequestValidator   = mustCompile(batchRequestSchema)
)

func mustCompile(schema string) *gojsonschema.Schema {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("httpapi: invalid embedded schema: %v", err))
	}
	return compiled
}

func validateAgainst(validator *gojsonschema.Schema, body []byte) error {
	result, err := validator.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return apperr.Validation(fmt.Sprintf("malformed JSON body: %v", err))
	}
	if !result.Valid() {
		if len(result.Errors()) > 0 {
			return apperr.Validation(result.Errors()[0].String())
		}
		return apperr.Validation("request body failed schema validation")
	}
	return nil
}

// forwardRequestWire is the over-the-wire shape of a ForwardRequest: every
// integer field a decimal string, per spec §3.
type forwardRequestWire struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Gas      string `json:"gas"`
	Nonce    string `json:"nonce"`
	Deadline int64  `json:"deadline"`
	Data     string `json:"data"`
}

type relayRequestBody struct {
	Request   forwardRequestWire `json:"request"`
	Signature string             `json:"signature"`
	Tier      string             `json:"tier"`
}

type batchRequestItem struct {
	Request   forwardRequestWire `json:"request"`
	Signature string             `json:"signature"`
}

type batchRequestBody struct {
	Requests []batchRequestItem `json:"requests"`
	Tier     string             `json:"tier"`
}

// toForwardRequest parses a wire envelope's decimal-string integers into
// arbitrary-precision form and checks the invariants spec §3 places on the
// envelope itself (addresses well-formed, deadline in the future). Forwarder
// contract-level invariants (nonce match, signature recovery) are checked
// later by forwarder.Verify.
func toForwardRequest(w forwardRequestWire) (*relaytypes.ForwardRequest, error) {
	if !common.IsHexAddress(w.From) || !common.IsHexAddress(w.To) {
		return nil, apperr.Validation("from/to must be 20-byte hex addresses")
	}
	value, ok := new(big.Int).SetString(w.Value, 10)
	if !ok {
		return nil, apperr.Validation("value must be a decimal integer string")
	}
	gas, ok := new(big.Int).SetString(w.Gas, 10)
	if !ok {
		return nil, apperr.Validation("gas must be a decimal integer string")
	}
	nonce, ok := new(big.Int).SetString(w.Nonce, 10)
	if !ok {
		return nil, apperr.Validation("nonce must be a decimal integer string")
	}
	if w.Deadline <= time.Now().Unix() {
		return nil, apperr.Validation("deadline must be in the future")
	}

	return &relaytypes.ForwardRequest{
		From:     w.From,
		To:       w.To,
		Value:    value,
		ValueStr: w.Value,
		Gas:      gas,
		GasStr:   w.Gas,
		Nonce:    nonce,
		NonceStr: w.Nonce,
		Deadline: w.Deadline,
		Data:     w.Data,
	}, nil
}

func parseTier(raw string) relaytypes.PriorityTier {
	tier := relaytypes.PriorityTier(raw)
	if _, ok := relaytypes.TierConfigs[tier]; !ok {
		return relaytypes.TierNormal
	}
	return tier
}
