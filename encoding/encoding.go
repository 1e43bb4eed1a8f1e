// Package encoding converts payment data to and from the base64 JSON form
// carried in X-PAYMENT and X-PAYMENT-RESPONSE headers.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/cardotrejos/x402/types"
)

// EncodePayment renders a payment payload for the X-PAYMENT request header.
func EncodePayment(payload types.PaymentPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePayment parses an X-PAYMENT header value.
func DecodePayment(encoded string) (types.PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding payment: %w", err)
	}
	var payload types.PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding payment: %w", err)
	}
	if payload == nil {
		return nil, fmt.Errorf("decoding payment: empty payload")
	}
	return payload, nil
}

// EncodeRequirement renders a payment requirement for transport inside a 402
// challenge header.
func EncodeRequirement(req types.PaymentRequirement) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding requirement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeRequirement parses a base64 requirement produced by
// EncodeRequirement.
func DecodeRequirement(encoded string) (types.PaymentRequirement, error) {
	var req types.PaymentRequirement
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return req, fmt.Errorf("decoding requirement: %w", err)
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("decoding requirement: %w", err)
	}
	return req, nil
}

// EncodeSettlement renders a settlement outcome for the X-PAYMENT-RESPONSE
// header.
func EncodeSettlement(body map[string]any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSettlement parses an X-PAYMENT-RESPONSE header value.
func DecodeSettlement(encoded string) (map[string]any, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding settlement: %w", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decoding settlement: %w", err)
	}
	return body, nil
}
