// Package validation checks decoded payments against the requirement they
// claim to satisfy, before anything is sent to the facilitator.
package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cardotrejos/x402/amount"
	"github.com/cardotrejos/x402/types"
)

// MissingFieldsError reports the required payload fields that are absent or
// empty. Fields is sorted alphabetically so the error is deterministic.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required payment fields: " + strings.Join(e.Fields, ", ")
}

// InvalidPayloadError reports an upto payment whose value or ceiling could
// not be extracted or parsed.
type InvalidPayloadError struct {
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return "invalid payment payload: " + e.Reason
}

// ExceedsMaxPriceError reports an upto payment bidding above its ceiling.
type ExceedsMaxPriceError struct {
	Value    string
	MaxPrice string
}

func (e *ExceedsMaxPriceError) Error() string {
	return fmt.Sprintf("payment value %s exceeds max price %s", e.Value, e.MaxPrice)
}

// Validate checks that payload carries every required field and, for the upto
// scheme, that its payment value stays within the requirement's bid ceiling.
// Schemes other than upto have no ceiling to enforce; exact amounts are the
// facilitator's to verify.
func Validate(payload types.PaymentPayload, req types.PaymentRequirement) error {
	fields := []struct {
		key   string
		value string
	}{
		{"transactionHash", payload.TransactionHash()},
		{"network", payload.Network()},
		{"scheme", payload.Scheme()},
		{"payerWallet", payload.PayerWallet()},
	}

	var missing []string
	for _, f := range fields {
		if f.value == "" {
			missing = append(missing, f.key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &MissingFieldsError{Fields: missing}
	}

	scheme := req.Scheme
	if scheme == "" {
		scheme = payload.Scheme()
	}
	if scheme != types.SchemeUpto {
		return nil
	}

	value, ok := payload.Value()
	if !ok {
		return &InvalidPayloadError{Reason: "no payment value found"}
	}

	maxPrice := req.MaxPrice
	if maxPrice == "" {
		maxPrice, _ = payload.MaxPrice()
	}
	if maxPrice == "" {
		return &InvalidPayloadError{Reason: "no max price to enforce"}
	}

	cmp, err := amount.Compare(value, maxPrice)
	if err != nil {
		return &InvalidPayloadError{Reason: err.Error()}
	}
	if cmp > 0 {
		return &ExceedsMaxPriceError{Value: value, MaxPrice: maxPrice}
	}

	return nil
}
