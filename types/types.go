package types

import "fmt"

// Schemes understood by the requirement normalizer and validator. Any other
// scheme passes through the pipeline untouched.
const (
	SchemeExact = "exact"
	SchemeUpto  = "upto"
)

// PaymentRequirement describes what a resource server accepts as payment.
type PaymentRequirement struct {
	// Scheme of the payment, "exact" or "upto".
	Scheme string `json:"scheme,omitempty"`

	// Network identifier the payment must be made on (e.g. "eip155:8453").
	Network string `json:"network,omitempty"`

	// Asset symbol or contract address the payment is denominated in.
	Asset string `json:"asset,omitempty"`

	// PayTo is the address that must receive the payment.
	PayTo string `json:"payTo,omitempty"`

	// Resource is the path of the thing being paid for.
	Resource string `json:"resource,omitempty"`

	// Description of the resource being purchased.
	Description string `json:"description,omitempty"`

	// MimeType of the resource response.
	MimeType string `json:"mimeType,omitempty"`

	// MaxAmountRequired is the canonical price field of the exact scheme, in
	// the asset's smallest unit. Represented as a string because amounts may
	// exceed uint64.
	MaxAmountRequired string `json:"maxAmountRequired,omitempty"`

	// MaxPrice is the canonical bid ceiling of the upto scheme.
	MaxPrice string `json:"maxPrice,omitempty"`

	// Price is a legacy spelling accepted from older configurations. The
	// normalizer folds it into the scheme's canonical field; downstream code
	// never reads it.
	Price string `json:"price,omitempty"`

	// MaxTimeoutSeconds is the longest the resource server may take to
	// respond once paid.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty"`

	// Extra carries scheme-specific details (e.g. EIP-712 domain name and
	// version for EVM payments).
	Extra map[string]any `json:"extra,omitempty"`
}

// Validate checks that a normalized requirement carries the fields the
// facilitator needs.
func (r *PaymentRequirement) Validate() error {
	if r.Scheme == "" {
		return fmt.Errorf("requirement.scheme is required")
	}

	if r.Network == "" {
		return fmt.Errorf("requirement.network is required")
	}

	if r.PayTo == "" {
		return fmt.Errorf("requirement.payTo is required")
	}

	switch r.Scheme {
	case SchemeExact:
		if r.MaxAmountRequired == "" {
			return fmt.Errorf("requirement.maxAmountRequired is required for the exact scheme")
		}
	case SchemeUpto:
		if r.MaxPrice == "" {
			return fmt.Errorf("requirement.maxPrice is required for the upto scheme")
		}
	}

	return nil
}

// PaymentPayload is a decoded payment header. Its wire shape varies across
// protocol revisions, so it stays a generic map; the accessors below probe the
// key spellings each revision used.
type PaymentPayload map[string]any

// valuePaths are the locations a payment value may live at, probed in order.
// The flat spellings came first historically; the nested ones mirror the EVM
// authorization envelope.
var valuePaths = [][]string{
	{"value"},
	{"amount"},
	{"payload", "value"},
	{"payload", "authorization", "value"},
	{"authorization", "value"},
}

// TransactionHash returns the payload's transaction hash, or "" when absent.
func (p PaymentPayload) TransactionHash() string {
	s, _ := p.lookup("transactionHash")
	return s
}

// Network returns the payload's network identifier, or "" when absent.
func (p PaymentPayload) Network() string {
	s, _ := p.lookup("network")
	return s
}

// Scheme returns the payload's payment scheme, or "" when absent.
func (p PaymentPayload) Scheme() string {
	s, _ := p.lookup("scheme")
	return s
}

// PayerWallet returns the paying wallet address, or "" when absent.
func (p PaymentPayload) PayerWallet() string {
	s, _ := p.lookup("payerWallet")
	return s
}

// Value returns the payment value of an upto payload, probing every location
// revision history has put it in.
func (p PaymentPayload) Value() (string, bool) {
	for _, path := range valuePaths {
		if s, ok := p.lookup(path...); ok {
			return s, true
		}
	}
	return "", false
}

// MaxPrice returns a bid ceiling embedded in the payload itself, used only
// when the requirement does not carry one.
func (p PaymentPayload) MaxPrice() (string, bool) {
	return p.lookup("maxPrice")
}

// Clone returns a copy of the payload's top level. Hooks receive clones so a
// hook rewriting fields cannot mutate the caller's map.
func (p PaymentPayload) Clone() PaymentPayload {
	if p == nil {
		return nil
	}
	out := make(PaymentPayload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// lookup walks path through nested maps and returns the string at the end.
// Missing keys, non-string leaves and empty strings all count as absent.
func (p PaymentPayload) lookup(path ...string) (string, bool) {
	node := map[string]any(p)
	for i, key := range path {
		v, ok := node[key]
		if !ok {
			return "", false
		}
		if i == len(path)-1 {
			s, ok := v.(string)
			if !ok || s == "" {
				return "", false
			}
			return s, true
		}
		child, ok := v.(map[string]any)
		if !ok {
			return "", false
		}
		node = child
	}
	return "", false
}

// FacilitatorRequest is the JSON body posted to the facilitator's verify and
// settle endpoints.
type FacilitatorRequest struct {
	Payload      PaymentPayload     `json:"payload"`
	Requirements PaymentRequirement `json:"requirements"`
}

// Response is a successful facilitator reply.
type Response struct {
	// Status is the HTTP status of the reply.
	Status int `json:"status"`

	// Body is the parsed JSON object the facilitator returned. Empty reply
	// bodies decode to an empty map.
	Body map[string]any `json:"body"`

	// Attempt is the 1-based count of HTTP attempts the transport needed.
	Attempt int `json:"attempt,omitempty"`
}

// VerifyOutcome is the conventional shape of a facilitator verify body.
type VerifyOutcome struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleOutcome is the conventional shape of a facilitator settle body.
type SettleOutcome struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// VerifyOutcome reads the conventional verify fields out of the response
// body. Unknown or missing fields decode to zero values.
func (r *Response) VerifyOutcome() VerifyOutcome {
	var out VerifyOutcome
	if r == nil || r.Body == nil {
		return out
	}
	out.IsValid, _ = r.Body["isValid"].(bool)
	out.InvalidReason, _ = r.Body["invalidReason"].(string)
	out.Payer, _ = r.Body["payer"].(string)
	return out
}

// SettleOutcome reads the conventional settle fields out of the response
// body. The transaction identifier has two spellings in the wild, so both
// are probed, canonical first. Unknown or missing fields decode to zero
// values.
func (r *Response) SettleOutcome() SettleOutcome {
	var out SettleOutcome
	if r == nil || r.Body == nil {
		return out
	}
	out.Success, _ = r.Body["success"].(bool)
	out.Transaction, _ = r.Body["transaction"].(string)
	if out.Transaction == "" {
		out.Transaction, _ = r.Body["txHash"].(string)
	}
	out.Network, _ = r.Body["network"].(string)
	out.ErrorReason, _ = r.Body["errorReason"].(string)
	return out
}
