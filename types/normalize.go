package types

// NormalizeRequirement folds the historical price-key spellings into the one
// canonical field for the requirement's effective scheme and returns the
// result as a new record; req itself is never touched. The effective scheme
// is the requirement's own, falling back to the payload's when the
// requirement leaves it blank. Unrecognized schemes pass through unchanged.
//
// Normalization is idempotent: a normalized requirement normalizes to itself.
func NormalizeRequirement(req PaymentRequirement, payload PaymentPayload) PaymentRequirement {
	scheme := req.Scheme
	if scheme == "" {
		scheme = payload.Scheme()
	}

	out := req
	switch scheme {
	case SchemeExact:
		out.MaxAmountRequired = firstSet(req.MaxAmountRequired, req.Price, req.MaxPrice)
		out.MaxPrice = ""
		out.Price = ""
	case SchemeUpto:
		out.MaxPrice = firstSet(req.MaxPrice, req.Price, req.MaxAmountRequired)
		out.MaxAmountRequired = ""
		out.Price = ""
	}
	return out
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
