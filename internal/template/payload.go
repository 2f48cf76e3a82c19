package template

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/claimdesk/notify-engine/internal/domain"
)

// Template keys recognized by the renderer. Each key binds one payload
// shape, so a job can never be rendered against a shape it was not
// enqueued with.
const (
	KeyClaimSubmitted = "claim_submitted"
	KeyPaymentIssued  = "payment_issued"
	KeyPayeeApproved  = "payee_approved"
)

type ClaimSubmittedPayload struct {
	ClaimNumber  string  `json:"claim_number"`
	ClaimantName string  `json:"claimant_name"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
}

type PaymentIssuedPayload struct {
	PaymentRef  string  `json:"payment_ref"`
	ClaimNumber string  `json:"claim_number"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
}

type PayeeApprovedPayload struct {
	PayeeName  string `json:"payee_name"`
	ApprovedBy string `json:"approved_by"`
}

// decodePayload unmarshals the stored payload into the typed shape bound
// to the template key. Unknown fields are rejected so a producer sending
// the wrong shape fails loudly instead of rendering garbage.
func decodePayload(templateKey string, raw json.RawMessage) (any, error) {
	var target any
	switch templateKey {
	case KeyClaimSubmitted:
		target = &ClaimSubmittedPayload{}
	case KeyPaymentIssued:
		target = &PaymentIssuedPayload{}
	case KeyPayeeApproved:
		target = &PayeeApprovedPayload{}
	default:
		return nil, fmt.Errorf("%w: unknown template key %q", domain.ErrNotFound, templateKey)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return nil, fmt.Errorf("%w: payload does not match template %q: %v", domain.ErrValidation, templateKey, err)
	}

	return target, nil
}
