package webhooks

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"apolice-backend/internal/pkg/apperrors"

	"github.com/shopspring/decimal"
)

// Payment-gateway events that settle a proposal.
const (
	PaymentReceived  = "PAYMENT_RECEIVED"
	PaymentConfirmed = "PAYMENT_CONFIRMED"
)

var ErrNoReference = errors.New("payment has no usable external reference")

// PaymentEvent is the gateway callback body.
type PaymentEvent struct {
	Event   string `json:"event"`
	Payment struct {
		ID                string           `json:"id"`
		ExternalReference string           `json:"externalReference"`
		Value             *decimal.Decimal `json:"value"`
		NetValue          *decimal.Decimal `json:"netValue"`
		PaymentDate       string           `json:"paymentDate"`
		Status            string           `json:"status"`
	} `json:"payment"`
}

// ParsePaymentEvent decodes a gateway JSON callback.
func ParsePaymentEvent(rawBody []byte) (PaymentEvent, error) {
	var ev PaymentEvent
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return ev, apperrors.Validation("Malformed webhook payload", ErrMalformedPayload)
	}
	return ev, nil
}

// Settles reports whether the event moves a proposal to paid.
func (e PaymentEvent) Settles() bool {
	return e.Event == PaymentReceived || e.Event == PaymentConfirmed
}

// ProposalID parses externalReference as a proposal id.
func (e PaymentEvent) ProposalID() (uint, error) {
	ref := strings.TrimSpace(e.Payment.ExternalReference)
	id, err := strconv.ParseUint(ref, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrNoReference
	}
	return uint(id), nil
}

// Amount prefers the net value and falls back to the gross value.
func (e PaymentEvent) Amount() decimal.Decimal {
	if e.Payment.NetValue != nil {
		return *e.Payment.NetValue
	}
	if e.Payment.Value != nil {
		return *e.Payment.Value
	}
	return decimal.Zero
}

// PaidAt parses paymentDate (YYYY-MM-DD), defaulting to fallback when absent or malformed.
func (e PaymentEvent) PaidAt(fallback time.Time) time.Time {
	if t, err := time.Parse("2006-01-02", e.Payment.PaymentDate); err == nil {
		return t
	}
	return fallback
}
