package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"

	"apolice-backend/internal/pkg/apperrors"
)

var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrMissingSecret    = errors.New("webhook secret not configured")
	ErrBadSignature     = errors.New("signature mismatch")
	ErrMissingField     = errors.New("signed field absent from payload")
)

// Headers is the read side of an inbound request's headers (case-insensitive lookup).
type Headers interface {
	Get(key string) string
}

// HeaderMap adapts a plain map for tests and non-Fiber callers.
type HeaderMap map[string]string

func (h HeaderMap) Get(key string) string {
	for k, v := range h {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// Verifier authenticates a raw callback before its payload is trusted.
type Verifier interface {
	Verify(h Headers, rawBody []byte) error
}

// BodyHMAC checks a hex HMAC-SHA256 of the raw body.
type BodyHMAC struct {
	Secret string
	Header string
}

func (v BodyHMAC) Verify(h Headers, rawBody []byte) error {
	if v.Secret == "" {
		return apperrors.Authentication("Webhook secret not configured", ErrMissingSecret)
	}
	sig := signatureValue(h.Get(v.Header))
	if sig == "" {
		return apperrors.Authentication("Missing signature", ErrMissingSignature)
	}
	return compare(sig, Sign(v.Secret, rawBody))
}

// FieldHMAC checks a hex HMAC-SHA256, keyed by the secret, over one payload field
// (the provider's document uuid) instead of the whole body. The first non-empty key of
// Fields is the signed one.
type FieldHMAC struct {
	Secret string
	Header string
	Fields []string
}

func (v FieldHMAC) Verify(h Headers, rawBody []byte) error {
	if v.Secret == "" {
		return apperrors.Authentication("Webhook secret not configured", ErrMissingSecret)
	}
	sig := signatureValue(h.Get(v.Header))
	if sig == "" {
		return apperrors.Authentication("Missing signature", ErrMissingSignature)
	}
	value := fieldValue(h.Get("Content-Type"), rawBody, v.Fields)
	if value == "" {
		return apperrors.Authentication("Missing signed field", ErrMissingField)
	}
	return compare(sig, Sign(v.Secret, []byte(value)))
}

// Sign returns the lowercase hex HMAC-SHA256 of payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func compare(got, want string) error {
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return apperrors.Authentication("Invalid signature", ErrBadSignature)
	}
	return nil
}

// signatureValue accepts "sha256=<hex>" as well as a bare hex digest.
func signatureValue(header string) string {
	header = strings.TrimSpace(header)
	if i := strings.Index(header, "="); i >= 0 && strings.EqualFold(header[:i], "sha256") {
		return header[i+1:]
	}
	return header
}

func fieldValue(contentType string, rawBody []byte, keys []string) string {
	fields, err := decodeFields(contentType, rawBody)
	if err != nil {
		return ""
	}
	return first(fields, keys...)
}

// TokenMatch checks a static shared token header, the payment gateway's alternative to an HMAC.
type TokenMatch struct {
	Token  string
	Header string
}

func (v TokenMatch) Verify(h Headers, _ []byte) error {
	if v.Token == "" {
		return apperrors.Authentication("Webhook token not configured", ErrMissingSecret)
	}
	got := h.Get(v.Header)
	if got == "" {
		return apperrors.Authentication("Missing webhook token", ErrMissingSignature)
	}
	if !hmac.Equal([]byte(got), []byte(v.Token)) {
		return apperrors.Authentication("Invalid webhook token", ErrBadSignature)
	}
	return nil
}

// isForm reports whether a content type carries URL-encoded fields.
func isForm(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "application/x-www-form-urlencoded")
}

func parseForm(rawBody []byte) (map[string]string, error) {
	values, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out, nil
}
