package webhooks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"apolice-backend/internal/pkg/apperrors"
)

// Signature-provider event types.
const (
	EventFinished        = "finished"
	EventCancelled       = "cancelled"
	EventPartiallySigned = "partially_signed"
	EventUnknown         = "unknown"
)

var ErrMalformedPayload = errors.New("malformed webhook payload")

// Event is a provider callback normalised to the fields the pipeline acts on.
type Event struct {
	ProviderDocumentID string
	EventType          string
	Message            string
	RawFields          map[string]string
}

// DocumentIDFields are the payload keys the provider uses for the document uuid, in order
// of preference. Callbacks differ between envelopes (CCG posts uuidDoc).
var DocumentIDFields = []string{"uuid", "uuidDoc", "document_uuid", "documentId"}

// ParseSignatureEvent decodes a form-encoded or JSON signature-provider callback.
func ParseSignatureEvent(contentType string, rawBody []byte) (Event, error) {
	fields, err := decodeFields(contentType, rawBody)
	if err != nil {
		return Event{}, apperrors.Validation("Malformed webhook payload", fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	ev := Event{
		ProviderDocumentID: first(fields, DocumentIDFields...),
		Message:            fields["message"],
		RawFields:          fields,
	}
	code := first(fields, "type_post", "status")
	ev.EventType = classify(code)
	return ev, nil
}

// classify maps the provider's numeric type_post codes and textual statuses.
func classify(code string) string {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "1", "finished", "finalizado", "assinado", "signed":
		return EventFinished
	case "2", "cancelled", "canceled", "cancelado":
		return EventCancelled
	case "3", "4", "partially_signed", "signer_signed", "parcialmente_assinado":
		return EventPartiallySigned
	default:
		return EventUnknown
	}
}

// decodeFields flattens a form or JSON body to string fields. Nested JSON values are kept
// as their compact JSON text.
func decodeFields(contentType string, rawBody []byte) (map[string]string, error) {
	trimmed := bytes.TrimSpace(rawBody)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}
	if isForm(contentType) || (trimmed[0] != '{' && !strings.Contains(strings.ToLower(contentType), "json")) {
		return parseForm(trimmed)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out, nil
}

func first(fields map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(fields[k]); v != "" {
			return v
		}
	}
	return ""
}
