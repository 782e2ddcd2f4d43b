package webhooks

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"apolice-backend/internal/application/issuance"
	"apolice-backend/internal/domain"
	"apolice-backend/internal/pkg/apperrors"
	"apolice-backend/internal/pkg/response"
	"apolice-backend/internal/webhooks"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Providers, as recorded on WebhookReceipt.Provider.
const (
	ProviderPayment   = "asaas"
	ProviderSignature = "d4sign"
)

// Payment outcomes recorded on the receipt.
const (
	OutcomeIssued          = "issued"
	OutcomeAlreadyIssued   = "already_issued"
	OutcomeIgnored         = "ignored"
	OutcomeUnknownProposal = "unknown_proposal"
	OutcomeRejected        = "rejected"
	OutcomeError           = "error"
)

// PolicyIssuer is the payment side of the pipeline.
type PolicyIssuer interface {
	Issue(ctx context.Context, n issuance.PaymentNotice) (*domain.Policy, bool, error)
}

// SignatureReconciler applies signature-provider events.
type SignatureReconciler interface {
	Apply(ctx context.Context, ev webhooks.Event) (string, error)
}

// Handler serves the provider callbacks. Both routes read the raw body and must be mounted
// before any middleware that consumes or rewrites it.
type Handler struct {
	DB                *gorm.DB
	PaymentVerifier   webhooks.Verifier
	SignatureVerifier webhooks.Verifier
	Issuer            PolicyIssuer
	Reconciler        SignatureReconciler
	Now               func() time.Time
}

type fiberHeaders struct{ c *fiber.Ctx }

func (h fiberHeaders) Get(key string) string { return h.c.Get(key) }

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

// Payment handles POST /api/v1/webhooks/asaas.
// 401 on a bad credential, 400 on a malformed body, 200 for everything the pipeline acknowledges.
func (h *Handler) Payment(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.Body()...)
	if len(rawBody) == 0 {
		return c.Status(fiber.StatusBadRequest).SendString("Webhook Error: empty body")
	}
	if err := h.PaymentVerifier.Verify(fiberHeaders{c}, rawBody); err != nil {
		log.Warn().Err(err).Str("provider", ProviderPayment).Msg("webhook authentication failed")
		return c.Status(fiber.StatusUnauthorized).SendString("Webhook Error: unauthorized")
	}
	ev, err := webhooks.ParsePaymentEvent(rawBody)
	if err != nil {
		log.Warn().Err(err).Str("provider", ProviderPayment).Msg("webhook payload rejected")
		return c.Status(fiber.StatusBadRequest).SendString("Webhook Error: malformed payload")
	}

	logger := log.With().Str("provider", ProviderPayment).Str("event", ev.Event).Str("payment_id", ev.Payment.ID).Logger()
	receipt := domain.WebhookReceipt{Provider: ProviderPayment, EventKey: ev.Payment.ID, EventType: ev.Event, Payload: datatypes.JSON(rawBody)}

	if !ev.Settles() {
		logger.Info().Msg("payment event ignored")
		return h.ack(c, &receipt, OutcomeIgnored, nil)
	}
	proposalID, err := ev.ProposalID()
	if err != nil {
		logger.Warn().Str("external_reference", ev.Payment.ExternalReference).Msg("payment without proposal reference")
		return h.ack(c, &receipt, OutcomeIgnored, nil)
	}

	policy, created, err := h.Issuer.Issue(c.UserContext(), issuance.PaymentNotice{
		ProposalID: proposalID,
		Amount:     ev.Amount(),
		PaidAt:     ev.PaidAt(h.now()),
		PaymentID:  ev.Payment.ID,
	})
	switch {
	case err == nil && created:
		return h.ack(c, &receipt, OutcomeIssued, fiber.Map{"policy_number": policy.Number})
	case err == nil:
		return h.ack(c, &receipt, OutcomeAlreadyIssued, fiber.Map{"policy_number": policy.Number})
	case apperrors.IsNotFound(err):
		logger.Warn().Uint("proposal_id", proposalID).Msg("payment for unknown proposal")
		return h.ack(c, &receipt, OutcomeUnknownProposal, nil)
	case apperrors.IsValidation(err):
		logger.Warn().Err(err).Uint("proposal_id", proposalID).Msg("payment not applied")
		return h.ack(c, &receipt, OutcomeRejected, nil)
	default:
		// Nothing was committed; the gateway's retry is safe because issuance is idempotent.
		logger.Error().Err(err).Uint("proposal_id", proposalID).Msg("policy issuance failed")
		h.record(c.UserContext(), &receipt, OutcomeError)
		return c.Status(fiber.StatusInternalServerError).SendString("Webhook Error: retry later")
	}
}

// Signature handles POST /api/v1/webhooks/d4sign.
func (h *Handler) Signature(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.Body()...)
	if len(rawBody) == 0 {
		return c.Status(fiber.StatusBadRequest).SendString("Webhook Error: empty body")
	}
	if err := h.SignatureVerifier.Verify(fiberHeaders{c}, rawBody); err != nil {
		log.Warn().Err(err).Str("provider", ProviderSignature).Msg("webhook authentication failed")
		return c.Status(fiber.StatusUnauthorized).SendString("Webhook Error: unauthorized")
	}
	ev, err := webhooks.ParseSignatureEvent(c.Get(fiber.HeaderContentType), rawBody)
	if err != nil {
		log.Warn().Err(err).Str("provider", ProviderSignature).Msg("webhook payload rejected")
		return c.Status(fiber.StatusBadRequest).SendString("Webhook Error: malformed payload")
	}

	payload, _ := json.Marshal(ev.RawFields)
	receipt := domain.WebhookReceipt{
		Provider:  ProviderSignature,
		EventKey:  ev.ProviderDocumentID,
		EventType: ev.EventType,
		Payload:   datatypes.JSON(payload),
	}
	outcome, err := h.Reconciler.Apply(c.UserContext(), ev)
	if err != nil {
		log.Error().Err(err).Str("document_id", ev.ProviderDocumentID).Msg("signature event failed")
		h.record(c.UserContext(), &receipt, OutcomeError)
		return c.Status(fiber.StatusInternalServerError).SendString("Webhook Error: retry later")
	}
	return h.ack(c, &receipt, outcome, nil)
}

func (h *Handler) ack(c *fiber.Ctx, receipt *domain.WebhookReceipt, outcome string, extra fiber.Map) error {
	h.record(c.UserContext(), receipt, outcome)
	body := fiber.Map{"received": true, "outcome": outcome}
	for k, v := range extra {
		body[k] = v
	}
	return c.Status(fiber.StatusOK).JSON(body)
}

// record stores the audit row. A failed insert is logged and never changes the response.
func (h *Handler) record(ctx context.Context, receipt *domain.WebhookReceipt, outcome string) {
	if h.DB == nil {
		return
	}
	receipt.Outcome = outcome
	receipt.ReceivedAt = h.now()
	if err := h.DB.WithContext(context.WithoutCancel(ctx)).Create(receipt).Error; err != nil {
		log.Error().Err(err).Str("provider", receipt.Provider).Str("event_key", receipt.EventKey).Msg("webhook receipt not stored")
	}
}

// ReceiptsSince lists receipts for a provider, newest first, for the admin audit view.
func ReceiptsSince(ctx context.Context, db *gorm.DB, provider string, since time.Time, limit int) ([]domain.WebhookReceipt, error) {
	var out []domain.WebhookReceipt
	q := db.WithContext(ctx).Where("received_at >= ?", since).Order("received_at desc")
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	err := q.Limit(limit).Find(&out).Error
	return out, err
}

// Receipts handles GET /api/v1/webhooks/receipts?provider=&hours= (admin).
func (h *Handler) Receipts(c *fiber.Ctx) error {
	hours, err := strconv.Atoi(c.Query("hours", "24"))
	if err != nil || hours <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "hours must be a positive integer")
	}
	out, err := ReceiptsSince(c.UserContext(), h.DB, c.Query("provider"), h.now().Add(-time.Duration(hours)*time.Hour), c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	return response.Success(c, "Webhook receipts", out, fiber.Map{"count": len(out)})
}
