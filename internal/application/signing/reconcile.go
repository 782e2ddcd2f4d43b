package signing

import (
	"context"
	"errors"
	"time"

	"apolice-backend/internal/domain"
	"apolice-backend/internal/webhooks"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Reconcile outcomes, recorded on the webhook receipt.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeUnknown   = "unknown_document"
	OutcomeIgnored   = "ignored"
)

// Notifier wakes the signing worker.
type Notifier interface {
	Notify()
}

// Reconciler applies signature-provider events to the stored requests.
type Reconciler struct {
	DB     *gorm.DB
	Worker Notifier
	Now    func() time.Time
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// Apply is replay-tolerant: signed and cancelled are sticky, and an unknown document is
// acknowledged with a warning. A finished event flips the status at once and leaves the
// download to the worker.
func (r *Reconciler) Apply(ctx context.Context, ev webhooks.Event) (string, error) {
	logger := log.With().Str("document_id", ev.ProviderDocumentID).Str("event", ev.EventType).Logger()

	var target domain.SignatureStatus
	switch ev.EventType {
	case webhooks.EventFinished:
		target = domain.SignatureSigned
	case webhooks.EventCancelled:
		target = domain.SignatureCancelled
	case webhooks.EventPartiallySigned:
		target = domain.SignaturePartiallySigned
	default:
		logger.Info().Msg("signature event ignored")
		return OutcomeIgnored, nil
	}
	if ev.ProviderDocumentID == "" {
		logger.Warn().Msg("signature event without document id")
		return OutcomeUnknown, nil
	}

	outcome := OutcomeApplied
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req domain.SignatureRequest
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("provider_document_id = ?", ev.ProviderDocumentID).First(&req).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = OutcomeUnknown
			return nil
		}
		if err != nil {
			return err
		}
		if req.Status.Terminal() || req.Status == target {
			outcome = OutcomeDuplicate
			return nil
		}

		updates := map[string]interface{}{"status": target}
		policyUpdates := map[string]interface{}{"signature_status": target}
		if target == domain.SignatureSigned {
			at := r.now()
			updates["signed_at"] = at
			policyUpdates["signed_at"] = at
		}
		if err := tx.Model(&domain.SignatureRequest{}).Where("id = ?", req.ID).Updates(updates).Error; err != nil {
			return err
		}
		if req.PolicyID != nil {
			if err := tx.Model(&domain.Policy{}).Where("id = ?", *req.PolicyID).Updates(policyUpdates).Error; err != nil {
				return err
			}
			warnIfCancelled(ctx, tx, *req.PolicyID, target)
		}
		if target == domain.SignatureSigned {
			return Enqueue(ctx, tx, req.ID, r.now())
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	switch outcome {
	case OutcomeUnknown:
		logger.Warn().Msg("signature event for unknown document")
	case OutcomeDuplicate:
		logger.Info().Msg("signature event already applied")
	default:
		logger.Info().Msg("signature event applied")
		if target == domain.SignatureSigned && r.Worker != nil {
			r.Worker.Notify()
		}
	}
	return outcome, nil
}

// warnIfCancelled logs a signed document arriving for a cancelled proposal; the document is still stored.
func warnIfCancelled(ctx context.Context, tx *gorm.DB, policyID uint, status domain.SignatureStatus) {
	var prop domain.Proposal
	err := tx.WithContext(ctx).Joins("JOIN policies ON policies.proposal_id = proposals.id").
		Where("policies.id = ?", policyID).Select("proposals.id", "proposals.status").First(&prop).Error
	if err != nil {
		return
	}
	if prop.Status == domain.ProposalCancelled {
		log.Warn().Uint("policy_id", policyID).Uint("proposal_id", prop.ID).Str("signature_status", string(status)).
			Msg("signature event for a cancelled proposal, storing anyway")
	}
}
