package signing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"apolice-backend/internal/domain"
	"apolice-backend/internal/infrastructure/d4sign"
	"apolice-backend/internal/pkg/apperrors"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var ErrRequestNotFound = errors.New("signature request not found")

// Orchestrator drives one SignatureRequest through the provider, resuming from its
// last checkpoint. Any provider error aborts the run and keeps the checkpoint.
type Orchestrator struct {
	DB              *gorm.DB
	Provider        Provider
	Renderer        Renderer
	InternalSigners []InternalSigner
	Message         string
}

// Run advances the request up to dispatch (auto-sign or send to signers).
func (o *Orchestrator) Run(ctx context.Context, requestID uint) error {
	req, err := o.load(ctx, requestID)
	if err != nil {
		return err
	}
	logger := log.With().Uint("signature_request_id", req.ID).Str("kind", req.Kind).Logger()
	if req.Status == domain.SignatureSigned {
		if req.Step.Reached(domain.StepDownloaded) {
			return nil
		}
		return o.fetchSigned(ctx, req)
	}
	if req.Status.Terminal() || req.Step.Reached(domain.StepDispatched) {
		logger.Debug().Str("step", string(req.Step)).Msg("signature request already dispatched")
		return nil
	}

	if !req.Step.Reached(domain.StepUploaded) {
		pdf, err := o.Renderer.Render(ctx, req)
		if err != nil {
			return fmt.Errorf("render: %w", err)
		}
		docID, err := o.Provider.Upload(ctx, req.Title, pdf)
		if err != nil {
			return err
		}
		if err := o.checkpointUpload(ctx, req, docID); err != nil {
			return err
		}
		logger.Info().Str("document_id", docID).Msg("document uploaded")
	}
	docID := req.DocumentID()

	if !req.Step.Reached(domain.StepSigners) {
		if err := o.Provider.RegisterSigners(ctx, docID, o.signerList(req)); err != nil {
			return err
		}
		if err := o.checkpoint(ctx, req, domain.StepSigners, ""); err != nil {
			return err
		}
		logger.Debug().Msg("signers registered")
	}

	if !req.Step.Reached(domain.StepFields) {
		if fields := Placements(req.Signers); len(fields) > 0 {
			if err := o.Provider.AddFields(ctx, docID, fields); err != nil {
				return err
			}
		}
		if err := o.checkpoint(ctx, req, domain.StepFields, ""); err != nil {
			return err
		}
		logger.Debug().Msg("signature fields placed")
	}

	if req.AutoSign {
		err = o.Provider.AutoSign(ctx, docID)
	} else {
		err = o.Provider.SendToSigner(ctx, docID, o.message(), false)
	}
	if err != nil {
		return err
	}
	if err := o.checkpoint(ctx, req, domain.StepDispatched, domain.SignatureSent); err != nil {
		return err
	}
	logger.Info().Bool("auto_sign", req.AutoSign).Msg("document dispatched for signature")
	return nil
}

// fetchSigned downloads the signed artifact and stores it on the request and its policy.
func (o *Orchestrator) fetchSigned(ctx context.Context, req *domain.SignatureRequest) error {
	docID := req.DocumentID()
	if docID == "" {
		return apperrors.Validation("Signature request has no provider document", nil)
	}
	pdf, err := o.Provider.Download(ctx, docID)
	if err != nil {
		return err
	}
	signedAt := req.SignedAt
	if signedAt == nil {
		now := time.Now().UTC()
		signedAt = &now
	}
	err = o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.SignatureRequest{}).Where("id = ?", req.ID).Updates(map[string]interface{}{
			"signed_document": pdf,
			"signed_at":       *signedAt,
			"step":            domain.StepDownloaded,
		}).Error; err != nil {
			return err
		}
		if req.PolicyID == nil {
			return nil
		}
		return tx.Model(&domain.Policy{}).Where("id = ?", *req.PolicyID).Updates(map[string]interface{}{
			"signed_document":  pdf,
			"signed_at":        *signedAt,
			"signature_status": domain.SignatureSigned,
		}).Error
	})
	if err != nil {
		return err
	}
	req.Step = domain.StepDownloaded
	log.Info().Uint("signature_request_id", req.ID).Int("bytes", len(pdf)).Msg("signed document stored")
	return nil
}

// Placements lays out a signature box and an initials box per document signer.
func Placements(signers []domain.Signer) []d4sign.Field {
	fields := make([]d4sign.Field, 0, len(signers)*2)
	for i, s := range signers {
		x := 100 + i*50
		fields = append(fields,
			d4sign.Field{Page: 1, X: x, Y: 200, Width: 150, Height: 30, Type: "signature", KeySigner: s.Email},
			d4sign.Field{Page: 1, X: x, Y: 180, Width: 100, Height: 20, Type: "initials", KeySigner: s.Email},
		)
	}
	return fields
}

func (o *Orchestrator) signerList(req *domain.SignatureRequest) []d4sign.Signer {
	out := make([]d4sign.Signer, 0, len(req.Signers)+len(o.InternalSigners))
	for _, s := range req.Signers {
		out = append(out, d4sign.Signer{Email: s.Email, Act: d4sign.ActSign, Foreign: "1"})
	}
	for _, s := range o.InternalSigners {
		sg := d4sign.Signer{Email: s.Email, Act: s.Act, Foreign: "1"}
		if sg.Act == "" {
			sg.Act = d4sign.ActApprove
		}
		if s.Certified {
			sg.Certified = "1"
		}
		out = append(out, sg)
	}
	return out
}

func (o *Orchestrator) message() string {
	if o.Message != "" {
		return o.Message
	}
	return "Por favor, assine o documento"
}

func (o *Orchestrator) load(ctx context.Context, id uint) (*domain.SignatureRequest, error) {
	var req domain.SignatureRequest
	err := o.DB.WithContext(ctx).Preload("Signers", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).First(&req, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Signature request not found", ErrRequestNotFound)
		}
		return nil, err
	}
	return &req, nil
}

// checkpointUpload stores the provider id before anything else can fail.
func (o *Orchestrator) checkpointUpload(ctx context.Context, req *domain.SignatureRequest, docID string) error {
	return o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.SignatureRequest{}).Where("id = ?", req.ID).Updates(map[string]interface{}{
			"provider_document_id": docID,
			"step":                 domain.StepUploaded,
		}).Error; err != nil {
			return err
		}
		req.ProviderDocumentID = &docID
		req.Step = domain.StepUploaded
		if req.PolicyID != nil {
			return tx.Model(&domain.Policy{}).Where("id = ?", *req.PolicyID).
				Update("provider_document_id", docID).Error
		}
		return nil
	})
}

// checkpoint always advances step. A status is only written over a non-terminal one: the
// provider may report the document finished or cancelled before the dispatch call returns.
func (o *Orchestrator) checkpoint(ctx context.Context, req *domain.SignatureRequest, step domain.SignatureStep, status domain.SignatureStatus) error {
	return o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.SignatureRequest{}).Where("id = ?", req.ID).Update("step", step).Error; err != nil {
			return err
		}
		req.Step = step
		if status == "" {
			return nil
		}
		res := tx.Model(&domain.SignatureRequest{}).
			Where("id = ? AND status NOT IN ?", req.ID, []domain.SignatureStatus{domain.SignatureSigned, domain.SignatureCancelled}).
			Update("status", status)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var current domain.SignatureRequest
			if err := tx.Select("id", "status").First(&current, req.ID).Error; err != nil {
				return err
			}
			req.Status = current.Status
			log.Info().Uint("signature_request_id", req.ID).Str("status", string(current.Status)).
				Msg("signature request settled during dispatch, keeping status")
			return nil
		}
		req.Status = status
		if req.PolicyID != nil {
			return tx.Model(&domain.Policy{}).Where("id = ?", *req.PolicyID).
				Update("signature_status", status).Error
		}
		return nil
	})
}
