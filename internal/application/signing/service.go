package signing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"apolice-backend/internal/domain"
	"apolice-backend/internal/pkg/apperrors"

	"gorm.io/gorm"
)

var (
	ErrNoSigners      = errors.New("at least one signer is required")
	ErrInvalidSigner  = errors.New("invalid signer")
	ErrTomadorMissing = errors.New("tomador not found")
)

// SignerInput is a guarantor or legal representative named on a CCG.
type SignerInput struct {
	Name  string
	Email string
	Role  string
}

// Service exposes the admin-facing signing operations.
type Service struct {
	DB     *gorm.DB
	Worker Notifier
}

// SubmitCCG creates the tomador's guarantee agreement envelope and queues it for the manual
// (send to signer) flow.
func (s *Service) SubmitCCG(ctx context.Context, tomadorID uint, signers []SignerInput) (*domain.SignatureRequest, error) {
	if len(signers) == 0 {
		return nil, apperrors.Validation("At least one signer is required", ErrNoSigners)
	}
	rows := make([]domain.Signer, 0, len(signers))
	for _, in := range signers {
		email := strings.TrimSpace(strings.ToLower(in.Email))
		if email == "" || !strings.Contains(email, "@") {
			return nil, apperrors.Validation("Invalid signer email", fmt.Errorf("%w: %q", ErrInvalidSigner, in.Email))
		}
		role := in.Role
		if role == "" {
			role = domain.SignerGuarantor
		}
		if role != domain.SignerGuarantor && role != domain.SignerLegalRep {
			return nil, apperrors.Validation("Invalid signer role", fmt.Errorf("%w: role %q", ErrInvalidSigner, in.Role))
		}
		rows = append(rows, domain.Signer{Name: strings.TrimSpace(in.Name), Email: email, Role: role})
	}

	var req domain.SignatureRequest
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tomador domain.Tomador
		if err := tx.Select("id", "name", "cnpj").First(&tomador, tomadorID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("Tomador not found", ErrTomadorMissing)
			}
			return err
		}
		req = domain.SignatureRequest{
			Kind:      domain.EnvelopeCCG,
			TomadorID: tomador.ID,
			Title:     "CCG-" + tomador.CNPJ,
			Status:    domain.SignatureGenerating,
			Step:      domain.StepNone,
			Signers:   rows,
		}
		if err := tx.Create(&req).Error; err != nil {
			return err
		}
		return Enqueue(ctx, tx, req.ID, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}
	if s.Worker != nil {
		s.Worker.Notify()
	}
	return &req, nil
}

// Requeue revives a dead or stuck task and wakes the worker.
func (s *Service) Requeue(ctx context.Context, requestID uint) error {
	if err := Requeue(ctx, s.DB, requestID); err != nil {
		return err
	}
	if s.Worker != nil {
		s.Worker.Notify()
	}
	return nil
}

// Get returns a request with its signers.
func (s *Service) Get(ctx context.Context, id uint) (*domain.SignatureRequest, error) {
	var req domain.SignatureRequest
	err := s.DB.WithContext(ctx).Preload("Signers").First(&req, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Signature request not found", ErrRequestNotFound)
		}
		return nil, err
	}
	return &req, nil
}
