package proposals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"apolice-backend/internal/application/credit"
	"apolice-backend/internal/domain"
	"apolice-backend/internal/pkg/apperrors"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrProposalNotFound  = errors.New("proposal not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCCGNotSigned      = errors.New("tomador has no signed CCG on file")
	ErrCancelPaid        = errors.New("cannot cancel a paid proposal")
	ErrInvalidRate       = errors.New("rate must be positive")
	ErrInvalidPeriod     = errors.New("end date must be after start date")
	ErrInvalidAmount     = errors.New("insured amount must be positive")
)

// Customer is the payer registered with the payment gateway.
type Customer struct {
	Name  string
	CNPJ  string
	Email string
}

// PaymentRequest is sent to the gateway when a proposal is issued.
type PaymentRequest struct {
	CustomerID        string
	Method            string
	DueDate           time.Time
	Value             decimal.Decimal
	Description       string
	ExternalReference string
}

// Payment is the gateway's answer to a PaymentRequest.
type Payment struct {
	ID      string
	PageURL string
}

// PaymentGateway creates hosted payment pages.
type PaymentGateway interface {
	EnsureCustomer(ctx context.Context, c Customer) (string, error)
	CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error)
}

// Service owns the proposal lifecycle.
type Service struct {
	DB      *gorm.DB
	Ledger  *credit.Ledger
	Gateway PaymentGateway
	// BillingType and DueDays configure the payment request (e.g. "UNDEFINED", 3).
	BillingType string
	DueDays     int
	Now         func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// CreateInput is the broker's quote.
type CreateInput struct {
	TomadorID       uint
	SecondaryUserID *uint
	InsuredAmount   decimal.Decimal
	RatePct         decimal.Decimal
	CommissionPct   *decimal.Decimal
	StartDate       time.Time
	EndDate         time.Time
}

// Create stores a draft proposal with its premium and commission computed.
func (s *Service) Create(ctx context.Context, p domain.Principal, in CreateInput) (*domain.Proposal, error) {
	if !in.InsuredAmount.IsPositive() {
		return nil, apperrors.Validation("Insured amount must be positive", ErrInvalidAmount)
	}
	if !in.RatePct.IsPositive() {
		return nil, apperrors.Validation("Rate must be positive", ErrInvalidRate)
	}
	days := Days(in.StartDate, in.EndDate)
	if days <= 0 {
		return nil, apperrors.Validation("End date must be after start date", ErrInvalidPeriod)
	}
	pct := defaultCommissionPct
	if in.CommissionPct != nil {
		pct = *in.CommissionPct
	}
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return nil, apperrors.Validation("Commission percentage out of range", nil)
	}

	var tomador domain.Tomador
	if err := s.DB.WithContext(ctx).Select("id").First(&tomador, in.TomadorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Tomador not found", credit.ErrTomadorNotFound)
		}
		return nil, err
	}

	premium := Premium(in.InsuredAmount, in.RatePct, days)
	prop := domain.Proposal{
		TomadorID:        in.TomadorID,
		UserID:           p.UserID,
		SecondaryUserID:  in.SecondaryUserID,
		InsuredAmount:    in.InsuredAmount.Round(2),
		RatePct:          in.RatePct,
		Premium:          premium,
		CommissionPct:    pct,
		CommissionAmount: CommissionAmount(premium, pct),
		StartDate:        in.StartDate,
		EndDate:          in.EndDate,
		Days:             days,
		Status:           domain.ProposalDraft,
	}
	if err := s.DB.WithContext(ctx).Create(&prop).Error; err != nil {
		return nil, err
	}
	log.Info().Uint("proposal_id", prop.ID).Uint("tomador_id", prop.TomadorID).
		Str("premium", premium.StringFixed(2)).Msg("proposal created")
	return &prop, nil
}

// Get returns a proposal visible to the principal.
func (s *Service) Get(ctx context.Context, p domain.Principal, id uint) (*domain.Proposal, error) {
	var prop domain.Proposal
	if err := load(ctx, s.DB, p, id, &prop, false); err != nil {
		return nil, err
	}
	return &prop, nil
}

// ListFilter narrows List.
type ListFilter struct {
	Status    domain.ProposalStatus
	TomadorID uint
}

// List returns the principal's proposals (all proposals for admins), newest first.
func (s *Service) List(ctx context.Context, p domain.Principal, f ListFilter) ([]domain.Proposal, error) {
	q := s.DB.WithContext(ctx).Model(&domain.Proposal{})
	if !p.IsAdmin() {
		q = q.Where("user_id = ? OR secondary_user_id = ?", p.UserID, p.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.TomadorID != 0 {
		q = q.Where("tomador_id = ?", f.TomadorID)
	}
	var out []domain.Proposal
	err := q.Order("id DESC").Find(&out).Error
	return out, err
}

// UpdateRate sets a new rate and recalculates premium and commission. Only before issuance.
func (s *Service) UpdateRate(ctx context.Context, p domain.Principal, id uint, rate decimal.Decimal) (*domain.Proposal, error) {
	if !rate.IsPositive() {
		return nil, apperrors.Validation("Rate must be positive", ErrInvalidRate)
	}
	var prop domain.Proposal
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := load(ctx, tx, p, id, &prop, true); err != nil {
			return err
		}
		if prop.Status != domain.ProposalDraft && prop.Status != domain.ProposalPreIssue {
			return apperrors.Validation(fmt.Sprintf("Cannot change rate of a proposal in status %s", prop.Status), ErrInvalidTransition)
		}
		prop.RatePct = rate
		prop.Premium = Premium(prop.InsuredAmount, rate, prop.Days)
		prop.CommissionAmount = CommissionAmount(prop.Premium, prop.CommissionPct)
		return tx.Model(&prop).Updates(map[string]interface{}{
			"rate_pct":          prop.RatePct,
			"premium":           prop.Premium,
			"commission_amount": prop.CommissionAmount,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &prop, nil
}

// PreIssue moves draft -> pre_issue. Requires a signed CCG for the tomador and enough
// available credit; the reservation and the status write commit together.
func (s *Service) PreIssue(ctx context.Context, p domain.Principal, id uint) (*domain.Proposal, error) {
	var head domain.Proposal
	if err := load(ctx, s.DB, p, id, &head, false); err != nil {
		return nil, err
	}

	var prop domain.Proposal
	err := s.Ledger.WithTomadorLock(ctx, head.TomadorID, func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := load(ctx, tx, p, id, &prop, true); err != nil {
				return err
			}
			if prop.Status == domain.ProposalPreIssue {
				return nil
			}
			if !CanTransition(prop.Status, domain.ProposalPreIssue) {
				return apperrors.Validation(fmt.Sprintf("Cannot pre-issue a proposal in status %s", prop.Status), ErrInvalidTransition)
			}
			signed, err := hasSignedCCG(ctx, tx, prop.TomadorID)
			if err != nil {
				return err
			}
			if !signed {
				return apperrors.Validation("Tomador has no signed CCG on file", ErrCCGNotSigned)
			}
			if _, err := s.Ledger.Reserve(ctx, tx, prop.TomadorID, prop.ID, prop.InsuredAmount); err != nil {
				return err
			}
			prop.Status = domain.ProposalPreIssue
			prop.CreditReserved = true
			return tx.Model(&prop).Updates(map[string]interface{}{
				"status":          prop.Status,
				"credit_reserved": true,
			}).Error
		})
	})
	if err != nil {
		return nil, err
	}
	log.Info().Uint("proposal_id", prop.ID).Msg("proposal pre-issued")
	return &prop, nil
}

// Issue moves pre_issue -> issued_pending_payment by creating a gateway payment.
// Already issued or paid proposals return their stored link.
func (s *Service) Issue(ctx context.Context, p domain.Principal, id uint) (*domain.Proposal, error) {
	var prop domain.Proposal
	if err := load(ctx, s.DB, p, id, &prop, false); err != nil {
		return nil, err
	}
	switch prop.Status {
	case domain.ProposalIssuedPendingPayment, domain.ProposalPaid:
		return &prop, nil
	case domain.ProposalPreIssue:
	default:
		return nil, apperrors.Validation(fmt.Sprintf("Cannot issue a proposal in status %s", prop.Status), ErrInvalidTransition)
	}

	customerID, err := s.ensureCustomer(ctx, prop.TomadorID)
	if err != nil {
		return nil, err
	}

	// The row lock is held across the gateway call so concurrent issues open a single charge.
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := load(ctx, tx, p, id, &prop, true); err != nil {
			return err
		}
		if prop.Status != domain.ProposalPreIssue || prop.PaymentID != "" {
			return nil
		}
		payment, err := s.Gateway.CreatePayment(ctx, PaymentRequest{
			CustomerID:        customerID,
			Method:            s.BillingType,
			DueDate:           s.now().AddDate(0, 0, s.DueDays),
			Value:             prop.Premium,
			Description:       fmt.Sprintf("Proposta %d", prop.ID),
			ExternalReference: fmt.Sprint(prop.ID),
		})
		if err != nil {
			log.Error().Err(err).Uint("proposal_id", prop.ID).Msg("payment creation failed")
			return err
		}
		prop.Status = domain.ProposalIssuedPendingPayment
		prop.PaymentID = payment.ID
		prop.PaymentLink = payment.PageURL
		return tx.Model(&prop).Updates(map[string]interface{}{
			"status":       prop.Status,
			"payment_id":   prop.PaymentID,
			"payment_link": prop.PaymentLink,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	if prop.Status != domain.ProposalIssuedPendingPayment && prop.Status != domain.ProposalPaid {
		return nil, apperrors.Validation(fmt.Sprintf("Cannot issue a proposal in status %s", prop.Status), ErrInvalidTransition)
	}
	log.Info().Uint("proposal_id", prop.ID).Str("payment_id", prop.PaymentID).Msg("proposal issued")
	return &prop, nil
}

// MarkPaid moves a locked proposal to paid inside the caller's transaction.
// An already-paid proposal is left untouched.
func MarkPaid(ctx context.Context, tx *gorm.DB, prop *domain.Proposal, amount decimal.Decimal, paidAt time.Time) error {
	if prop.Status == domain.ProposalPaid {
		return nil
	}
	if !CanTransition(prop.Status, domain.ProposalPaid) {
		return apperrors.Validation(fmt.Sprintf("Cannot mark a proposal in status %s as paid", prop.Status), ErrInvalidTransition)
	}
	at := paidAt.UTC()
	prop.Status = domain.ProposalPaid
	prop.PaidAmount = amount
	prop.PaidAt = &at
	return tx.WithContext(ctx).Model(prop).Updates(map[string]interface{}{
		"status":      prop.Status,
		"paid_amount": amount,
		"paid_at":     at,
	}).Error
}

// Cancel cancels a draft or pre_issue proposal and releases its credit reservation.
// Cancelling a cancelled proposal succeeds without changes; paid proposals cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, p domain.Principal, id uint) (*domain.Proposal, error) {
	var head domain.Proposal
	if err := load(ctx, s.DB, p, id, &head, false); err != nil {
		return nil, err
	}

	var prop domain.Proposal
	err := s.Ledger.WithTomadorLock(ctx, head.TomadorID, func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := load(ctx, tx, p, id, &prop, true); err != nil {
				return err
			}
			switch {
			case prop.Status == domain.ProposalCancelled:
				return nil
			case prop.Status == domain.ProposalPaid:
				return apperrors.Validation("Cannot cancel a paid proposal", ErrCancelPaid)
			case !CanTransition(prop.Status, domain.ProposalCancelled):
				return apperrors.Validation(fmt.Sprintf("Cannot cancel a proposal in status %s", prop.Status), ErrInvalidTransition)
			}
			if prop.CreditReserved {
				if _, err := s.Ledger.Release(ctx, tx, prop.TomadorID, prop.ID, prop.InsuredAmount); err != nil {
					return err
				}
			}
			now := s.now()
			prop.Status = domain.ProposalCancelled
			prop.CancelledAt = &now
			prop.CreditReserved = false
			return tx.Model(&prop).Updates(map[string]interface{}{
				"status":          prop.Status,
				"cancelled_at":    now,
				"credit_reserved": false,
			}).Error
		})
	})
	if err != nil {
		return nil, err
	}
	log.Info().Uint("proposal_id", prop.ID).Msg("proposal cancelled")
	return &prop, nil
}

func (s *Service) ensureCustomer(ctx context.Context, tomadorID uint) (string, error) {
	var t domain.Tomador
	if err := s.DB.WithContext(ctx).First(&t, tomadorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apperrors.NotFound("Tomador not found", credit.ErrTomadorNotFound)
		}
		return "", err
	}
	if t.GatewayCustomerID != "" {
		return t.GatewayCustomerID, nil
	}
	id, err := s.Gateway.EnsureCustomer(ctx, Customer{Name: t.Name, CNPJ: t.CNPJ, Email: t.Email})
	if err != nil {
		return "", err
	}
	if err := s.DB.WithContext(ctx).Model(&t).Update("gateway_customer_id", id).Error; err != nil {
		return "", err
	}
	return id, nil
}

// load fetches a proposal the principal may act on; forUpdate takes a row lock.
func load(ctx context.Context, db *gorm.DB, p domain.Principal, id uint, out *domain.Proposal, forUpdate bool) error {
	q := db.WithContext(ctx)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(out, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("Proposal not found", ErrProposalNotFound)
		}
		return err
	}
	if !p.IsAdmin() && out.UserID != p.UserID && (out.SecondaryUserID == nil || *out.SecondaryUserID != p.UserID) {
		return apperrors.NotFound("Proposal not found", ErrProposalNotFound)
	}
	return nil
}

func hasSignedCCG(ctx context.Context, tx *gorm.DB, tomadorID uint) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&domain.SignatureRequest{}).
		Where("kind = ? AND tomador_id = ? AND status = ?", domain.EnvelopeCCG, tomadorID, domain.SignatureSigned).
		Count(&count).Error
	return count > 0, err
}
