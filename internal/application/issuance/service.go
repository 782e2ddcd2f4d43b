package issuance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"apolice-backend/internal/application/commissions"
	"apolice-backend/internal/application/proposals"
	"apolice-backend/internal/application/signing"
	"apolice-backend/internal/domain"
	"apolice-backend/internal/infrastructure/database"
	"apolice-backend/internal/pkg/apperrors"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxNumberAttempts = 5

var (
	ErrProposalNotFound  = errors.New("proposal not found")
	ErrProposalCancelled = errors.New("proposal is cancelled")
	ErrNumberExhausted   = errors.New("could not allocate a policy number")
)

// PaymentNotice is a verified payment confirmation for a proposal.
type PaymentNotice struct {
	ProposalID uint
	Amount     decimal.Decimal
	PaidAt     time.Time
	PaymentID  string
}

// Service turns a paid proposal into exactly one policy with its commissions and signing task.
type Service struct {
	DB           *gorm.DB
	Worker       signing.Notifier
	NumberPrefix string
	AutoSign     bool
	Now          func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) prefix() string {
	if s.NumberPrefix != "" {
		return s.NumberPrefix
	}
	return "FIN"
}

// Issue is idempotent per proposal: a repeated notice returns the existing policy with
// created=false. Number collisions between concurrent issuers are retried.
func (s *Service) Issue(ctx context.Context, n PaymentNotice) (*domain.Policy, bool, error) {
	logger := log.With().Uint("proposal_id", n.ProposalID).Str("payment_id", n.PaymentID).Logger()
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		policy, created, err := s.issueOnce(ctx, n)
		if err == nil {
			if created {
				logger.Info().Str("policy_number", policy.Number).Uint("policy_id", policy.ID).Msg("policy issued")
				if s.Worker != nil {
					s.Worker.Notify()
				}
			} else {
				logger.Info().Str("policy_number", policy.Number).Msg("policy already issued")
			}
			return policy, created, nil
		}
		if !database.IsUniqueViolation(err) {
			return nil, false, err
		}
		existing, findErr := s.findByProposal(ctx, s.DB, n.ProposalID)
		if findErr != nil {
			return nil, false, findErr
		}
		if existing != nil {
			logger.Info().Str("policy_number", existing.Number).Msg("policy issued concurrently")
			return existing, false, nil
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("policy number collision, retrying")
	}
	return nil, false, fmt.Errorf("%w after %d attempts", ErrNumberExhausted, maxNumberAttempts)
}

// GetByProposal returns the policy issued for a proposal, if any.
func (s *Service) GetByProposal(ctx context.Context, proposalID uint) (*domain.Policy, error) {
	p, err := s.findByProposal(ctx, s.DB, proposalID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperrors.NotFound("Policy not found", nil)
	}
	return p, nil
}

func (s *Service) issueOnce(ctx context.Context, n PaymentNotice) (*domain.Policy, bool, error) {
	var (
		policy  *domain.Policy
		created bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prop domain.Proposal
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&prop, n.ProposalID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("Proposal not found", ErrProposalNotFound)
		}
		if err != nil {
			return err
		}

		existing, err := s.findByProposal(ctx, tx, prop.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			policy = existing
			return nil
		}
		if prop.Status == domain.ProposalCancelled {
			return apperrors.Validation("Proposal is cancelled", ErrProposalCancelled)
		}

		amount := n.Amount
		if amount.IsZero() {
			amount = prop.Premium
		}
		if amount.LessThan(prop.Premium) {
			log.Warn().Uint("proposal_id", prop.ID).Str("paid", amount.StringFixed(2)).
				Str("premium", prop.Premium.StringFixed(2)).Msg("payment below premium")
		}
		paidAt := n.PaidAt
		if paidAt.IsZero() {
			paidAt = s.now()
		}
		if err := proposals.MarkPaid(ctx, tx, &prop, amount, paidAt); err != nil {
			return err
		}

		seq, err := nextSequence(tx)
		if err != nil {
			return err
		}
		policy = &domain.Policy{
			ProposalID:      prop.ID,
			Sequence:        seq,
			Number:          Number(s.prefix(), seq),
			Premium:         prop.Premium,
			SignatureStatus: domain.SignaturePending,
		}
		if err := tx.Create(policy).Error; err != nil {
			return err
		}

		lines, err := s.commissionLines(tx, &prop)
		if err != nil {
			return err
		}
		if rows := commissions.Rows(policy.ID, prop.ID, lines); len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}

		signers, err := documentSigners(tx, prop.TomadorID)
		if err != nil {
			return err
		}
		req := domain.SignatureRequest{
			Kind:      domain.EnvelopePolicy,
			TomadorID: prop.TomadorID,
			PolicyID:  &policy.ID,
			Title:     "Apolice-" + policy.Number,
			Status:    domain.SignatureGenerating,
			Step:      domain.StepNone,
			AutoSign:  s.AutoSign,
			Signers:   signers,
		}
		if err := tx.Create(&req).Error; err != nil {
			return err
		}
		if err := signing.Enqueue(ctx, tx, req.ID, s.now()); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return policy, created, nil
}

// Number formats a policy number, e.g. FIN-000042.
func Number(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%06d", prefix, seq)
}

func nextSequence(tx *gorm.DB) (int64, error) {
	var last int64
	if err := tx.Model(&domain.Policy{}).Select("COALESCE(MAX(sequence), 0)").Scan(&last).Error; err != nil {
		return 0, err
	}
	return last + 1, nil
}

func (s *Service) findByProposal(ctx context.Context, db *gorm.DB, proposalID uint) (*domain.Policy, error) {
	var p domain.Policy
	err := db.WithContext(ctx).Where("proposal_id = ?", proposalID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// commissionLines derives the calculator input from the proposal owner and their advisory.
func (s *Service) commissionLines(tx *gorm.DB, prop *domain.Proposal) ([]commissions.Line, error) {
	in := commissions.Input{
		Premium:     prop.Premium,
		ProposalPct: prop.CommissionPct,
		Originator:  domain.RoleBroker,
		UserID:      &prop.UserID,
	}
	var owner domain.User
	err := tx.Preload("Advisory").First(&owner, prop.UserID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		log.Warn().Uint("proposal_id", prop.ID).Uint("user_id", prop.UserID).Msg("proposal owner not found, broker commission only")
	case err != nil:
		return nil, err
	case owner.Role == domain.RoleAdvisory:
		in.Originator = domain.RoleAdvisory
		in.AdvisoryID = owner.AdvisoryID
	case owner.Advisory != nil:
		in.AdvisoryLinked = true
		in.AdvisoryID = owner.AdvisoryID
		in.AdvisoryPct = owner.Advisory.CommissionPct
	}
	return commissions.Calculate(in)
}

// documentSigners copies the guarantors and legal representatives of the tomador's signed CCG.
func documentSigners(tx *gorm.DB, tomadorID uint) ([]domain.Signer, error) {
	var ccg domain.SignatureRequest
	err := tx.Preload("Signers").
		Where("kind = ? AND tomador_id = ? AND status = ?", domain.EnvelopeCCG, tomadorID, domain.SignatureSigned).
		Order("id DESC").First(&ccg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]domain.Signer, 0, len(ccg.Signers))
	for _, sg := range ccg.Signers {
		out = append(out, domain.Signer{Name: sg.Name, Email: sg.Email, Role: sg.Role})
	}
	return out, nil
}
