package commissions

import (
	"context"
	"errors"
	"time"

	"apolice-backend/internal/domain"
	"apolice-backend/internal/pkg/apperrors"

	"gorm.io/gorm"
)

var (
	ErrCommissionNotFound = errors.New("commission not found")
	ErrUnknownParty       = errors.New("party must be broker or advisory")
	ErrPartyMismatch      = errors.New("commission belongs to another party")
)

// Service persists and settles commission rows.
type Service struct {
	DB *gorm.DB
}

// Rows converts calculated lines into commission rows for a policy.
func Rows(policyID, proposalID uint, lines []Line) []domain.Commission {
	rows := make([]domain.Commission, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, domain.Commission{
			PolicyID:     policyID,
			ProposalID:   proposalID,
			Party:        l.Party,
			UserID:       l.UserID,
			AdvisoryID:   l.AdvisoryID,
			PremiumBasis: l.Basis,
			Pct:          l.Pct,
			Amount:       l.Amount,
		})
	}
	return rows
}

// MarkPaid flips the paid flag and timestamp of one party's track. Already-paid tracks are left as is.
func (s *Service) MarkPaid(ctx context.Context, commissionID uint, party string, at time.Time) (*domain.Commission, error) {
	var flag, stamp string
	switch party {
	case domain.PartyBroker:
		flag, stamp = "broker_paid", "broker_paid_at"
	case domain.PartyAdvisory:
		flag, stamp = "advisory_paid", "advisory_paid_at"
	default:
		return nil, apperrors.Validation("Party must be broker or advisory", ErrUnknownParty)
	}

	var c domain.Commission
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&c, commissionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("Commission not found", ErrCommissionNotFound)
			}
			return err
		}
		if c.Party != party {
			return apperrors.Validation("Commission is owed to the "+c.Party+", not the "+party, ErrPartyMismatch)
		}
		res := tx.Model(&domain.Commission{}).
			Where("id = ? AND "+flag+" = ?", commissionID, false).
			Updates(map[string]interface{}{flag: true, stamp: at.UTC()})
		if res.Error != nil {
			return res.Error
		}
		return tx.First(&c, commissionID).Error
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListByPolicy returns the commission set of one policy.
func (s *Service) ListByPolicy(ctx context.Context, policyID uint) ([]domain.Commission, error) {
	var out []domain.Commission
	err := s.DB.WithContext(ctx).Where("policy_id = ?", policyID).Order("id ASC").Find(&out).Error
	return out, err
}

// Filter narrows ListFor.
type Filter struct {
	Paid *bool
}

// ListFor returns commissions owed to a broker (by user id) or an advisory (by advisory id).
func (s *Service) ListFor(ctx context.Context, userID uint, advisoryID *uint, f Filter) ([]domain.Commission, error) {
	q := s.DB.WithContext(ctx).Model(&domain.Commission{})
	if advisoryID != nil {
		q = q.Where("(party = ? AND advisory_id = ?) OR (party = ? AND user_id = ?)",
			domain.PartyAdvisory, *advisoryID, domain.PartyBroker, userID)
	} else {
		q = q.Where("party = ? AND user_id = ?", domain.PartyBroker, userID)
	}
	if f.Paid != nil {
		q = q.Where("(party = ? AND broker_paid = ?) OR (party = ? AND advisory_paid = ?)",
			domain.PartyBroker, *f.Paid, domain.PartyAdvisory, *f.Paid)
	}
	var out []domain.Commission
	err := q.Order("id DESC").Find(&out).Error
	return out, err
}
