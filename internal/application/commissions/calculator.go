package commissions

import (
	"errors"

	"apolice-backend/internal/domain"
	"apolice-backend/internal/pkg/apperrors"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativePremium = errors.New("premium cannot be negative")
	ErrPctOutOfRange   = errors.New("percentage must be between 0 and 100")
	ErrUnknownRole     = errors.New("originator must be broker or advisory")
)

var hundred = decimal.NewFromInt(100)

// Input describes one policy's commission basis.
type Input struct {
	Premium     decimal.Decimal
	ProposalPct decimal.Decimal
	// Originator is domain.RoleBroker or domain.RoleAdvisory.
	Originator     string
	UserID         *uint
	AdvisoryID     *uint
	AdvisoryLinked bool
	AdvisoryPct    decimal.Decimal
}

// Line is one party's computed commission.
type Line struct {
	Party      string
	UserID     *uint
	AdvisoryID *uint
	Basis      decimal.Decimal
	Pct        decimal.Decimal
	Amount     decimal.Decimal
}

// Calculate maps a premium and its percentages to commission lines.
//
// Broker originator: broker gets ProposalPct of the premium; a linked advisory additionally
// gets ProposalPct*AdvisoryPct/100 of the premium. Advisory originator: one advisory line at
// ProposalPct. Amounts are rounded half-up to cents.
func Calculate(in Input) ([]Line, error) {
	if in.Premium.IsNegative() {
		return nil, apperrors.Validation("Premium cannot be negative", ErrNegativePremium)
	}
	if !validPct(in.ProposalPct) {
		return nil, apperrors.Validation("Commission percentage out of range", ErrPctOutOfRange)
	}

	switch in.Originator {
	case domain.RoleBroker:
		lines := []Line{line(domain.PartyBroker, in.Premium, in.ProposalPct, in.UserID, nil)}
		if in.AdvisoryLinked {
			if !validPct(in.AdvisoryPct) {
				return nil, apperrors.Validation("Advisory percentage out of range", ErrPctOutOfRange)
			}
			pct := in.ProposalPct.Mul(in.AdvisoryPct).Div(hundred)
			lines = append(lines, line(domain.PartyAdvisory, in.Premium, pct, nil, in.AdvisoryID))
		}
		return lines, nil
	case domain.RoleAdvisory:
		return []Line{line(domain.PartyAdvisory, in.Premium, in.ProposalPct, in.UserID, in.AdvisoryID)}, nil
	default:
		return nil, apperrors.Validation("Unknown originator role", ErrUnknownRole)
	}
}

// EffectivePct is the total percentage of the premium paid out across lines.
func EffectivePct(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Pct)
	}
	return total
}

// Total sums the line amounts.
func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	return total
}

// Amount is premium*pct/100 rounded to cents.
func Amount(premium, pct decimal.Decimal) decimal.Decimal {
	return premium.Mul(pct).Div(hundred).Round(2)
}

func line(party string, premium, pct decimal.Decimal, userID, advisoryID *uint) Line {
	return Line{
		Party:      party,
		UserID:     userID,
		AdvisoryID: advisoryID,
		Basis:      premium,
		Pct:        pct,
		Amount:     Amount(premium, pct),
	}
}

func validPct(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(hundred)
}
