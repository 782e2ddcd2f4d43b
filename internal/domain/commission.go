package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Commission parties.
const (
	PartyBroker   = "broker"
	PartyAdvisory = "advisory"
)

// Commission is one party's share of a policy premium. Rows are never deleted; only the
// per-track paid flags and timestamps change after creation.
type Commission struct {
	ID             uint            `gorm:"column:id;primaryKey" json:"id"`
	PolicyID       uint            `gorm:"column:policy_id;not null;uniqueIndex:idx_commission_policy_party" json:"policy_id"`
	ProposalID     uint            `gorm:"column:proposal_id;index;not null" json:"proposal_id"`
	Party          string          `gorm:"column:party;not null;uniqueIndex:idx_commission_policy_party" json:"party"`
	UserID         *uint           `gorm:"column:user_id;index" json:"user_id"`
	AdvisoryID     *uint           `gorm:"column:advisory_id;index" json:"advisory_id"`
	PremiumBasis   decimal.Decimal `gorm:"column:premium_basis;type:numeric(14,2);not null" json:"premium_basis"`
	Pct            decimal.Decimal `gorm:"column:pct;type:numeric(7,4);not null" json:"pct"`
	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	BrokerPaid     bool            `gorm:"column:broker_paid;not null;default:false" json:"broker_paid"`
	BrokerPaidAt   *time.Time      `gorm:"column:broker_paid_at" json:"broker_paid_at"`
	AdvisoryPaid   bool            `gorm:"column:advisory_paid;not null;default:false" json:"advisory_paid"`
	AdvisoryPaidAt *time.Time      `gorm:"column:advisory_paid_at" json:"advisory_paid_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (Commission) TableName() string {
	return "commissions"
}
