package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Proposal is a quoted contract awaiting payment and issuance. Never deleted.
type Proposal struct {
	ID               uint            `gorm:"column:id;primaryKey" json:"id"`
	TomadorID        uint            `gorm:"column:tomador_id;index;not null" json:"tomador_id"`
	Tomador          *Tomador        `gorm:"foreignKey:TomadorID" json:"tomador,omitempty"`
	UserID           uint            `gorm:"column:user_id;index;not null" json:"user_id"`
	SecondaryUserID  *uint           `gorm:"column:secondary_user_id" json:"secondary_user_id"`
	InsuredAmount    decimal.Decimal `gorm:"column:insured_amount;type:numeric(14,2);not null" json:"insured_amount"`
	RatePct          decimal.Decimal `gorm:"column:rate_pct;type:numeric(7,4);not null" json:"rate_pct"`
	Premium          decimal.Decimal `gorm:"column:premium;type:numeric(14,2);not null" json:"premium"`
	CommissionPct    decimal.Decimal `gorm:"column:commission_pct;type:numeric(7,4);not null" json:"commission_pct"`
	CommissionAmount decimal.Decimal `gorm:"column:commission_amount;type:numeric(14,2);not null" json:"commission_amount"`
	StartDate        time.Time       `gorm:"column:start_date;not null" json:"start_date"`
	EndDate          time.Time       `gorm:"column:end_date;not null" json:"end_date"`
	Days             int             `gorm:"column:days;not null" json:"days"`
	Status           ProposalStatus  `gorm:"column:status;index;not null" json:"status"`
	CreditReserved   bool            `gorm:"column:credit_reserved;not null;default:false" json:"credit_reserved"`
	PaymentID        string          `gorm:"column:payment_id" json:"payment_id,omitempty"`
	PaymentLink      string          `gorm:"column:payment_link" json:"payment_link,omitempty"`
	PaidAmount       decimal.Decimal `gorm:"column:paid_amount;type:numeric(14,2);not null;default:0" json:"paid_amount"`
	PaidAt           *time.Time      `gorm:"column:paid_at" json:"paid_at"`
	CancelledAt      *time.Time      `gorm:"column:cancelled_at" json:"cancelled_at"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (Proposal) TableName() string {
	return "proposals"
}
