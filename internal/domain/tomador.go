package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Tomador is the credit-line holder on whose behalf proposals are issued.
// AvailableCredit is only written by the credit ledger.
type Tomador struct {
	ID                uint            `gorm:"column:id;primaryKey" json:"id"`
	CNPJ              string          `gorm:"column:cnpj;uniqueIndex;size:14;not null" json:"cnpj"`
	Name              string          `gorm:"column:name" json:"name"`
	TradeName         string          `gorm:"column:trade_name" json:"trade_name"`
	Address           string          `gorm:"column:address" json:"address"`
	City              string          `gorm:"column:city" json:"city"`
	State             string          `gorm:"column:state;size:2" json:"state"`
	ZipCode           string          `gorm:"column:zip_code" json:"zip_code"`
	ShareCapital      decimal.Decimal `gorm:"column:share_capital;type:numeric(16,2);not null;default:0" json:"share_capital"`
	ApprovedCredit    decimal.Decimal `gorm:"column:approved_credit;type:numeric(14,2);not null;default:0" json:"approved_credit"`
	AvailableCredit   decimal.Decimal `gorm:"column:available_credit;type:numeric(14,2);not null;default:0" json:"available_credit"`
	GatewayCustomerID string          `gorm:"column:gateway_customer_id" json:"gateway_customer_id,omitempty"`
	Email             string          `gorm:"column:email" json:"email,omitempty"`
	LookupData        datatypes.JSON  `gorm:"column:lookup_data" json:"-"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (Tomador) TableName() string {
	return "tomadores"
}

// CreditMovement kinds.
const (
	MovementReserve = "reserve"
	MovementRelease = "release"
	MovementLimit   = "limit"
)

// CreditMovement is an append-only ledger entry for a tomador's available credit.
type CreditMovement struct {
	ID           uint            `gorm:"column:id;primaryKey" json:"id"`
	TomadorID    uint            `gorm:"column:tomador_id;index;not null" json:"tomador_id"`
	ProposalID   *uint           `gorm:"column:proposal_id;index" json:"proposal_id"`
	Kind         string          `gorm:"column:kind;not null" json:"kind"`
	Amount       decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	BalanceAfter decimal.Decimal `gorm:"column:balance_after;type:numeric(14,2);not null" json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (CreditMovement) TableName() string {
	return "credit_movements"
}
