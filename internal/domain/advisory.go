package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Advisory aggregates brokers and takes a share of their commission.
type Advisory struct {
	ID            uint            `gorm:"column:id;primaryKey" json:"id"`
	Name          string          `gorm:"column:name;not null" json:"name"`
	CommissionPct decimal.Decimal `gorm:"column:commission_pct;type:numeric(7,4);not null;default:0" json:"commission_pct"`
	UserID        *uint           `gorm:"column:user_id;uniqueIndex" json:"user_id"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (Advisory) TableName() string {
	return "advisories"
}
