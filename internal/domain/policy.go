package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Policy is issued once per paid Proposal; ProposalID carries the unique constraint.
type Policy struct {
	ID                 uint            `gorm:"column:id;primaryKey" json:"id"`
	ProposalID         uint            `gorm:"column:proposal_id;uniqueIndex;not null" json:"proposal_id"`
	Proposal           *Proposal       `gorm:"foreignKey:ProposalID" json:"proposal,omitempty"`
	Sequence           int64           `gorm:"column:sequence;uniqueIndex;not null" json:"sequence"`
	Number             string          `gorm:"column:number;uniqueIndex;not null" json:"number"`
	Premium            decimal.Decimal `gorm:"column:premium;type:numeric(14,2);not null" json:"premium"`
	SignatureStatus    SignatureStatus `gorm:"column:signature_status;not null" json:"signature_status"`
	ProviderDocumentID string          `gorm:"column:provider_document_id;index" json:"provider_document_id,omitempty"`
	SignedDocument     []byte          `gorm:"column:signed_document" json:"-"`
	SignedAt           *time.Time      `gorm:"column:signed_at" json:"signed_at"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (Policy) TableName() string {
	return "policies"
}
