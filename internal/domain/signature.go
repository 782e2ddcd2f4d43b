package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SignatureRequest kinds.
const (
	EnvelopeCCG    = "ccg"
	EnvelopePolicy = "policy"
)

// Signer roles.
const (
	SignerGuarantor = "guarantor"
	SignerLegalRep  = "legal_rep"
	SignerInternal  = "internal"
)

// SignatureRequest tracks one document submitted to the e-signature provider.
// Step is the checkpoint a retried run resumes from.
type SignatureRequest struct {
	ID                 uint            `gorm:"column:id;primaryKey" json:"id"`
	Kind               string          `gorm:"column:kind;not null;index:idx_signature_kind_tomador" json:"kind"`
	TomadorID          uint            `gorm:"column:tomador_id;not null;index:idx_signature_kind_tomador" json:"tomador_id"`
	PolicyID           *uint           `gorm:"column:policy_id;uniqueIndex" json:"policy_id"`
	Title              string          `gorm:"column:title" json:"title"`
	ProviderDocumentID *string         `gorm:"column:provider_document_id;uniqueIndex" json:"provider_document_id"`
	Status             SignatureStatus `gorm:"column:status;not null" json:"status"`
	Step               SignatureStep   `gorm:"column:step;not null" json:"step"`
	AutoSign           bool            `gorm:"column:auto_sign;not null;default:false" json:"auto_sign"`
	Signers            []Signer        `gorm:"foreignKey:SignatureRequestID" json:"signers"`
	SignedDocument     []byte          `gorm:"column:signed_document" json:"-"`
	SignedAt           *time.Time      `gorm:"column:signed_at" json:"signed_at"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (SignatureRequest) TableName() string {
	return "signature_requests"
}

// DocumentID returns the provider document id or "" before upload.
func (r *SignatureRequest) DocumentID() string {
	if r.ProviderDocumentID == nil {
		return ""
	}
	return *r.ProviderDocumentID
}

// Signer is a document-specific signer (guarantor or legal representative).
type Signer struct {
	ID                 uint   `gorm:"column:id;primaryKey" json:"id"`
	SignatureRequestID uint   `gorm:"column:signature_request_id;index;not null" json:"signature_request_id"`
	Name               string `gorm:"column:name" json:"name"`
	Email              string `gorm:"column:email;not null" json:"email"`
	Role               string `gorm:"column:role;not null" json:"role"`
}

func (Signer) TableName() string {
	return "signers"
}

// Task statuses.
const (
	TaskPending = "pending"
	TaskRunning = "running"
	TaskDone    = "done"
	TaskDead    = "dead"
)

// SignatureTask is the durable queue entry driving a SignatureRequest through the provider.
type SignatureTask struct {
	ID                 uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SignatureRequestID uint       `gorm:"column:signature_request_id;uniqueIndex;not null" json:"signature_request_id"`
	Status             string     `gorm:"column:status;index:idx_task_status_next;not null" json:"status"`
	Attempts           int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	NextRunAt          time.Time  `gorm:"column:next_run_at;index:idx_task_status_next;not null" json:"next_run_at"`
	LockedBy           string     `gorm:"column:locked_by" json:"locked_by,omitempty"`
	LockedAt           *time.Time `gorm:"column:locked_at" json:"locked_at"`
	LastError          string     `gorm:"column:last_error" json:"last_error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (SignatureTask) TableName() string {
	return "signature_tasks"
}

func (t *SignatureTask) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
