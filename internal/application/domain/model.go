package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

type Kind string

const (
	KindCaregiver   Kind = "caregiver"
	KindInstitution Kind = "institution"
)

func (k Kind) Valid() bool {
	return k == KindCaregiver || k == KindInstitution
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusAppealed Status = "appealed"
)

// MaxResubmissions bounds how many times a rejected application can be
// resubmitted before the appeal path is required.
const MaxResubmissions = 2

// Application is a prospective member's submitted application.
type Application struct {
	ID                snowflake.ID      `json:"id" gorm:"primaryKey"`
	UserID            snowflake.ID      `json:"user_id" gorm:"not null;index"`
	Kind              Kind              `json:"kind" gorm:"type:text;not null"`
	Status            Status            `json:"status" gorm:"type:text;not null;default:'pending';index"`
	ApplicantName     string            `json:"applicant_name" gorm:"type:text;not null"`
	Email             string            `json:"email" gorm:"type:text;not null"`
	Phone             string            `json:"phone" gorm:"type:text"`
	Details           datatypes.JSONMap `json:"details" gorm:"type:jsonb"`
	DocumentURLs      pq.StringArray    `json:"document_urls" gorm:"type:text"`
	ResubmissionCount int               `json:"resubmission_count" gorm:"not null;default:0"`
	AppealNote        *string           `json:"appeal_note,omitempty" gorm:"type:text"`
	ReviewNotes       *string           `json:"review_notes,omitempty" gorm:"type:text"`
	ReviewedBy        *snowflake.ID     `json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time        `json:"reviewed_at,omitempty"`
	PaymentID         *snowflake.ID     `json:"payment_id,omitempty" gorm:"index"`
	CreatedAt         time.Time         `json:"created_at" gorm:"not null;index"`
	UpdatedAt         time.Time         `json:"updated_at" gorm:"not null"`
}

func (Application) TableName() string { return "applications" }
