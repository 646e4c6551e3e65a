package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Member is an approved entry in the public registry.
type Member struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID         snowflake.ID `json:"user_id" gorm:"not null;uniqueIndex"`
	ApplicationID  snowflake.ID `json:"application_id" gorm:"not null"`
	RegistrationNo string       `json:"registration_no" gorm:"type:text;not null;uniqueIndex"`
	Slug           string       `json:"slug" gorm:"type:text;not null;uniqueIndex"`
	FullName       string       `json:"full_name" gorm:"type:text;not null"`
	Kind           string       `json:"kind" gorm:"type:text;not null"`
	Status         Status       `json:"status" gorm:"type:text;not null;default:'active'"`
	EnrolledAt     time.Time    `json:"enrolled_at" gorm:"not null"`
	RevokedAt      *time.Time   `json:"revoked_at,omitempty"`
}

func (Member) TableName() string { return "members" }

// Verification is the public lookup result. It exposes only what a
// verifying employer needs.
type Verification struct {
	RegistrationNo string    `json:"registration_no"`
	FullName       string    `json:"full_name"`
	Kind           string    `json:"kind"`
	Status         Status    `json:"status"`
	EnrolledAt     time.Time `json:"enrolled_at"`
}
