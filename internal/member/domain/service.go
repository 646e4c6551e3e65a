package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrMemberNotFound = errors.New("member_not_found")
	ErrMemberExists   = errors.New("member_already_enrolled")
	ErrInvalidMember  = errors.New("invalid_member")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, member *Member) error
	FindByRegistrationNo(ctx context.Context, db *gorm.DB, registrationNo string) (*Member, error)
	FindByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Member, error)
	CountForYear(ctx context.Context, db *gorm.DB, year int) (int64, error)
	UpdateFields(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
}

type EnrollRequest struct {
	UserID        snowflake.ID
	ApplicationID snowflake.ID
	FullName      string
	Kind          string
}

type Service interface {
	Enroll(ctx context.Context, req EnrollRequest) (*Member, error)
	VerifyByRegistrationNo(ctx context.Context, registrationNo string) (*Verification, error)
	GetByUser(ctx context.Context, userID snowflake.ID) (*Member, error)
	Revoke(ctx context.Context, memberID snowflake.ID) error
}
