package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shirikacare/portal/pkg/db/pagination"
	"gorm.io/gorm"
)

var (
	ErrInvalidKind           = errors.New("invalid_kind")
	ErrInvalidApplicant      = errors.New("invalid_applicant")
	ErrApplicationNotFound   = errors.New("application_not_found")
	ErrApplicationNotPending = errors.New("application_not_pending")
	ErrNotRejected           = errors.New("application_not_rejected")
	ErrResubmissionsExceeded = errors.New("resubmissions_exceeded")
	ErrAlreadyApplied        = errors.New("application_already_open")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, app *Application) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Application, error)
	FindOpenByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Application, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]Application, error)
	ListByStatus(ctx context.Context, db *gorm.DB, status Status, limit, offset int) ([]Application, int64, error)
	UpdateFields(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
}

type SubmitRequest struct {
	UserID        snowflake.ID
	Kind          Kind
	ApplicantName string
	Email         string
	Phone         string
	Details       map[string]any
	DocumentURLs  []string
}

type ResubmitRequest struct {
	ApplicationID snowflake.ID
	UserID        snowflake.ID
	Details       map[string]any
	DocumentURLs  []string
}

type AppealRequest struct {
	ApplicationID snowflake.ID
	UserID        snowflake.ID
	Note          string
}

type DecisionRequest struct {
	ApplicationID snowflake.ID
	ReviewerID    snowflake.ID
	Notes         string
}

type ListQueueRequest struct {
	pagination.Pagination
	Status Status
	Page   int
}

type ListQueueResponse struct {
	Applications []Application `json:"applications"`
	Total        int64         `json:"total"`
}

type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (*Application, error)
	Resubmit(ctx context.Context, req ResubmitRequest) (*Application, error)
	Appeal(ctx context.Context, req AppealRequest) (*Application, error)
	Get(ctx context.Context, id snowflake.ID) (*Application, error)
	ListByUser(ctx context.Context, userID snowflake.ID) ([]Application, error)
	ListQueue(ctx context.Context, req ListQueueRequest) (ListQueueResponse, error)
	Approve(ctx context.Context, req DecisionRequest) (*Application, error)
	Reject(ctx context.Context, req DecisionRequest) (*Application, error)
}
