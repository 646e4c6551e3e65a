package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindMethodByCode(ctx context.Context, db *gorm.DB, code string) (*PaymentMethod, error)
	InsertRequest(ctx context.Context, db *gorm.DB, req *PaymentRequest) error
	UpdateRequestFields(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	FindRequestByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentRequest, error)
	FindRequestByCheckoutID(ctx context.Context, db *gorm.DB, checkoutRequestID string) (*PaymentRequest, error)
	ListRequestsByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]PaymentRequest, error)
	ListPendingOlderThan(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]PaymentRequest, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *PaymentEvent) error
}
