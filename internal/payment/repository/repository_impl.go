package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shirikacare/portal/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindMethodByCode(ctx context.Context, db *gorm.DB, code string) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, active, created_at
		 FROM payment_methods
		 WHERE code = ? AND active
		 LIMIT 1`,
		code,
	).Scan(&method).Error
	if err != nil {
		return nil, err
	}
	if method.ID == 0 {
		return nil, nil
	}
	return &method, nil
}

func (r *repo) InsertRequest(ctx context.Context, db *gorm.DB, req *domain.PaymentRequest) error {
	return db.WithContext(ctx).Create(req).Error
}

func (r *repo) UpdateRequestFields(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	tx := db.WithContext(ctx).Model(&domain.PaymentRequest{}).Where("id = ?", id).Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (r *repo) FindRequestByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentRequest, error) {
	var req domain.PaymentRequest
	err := db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repo) FindRequestByCheckoutID(ctx context.Context, db *gorm.DB, checkoutRequestID string) (*domain.PaymentRequest, error) {
	var req domain.PaymentRequest
	err := db.WithContext(ctx).Where("checkout_request_id = ?", checkoutRequestID).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repo) ListRequestsByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]domain.PaymentRequest, error) {
	var items []domain.PaymentRequest
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&items).Error
	return items, err
}

func (r *repo) ListPendingOlderThan(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.PaymentRequest, error) {
	var items []domain.PaymentRequest
	stmt := db.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.StatusPending, cutoff).
		Order("created_at asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	err := stmt.Find(&items).Error
	return items, err
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.PaymentEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, payment_request_id, event_type, correlation_id, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.PaymentRequestID,
		event.EventType,
		event.CorrelationID,
		event.Payload,
		event.CreatedAt,
	).Error
}
