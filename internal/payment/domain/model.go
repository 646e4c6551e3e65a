package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

const (
	EventTypeSTKPush  = "stk_push"
	EventTypeCallback = "callback"
)

// MethodCodeMpesa is the configured payment method looked up at
// initiation time. A missing row is a configuration error.
const MethodCodeMpesa = "mpesa"

// PaymentMethod is operator-managed configuration, seeded at startup.
type PaymentMethod struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Code      string       `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	Active    bool         `json:"active" gorm:"not null;default:true"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (PaymentMethod) TableName() string { return "payment_methods" }

// PaymentRequest is one attempt to collect money from a payer.
// After creation the row receives exactly two updates: the
// correlation ids from the push response, and the terminal outcome
// from the callback.
type PaymentRequest struct {
	ID                 snowflake.ID   `json:"id" gorm:"primaryKey"`
	UserID             snowflake.ID   `json:"user_id" gorm:"not null;index"`
	ApplicationID      *snowflake.ID  `json:"application_id,omitempty" gorm:"index"`
	MethodID           snowflake.ID   `json:"method_id" gorm:"not null"`
	Phone              string         `json:"phone" gorm:"type:text;not null"`
	Amount             int64          `json:"amount" gorm:"not null"`
	Status             Status         `json:"status" gorm:"type:text;not null;default:'pending';index"`
	MerchantRequestID  *string        `json:"merchant_request_id,omitempty" gorm:"type:text"`
	CheckoutRequestID  *string        `json:"checkout_request_id,omitempty" gorm:"type:text;uniqueIndex"`
	ResultCode         *int           `json:"result_code,omitempty"`
	ResultDesc         *string        `json:"result_desc,omitempty" gorm:"type:text"`
	MpesaReceiptNumber *string        `json:"mpesa_receipt_number,omitempty" gorm:"type:text"`
	RawCallback        datatypes.JSON `json:"raw_callback,omitempty" gorm:"type:jsonb"`
	CreatedAt          time.Time      `json:"created_at" gorm:"not null;index"`
	UpdatedAt          time.Time      `json:"updated_at" gorm:"not null"`
}

func (PaymentRequest) TableName() string { return "payment_requests" }

func (p PaymentRequest) Terminal() bool {
	return p.Status == StatusSuccess || p.Status == StatusFailed
}

// PaymentEvent is an insert-only audit row capturing a raw payload
// exchanged with the gateway.
type PaymentEvent struct {
	ID               snowflake.ID   `json:"id" gorm:"primaryKey"`
	PaymentRequestID snowflake.ID   `json:"payment_request_id" gorm:"not null;index"`
	EventType        string         `json:"event_type" gorm:"type:text;not null"`
	CorrelationID    string         `json:"correlation_id" gorm:"type:text;not null"`
	Payload          datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	CreatedAt        time.Time      `json:"created_at" gorm:"not null"`
}

func (PaymentEvent) TableName() string { return "payment_events" }
