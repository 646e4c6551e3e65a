package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shirikacare/portal/internal/mpesa"
)

var (
	ErrMethodNotConfigured = errors.New("payment_method_not_configured")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidPhone        = errors.New("invalid_phone")
	ErrInvalidPayer        = errors.New("invalid_payer")
	ErrPaymentNotFound     = errors.New("payment_not_found")
)

// GatewayClient is the outbound surface of the STK push gateway.
// Satisfied by *mpesa.Client; faked in tests.
type GatewayClient interface {
	STKPush(ctx context.Context, phone string, amount int64, accountReference, description, callbackURL string) (*mpesa.STKPushResponse, []byte, error)
}

type InitiateRequest struct {
	UserID        snowflake.ID
	ApplicationID *snowflake.ID
	Phone         string
	Amount        int64
	Description   string
}

type InitiateResult struct {
	PaymentID         snowflake.ID `json:"payment_id"`
	MerchantRequestID string       `json:"merchant_request_id"`
	CheckoutRequestID string       `json:"checkout_request_id"`
	CustomerMessage   string       `json:"customer_message,omitempty"`
}

// CallbackOutcome reports what the callback handler did. The HTTP
// layer acknowledges regardless; this exists for logging and metrics.
type CallbackOutcome struct {
	Matched   bool
	PaymentID snowflake.ID
	Status    Status
}

type Service interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	HandleCallback(ctx context.Context, callback mpesa.StkCallback, raw []byte) (*CallbackOutcome, error)
	Get(ctx context.Context, id snowflake.ID) (*PaymentRequest, error)
	ListByUser(ctx context.Context, userID snowflake.ID) ([]PaymentRequest, error)
}
