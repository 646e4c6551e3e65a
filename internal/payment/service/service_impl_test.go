package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/shirikacare/portal/internal/audit/domain"
	authdomain "github.com/shirikacare/portal/internal/auth/domain"
	authrepository "github.com/shirikacare/portal/internal/auth/repository"
	"github.com/shirikacare/portal/internal/config"
	"github.com/shirikacare/portal/internal/mpesa"
	paymentdomain "github.com/shirikacare/portal/internal/payment/domain"
	paymentrepository "github.com/shirikacare/portal/internal/payment/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeGateway struct {
	calls       int
	lastPhone   string
	lastAmount  int64
	lastAccount string
	lastURL     string
	resp        *mpesa.STKPushResponse
	err         error

	// onPush observes database state at the moment of the gateway call.
	onPush func()
}

func (f *fakeGateway) STKPush(ctx context.Context, phone string, amount int64, accountReference, description, callbackURL string) (*mpesa.STKPushResponse, []byte, error) {
	f.calls++
	f.lastPhone = phone
	f.lastAmount = amount
	f.lastAccount = accountReference
	f.lastURL = callbackURL
	if f.onPush != nil {
		f.onPush()
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	raw, _ := json.Marshal(f.resp)
	return f.resp, raw, nil
}

type fakeAudit struct {
	actions []string
}

func (f *fakeAudit) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeAudit) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type fixture struct {
	db      *gorm.DB
	svc     paymentdomain.Service
	gateway *fakeGateway
	audit   *fakeAudit
	user    authdomain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&authdomain.User{},
		&paymentdomain.PaymentMethod{},
		&paymentdomain.PaymentRequest{},
		&paymentdomain.PaymentEvent{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	user := authdomain.User{
		ID:       node.Generate(),
		Email:    "payer@example.com",
		FullName: "Test Payer",
		Role:     authdomain.RoleApplicant,
	}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Create(&paymentdomain.PaymentMethod{
		ID:        node.Generate(),
		Code:      paymentdomain.MethodCodeMpesa,
		Name:      "M-Pesa",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}).Error)

	gateway := &fakeGateway{
		resp: &mpesa.STKPushResponse{
			MerchantRequestID:   "mr-1",
			CheckoutRequestID:   "ws_CO_1",
			ResponseCode:        "0",
			ResponseDescription: "Success",
			CustomerMessage:     "Check your phone",
		},
	}
	audit := &fakeAudit{}

	userRepo, _ := authrepository.New(db)
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Config:   config.Config{PublicBaseURL: "https://portal.example"},
		Gateway:  config.NewStaticGatewayConfig(config.MpesaConfig{CallbackSecret: "cbsecret"}),
		Client:   gateway,
		Repo:     paymentrepository.Provide(),
		UserRepo: userRepo,
		AuditSvc: audit,
	})

	return &fixture{db: db, svc: svc, gateway: gateway, audit: audit, user: user}
}

func (f *fixture) initiate(t *testing.T) *paymentdomain.InitiateResult {
	t.Helper()
	result, err := f.svc.Initiate(context.Background(), paymentdomain.InitiateRequest{
		UserID: f.user.ID,
		Phone:  "0712345678",
		Amount: 500,
	})
	require.NoError(t, err)
	return result
}

func (f *fixture) callback(t *testing.T, resultCode int, checkoutID string, withReceipt bool) *paymentdomain.CallbackOutcome {
	t.Helper()
	callback := mpesa.StkCallback{
		MerchantRequestID: "mr-1",
		CheckoutRequestID: checkoutID,
		ResultCode:        resultCode,
		ResultDesc:        "desc",
	}
	if withReceipt {
		callback.CallbackMetadata = &mpesa.CallbackMetadata{Item: []mpesa.CallbackItem{
			{Name: "Amount", Value: float64(500)},
			{Name: "MpesaReceiptNumber", Value: "NLJ7RT61SV"},
		}}
	}
	var envelope mpesa.CallbackEnvelope
	envelope.Body.StkCallback = callback
	raw, _ := json.Marshal(envelope)
	outcome, err := f.svc.HandleCallback(context.Background(), callback, raw)
	require.NoError(t, err)
	return outcome
}

func TestInitiateCreatesPendingRowBeforeGatewayCall(t *testing.T) {
	f := newFixture(t)

	var statusAtPush string
	var rowsAtPush int64
	f.gateway.onPush = func() {
		var row paymentdomain.PaymentRequest
		require.NoError(t, f.db.First(&row).Error)
		statusAtPush = string(row.Status)
		f.db.Model(&paymentdomain.PaymentRequest{}).Count(&rowsAtPush)
	}

	result := f.initiate(t)

	assert.Equal(t, "pending", statusAtPush)
	assert.EqualValues(t, 1, rowsAtPush)
	assert.Equal(t, "ws_CO_1", result.CheckoutRequestID)
	assert.Equal(t, "mr-1", result.MerchantRequestID)

	var row paymentdomain.PaymentRequest
	require.NoError(t, f.db.First(&row).Error)
	assert.Equal(t, "254712345678", row.Phone)
	assert.EqualValues(t, 500, row.Amount)
	assert.Equal(t, paymentdomain.StatusPending, row.Status)
	require.NotNil(t, row.CheckoutRequestID)
	assert.Equal(t, "ws_CO_1", *row.CheckoutRequestID)

	assert.Equal(t, fmt.Sprintf("PAY-%d", row.ID), f.gateway.lastAccount)
	assert.Equal(t, "https://portal.example/api/payments/mpesa/callback?token=cbsecret", f.gateway.lastURL)

	var events int64
	f.db.Model(&paymentdomain.PaymentEvent{}).Where("event_type = ?", paymentdomain.EventTypeSTKPush).Count(&events)
	assert.EqualValues(t, 1, events)
}

func TestInitiateGatewayFailureLeavesPendingRow(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = errors.New("connection refused")

	_, err := f.svc.Initiate(context.Background(), paymentdomain.InitiateRequest{
		UserID: f.user.ID,
		Phone:  "0712345678",
		Amount: 500,
	})
	require.Error(t, err)

	var row paymentdomain.PaymentRequest
	require.NoError(t, f.db.First(&row).Error)
	assert.Equal(t, paymentdomain.StatusPending, row.Status)
	assert.Nil(t, row.CheckoutRequestID)
	assert.Nil(t, row.MerchantRequestID)

	var events int64
	f.db.Model(&paymentdomain.PaymentEvent{}).Count(&events)
	assert.EqualValues(t, 0, events)
}

func TestInitiateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Initiate(ctx, paymentdomain.InitiateRequest{UserID: f.user.ID, Phone: "0712345678", Amount: 0})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)

	_, err = f.svc.Initiate(ctx, paymentdomain.InitiateRequest{UserID: f.user.ID, Phone: "12", Amount: 500})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPhone)

	_, err = f.svc.Initiate(ctx, paymentdomain.InitiateRequest{UserID: 12345, Phone: "0712345678", Amount: 500})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayer)

	assert.Zero(t, f.gateway.calls)
}

func TestInitiateMethodNotConfigured(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Exec("DELETE FROM payment_methods").Error)

	_, err := f.svc.Initiate(context.Background(), paymentdomain.InitiateRequest{
		UserID: f.user.ID,
		Phone:  "0712345678",
		Amount: 500,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrMethodNotConfigured)
	assert.Zero(t, f.gateway.calls)

	var rows int64
	f.db.Model(&paymentdomain.PaymentRequest{}).Count(&rows)
	assert.EqualValues(t, 0, rows)
}

func TestCallbackSuccessSetsReceipt(t *testing.T) {
	f := newFixture(t)
	f.initiate(t)

	outcome := f.callback(t, 0, "ws_CO_1", true)
	assert.True(t, outcome.Matched)
	assert.Equal(t, paymentdomain.StatusSuccess, outcome.Status)

	var row paymentdomain.PaymentRequest
	require.NoError(t, f.db.First(&row).Error)
	assert.Equal(t, paymentdomain.StatusSuccess, row.Status)
	require.NotNil(t, row.MpesaReceiptNumber)
	assert.Equal(t, "NLJ7RT61SV", *row.MpesaReceiptNumber)
	require.NotNil(t, row.ResultCode)
	assert.Equal(t, 0, *row.ResultCode)
	assert.NotEmpty(t, row.RawCallback)
}

func TestCallbackFailureLeavesReceiptEmpty(t *testing.T) {
	f := newFixture(t)
	f.initiate(t)

	outcome := f.callback(t, 1032, "ws_CO_1", false)
	assert.True(t, outcome.Matched)
	assert.Equal(t, paymentdomain.StatusFailed, outcome.Status)

	var row paymentdomain.PaymentRequest
	require.NoError(t, f.db.First(&row).Error)
	assert.Equal(t, paymentdomain.StatusFailed, row.Status)
	assert.Nil(t, row.MpesaReceiptNumber)
}

func TestCallbackUnmatchedIsAcknowledgedWithoutMutation(t *testing.T) {
	f := newFixture(t)
	f.initiate(t)

	outcome := f.callback(t, 0, "ws_CO_unknown", true)
	assert.False(t, outcome.Matched)

	var row paymentdomain.PaymentRequest
	require.NoError(t, f.db.First(&row).Error)
	assert.Equal(t, paymentdomain.StatusPending, row.Status)

	var events int64
	f.db.Model(&paymentdomain.PaymentEvent{}).Where("event_type = ?", paymentdomain.EventTypeCallback).Count(&events)
	assert.EqualValues(t, 0, events)
}

func TestCallbackDuplicateDeliveryAppendsEvents(t *testing.T) {
	f := newFixture(t)
	f.initiate(t)

	f.callback(t, 0, "ws_CO_1", true)
	f.callback(t, 0, "ws_CO_1", true)

	var row paymentdomain.PaymentRequest
	require.NoError(t, f.db.First(&row).Error)
	assert.Equal(t, paymentdomain.StatusSuccess, row.Status)

	var events int64
	f.db.Model(&paymentdomain.PaymentEvent{}).Where("event_type = ?", paymentdomain.EventTypeCallback).Count(&events)
	assert.EqualValues(t, 2, events)
}

func TestGetAndListByUser(t *testing.T) {
	f := newFixture(t)
	result := f.initiate(t)

	row, err := f.svc.Get(context.Background(), result.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, result.PaymentID, row.ID)

	_, err = f.svc.Get(context.Background(), snowflake.ID(999))
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)

	items, err := f.svc.ListByUser(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
