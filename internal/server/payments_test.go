package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shirikacare/portal/internal/config"
	"github.com/shirikacare/portal/internal/mpesa"
	paymentdomain "github.com/shirikacare/portal/internal/payment/domain"
	"go.uber.org/zap"
)

type fakePaymentService struct {
	initiateCalls int
	lastInitiate  paymentdomain.InitiateRequest
	initiateRes   *paymentdomain.InitiateResult
	initiateErr   error

	callbackCalls int
	lastCallback  mpesa.StkCallback
	lastRaw       []byte
	outcome       *paymentdomain.CallbackOutcome
	callbackErr   error

	payments map[snowflake.ID]*paymentdomain.PaymentRequest
}

func (f *fakePaymentService) Initiate(ctx context.Context, req paymentdomain.InitiateRequest) (*paymentdomain.InitiateResult, error) {
	f.initiateCalls++
	f.lastInitiate = req
	_ = ctx
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	return f.initiateRes, nil
}

func (f *fakePaymentService) HandleCallback(ctx context.Context, callback mpesa.StkCallback, raw []byte) (*paymentdomain.CallbackOutcome, error) {
	f.callbackCalls++
	f.lastCallback = callback
	f.lastRaw = raw
	_ = ctx
	if f.callbackErr != nil {
		return nil, f.callbackErr
	}
	if f.outcome != nil {
		return f.outcome, nil
	}
	return &paymentdomain.CallbackOutcome{}, nil
}

func (f *fakePaymentService) Get(ctx context.Context, id snowflake.ID) (*paymentdomain.PaymentRequest, error) {
	_ = ctx
	if p, ok := f.payments[id]; ok {
		return p, nil
	}
	return nil, paymentdomain.ErrPaymentNotFound
}

func (f *fakePaymentService) ListByUser(ctx context.Context, userID snowflake.ID) ([]paymentdomain.PaymentRequest, error) {
	_ = ctx
	var out []paymentdomain.PaymentRequest
	for _, p := range f.payments {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func authAs(userID snowflake.ID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(contextUserIDKey, userID)
		c.Next()
	}
}

func newPaymentTestServer(svc *fakePaymentService, callbackSecret string) (*Server, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	srv := &Server{
		log:        zap.NewNop(),
		paymentSvc: svc,
		gateway:    config.NewStaticGatewayConfig(config.MpesaConfig{CallbackSecret: callbackSecret}),
	}
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	return srv, router
}

func postCallback(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

const validCallbackBody = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 1500.0},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "PhoneNumber", "Value": 254712345678}
        ]
      }
    }
  }
}`

func TestMpesaCallbackMalformedBodyReturns400(t *testing.T) {
	svc := &fakePaymentService{}
	srv, router := newPaymentTestServer(svc, "")
	router.POST("/api/payments/mpesa/callback", srv.CallbackTokenRequired(), srv.MpesaCallback)

	resp := postCallback(router, "/api/payments/mpesa/callback", `{"Body": `)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if payload["ok"] != false {
		t.Fatalf("expected ok=false, got %v", payload["ok"])
	}
	if payload["error"] != "Invalid callback body" {
		t.Fatalf("unexpected error message: %v", payload["error"])
	}
	if svc.callbackCalls != 0 {
		t.Fatal("expected callback service not to be called")
	}
}

func TestMpesaCallbackMissingCheckoutIDReturns400(t *testing.T) {
	svc := &fakePaymentService{}
	srv, router := newPaymentTestServer(svc, "")
	router.POST("/api/payments/mpesa/callback", srv.MpesaCallback)

	resp := postCallback(router, "/api/payments/mpesa/callback", `{"Body":{"stkCallback":{"ResultCode":0}}}`)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if svc.callbackCalls != 0 {
		t.Fatal("expected callback service not to be called")
	}
}

func TestMpesaCallbackUnmatchedStillAcknowledged(t *testing.T) {
	svc := &fakePaymentService{outcome: &paymentdomain.CallbackOutcome{Matched: false}}
	srv, router := newPaymentTestServer(svc, "")
	router.POST("/api/payments/mpesa/callback", srv.MpesaCallback)

	resp := postCallback(router, "/api/payments/mpesa/callback", validCallbackBody)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload["ok"])
	}
	if svc.callbackCalls != 1 {
		t.Fatalf("expected 1 callback call, got %d", svc.callbackCalls)
	}
	if svc.lastCallback.CheckoutRequestID != "ws_CO_191220191020363925" {
		t.Fatalf("unexpected checkout id %q", svc.lastCallback.CheckoutRequestID)
	}
}

func TestMpesaCallbackProcessingErrorStillAcknowledged(t *testing.T) {
	svc := &fakePaymentService{callbackErr: context.DeadlineExceeded}
	srv, router := newPaymentTestServer(svc, "")
	router.POST("/api/payments/mpesa/callback", srv.MpesaCallback)

	resp := postCallback(router, "/api/payments/mpesa/callback", validCallbackBody)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestMpesaCallbackBadTokenReturns401(t *testing.T) {
	svc := &fakePaymentService{}
	srv, router := newPaymentTestServer(svc, "cbsecret")
	router.POST("/api/payments/mpesa/callback", srv.CallbackTokenRequired(), srv.MpesaCallback)

	resp := postCallback(router, "/api/payments/mpesa/callback?token=wrong", validCallbackBody)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
	if svc.callbackCalls != 0 {
		t.Fatal("expected callback service not to be called on bad token")
	}
}

func TestMpesaCallbackGoodTokenAccepted(t *testing.T) {
	svc := &fakePaymentService{outcome: &paymentdomain.CallbackOutcome{Matched: true, Status: paymentdomain.StatusSuccess}}
	srv, router := newPaymentTestServer(svc, "cbsecret")
	router.POST("/api/payments/mpesa/callback", srv.CallbackTokenRequired(), srv.MpesaCallback)

	resp := postCallback(router, "/api/payments/mpesa/callback?token=cbsecret", validCallbackBody)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if svc.callbackCalls != 1 {
		t.Fatalf("expected 1 callback call, got %d", svc.callbackCalls)
	}
}

func TestInitiatePaymentPassesUserAndAmount(t *testing.T) {
	svc := &fakePaymentService{
		initiateRes: &paymentdomain.InitiateResult{
			PaymentID:         snowflake.ID(42),
			MerchantRequestID: "29115-34620561-1",
			CheckoutRequestID: "ws_CO_191220191020363925",
		},
	}
	srv, router := newPaymentTestServer(svc, "")
	router.POST("/api/payments/initiate", authAs(snowflake.ID(7)), srv.InitiatePayment)

	resp := postCallback(router, "/api/payments/initiate", `{"amount":1500,"phone":"0712345678"}`)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", resp.Code)
	}
	if svc.lastInitiate.UserID != snowflake.ID(7) {
		t.Fatalf("unexpected user id %v", svc.lastInitiate.UserID)
	}
	if svc.lastInitiate.Amount != 1500 {
		t.Fatalf("unexpected amount %d", svc.lastInitiate.Amount)
	}
}

func TestInitiatePaymentValidationErrorReturns400(t *testing.T) {
	svc := &fakePaymentService{initiateErr: paymentdomain.ErrInvalidPhone}
	srv, router := newPaymentTestServer(svc, "")
	router.POST("/api/payments/initiate", authAs(snowflake.ID(7)), srv.InitiatePayment)

	resp := postCallback(router, "/api/payments/initiate", `{"amount":1500,"phone":"12345"}`)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestInitiatePaymentGatewayErrorReturns502(t *testing.T) {
	svc := &fakePaymentService{initiateErr: &mpesa.GatewayError{Op: "stkpush", StatusCode: 503}}
	srv, router := newPaymentTestServer(svc, "")
	router.POST("/api/payments/initiate", authAs(snowflake.ID(7)), srv.InitiatePayment)

	resp := postCallback(router, "/api/payments/initiate", `{"amount":1500,"phone":"0712345678"}`)

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", resp.Code)
	}
}

func TestGetPaymentHidesOtherUsersPayments(t *testing.T) {
	owner := snowflake.ID(7)
	other := snowflake.ID(8)
	payment := &paymentdomain.PaymentRequest{ID: snowflake.ID(42), UserID: owner, Status: paymentdomain.StatusPending, Amount: 1500}
	svc := &fakePaymentService{payments: map[snowflake.ID]*paymentdomain.PaymentRequest{payment.ID: payment}}
	srv, router := newPaymentTestServer(svc, "")
	router.GET("/api/payments/:id", authAs(other), srv.GetPayment)

	req := httptest.NewRequest(http.MethodGet, "/api/payments/"+payment.ID.String(), nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}
