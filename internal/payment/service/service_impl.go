package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/url"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/shirikacare/portal/internal/audit/domain"
	authdomain "github.com/shirikacare/portal/internal/auth/domain"
	"github.com/shirikacare/portal/internal/config"
	"github.com/shirikacare/portal/internal/mpesa"
	obsmetrics "github.com/shirikacare/portal/internal/observability/metrics"
	paymentdomain "github.com/shirikacare/portal/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Config     config.Config
	Gateway    *config.GatewayConfigHolder
	Client     paymentdomain.GatewayClient
	Repo       paymentdomain.Repository
	UserRepo   authdomain.Repository
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	cfg        config.Config
	gateway    *config.GatewayConfigHolder
	client     paymentdomain.GatewayClient
	repo       paymentdomain.Repository
	userRepo   authdomain.Repository
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		cfg:        p.Config,
		gateway:    p.Gateway,
		client:     p.Client,
		repo:       p.Repo,
		userRepo:   p.UserRepo,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// Initiate creates a pending payment row, fires the push request and
// persists the gateway's correlation ids. The pending row is left
// as-is when the gateway call fails so the attempt remains visible.
func (s *Service) Initiate(ctx context.Context, req paymentdomain.InitiateRequest) (*paymentdomain.InitiateResult, error) {
	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	phone, err := mpesa.NormalizePhone(req.Phone)
	if err != nil {
		return nil, paymentdomain.ErrInvalidPhone
	}
	if req.UserID == 0 {
		return nil, paymentdomain.ErrInvalidPayer
	}
	if _, err := s.userRepo.FindByID(ctx, req.UserID); err != nil {
		return nil, paymentdomain.ErrInvalidPayer
	}

	method, err := s.repo.FindMethodByCode(ctx, s.db, paymentdomain.MethodCodeMpesa)
	if err != nil {
		return nil, err
	}
	if method == nil {
		return nil, paymentdomain.ErrMethodNotConfigured
	}

	now := time.Now().UTC()
	row := &paymentdomain.PaymentRequest{
		ID:            s.genID.Generate(),
		UserID:        req.UserID,
		ApplicationID: req.ApplicationID,
		MethodID:      method.ID,
		Phone:         phone,
		Amount:        req.Amount,
		Status:        paymentdomain.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.InsertRequest(ctx, s.db, row); err != nil {
		return nil, err
	}

	accountReference := fmt.Sprintf("PAY-%d", row.ID)
	description := req.Description
	if description == "" {
		description = "Membership fee"
	}

	resp, raw, err := s.client.STKPush(ctx, phone, req.Amount, accountReference, description, s.callbackURL())
	if err != nil {
		s.recordSTKPush(ctx, "error")
		s.log.Warn("stk push failed",
			zap.String("payment_id", row.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	if err := s.repo.UpdateRequestFields(ctx, s.db, row.ID, map[string]any{
		"merchant_request_id": resp.MerchantRequestID,
		"checkout_request_id": resp.CheckoutRequestID,
		"updated_at":          time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	s.insertEvent(ctx, row.ID, paymentdomain.EventTypeSTKPush, raw)
	s.recordSTKPush(ctx, "ok")

	paymentID := row.ID.String()
	_ = s.auditSvc.AuditLog(ctx, "", nil, "payment.initiated", "payment_request", &paymentID, map[string]any{
		"amount":              req.Amount,
		"checkout_request_id": resp.CheckoutRequestID,
	})

	return &paymentdomain.InitiateResult{
		PaymentID:         row.ID,
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// HandleCallback records the terminal outcome for a push. Storage
// failures here are logged and absorbed: the gateway must always see
// an acknowledgment, and the raw payload is kept in payment_events
// for manual reconciliation whenever the row update is lost.
func (s *Service) HandleCallback(ctx context.Context, callback mpesa.StkCallback, raw []byte) (*paymentdomain.CallbackOutcome, error) {
	row, err := s.repo.FindRequestByCheckoutID(ctx, s.db, callback.CheckoutRequestID)
	if err != nil {
		s.log.Error("callback lookup failed",
			zap.String("checkout_request_id", callback.CheckoutRequestID),
			zap.Error(err),
		)
		s.recordCallback(ctx, "lookup_error")
		return &paymentdomain.CallbackOutcome{}, nil
	}
	if row == nil {
		// Acknowledge and drop so the gateway does not retry forever.
		s.log.Warn("callback for unknown checkout id",
			zap.String("checkout_request_id", callback.CheckoutRequestID),
		)
		s.recordCallbackMatch(ctx, "unmatched")
		return &paymentdomain.CallbackOutcome{}, nil
	}
	s.recordCallbackMatch(ctx, "matched")

	status := paymentdomain.StatusFailed
	if callback.ResultCode == 0 {
		status = paymentdomain.StatusSuccess
	}

	fields := map[string]any{
		"status":       string(status),
		"result_code":  callback.ResultCode,
		"result_desc":  callback.ResultDesc,
		"raw_callback": datatypes.JSON(raw),
		"updated_at":   time.Now().UTC(),
	}
	if receipt := callback.ReceiptNumber(); receipt != "" {
		fields["mpesa_receipt_number"] = receipt
	}

	if err := s.repo.UpdateRequestFields(ctx, s.db, row.ID, fields); err != nil {
		s.log.Error("callback update absorbed",
			zap.String("payment_id", row.ID.String()),
			zap.Error(err),
		)
		s.recordCallback(ctx, "update_error")
	} else {
		s.recordCallback(ctx, string(status))
		if status == paymentdomain.StatusSuccess && s.obsMetrics != nil {
			s.obsMetrics.RecordPaymentAmount(ctx, float64(row.Amount))
		}
	}

	s.insertEvent(ctx, row.ID, paymentdomain.EventTypeCallback, raw)

	paymentID := row.ID.String()
	_ = s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeSystem), nil, "payment.callback", "payment_request", &paymentID, map[string]any{
		"result_code": callback.ResultCode,
		"status":      string(status),
	})

	return &paymentdomain.CallbackOutcome{
		Matched:   true,
		PaymentID: row.ID,
		Status:    status,
	}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*paymentdomain.PaymentRequest, error) {
	row, err := s.repo.FindRequestByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return row, nil
}

func (s *Service) ListByUser(ctx context.Context, userID snowflake.ID) ([]paymentdomain.PaymentRequest, error) {
	return s.repo.ListRequestsByUser(ctx, s.db, userID)
}

// callbackURL carries a shared-secret token so forged callbacks are
// rejected before reaching the handler.
func (s *Service) callbackURL() string {
	base := s.cfg.PublicBaseURL + "/api/payments/mpesa/callback"
	secret := s.gateway.Get().CallbackSecret
	if secret == "" {
		return base
	}
	return base + "?token=" + url.QueryEscape(secret)
}

func (s *Service) insertEvent(ctx context.Context, paymentID snowflake.ID, eventType string, payload []byte) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	event := &paymentdomain.PaymentEvent{
		ID:               s.genID.Generate(),
		PaymentRequestID: paymentID,
		EventType:        eventType,
		CorrelationID:    ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String(),
		Payload:          datatypes.JSON(payload),
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.repo.InsertEvent(ctx, s.db, event); err != nil {
		s.log.Warn("failed to record payment event",
			zap.String("payment_id", paymentID.String()),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

func (s *Service) recordSTKPush(ctx context.Context, result string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordSTKPush(ctx, result)
	}
}

func (s *Service) recordCallback(ctx context.Context, result string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordCallback(ctx, result)
	}
}

func (s *Service) recordCallbackMatch(ctx context.Context, outcome string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordCallbackMatch(ctx, outcome)
	}
}
