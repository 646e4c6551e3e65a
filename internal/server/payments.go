package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/shirikacare/portal/internal/auth/domain"
	memberdomain "github.com/shirikacare/portal/internal/member/domain"
	"github.com/shirikacare/portal/internal/mpesa"
	paymentdomain "github.com/shirikacare/portal/internal/payment/domain"
	"github.com/shirikacare/portal/internal/providers/pdf"
	"go.uber.org/zap"
)

type InitiatePaymentRequest struct {
	Amount        int64  `json:"amount"`
	Phone         string `json:"phone"`
	ApplicationID string `json:"application_id,omitempty"`
	Description   string `json:"description,omitempty"`
}

type paymentView struct {
	ID                 string     `json:"id"`
	Status             string     `json:"status"`
	Amount             int64      `json:"amount"`
	Phone              string     `json:"phone"`
	ApplicationID      *string    `json:"application_id,omitempty"`
	MpesaReceiptNumber *string    `json:"mpesa_receipt_number,omitempty"`
	ResultDesc         *string    `json:"result_desc,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func newPaymentView(p *paymentdomain.PaymentRequest) paymentView {
	view := paymentView{
		ID:                 p.ID.String(),
		Status:             string(p.Status),
		Amount:             p.Amount,
		Phone:              p.Phone,
		MpesaReceiptNumber: p.MpesaReceiptNumber,
		ResultDesc:         p.ResultDesc,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
	if p.ApplicationID != nil {
		appID := p.ApplicationID.String()
		view.ApplicationID = &appID
	}
	return view
}

func (s *Server) InitiatePayment(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	initiate := paymentdomain.InitiateRequest{
		UserID:      userID,
		Phone:       req.Phone,
		Amount:      req.Amount,
		Description: req.Description,
	}
	if req.ApplicationID != "" {
		appID, err := snowflake.ParseString(req.ApplicationID)
		if err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		initiate.ApplicationID = &appID
	}

	result, err := s.paymentSvc.Initiate(c.Request.Context(), initiate)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, result)
}

// MpesaCallback terminates the gateway's result delivery. The contract
// with the gateway is narrow: a parseable body is always acknowledged
// with 200 so the gateway stops retrying, whatever we did with it.
func (s *Server) MpesaCallback(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Invalid callback body"})
		return
	}

	var envelope mpesa.CallbackEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Body.StkCallback.CheckoutRequestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Invalid callback body"})
		return
	}

	outcome, err := s.paymentSvc.HandleCallback(c.Request.Context(), envelope.Body.StkCallback, raw)
	if err != nil {
		// Processing failures are logged, never surfaced to the gateway.
		s.log.Error("callback processing failed",
			zap.String("checkout_request_id", envelope.Body.StkCallback.CheckoutRequestID),
			zap.Error(err),
		)
	} else if !outcome.Matched {
		s.log.Warn("callback did not match a payment",
			zap.String("checkout_request_id", envelope.Body.StkCallback.CheckoutRequestID),
		)
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) GetPayment(c *gin.Context) {
	payment, ok := s.loadOwnedPayment(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newPaymentView(payment))
}

func (s *Server) ListMyPayments(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	payments, err := s.paymentSvc.ListByUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]paymentView, 0, len(payments))
	for i := range payments {
		views = append(views, newPaymentView(&payments[i]))
	}
	c.JSON(http.StatusOK, gin.H{"payments": views})
}

func (s *Server) PaymentReceipt(c *gin.Context) {
	payment, ok := s.loadOwnedPayment(c)
	if !ok {
		return
	}

	if payment.Status != paymentdomain.StatusSuccess || payment.MpesaReceiptNumber == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	var payer authdomain.User
	if err := s.db.WithContext(c.Request.Context()).First(&payer, "id = ?", payment.UserID).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	registrationNo := ""
	if member, err := s.memberSvc.GetByUser(c.Request.Context(), payment.UserID); err == nil {
		registrationNo = member.RegistrationNo
	} else if !errors.Is(err, memberdomain.ErrMemberNotFound) {
		AbortWithError(c, err)
		return
	}

	data := pdf.ReceiptData{
		ReceiptNumber:  *payment.MpesaReceiptNumber,
		Reference:      fmt.Sprintf("PAY-%s", payment.ID.String()),
		DatePaid:       payment.UpdatedAt.Format("02 Jan 2006"),
		PayerName:      payer.FullName,
		PayerPhone:     payment.Phone,
		RegistrationNo: registrationNo,
		Description:    "Membership fee",
		Amount:         fmt.Sprintf("KES %d", payment.Amount),
	}

	reader, err := s.pdfProvider.GenerateReceipt(c.Request.Context(), data)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := io.ReadAll(reader)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=receipt-%s.pdf", *payment.MpesaReceiptNumber))
	c.Data(http.StatusOK, "application/pdf", doc)
}

// loadOwnedPayment parses the id param, loads the payment and enforces
// that the caller owns it or is an admin. It writes the error response
// itself when returning ok=false.
func (s *Server) loadOwnedPayment(c *gin.Context) (*paymentdomain.PaymentRequest, bool) {
	userID, ok := s.userID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return nil, false
	}

	paymentID, err := snowflake.ParseString(trimmedParam(c, "id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return nil, false
	}

	payment, err := s.paymentSvc.Get(c.Request.Context(), paymentID)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}

	if payment.UserID != userID && !s.isAdmin(c) {
		AbortWithError(c, ErrNotFound)
		return nil, false
	}
	return payment, true
}
