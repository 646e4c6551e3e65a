package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	memberdomain "github.com/shirikacare/portal/internal/member/domain"
	"go.uber.org/zap"
)

type fakeMemberService struct {
	verification *memberdomain.Verification
	verifyErr    error
	lastLookup   string

	member *memberdomain.Member

	revokeCalls int
	lastRevoked snowflake.ID
	revokeErr   error
}

func (f *fakeMemberService) Enroll(ctx context.Context, req memberdomain.EnrollRequest) (*memberdomain.Member, error) {
	_ = ctx
	_ = req
	return f.member, nil
}

func (f *fakeMemberService) VerifyByRegistrationNo(ctx context.Context, registrationNo string) (*memberdomain.Verification, error) {
	_ = ctx
	f.lastLookup = registrationNo
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.verification, nil
}

func (f *fakeMemberService) GetByUser(ctx context.Context, userID snowflake.ID) (*memberdomain.Member, error) {
	_ = ctx
	_ = userID
	if f.member == nil {
		return nil, memberdomain.ErrMemberNotFound
	}
	return f.member, nil
}

func (f *fakeMemberService) Revoke(ctx context.Context, memberID snowflake.ID) error {
	_ = ctx
	f.revokeCalls++
	f.lastRevoked = memberID
	return f.revokeErr
}

func newVerifyTestServer(svc *fakeMemberService) (*Server, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	srv := &Server{
		log:       zap.NewNop(),
		memberSvc: svc,
	}
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	return srv, router
}

func TestVerifyMemberReturnsPublicFields(t *testing.T) {
	enrolled := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	svc := &fakeMemberService{
		verification: &memberdomain.Verification{
			RegistrationNo: "SCA-2026-0001",
			FullName:       "Grace Wanjiku",
			Kind:           "caregiver",
			Status:         memberdomain.StatusActive,
			EnrolledAt:     enrolled,
		},
	}
	srv, router := newVerifyTestServer(svc)
	router.GET("/api/verify/:registrationNo", srv.VerifyMember)

	req := httptest.NewRequest(http.MethodGet, "/api/verify/SCA-2026-0001", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if svc.lastLookup != "SCA-2026-0001" {
		t.Fatalf("unexpected lookup %q", svc.lastLookup)
	}

	var payload map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if payload["registration_no"] != "SCA-2026-0001" {
		t.Fatalf("unexpected registration_no %v", payload["registration_no"])
	}
	if payload["status"] != "active" {
		t.Fatalf("unexpected status %v", payload["status"])
	}
	if _, leaked := payload["user_id"]; leaked {
		t.Fatal("verification must not expose user_id")
	}
}

func TestVerifyMemberUnknownReturns404(t *testing.T) {
	svc := &fakeMemberService{verifyErr: memberdomain.ErrMemberNotFound}
	srv, router := newVerifyTestServer(svc)
	router.GET("/api/verify/:registrationNo", srv.VerifyMember)

	req := httptest.NewRequest(http.MethodGet, "/api/verify/SCA-2099-9999", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestRevokeMemberCallsService(t *testing.T) {
	svc := &fakeMemberService{}
	srv, router := newVerifyTestServer(svc)
	router.POST("/admin/members/:id/revoke", authAs(snowflake.ID(1)), srv.RevokeMember)

	req := httptest.NewRequest(http.MethodPost, "/admin/members/42/revoke", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if svc.revokeCalls != 1 {
		t.Fatalf("expected 1 revoke call, got %d", svc.revokeCalls)
	}
	if svc.lastRevoked != snowflake.ID(42) {
		t.Fatalf("unexpected member id %v", svc.lastRevoked)
	}
}
