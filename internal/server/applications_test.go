package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	applicationdomain "github.com/shirikacare/portal/internal/application/domain"
	"go.uber.org/zap"
)

type fakeApplicationService struct {
	submitCalls int
	lastSubmit  applicationdomain.SubmitRequest
	submitErr   error

	resubmitErr error
	appealErr   error

	app *applicationdomain.Application
}

func (f *fakeApplicationService) Submit(ctx context.Context, req applicationdomain.SubmitRequest) (*applicationdomain.Application, error) {
	f.submitCalls++
	f.lastSubmit = req
	_ = ctx
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.app, nil
}

func (f *fakeApplicationService) Resubmit(ctx context.Context, req applicationdomain.ResubmitRequest) (*applicationdomain.Application, error) {
	_ = ctx
	_ = req
	if f.resubmitErr != nil {
		return nil, f.resubmitErr
	}
	return f.app, nil
}

func (f *fakeApplicationService) Appeal(ctx context.Context, req applicationdomain.AppealRequest) (*applicationdomain.Application, error) {
	_ = ctx
	_ = req
	if f.appealErr != nil {
		return nil, f.appealErr
	}
	return f.app, nil
}

func (f *fakeApplicationService) Get(ctx context.Context, id snowflake.ID) (*applicationdomain.Application, error) {
	_ = ctx
	if f.app != nil && f.app.ID == id {
		return f.app, nil
	}
	return nil, applicationdomain.ErrApplicationNotFound
}

func (f *fakeApplicationService) ListByUser(ctx context.Context, userID snowflake.ID) ([]applicationdomain.Application, error) {
	_ = ctx
	_ = userID
	if f.app == nil {
		return nil, nil
	}
	return []applicationdomain.Application{*f.app}, nil
}

func (f *fakeApplicationService) ListQueue(ctx context.Context, req applicationdomain.ListQueueRequest) (applicationdomain.ListQueueResponse, error) {
	_ = ctx
	_ = req
	return applicationdomain.ListQueueResponse{}, nil
}

func (f *fakeApplicationService) Approve(ctx context.Context, req applicationdomain.DecisionRequest) (*applicationdomain.Application, error) {
	_ = ctx
	_ = req
	return f.app, nil
}

func (f *fakeApplicationService) Reject(ctx context.Context, req applicationdomain.DecisionRequest) (*applicationdomain.Application, error) {
	_ = ctx
	_ = req
	return f.app, nil
}

func newApplicationTestServer(svc *fakeApplicationService) (*Server, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	srv := &Server{
		log:            zap.NewNop(),
		applicationSvc: svc,
	}
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	return srv, router
}

func TestSubmitApplicationRequiresAuth(t *testing.T) {
	svc := &fakeApplicationService{}
	srv, router := newApplicationTestServer(svc)
	router.POST("/api/applications", srv.SubmitApplication)

	req := httptest.NewRequest(http.MethodPost, "/api/applications", bytes.NewBufferString(`{"kind":"caregiver"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
	if svc.submitCalls != 0 {
		t.Fatal("expected submit not to be called")
	}
}

func TestSubmitApplicationNormalizesKind(t *testing.T) {
	svc := &fakeApplicationService{
		app: &applicationdomain.Application{
			ID:     snowflake.ID(10),
			UserID: snowflake.ID(7),
			Kind:   applicationdomain.KindCaregiver,
			Status: applicationdomain.StatusPending,
		},
	}
	srv, router := newApplicationTestServer(svc)
	router.POST("/api/applications", authAs(snowflake.ID(7)), srv.SubmitApplication)

	body := `{"kind":" Caregiver ","applicant_name":"Grace Wanjiku","email":"grace@example.com","phone":"0712345678","document_urls":["https://docs.example/cert.pdf"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/applications", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.Code)
	}
	if svc.lastSubmit.Kind != applicationdomain.KindCaregiver {
		t.Fatalf("unexpected kind %q", svc.lastSubmit.Kind)
	}
	if svc.lastSubmit.UserID != snowflake.ID(7) {
		t.Fatalf("unexpected user id %v", svc.lastSubmit.UserID)
	}
}

func TestSubmitApplicationDuplicateReturns409(t *testing.T) {
	svc := &fakeApplicationService{submitErr: applicationdomain.ErrAlreadyApplied}
	srv, router := newApplicationTestServer(svc)
	router.POST("/api/applications", authAs(snowflake.ID(7)), srv.SubmitApplication)

	req := httptest.NewRequest(http.MethodPost, "/api/applications", bytes.NewBufferString(`{"kind":"caregiver","applicant_name":"Grace"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestResubmitNotRejectedReturns422(t *testing.T) {
	svc := &fakeApplicationService{resubmitErr: applicationdomain.ErrNotRejected}
	srv, router := newApplicationTestServer(svc)
	router.POST("/api/applications/:id/resubmit", authAs(snowflake.ID(7)), srv.ResubmitApplication)

	req := httptest.NewRequest(http.MethodPost, "/api/applications/10/resubmit", bytes.NewBufferString(`{"document_urls":["https://docs.example/v2.pdf"]}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", resp.Code)
	}
}

func TestResubmitCapExceededReturns422(t *testing.T) {
	svc := &fakeApplicationService{resubmitErr: applicationdomain.ErrResubmissionsExceeded}
	srv, router := newApplicationTestServer(svc)
	router.POST("/api/applications/:id/resubmit", authAs(snowflake.ID(7)), srv.ResubmitApplication)

	req := httptest.NewRequest(http.MethodPost, "/api/applications/10/resubmit", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", resp.Code)
	}
}

func TestAppealRequiresNote(t *testing.T) {
	svc := &fakeApplicationService{}
	srv, router := newApplicationTestServer(svc)
	router.POST("/api/applications/:id/appeal", authAs(snowflake.ID(7)), srv.AppealApplication)

	req := httptest.NewRequest(http.MethodPost, "/api/applications/10/appeal", bytes.NewBufferString(`{"note":"   "}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestGetApplicationHidesOtherUsersApplications(t *testing.T) {
	svc := &fakeApplicationService{
		app: &applicationdomain.Application{
			ID:     snowflake.ID(10),
			UserID: snowflake.ID(7),
			Status: applicationdomain.StatusPending,
		},
	}
	srv, router := newApplicationTestServer(svc)
	router.GET("/api/applications/:id", authAs(snowflake.ID(8)), srv.GetApplication)

	req := httptest.NewRequest(http.MethodGet, "/api/applications/10", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}
