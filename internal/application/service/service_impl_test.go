package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	applicationdomain "github.com/shirikacare/portal/internal/application/domain"
	applicationrepository "github.com/shirikacare/portal/internal/application/repository"
	auditdomain "github.com/shirikacare/portal/internal/audit/domain"
	authdomain "github.com/shirikacare/portal/internal/auth/domain"
	"github.com/shirikacare/portal/internal/clock"
	memberdomain "github.com/shirikacare/portal/internal/member/domain"
	memberrepository "github.com/shirikacare/portal/internal/member/repository"
	memberservice "github.com/shirikacare/portal/internal/member/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeAudit struct{}

func (f *fakeAudit) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

func (f *fakeAudit) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type fakeAuth struct {
	promoted []snowflake.ID
}

func (f *fakeAuth) Register(ctx context.Context, req authdomain.RegisterRequest) (*authdomain.User, error) {
	return nil, nil
}

func (f *fakeAuth) Login(ctx context.Context, req authdomain.LoginRequest) (*authdomain.LoginResult, error) {
	return nil, nil
}

func (f *fakeAuth) Logout(ctx context.Context, rawToken string) error { return nil }

func (f *fakeAuth) Authenticate(ctx context.Context, rawToken string) (*authdomain.Session, *authdomain.User, error) {
	return nil, nil, authdomain.ErrInvalidSession
}

func (f *fakeAuth) ChangePassword(ctx context.Context, userID snowflake.ID, oldPassword, newPassword string) error {
	return nil
}

func (f *fakeAuth) PromoteToMember(ctx context.Context, userID snowflake.ID) error {
	f.promoted = append(f.promoted, userID)
	return nil
}

type fakeEmail struct {
	sent []string
}

func (f *fakeEmail) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	f.sent = append(f.sent, subject)
	return nil
}

func (f *fakeEmail) SendTemplate(ctx context.Context, to []string, templateName string, data interface{}) error {
	f.sent = append(f.sent, templateName)
	return nil
}

type fixture struct {
	db       *gorm.DB
	svc      applicationdomain.Service
	auth     *fakeAuth
	email    *fakeEmail
	userID   snowflake.ID
	reviewer snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&applicationdomain.Application{},
		&memberdomain.Member{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	audit := &fakeAudit{}
	auth := &fakeAuth{}
	mail := &fakeEmail{}

	memberSvc := memberservice.NewService(memberservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)),
		Repo:     memberrepository.Provide(),
		AuditSvc: audit,
	})

	svc := NewService(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      applicationrepository.Provide(),
		MemberSvc: memberSvc,
		AuthSvc:   auth,
		AuditSvc:  audit,
		Email:     mail,
	})

	return &fixture{
		db:       db,
		svc:      svc,
		auth:     auth,
		email:    mail,
		userID:   node.Generate(),
		reviewer: node.Generate(),
	}
}

func (f *fixture) submit(t *testing.T) *applicationdomain.Application {
	t.Helper()
	app, err := f.svc.Submit(context.Background(), applicationdomain.SubmitRequest{
		UserID:        f.userID,
		Kind:          applicationdomain.KindCaregiver,
		ApplicantName: "Grace Wanjiku",
		Email:         "grace@example.com",
		Phone:         "0712345678",
		Details:       map[string]any{"certification": "KMTC Nursing"},
	})
	require.NoError(t, err)
	return app
}

func (f *fixture) reject(t *testing.T, id snowflake.ID) *applicationdomain.Application {
	t.Helper()
	app, err := f.svc.Reject(context.Background(), applicationdomain.DecisionRequest{
		ApplicationID: id,
		ReviewerID:    f.reviewer,
		Notes:         "Missing certificate copy",
	})
	require.NoError(t, err)
	return app
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)
	app := f.submit(t)

	assert.Equal(t, applicationdomain.StatusPending, app.Status)
	assert.Equal(t, 0, app.ResubmissionCount)

	_, err := f.svc.Submit(context.Background(), applicationdomain.SubmitRequest{
		UserID:        f.userID,
		Kind:          applicationdomain.KindCaregiver,
		ApplicantName: "Grace Wanjiku",
		Email:         "grace@example.com",
	})
	assert.ErrorIs(t, err, applicationdomain.ErrAlreadyApplied)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, applicationdomain.SubmitRequest{
		UserID:        f.userID,
		Kind:          "company",
		ApplicantName: "x",
		Email:         "x@example.com",
	})
	assert.ErrorIs(t, err, applicationdomain.ErrInvalidKind)

	_, err = f.svc.Submit(ctx, applicationdomain.SubmitRequest{
		UserID: f.userID,
		Kind:   applicationdomain.KindInstitution,
	})
	assert.ErrorIs(t, err, applicationdomain.ErrInvalidApplicant)
}

func TestRejectThenResubmitUpToCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.submit(t)

	for i := 1; i <= applicationdomain.MaxResubmissions; i++ {
		f.reject(t, app.ID)

		resubmitted, err := f.svc.Resubmit(ctx, applicationdomain.ResubmitRequest{
			ApplicationID: app.ID,
			UserID:        f.userID,
			Details:       map[string]any{"certification": "updated"},
		})
		require.NoError(t, err)
		assert.Equal(t, applicationdomain.StatusPending, resubmitted.Status)
		assert.Equal(t, i, resubmitted.ResubmissionCount)
		assert.Nil(t, resubmitted.ReviewNotes)
	}

	f.reject(t, app.ID)
	_, err := f.svc.Resubmit(ctx, applicationdomain.ResubmitRequest{
		ApplicationID: app.ID,
		UserID:        f.userID,
	})
	assert.ErrorIs(t, err, applicationdomain.ErrResubmissionsExceeded)

	// The appeal path remains open after the cap.
	appealed, err := f.svc.Appeal(ctx, applicationdomain.AppealRequest{
		ApplicationID: app.ID,
		UserID:        f.userID,
		Note:          "Certificate was attached to the last submission",
	})
	require.NoError(t, err)
	assert.Equal(t, applicationdomain.StatusAppealed, appealed.Status)
}

func TestResubmitRequiresRejectedState(t *testing.T) {
	f := newFixture(t)
	app := f.submit(t)

	_, err := f.svc.Resubmit(context.Background(), applicationdomain.ResubmitRequest{
		ApplicationID: app.ID,
		UserID:        f.userID,
	})
	assert.ErrorIs(t, err, applicationdomain.ErrNotRejected)
}

func TestResubmitOwnership(t *testing.T) {
	f := newFixture(t)
	app := f.submit(t)
	f.reject(t, app.ID)

	_, err := f.svc.Resubmit(context.Background(), applicationdomain.ResubmitRequest{
		ApplicationID: app.ID,
		UserID:        f.reviewer,
	})
	assert.ErrorIs(t, err, applicationdomain.ErrApplicationNotFound)
}

func TestApproveEnrollsMember(t *testing.T) {
	f := newFixture(t)
	app := f.submit(t)

	approved, err := f.svc.Approve(context.Background(), applicationdomain.DecisionRequest{
		ApplicationID: app.ID,
		ReviewerID:    f.reviewer,
		Notes:         "Credentials verified",
	})
	require.NoError(t, err)
	assert.Equal(t, applicationdomain.StatusApproved, approved.Status)
	require.NotNil(t, approved.ReviewedBy)
	assert.Equal(t, f.reviewer, *approved.ReviewedBy)

	var member memberdomain.Member
	require.NoError(t, f.db.Where("user_id = ?", f.userID).First(&member).Error)
	assert.Equal(t, "SCA-2026-0001", member.RegistrationNo)
	assert.Equal(t, memberdomain.StatusActive, member.Status)
	assert.Contains(t, member.Slug, "grace-wanjiku")

	assert.Equal(t, []snowflake.ID{f.userID}, f.auth.promoted)
	assert.Contains(t, f.email.sent, "application_decision")

	// A decided application cannot be decided again.
	_, err = f.svc.Reject(context.Background(), applicationdomain.DecisionRequest{
		ApplicationID: app.ID,
		ReviewerID:    f.reviewer,
	})
	assert.ErrorIs(t, err, applicationdomain.ErrApplicationNotPending)
}

func TestApproveAppealedApplication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.submit(t)
	f.reject(t, app.ID)

	_, err := f.svc.Appeal(ctx, applicationdomain.AppealRequest{
		ApplicationID: app.ID,
		UserID:        f.userID,
		Note:          "Please reconsider",
	})
	require.NoError(t, err)

	approved, err := f.svc.Approve(ctx, applicationdomain.DecisionRequest{
		ApplicationID: app.ID,
		ReviewerID:    f.reviewer,
	})
	require.NoError(t, err)
	assert.Equal(t, applicationdomain.StatusApproved, approved.Status)
}

func TestListQueue(t *testing.T) {
	f := newFixture(t)
	f.submit(t)

	resp, err := f.svc.ListQueue(context.Background(), applicationdomain.ListQueueRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, resp.Total)
	require.Len(t, resp.Applications, 1)
	assert.Equal(t, applicationdomain.StatusPending, resp.Applications[0].Status)
}
