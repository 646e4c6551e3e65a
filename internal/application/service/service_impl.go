package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	applicationdomain "github.com/shirikacare/portal/internal/application/domain"
	auditdomain "github.com/shirikacare/portal/internal/audit/domain"
	authdomain "github.com/shirikacare/portal/internal/auth/domain"
	memberdomain "github.com/shirikacare/portal/internal/member/domain"
	obsmetrics "github.com/shirikacare/portal/internal/observability/metrics"
	"github.com/shirikacare/portal/internal/providers/email"
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
	Repo       applicationdomain.Repository
	MemberSvc  memberdomain.Service
	AuthSvc    authdomain.Service
	AuditSvc   auditdomain.Service
	Email      email.Provider
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       applicationdomain.Repository
	memberSvc  memberdomain.Service
	authSvc    authdomain.Service
	auditSvc   auditdomain.Service
	email      email.Provider
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) applicationdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("application.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		memberSvc:  p.MemberSvc,
		authSvc:    p.AuthSvc,
		auditSvc:   p.AuditSvc,
		email:      p.Email,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Submit(ctx context.Context, req applicationdomain.SubmitRequest) (*applicationdomain.Application, error) {
	if !req.Kind.Valid() {
		return nil, applicationdomain.ErrInvalidKind
	}
	name := strings.TrimSpace(req.ApplicantName)
	emailAddr := strings.ToLower(strings.TrimSpace(req.Email))
	if req.UserID == 0 || name == "" || emailAddr == "" {
		return nil, applicationdomain.ErrInvalidApplicant
	}

	if open, err := s.repo.FindOpenByUser(ctx, s.db, req.UserID); err != nil {
		return nil, err
	} else if open != nil {
		return nil, applicationdomain.ErrAlreadyApplied
	}

	now := time.Now().UTC()
	app := &applicationdomain.Application{
		ID:            s.genID.Generate(),
		UserID:        req.UserID,
		Kind:          req.Kind,
		Status:        applicationdomain.StatusPending,
		ApplicantName: name,
		Email:         emailAddr,
		Phone:         strings.TrimSpace(req.Phone),
		Details:       datatypes.JSONMap(req.Details),
		DocumentURLs:  req.DocumentURLs,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, s.db, app); err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordApplication(ctx, string(req.Kind))
	}
	appID := app.ID.String()
	_ = s.auditSvc.AuditLog(ctx, "", nil, "application.submitted", "application", &appID, map[string]any{
		"kind": string(req.Kind),
	})

	return app, nil
}

func (s *Service) Resubmit(ctx context.Context, req applicationdomain.ResubmitRequest) (*applicationdomain.Application, error) {
	app, err := s.ownedApplication(ctx, req.ApplicationID, req.UserID)
	if err != nil {
		return nil, err
	}
	if app.Status != applicationdomain.StatusRejected {
		return nil, applicationdomain.ErrNotRejected
	}
	if app.ResubmissionCount >= applicationdomain.MaxResubmissions {
		return nil, applicationdomain.ErrResubmissionsExceeded
	}

	fields := map[string]any{
		"status":             string(applicationdomain.StatusPending),
		"resubmission_count": app.ResubmissionCount + 1,
		"review_notes":       nil,
		"reviewed_by":        nil,
		"reviewed_at":        nil,
		"updated_at":         time.Now().UTC(),
	}
	if len(req.Details) > 0 {
		fields["details"] = datatypes.JSONMap(req.Details)
	}
	if len(req.DocumentURLs) > 0 {
		fields["document_urls"] = req.DocumentURLs
	}
	if err := s.repo.UpdateFields(ctx, s.db, app.ID, fields); err != nil {
		return nil, err
	}

	appID := app.ID.String()
	_ = s.auditSvc.AuditLog(ctx, "", nil, "application.resubmitted", "application", &appID, map[string]any{
		"resubmission_count": app.ResubmissionCount + 1,
	})

	return s.repo.FindByID(ctx, s.db, app.ID)
}

func (s *Service) Appeal(ctx context.Context, req applicationdomain.AppealRequest) (*applicationdomain.Application, error) {
	app, err := s.ownedApplication(ctx, req.ApplicationID, req.UserID)
	if err != nil {
		return nil, err
	}
	if app.Status != applicationdomain.StatusRejected {
		return nil, applicationdomain.ErrNotRejected
	}

	note := strings.TrimSpace(req.Note)
	if err := s.repo.UpdateFields(ctx, s.db, app.ID, map[string]any{
		"status":      string(applicationdomain.StatusAppealed),
		"appeal_note": note,
		"updated_at":  time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	appID := app.ID.String()
	_ = s.auditSvc.AuditLog(ctx, "", nil, "application.appealed", "application", &appID, nil)

	return s.repo.FindByID(ctx, s.db, app.ID)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*applicationdomain.Application, error) {
	app, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, applicationdomain.ErrApplicationNotFound
	}
	return app, nil
}

func (s *Service) ListByUser(ctx context.Context, userID snowflake.ID) ([]applicationdomain.Application, error) {
	return s.repo.ListByUser(ctx, s.db, userID)
}

func (s *Service) ListQueue(ctx context.Context, req applicationdomain.ListQueueRequest) (applicationdomain.ListQueueResponse, error) {
	status := req.Status
	if status == "" {
		status = applicationdomain.StatusPending
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 250 {
		pageSize = 250
	}
	page := req.Page
	if page < 1 {
		page = 1
	}

	items, total, err := s.repo.ListByStatus(ctx, s.db, status, pageSize, (page-1)*pageSize)
	if err != nil {
		return applicationdomain.ListQueueResponse{}, err
	}
	return applicationdomain.ListQueueResponse{Applications: items, Total: total}, nil
}

// Approve marks the application approved, enrolls the applicant into
// the member registry and promotes their account role.
func (s *Service) Approve(ctx context.Context, req applicationdomain.DecisionRequest) (*applicationdomain.Application, error) {
	app, err := s.reviewable(ctx, req.ApplicationID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.repo.UpdateFields(ctx, s.db, app.ID, map[string]any{
		"status":       string(applicationdomain.StatusApproved),
		"review_notes": strings.TrimSpace(req.Notes),
		"reviewed_by":  req.ReviewerID,
		"reviewed_at":  now,
		"updated_at":   now,
	}); err != nil {
		return nil, err
	}

	member, err := s.memberSvc.Enroll(ctx, memberdomain.EnrollRequest{
		UserID:        app.UserID,
		ApplicationID: app.ID,
		FullName:      app.ApplicantName,
		Kind:          string(app.Kind),
	})
	if err != nil {
		return nil, err
	}
	if err := s.authSvc.PromoteToMember(ctx, app.UserID); err != nil {
		s.log.Warn("member role promotion failed",
			zap.String("user_id", app.UserID.String()),
			zap.Error(err),
		)
	}

	s.recordDecision(ctx, "approved")
	reviewerID := req.ReviewerID.String()
	appID := app.ID.String()
	_ = s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeUser), &reviewerID, "application.approved", "application", &appID, map[string]any{
		"registration_no": member.RegistrationNo,
	})

	s.sendDecisionEmail(ctx, app, "approved", req.Notes, member.RegistrationNo)

	return s.repo.FindByID(ctx, s.db, app.ID)
}

func (s *Service) Reject(ctx context.Context, req applicationdomain.DecisionRequest) (*applicationdomain.Application, error) {
	app, err := s.reviewable(ctx, req.ApplicationID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.repo.UpdateFields(ctx, s.db, app.ID, map[string]any{
		"status":       string(applicationdomain.StatusRejected),
		"review_notes": strings.TrimSpace(req.Notes),
		"reviewed_by":  req.ReviewerID,
		"reviewed_at":  now,
		"updated_at":   now,
	}); err != nil {
		return nil, err
	}

	s.recordDecision(ctx, "rejected")
	reviewerID := req.ReviewerID.String()
	appID := app.ID.String()
	_ = s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeUser), &reviewerID, "application.rejected", "application", &appID, nil)

	s.sendDecisionEmail(ctx, app, "rejected", req.Notes, "")

	return s.repo.FindByID(ctx, s.db, app.ID)
}

func (s *Service) ownedApplication(ctx context.Context, id, userID snowflake.ID) (*applicationdomain.Application, error) {
	app, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if app == nil || app.UserID != userID {
		return nil, applicationdomain.ErrApplicationNotFound
	}
	return app, nil
}

func (s *Service) reviewable(ctx context.Context, id snowflake.ID) (*applicationdomain.Application, error) {
	app, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, applicationdomain.ErrApplicationNotFound
	}
	if app.Status != applicationdomain.StatusPending && app.Status != applicationdomain.StatusAppealed {
		return nil, applicationdomain.ErrApplicationNotPending
	}
	return app, nil
}

func (s *Service) recordDecision(ctx context.Context, decision string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordDecision(ctx, decision)
	}
}

func (s *Service) sendDecisionEmail(ctx context.Context, app *applicationdomain.Application, decision, notes, registrationNo string) {
	err := s.email.SendTemplate(ctx, []string{app.Email}, "application_decision", map[string]interface{}{
		"applicant_name":  app.ApplicantName,
		"decision":        decision,
		"notes":           strings.TrimSpace(notes),
		"registration_no": registrationNo,
	})
	if err != nil {
		s.log.Warn("decision email failed",
			zap.String("application_id", app.ID.String()),
			zap.Error(err),
		)
	}
}
