package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/shirikacare/portal/internal/audit/domain"
	"github.com/shirikacare/portal/internal/clock"
	memberdomain "github.com/shirikacare/portal/internal/member/domain"
	obsmetrics "github.com/shirikacare/portal/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       memberdomain.Repository
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       memberdomain.Repository
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) memberdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("member.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// Enroll adds an approved applicant to the registry with a
// year-scoped registration number like SCA-2026-0041.
func (s *Service) Enroll(ctx context.Context, req memberdomain.EnrollRequest) (*memberdomain.Member, error) {
	fullName := strings.TrimSpace(req.FullName)
	if req.UserID == 0 || req.ApplicationID == 0 || fullName == "" {
		return nil, memberdomain.ErrInvalidMember
	}

	if existing, err := s.repo.FindByUser(ctx, s.db, req.UserID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, memberdomain.ErrMemberExists
	}

	now := s.clock.Now()
	year := now.Year()
	seq, err := s.repo.CountForYear(ctx, s.db, year)
	if err != nil {
		return nil, err
	}

	id := s.genID.Generate()
	member := &memberdomain.Member{
		ID:             id,
		UserID:         req.UserID,
		ApplicationID:  req.ApplicationID,
		RegistrationNo: fmt.Sprintf("SCA-%d-%04d", year, seq+1),
		Slug:           fmt.Sprintf("%s-%s", slug.Make(fullName), id.Base36()),
		FullName:       fullName,
		Kind:           req.Kind,
		Status:         memberdomain.StatusActive,
		EnrolledAt:     now,
	}
	if err := s.repo.Insert(ctx, s.db, member); err != nil {
		return nil, err
	}

	memberID := member.ID.String()
	_ = s.auditSvc.AuditLog(ctx, "", nil, "member.enrolled", "member", &memberID, map[string]any{
		"registration_no": member.RegistrationNo,
	})

	return member, nil
}

func (s *Service) VerifyByRegistrationNo(ctx context.Context, registrationNo string) (*memberdomain.Verification, error) {
	member, err := s.repo.FindByRegistrationNo(ctx, s.db, registrationNo)
	if err != nil {
		return nil, err
	}
	if member == nil {
		s.recordVerification(ctx, "not_found")
		return nil, memberdomain.ErrMemberNotFound
	}

	s.recordVerification(ctx, string(member.Status))
	return &memberdomain.Verification{
		RegistrationNo: member.RegistrationNo,
		FullName:       member.FullName,
		Kind:           member.Kind,
		Status:         member.Status,
		EnrolledAt:     member.EnrolledAt,
	}, nil
}

func (s *Service) GetByUser(ctx context.Context, userID snowflake.ID) (*memberdomain.Member, error) {
	member, err := s.repo.FindByUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, memberdomain.ErrMemberNotFound
	}
	return member, nil
}

func (s *Service) Revoke(ctx context.Context, memberID snowflake.ID) error {
	now := time.Now().UTC()
	if err := s.repo.UpdateFields(ctx, s.db, memberID, map[string]any{
		"status":     string(memberdomain.StatusRevoked),
		"revoked_at": now,
	}); err != nil {
		return err
	}

	id := memberID.String()
	_ = s.auditSvc.AuditLog(ctx, "", nil, "member.revoked", "member", &id, nil)
	return nil
}

func (s *Service) recordVerification(ctx context.Context, result string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordVerification(ctx, result)
	}
}
