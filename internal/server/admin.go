package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	applicationdomain "github.com/shirikacare/portal/internal/application/domain"
	auditdomain "github.com/shirikacare/portal/internal/audit/domain"
	"github.com/shirikacare/portal/pkg/db/pagination"
)

type DecisionRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) ListApplicationQueue(c *gin.Context) {
	status := applicationdomain.Status(strings.ToLower(strings.TrimSpace(c.DefaultQuery("status", string(applicationdomain.StatusPending)))))

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize < 1 {
		pageSize = 20
	}

	resp, err := s.applicationSvc.ListQueue(c.Request.Context(), applicationdomain.ListQueueRequest{
		Pagination: pagination.Pagination{PageSize: pageSize},
		Status:     status,
		Page:       page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ApproveApplication(c *gin.Context) {
	s.decideApplication(c, s.applicationSvc.Approve)
}

func (s *Server) RejectApplication(c *gin.Context) {
	s.decideApplication(c, s.applicationSvc.Reject)
}

func (s *Server) decideApplication(c *gin.Context, decide func(ctx context.Context, req applicationdomain.DecisionRequest) (*applicationdomain.Application, error)) {
	reviewerID, ok := s.userID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	appID, err := snowflake.ParseString(trimmedParam(c, "id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	app, err := decide(c.Request.Context(), applicationdomain.DecisionRequest{
		ApplicationID: appID,
		ReviewerID:    reviewerID,
		Notes:         strings.TrimSpace(req.Notes),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, app)
}

func (s *Server) RevokeMember(c *gin.Context) {
	memberID, err := snowflake.ParseString(trimmedParam(c, "id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.memberSvc.Revoke(c.Request.Context(), memberID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := auditdomain.ListAuditLogRequest{
		Pagination: page,
		Action:     strings.TrimSpace(c.Query("action")),
		TargetType: strings.TrimSpace(c.Query("target_type")),
		TargetID:   strings.TrimSpace(c.Query("target_id")),
		ActorType:  strings.TrimSpace(c.Query("actor_type")),
	}

	if raw := strings.TrimSpace(c.Query("start_at")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			AbortWithError(c, auditdomain.ErrInvalidTimeRange)
			return
		}
		req.StartAt = &t
	}
	if raw := strings.TrimSpace(c.Query("end_at")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			AbortWithError(c, auditdomain.ErrInvalidTimeRange)
			return
		}
		req.EndAt = &t
	}

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
