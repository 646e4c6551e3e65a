package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	applicationdomain "github.com/shirikacare/portal/internal/application/domain"
)

type SubmitApplicationRequest struct {
	Kind          string         `json:"kind"`
	ApplicantName string         `json:"applicant_name"`
	Email         string         `json:"email"`
	Phone         string         `json:"phone"`
	Details       map[string]any `json:"details"`
	DocumentURLs  []string       `json:"document_urls"`
}

type ResubmitApplicationRequest struct {
	Details      map[string]any `json:"details"`
	DocumentURLs []string       `json:"document_urls"`
}

type AppealApplicationRequest struct {
	Note string `json:"note"`
}

func (s *Server) SubmitApplication(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req SubmitApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	app, err := s.applicationSvc.Submit(c.Request.Context(), applicationdomain.SubmitRequest{
		UserID:        userID,
		Kind:          applicationdomain.Kind(strings.ToLower(strings.TrimSpace(req.Kind))),
		ApplicantName: strings.TrimSpace(req.ApplicantName),
		Email:         strings.TrimSpace(req.Email),
		Phone:         strings.TrimSpace(req.Phone),
		Details:       req.Details,
		DocumentURLs:  req.DocumentURLs,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, app)
}

func (s *Server) ListMyApplications(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	apps, err := s.applicationSvc.ListByUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"applications": apps})
}

func (s *Server) GetApplication(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	appID, err := snowflake.ParseString(trimmedParam(c, "id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	app, err := s.applicationSvc.Get(c.Request.Context(), appID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if app.UserID != userID && !s.isAdmin(c) {
		AbortWithError(c, applicationdomain.ErrApplicationNotFound)
		return
	}

	c.JSON(http.StatusOK, app)
}

func (s *Server) ResubmitApplication(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	appID, err := snowflake.ParseString(trimmedParam(c, "id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req ResubmitApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	app, err := s.applicationSvc.Resubmit(c.Request.Context(), applicationdomain.ResubmitRequest{
		ApplicationID: appID,
		UserID:        userID,
		Details:       req.Details,
		DocumentURLs:  req.DocumentURLs,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, app)
}

func (s *Server) AppealApplication(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	appID, err := snowflake.ParseString(trimmedParam(c, "id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req AppealApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Note) == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	app, err := s.applicationSvc.Appeal(c.Request.Context(), applicationdomain.AppealRequest{
		ApplicationID: appID,
		UserID:        userID,
		Note:          strings.TrimSpace(req.Note),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, app)
}
