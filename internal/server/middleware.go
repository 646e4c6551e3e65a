package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/shirikacare/portal/internal/auth/domain"
	obscontext "github.com/shirikacare/portal/internal/observability/context"
	"go.uber.org/zap"
)

const (
	contextUserIDKey = "user_id"
	contextRoleKey   = "user_role"
)

func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		_, user, err := s.authSvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextUserIDKey, user.ID)
		c.Set(contextRoleKey, user.Role)

		ctx := obscontext.WithActor(c.Request.Context(), "user", user.ID.String())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// Authorize gates a route on the casbin policy for the authenticated user.
func (s *Server) Authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := s.userID(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		actor := fmt.Sprintf("user:%s", userID.String())
		if err := s.authzSvc.Authorize(c.Request.Context(), actor, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// CallbackTokenRequired authenticates the gateway callback with the
// shared secret appended to the registered callback URL. Responses use
// the gateway envelope, not the API error envelope.
func (s *Server) CallbackTokenRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := s.gateway.Get().CallbackSecret
		if secret == "" {
			c.Next()
			return
		}

		token := c.Query("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			s.log.Warn("callback rejected: bad token", zap.String("ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) PaymentInitiateRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		userID, ok := s.userID(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		result, err := s.limiter.AllowPaymentInitiate(c.Request.Context(), userID.String())
		if err != nil {
			// Redis being down must not block payments.
			s.log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimit(c.Request.Context(), "payment_initiate", "denied")
			}
			c.Header("Retry-After", fmt.Sprintf("%d", int(result.RetryAfter.Seconds())))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func (s *Server) VerifyRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		result, err := s.limiter.AllowVerifyLookup(c.Request.Context(), c.ClientIP())
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimit(c.Request.Context(), "verify", "denied")
			}
			c.Header("Retry-After", fmt.Sprintf("%d", int(result.RetryAfter.Seconds())))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func (s *Server) userID(c *gin.Context) (snowflake.ID, bool) {
	raw, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := raw.(snowflake.ID)
	return id, ok
}

func (s *Server) userRole(c *gin.Context) (authdomain.Role, bool) {
	raw, ok := c.Get(contextRoleKey)
	if !ok {
		return "", false
	}
	role, ok := raw.(authdomain.Role)
	return role, ok
}

func (s *Server) isAdmin(c *gin.Context) bool {
	role, ok := s.userRole(c)
	return ok && role == authdomain.RoleAdmin
}

func trimmedParam(c *gin.Context, name string) string {
	return strings.TrimSpace(c.Param(name))
}
