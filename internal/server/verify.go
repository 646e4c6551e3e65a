package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// VerifyMember is the public registry lookup. It exposes only the
// fields an employer needs to confirm a caregiver's standing.
func (s *Server) VerifyMember(c *gin.Context) {
	registrationNo := trimmedParam(c, "registrationNo")
	if registrationNo == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	verification, err := s.memberSvc.VerifyByRegistrationNo(c.Request.Context(), registrationNo)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, verification)
}

func (s *Server) GetMyMembership(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	member, err := s.memberSvc.GetByUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, member)
}
