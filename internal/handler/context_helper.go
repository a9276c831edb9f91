package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/survey-archive-api/internal/middleware"
	"github.com/noah-isme/survey-archive-api/internal/models"
	appErrors "github.com/noah-isme/survey-archive-api/pkg/errors"
	"github.com/noah-isme/survey-archive-api/pkg/response"
)

// requireClaims returns the caller set by the JWT middleware, answering 401 when there is none.
func requireClaims(c *gin.Context) (*models.JWTClaims, bool) {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok || claims == nil || claims.UserID <= 0 {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}
