package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/studyplan-api/internal/middleware"
	"github.com/noah-isme/studyplan-api/internal/models"
	appErrors "github.com/noah-isme/studyplan-api/pkg/errors"
	"github.com/noah-isme/studyplan-api/pkg/response"
)

func actorFromContext(c *gin.Context) (models.Actor, bool) {
	claims, ok := middleware.Claims(c)
	if !ok {
		return models.Actor{}, false
	}
	return models.Actor{UserID: claims.UserID, Role: claims.Role}, true
}

// requireActor writes 401 and returns false when no authenticated caller is present.
func requireActor(c *gin.Context) (models.Actor, bool) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
	}
	return actor, ok
}

// bindJSON decodes and validates a request body, writing a 400 on failure.
func bindJSON(c *gin.Context, validate *validator.Validate, dest interface{}, what string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid "+what+" payload"))
		return false
	}
	if validate == nil {
		return true
	}
	if err := validate.Struct(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error()))
		return false
	}
	return true
}
