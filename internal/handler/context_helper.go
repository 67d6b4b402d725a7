package handler

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-commerce-api/internal/middleware"
	"github.com/noah-isme/sma-commerce-api/internal/models"
	appErrors "github.com/noah-isme/sma-commerce-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.Claims(c)
	if !ok {
		return nil
	}
	return claims
}

func int64Param(c *gin.Context, name string) (int64, error) {
	return parsePositiveID(c.Param(name), name)
}

func int64Query(c *gin.Context, name string) (int64, error) {
	return parsePositiveID(c.Query(name), name)
}

func parsePositiveID(raw, field string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		msg := field + " must be a positive integer"
		return 0, appErrors.Validation(msg, appErrors.FieldError{Field: field, Message: msg})
	}
	return id, nil
}

// invalidPayload names the offending field when the body decodes to the wrong JSON type.
func invalidPayload(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		msg := typeErr.Field + " must be of type " + typeErr.Type.String()
		invalid := appErrors.Validation("invalid payload", appErrors.FieldError{Field: typeErr.Field, Message: msg})
		invalid.Err = err
		return invalid
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
}
