package api

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"rental-marketplace/internal/apperrors"
	"rental-marketplace/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// respondError writes err as {"error", "message", "details"} and aborts
func respondError(c *gin.Context, err error) {
	appErr := apperrors.As(err)
	if appErr.HTTPStatus >= 500 {
		util.GetLogger().Error("Request failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
}

// bindJSON decodes the body into req. Validation failures list each field
// with the rule it broke.
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, bindError(err))
		return false
	}
	return true
}

func bindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		respondError(c, bindError(err))
		return false
	}
	return true
}

func bindError(err error) *apperrors.AppError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make(map[string]any, len(verrs))
		for _, fe := range verrs {
			details[fieldName(fe)] = fe.Tag()
		}
		return apperrors.Validation("Request validation failed").WithDetails(details)
	}
	if errors.Is(err, io.EOF) {
		return apperrors.BadRequest("Request body is required")
	}
	return apperrors.BadRequest("Invalid request body: " + err.Error())
}

// fieldName turns "CreateRentalRequest.StartDate" into "start_date"
func fieldName(fe validator.FieldError) string {
	name := fe.Field()
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(name[i-1] >= 'A' && name[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// paramID parses a positive integer path parameter
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, apperrors.BadRequest("Invalid "+name))
		return 0, false
	}
	return id, true
}
