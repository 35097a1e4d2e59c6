package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/socratica-backend/internal/services"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondServiceError maps a service error code onto an HTTP status; errors
// without a code fall through as 500 INTERNAL.
func RespondServiceError(c *gin.Context, err error) {
	code := services.CodeOf(err)
	RespondError(c, statusForCode(code), code, err)
}

func statusForCode(code string) int {
	switch code {
	case services.CodeNotAuthenticated:
		return http.StatusUnauthorized
	case services.CodeUserProfileMissing,
		services.CodeSessionNotFound,
		services.CodeFollowUpNotFound:
		return http.StatusNotFound
	case services.CodeEmptyMessage,
		services.CodeMessageTooLong,
		services.CodeInvalidPlan:
		return http.StatusBadRequest
	case services.CodeNotConfigured:
		return http.StatusServiceUnavailable
	case services.CodeRequestFailed,
		services.CodeEmptyModelResponse,
		services.CodeBadModelJSON:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
