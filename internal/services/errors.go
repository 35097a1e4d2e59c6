package services

import (
	"errors"
	"fmt"
)

// Machine-readable error codes surfaced to handlers so the client can render
// targeted messaging. Validation and auth codes propagate immediately and are
// never retried.
const (
	CodeNotAuthenticated   = "NOT_AUTHENTICATED"
	CodeUserProfileMissing = "USER_PROFILE_MISSING"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeFollowUpNotFound   = "FOLLOW_UP_NOT_FOUND"
	CodeEmptyMessage       = "EMPTY_MESSAGE"
	CodeMessageTooLong     = "MESSAGE_TOO_LONG"
	CodeInvalidPlan        = "INVALID_PLAN"
	CodeNotConfigured      = "NOT_CONFIGURED"
	CodeRequestFailed      = "REQUEST_FAILED"
	CodeEmptyModelResponse = "EMPTY_MODEL_RESPONSE"
	CodeBadModelJSON       = "BAD_MODEL_JSON"
	CodeInternal           = "INTERNAL"
)

type ServiceError struct {
	Code string
	Err  error
}

func (e *ServiceError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *ServiceError) Unwrap() error { return e.Err }

func NewServiceError(code string, err error) *ServiceError {
	return &ServiceError{Code: code, Err: err}
}

func Errorf(code string, format string, args ...any) *ServiceError {
	return &ServiceError{Code: code, Err: fmt.Errorf(format, args...)}
}

// CodeOf extracts the service error code from any error in the chain, or
// CodeInternal when none is present.
func CodeOf(err error) string {
	var se *ServiceError
	if errors.As(err, &se) && se.Code != "" {
		return se.Code
	}
	return CodeInternal
}
