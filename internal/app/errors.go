package app

import (
	"errors"
	"fmt"
	"net/http"

	"telar/api/internal/backend"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// fromBackend maps the backend error taxonomy onto the HTTP boundary:
// transient outages become 503 (the UI blocks and retries), permission
// rejections become 403 (operator intervention, never auto-retried).
func fromBackend(err error) *DomainError {
	switch {
	case errors.Is(err, backend.ErrPermission):
		return domainError(http.StatusForbidden, "BACKEND_PERMISSION", err.Error(), nil)
	case errors.Is(err, backend.ErrUnavailable):
		return domainError(http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", err.Error(), nil)
	default:
		return domainError(http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}
