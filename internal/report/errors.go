package report

import (
	"errors"
	"fmt"
	"net/http"

	"commentguard/internal/scan"
	"commentguard/internal/session"
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, session.ErrNoSession) {
		return http.StatusConflict, "NO_SESSION", "No video is being watched", nil
	}
	if errors.Is(err, scan.ErrStopped) {
		return http.StatusConflict, "SCAN_NOT_RUNNING", "Scanning has not started for this video", nil
	}
	if errors.Is(err, ErrUnknownAction) {
		return http.StatusBadRequest, "UNKNOWN_ACTION", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
