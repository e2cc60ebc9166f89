package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"nps/api/internal/auth"
	"nps/api/internal/lock"
	"nps/api/internal/nps"
	"nps/api/internal/replica"
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

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, nps.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, nps.ErrNotEligible):
		return http.StatusConflict, "FEEDBACK_CANNOT_ACCEPTED", "Your feedback cannot be accepted at this time.", nil
	case errors.Is(err, nps.ErrAlreadyCompleted):
		return http.StatusConflict, "FEEDBACK_ALREADY_SUBMITTED", "Feedback cannot be submitted multiple times.", nil
	case errors.Is(err, nps.ErrDuplicateWitnessType), errors.Is(err, nps.ErrInvalidWitnessType):
		return http.StatusConflict, "FEEDBACK_TYPE_INVALID", "Witness type must be present and unique.", nil
	case errors.Is(err, nps.ErrInvalidOrIncompleteQuestions):
		return http.StatusConflict, "FEEDBACK_TYPE_INVALID", "All required questions must be valid and unique.", nil
	case errors.Is(err, nps.ErrInvalidProjectType):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Project type can be any from this list only: Incident, Resilience.", nil
	case errors.Is(err, nps.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, nps.ErrConflict), errors.Is(err, lock.ErrLockHeld):
		return http.StatusConflict, "CONFLICT", "Another submission for this project is in progress. Please retry.", nil
	case errors.Is(err, replica.ErrUnknownSubject), errors.Is(err, replica.ErrInvalidPayload):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
