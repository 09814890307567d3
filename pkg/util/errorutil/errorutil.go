package util

import (
	"errors"
	"fmt"
	"net/http"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

// Workflow failure kinds. These are ordinary return values: handlers branch on
// Code and render them, nothing retries automatically.

func NewInvalidTransition(from, to int) error {
	return NewDomainError("INVALID_TRANSITION", "status transition not permitted", http.StatusConflict, map[string]any{
		"from_status": from,
		"to_status":   to,
	})
}

func NewAlreadyAssigned(ticketID string) error {
	return NewDomainError("ALREADY_ASSIGNED", "ticket already claimed by another technician", http.StatusConflict, map[string]any{
		"ticket_id": ticketID,
	})
}

func NewNotAssignedToCaller(ticketID string) error {
	return NewDomainError("NOT_ASSIGNED_TO_CALLER", "ticket is not assigned to the caller", http.StatusForbidden, map[string]any{
		"ticket_id": ticketID,
	})
}

func NewDiagnosisRequired() error {
	return NewDomainError("DIAGNOSIS_REQUIRED", "a non-empty diagnosis is required to finish a repair", http.StatusBadRequest, nil)
}

func NewInsufficientStock(sparePartID string, requested, available int) error {
	return NewDomainError("INSUFFICIENT_STOCK", "not enough stock for spare part", http.StatusConflict, map[string]any{
		"spare_part_id": sparePartID,
		"requested":     requested,
		"available":     available,
	})
}

func NewRequiresDateUpdate(ticketID string) error {
	return NewDomainError("REQUIRES_DATE_UPDATE", "promised date already passed; caller must acknowledge a new deadline", http.StatusConflict, map[string]any{
		"ticket_id": ticketID,
	})
}

func NewTicketTerminal(ticketID string, status int) error {
	return NewDomainError("TICKET_TERMINAL", "ticket is in a terminal status", http.StatusConflict, map[string]any{
		"ticket_id": ticketID,
		"status":    status,
	})
}

func NewAlreadyReturned(allocationID string) error {
	return NewDomainError("ALREADY_RETURNED", "allocation was already returned to stock", http.StatusConflict, map[string]any{
		"allocation_id": allocationID,
	})
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}

// HasCode reports whether err is a DomainError with the given code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	return domainErr.Code == code
}
