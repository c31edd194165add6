package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/sapedu/testing-service/internal/validator"
)

// ===== SENTINEL ERRORS =====

var (
	ErrTestNotFound         = errors.New("test not found")
	ErrTestNotAvailable     = errors.New("test is not available")
	ErrTestAlreadyAttempted = errors.New("test has already been attempted")

	ErrAttemptNotFound         = errors.New("attempt not found")
	ErrAttemptNotActive        = errors.New("attempt is not in progress")
	ErrAttemptAlreadySubmitted = errors.New("attempt has already been submitted")
	ErrAttemptTimeExpired      = errors.New("attempt time has expired")

	ErrQuestionNotFound = errors.New("question not found")
	ErrUserNotFound     = errors.New("user not found")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// ===== TYPED ERRORS =====

// Validation error types are shared with the validator package
type ValidationError = validator.ValidationError
type ValidationErrors = validator.ValidationErrors

// PermissionError describes a denied action on a resource
type PermissionError struct {
	UserID     string
	ResourceID uint
	Resource   string
	Action     string
	Reason     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s cannot %s %s %d: %s", e.UserID, e.Action, e.Resource, e.ResourceID, e.Reason)
}

func NewPermissionError(userID string, resourceID uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

// BusinessRuleError describes a violated domain rule
type BusinessRuleError struct {
	Message string
	Rule    string
	Context map[string]interface{}
}

func (e *BusinessRuleError) Error() string {
	return e.Message
}

func NewBusinessRuleError(message, rule string) *BusinessRuleError {
	return &BusinessRuleError{
		Message: message,
		Rule:    rule,
		Context: make(map[string]interface{}),
	}
}

// ===== HELPERS =====

func timePtr(t time.Time) *time.Time {
	return &t
}
