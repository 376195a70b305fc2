package domain

import (
	"errors"
	"fmt"
)

// Error categories. Transport code maps on these; specific errors below wrap one of them.
var (
	ErrNotFound        = errors.New("not found")
	ErrBusinessRule    = errors.New("business rule violation")
	ErrValidation      = errors.New("validation failed")
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("permission denied")
	ErrInfrastructure  = errors.New("infrastructure unavailable")
)

// Domain-specific errors for business logic validation.
var (
	// Task errors
	ErrTaskNotFound = fmt.Errorf("task %w", ErrNotFound)
	ErrTaskDeleted  = fmt.Errorf("%w: cannot update status of deleted task", ErrBusinessRule)

	// Project errors
	ErrProjectNotFound      = fmt.Errorf("project %w", ErrNotFound)
	ErrDuplicateProjectName = fmt.Errorf("%w: project name already exists", ErrBusinessRule)
	ErrInvalidDateRange     = fmt.Errorf("%w: end date must not be before start date", ErrBusinessRule)

	// Event store errors
	ErrVersionConflict = fmt.Errorf("%w: aggregate version conflict", ErrInfrastructure)

	// Auth errors
	ErrInvalidToken = fmt.Errorf("%w: invalid authentication token", ErrUnauthenticated)
	ErrAdminOnly    = fmt.Errorf("%w: admin role required", ErrForbidden)

	// Validation errors
	ErrInvalidStatus    = fmt.Errorf("%w: invalid task status", ErrValidation)
	ErrInvalidPriority  = fmt.Errorf("%w: invalid task priority", ErrValidation)
	ErrInvalidEventType = fmt.Errorf("%w: invalid event type", ErrValidation)
)
