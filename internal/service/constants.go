package service

import "errors"

// Health status constants
const (
	HealthStatusHealthy   = "healthy"
	HealthStatusUnhealthy = "unhealthy"
)

// Metric result labels
const (
	resultAcquired      = "acquired"
	resultAlreadyLocked = "already_locked"
	resultReleased      = "released"
	resultMismatch      = "mismatch"
	resultError         = "error"
)

// Validation error messages
const (
	ErrKeysRequired            = "keys are required"
	ErrKeyRequired             = "key is required"
	ErrDurationMustBePositive  = "duration_seconds must be greater than 0"
	ErrThresholdMustBePositive = "threshold must be greater than 0"
	ErrPeriodMustBePositive    = "period_seconds must be greater than 0"
	ErrLimitedMustBePositive   = "limited_seconds must be greater than 0"
)

// ErrInvalidRequest wraps every validation failure.
var ErrInvalidRequest = errors.New("invalid request")
