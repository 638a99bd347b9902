package shared

import "errors"

var (
	// Configuration
	ErrMissingConfig      = errors.New("configuration not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrMissingCredentials = errors.New("missing credentials")
	ErrUnknownProject     = errors.New("unknown project")

	// Authentication
	ErrAuthFailed = errors.New("authentication failed")
	ErrTimeout    = errors.New("operation timed out")

	// Execution
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrCredentialLocked   = errors.New("credential is in use by another batch")

	// Input
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingArgument = errors.New("missing required argument")
	ErrInvalidArgument = errors.New("invalid argument")
)
