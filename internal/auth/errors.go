package auth

import (
	"fmt"

	"fleetops.org/internal/apperr"
)

var (
	ErrMissingCredentials = fmt.Errorf("%w: email and password are required", apperr.ErrValidation)
	ErrUnknownEmail       = fmt.Errorf("%w: no account for this email", apperr.ErrUnauthenticated)
	ErrUserDisabled       = fmt.Errorf("%w: account is disabled", apperr.ErrUnauthenticated)
	ErrBadPassword        = fmt.Errorf("%w: incorrect password", apperr.ErrUnauthenticated)
	ErrInvalidSession     = fmt.Errorf("%w: session is missing or expired", apperr.ErrUnauthenticated)
	ErrTooManyAttempts    = fmt.Errorf("%w: too many login attempts, retry later", apperr.ErrRetryable)
)
