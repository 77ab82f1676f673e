package services

import "errors"

// Failure classes surfaced by the subscription services. Handlers translate
// these into HTTP status codes; the auth gateway collapses all of them into
// {ok:false}.
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrExpired         = errors.New("expired")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrAlreadyConsumed = errors.New("subscription link already used")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnavailable     = errors.New("service unavailable")

	// Login failures. ErrInvalidCredentials deliberately covers both unknown
	// username and wrong password so responses never reveal which.
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrAccountExpired     = errors.New("account expired")

	ErrDuplicateUsername = errors.New("username already taken")
	ErrInvalidParent     = errors.New("parent user must be a top-level admin")
)
