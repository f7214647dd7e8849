package auth

import "errors"

var (
	// ErrTokenInvalid is returned for malformed, forged or expired tokens.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrForbidden is returned when a valid token lacks the required role.
	ErrForbidden = errors.New("auth: insufficient role")

	// ErrInvalidSubject is returned when asked to mint a token with no subject.
	ErrInvalidSubject = errors.New("auth: subject cannot be empty")

	// ErrInvalidRole is returned for roles outside ValidRoles.
	ErrInvalidRole = errors.New("auth: unknown role")
)
