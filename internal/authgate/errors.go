package authgate

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is the common kind of every authentication failure.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidCredentials covers a wrong username, a wrong password and an
	// unusable stored hash alike.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", ErrUnauthorized)

	ErrTokenExpired = fmt.Errorf("token expired: %w", ErrUnauthorized)
	ErrTokenInvalid = fmt.Errorf("token invalid: %w", ErrUnauthorized)
)
