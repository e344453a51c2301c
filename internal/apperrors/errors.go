package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")

	// Both wrap ErrUserAlreadyExists so callers that don't care which
	// identity field collided can match the generic sentinel
	ErrUsernameTaken = fmt.Errorf("username taken: %w", ErrUserAlreadyExists)
	ErrEmailTaken    = fmt.Errorf("email taken: %w", ErrUserAlreadyExists)

	ErrUserNotFound = errors.New("user not found")

	ErrBadCredentials = errors.New("bad credentials")
	ErrAccountLocked  = errors.New("account locked")

	ErrTokenInvalid = errors.New("access token invalid")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenInvalid  = errors.New("refresh token invalid")
	ErrRefreshTokenExpired  = errors.New("refresh token is expired")
	ErrRefreshTokenReused   = errors.New("refresh token reused")

	ErrEmailRequired = errors.New("email claim required")
)
