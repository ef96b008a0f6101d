package core

import (
	"errors"
	"strings"
)

// ErrorKind classifies failures so callers can branch without parsing messages.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindPrincipalNotFound  ErrorKind = "PRINCIPAL_NOT_FOUND"
	KindInvalidCredentials ErrorKind = "INVALID_CREDENTIALS"
	KindDuplicateHandle    ErrorKind = "DUPLICATE_HANDLE"
	KindDuplicateEmail     ErrorKind = "DUPLICATE_EMAIL"
	KindCreationRejected   ErrorKind = "CREATION_REJECTED"
	KindInvalidRequest     ErrorKind = "INVALID_REQUEST"
	KindTokenInvalid       ErrorKind = "TOKEN_INVALID"
	KindTokenExpired       ErrorKind = "TOKEN_EXPIRED"
	KindForbidden          ErrorKind = "FORBIDDEN"
	KindDownstreamFailure  ErrorKind = "DOWNSTREAM_FAILURE"
)

var (
	// ErrPrincipalNotFound is returned when no active principal matches a lookup.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrInvalidCredentials is returned when the secret does not verify.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateHandle is returned when the username is taken by an active principal.
	ErrDuplicateHandle = errors.New("username already exists")
	// ErrDuplicateEmail is returned when the email is taken by an active principal.
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrCreationRejected matches any *CreationRejectedError.
	ErrCreationRejected = errors.New("principal creation rejected")
	// ErrInvalidRequest matches any *RequestValidationError.
	ErrInvalidRequest = errors.New("invalid request")
	ErrTokenInvalid   = errors.New("token invalid")
	ErrTokenExpired   = errors.New("token expired")
	ErrForbidden      = errors.New("forbidden")
)

// CreationRejectedError carries the store's validation messages.
type CreationRejectedError struct {
	Messages []string
}

func (e *CreationRejectedError) Error() string {
	if len(e.Messages) == 0 {
		return ErrCreationRejected.Error()
	}
	return ErrCreationRejected.Error() + ": " + strings.Join(e.Messages, "; ")
}

func (e *CreationRejectedError) Is(target error) bool { return target == ErrCreationRejected }

// RequestValidationError carries per-field messages for a malformed request.
type RequestValidationError struct {
	Fields map[string]string
}

func (e *RequestValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, msg := range e.Fields {
		parts = append(parts, f+": "+msg)
	}
	return ErrInvalidRequest.Error() + ": " + strings.Join(parts, "; ")
}

func (e *RequestValidationError) Is(target error) bool { return target == ErrInvalidRequest }

// KindOf maps err onto the taxonomy. Unknown errors are downstream failures.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrPrincipalNotFound):
		return KindPrincipalNotFound
	case errors.Is(err, ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.Is(err, ErrDuplicateHandle):
		return KindDuplicateHandle
	case errors.Is(err, ErrDuplicateEmail):
		return KindDuplicateEmail
	case errors.Is(err, ErrCreationRejected):
		return KindCreationRejected
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrTokenExpired):
		return KindTokenExpired
	case errors.Is(err, ErrTokenInvalid):
		return KindTokenInvalid
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	default:
		return KindDownstreamFailure
	}
}
