package core

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// LoginRequest is the login payload; the identifier is the principal's email.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// RegistrationRequest is the self-service sign-up payload.
type RegistrationRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	UserName  string `json:"userName"`
	Password  string `json:"password"`
}

func (r RegistrationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.UserName, validation.Required, validation.Length(3, 64)),
		validation.Field(&r.Password, validation.Required),
	)
}

// validateRequest runs v.Validate and converts ozzo's field map into a
// *RequestValidationError.
func validateRequest(v validation.Validatable) error {
	err := v.Validate()
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		out := &RequestValidationError{Fields: make(map[string]string, len(fieldErrs))}
		for field, ferr := range fieldErrs {
			out.Fields[field] = ferr.Error()
		}
		return out
	}
	return &RequestValidationError{Fields: map[string]string{"request": err.Error()}}
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}
