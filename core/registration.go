package core

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// RegistrationGuard enforces uniqueness before anything is written to the store.
type RegistrationGuard struct {
	store CredentialStore
}

func NewRegistrationGuard(store CredentialStore) *RegistrationGuard {
	return &RegistrationGuard{store: store}
}

// Check fails with ErrDuplicateHandle, then ErrDuplicateEmail, when an active
// principal already owns the username or email.
func (g *RegistrationGuard) Check(ctx context.Context, username, email string) error {
	taken, err := g.taken(ctx, "username", g.store.FindByUsername, username)
	if err != nil {
		return err
	}
	if taken {
		return oops.Code(string(KindDuplicateHandle)).With("username", username).Wrap(ErrDuplicateHandle)
	}

	taken, err = g.taken(ctx, "email", g.store.FindByEmail, email)
	if err != nil {
		return err
	}
	if taken {
		return oops.Code(string(KindDuplicateEmail)).With("email", email).Wrap(ErrDuplicateEmail)
	}
	return nil
}

type principalLookup func(ctx context.Context, key string) (*Principal, error)

func (g *RegistrationGuard) taken(ctx context.Context, field string, find principalLookup, value string) (bool, error) {
	p, err := find(ctx, value)
	switch {
	case errors.Is(err, ErrPrincipalNotFound):
		return false, nil
	case err != nil:
		return false, oops.Code("REGISTRATION_LOOKUP_FAILED").With("field", field).Wrap(err)
	default:
		return p != nil && p.Active, nil
	}
}
