package core

import (
	"context"
	"time"
)

// Principal is an authenticable identity record owned by the credential store.
type Principal struct {
	ID             string
	Username       string
	Email          string
	FirstName      string
	LastName       string
	PasswordHash   string
	EmailConfirmed bool
	Active         bool
	CreatedAt      time.Time
}

// Claim is a typed fact carried in an access token. Types may repeat.
type Claim struct {
	Type  string
	Value string
}

// Registered claim types written by the token issuer.
const (
	ClaimSubject = "sub"
	ClaimTokenID = "jti"
	ClaimEmail   = "email"
	ClaimUID     = "uid"
	ClaimRole    = "role"
)

// CredentialStore is the system of record for principals and their secrets.
// Lookups return ErrPrincipalNotFound when nothing active matches.
// Implementations are responsible for their own synchronization.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*Principal, error)
	FindByUsername(ctx context.Context, username string) (*Principal, error)
	FindByID(ctx context.Context, id string) (*Principal, error)
	// CheckPassword verifies secret without any lockout bookkeeping.
	CheckPassword(ctx context.Context, p *Principal, secret string) (bool, error)
	// Create stores p with a hash of secret and assigns roles, assigning p.ID
	// when empty. Either all of it is committed or none of it is.
	// Policy violations are reported as *CreationRejectedError.
	Create(ctx context.Context, p *Principal, secret string, roles ...string) error
	Claims(ctx context.Context, principalID string) ([]Claim, error)
	Roles(ctx context.Context, principalID string) ([]string, error)
	ListInRole(ctx context.Context, role string) ([]Principal, error)
	HasRole(ctx context.Context, role string) (bool, error)
}

// AuthResponse is returned by a successful login.
type AuthResponse struct {
	ID       string `json:"id"`
	Token    string `json:"token"`
	Email    string `json:"email"`
	UserName string `json:"userName"`
}

// RegistrationResponse is returned by a successful registration.
type RegistrationResponse struct {
	UserID string `json:"userId"`
}
