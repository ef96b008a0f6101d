package core

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/samber/oops"
)

// AuthService defines the login and registration contract exposed over HTTP.
type AuthService interface {
	Login(ctx context.Context, req LoginRequest) (*AuthResponse, error)
	Register(ctx context.Context, req RegistrationRequest) (*RegistrationResponse, error)
}

// RepositoryAuthService implements AuthService on top of a CredentialStore.
// It holds no per-request state; concurrent calls are independent.
type RepositoryAuthService struct {
	store       CredentialStore
	tokens      *TokenIssuer
	guard       *RegistrationGuard
	defaultRole string
	logger      *slog.Logger
}

func NewRepositoryAuthService(store CredentialStore, tokens *TokenIssuer, defaultRole string, logger *slog.Logger) *RepositoryAuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepositoryAuthService{
		store:       store,
		tokens:      tokens,
		guard:       NewRegistrationGuard(store),
		defaultRole: defaultRole,
		logger:      logger,
	}
}

// Login verifies the secret for the principal owning req.Email and issues a token.
// Fails with ErrPrincipalNotFound or ErrInvalidCredentials; both are logged with
// their kind, and callers decide how much of the distinction to expose.
func (s *RepositoryAuthService) Login(ctx context.Context, req LoginRequest) (resp *AuthResponse, err error) {
	defer func() { recordLogin(err) }()

	req.Email = normalizeEmail(req.Email)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	p, err := s.store.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			s.logger.InfoContext(ctx, "login rejected", "kind", KindPrincipalNotFound, "email", req.Email)
			return nil, oops.Code(string(KindPrincipalNotFound)).With("email", req.Email).Wrap(ErrPrincipalNotFound)
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "find principal by email").Wrap(err)
	}

	ok, err := s.store.CheckPassword(ctx, p, req.Password)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "verify password").Wrap(err)
	}
	if !ok {
		s.logger.InfoContext(ctx, "login rejected", "kind", KindInvalidCredentials, "principal_id", p.ID)
		return nil, oops.Code(string(KindInvalidCredentials)).With("email", req.Email).Wrap(ErrInvalidCredentials)
	}

	token, err := s.tokens.GenerateToken(ctx, p)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "generate token").Wrap(err)
	}

	s.logger.InfoContext(ctx, "login succeeded", "principal_id", p.ID, "jti", token.ID, "expires_at", token.ExpiresAt)
	return &AuthResponse{
		ID:       p.ID,
		Token:    token.Token,
		Email:    p.Email,
		UserName: p.Username,
	}, nil
}

// Register creates a principal with a confirmed email and the default role.
// Nothing is written until both uniqueness checks pass, and the principal and
// its role are committed together. No token is issued.
func (s *RepositoryAuthService) Register(ctx context.Context, req RegistrationRequest) (resp *RegistrationResponse, err error) {
	defer func() { recordRegistration(err) }()

	req.Email = normalizeEmail(req.Email)
	req.UserName = strings.TrimSpace(req.UserName)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if err := s.guard.Check(ctx, req.UserName, req.Email); err != nil {
		s.logger.InfoContext(ctx, "registration rejected", "kind", KindOf(err), "username", req.UserName)
		return nil, err
	}

	p := &Principal{
		Username:       req.UserName,
		Email:          req.Email,
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		EmailConfirmed: true,
	}
	if err := s.store.Create(ctx, p, req.Password, s.defaultRole); err != nil {
		var rejected *CreationRejectedError
		if errors.As(err, &rejected) || errors.Is(err, ErrDuplicateHandle) || errors.Is(err, ErrDuplicateEmail) {
			s.logger.InfoContext(ctx, "registration rejected", "kind", KindOf(err), "username", req.UserName)
			return nil, err
		}
		s.logger.ErrorContext(ctx, "principal creation failed", "username", req.UserName, "role", s.defaultRole, "error", err)
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "create principal").Wrap(err)
	}

	s.logger.InfoContext(ctx, "principal registered", "principal_id", p.ID, "username", p.Username)
	return &RegistrationResponse{UserID: p.ID}, nil
}
