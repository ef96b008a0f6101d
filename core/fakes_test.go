package core

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// memStore is an in-memory CredentialStore for service and router tests.
type memStore struct {
	mu        sync.Mutex
	byID      map[string]*Principal
	order     []string
	roles     map[string][]string
	claims    map[string][]Claim
	policy    PasswordPolicy
	failNext  error // returned once by the next Find* call
	failRoles error // returned once by the role write inside the next Create
	creates   int
	passwords int // CheckPassword calls
}

func newMemStore() *memStore {
	return &memStore{
		byID:   map[string]*Principal{},
		roles:  map[string][]string{},
		claims: map[string][]Claim{},
		policy: DefaultPasswordPolicy,
	}
}

// seed adds an active principal with password and roles, bypassing policy.
func (s *memStore) seed(username, email, password string, roles ...string) *Principal {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	p := &Principal{
		ID:             uuid.NewString(),
		Username:       username,
		Email:          email,
		FirstName:      strings.ToUpper(username[:1]) + username[1:],
		LastName:       "Test",
		PasswordHash:   string(hash),
		EmailConfirmed: true,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[p.ID] = p
	s.order = append(s.order, p.ID)
	s.roles[p.ID] = append(s.roles[p.ID], roles...)
	return p
}

func (s *memStore) addClaim(id string, c Claim) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[id] = append(s.claims[id], c)
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *memStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *memStore) find(match func(*Principal) bool) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	for _, id := range s.order {
		p := s.byID[id]
		if p.Active && match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPrincipalNotFound
}

func (s *memStore) FindByEmail(_ context.Context, email string) (*Principal, error) {
	return s.find(func(p *Principal) bool { return strings.EqualFold(p.Email, email) })
}

func (s *memStore) FindByUsername(_ context.Context, username string) (*Principal, error) {
	return s.find(func(p *Principal) bool { return strings.EqualFold(p.Username, username) })
}

func (s *memStore) FindByID(_ context.Context, id string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	p, ok := s.byID[id]
	if !ok || !p.Active {
		return nil, ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) CheckPassword(_ context.Context, p *Principal, secret string) (bool, error) {
	s.mu.Lock()
	s.passwords++
	s.mu.Unlock()
	err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(secret))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return err == nil, err
}

// Create commits the principal and its roles together, like the SQL store.
func (s *memStore) Create(_ context.Context, p *Principal, secret string, roles ...string) error {
	if msgs := s.policy.Check(secret); len(msgs) > 0 {
		return &CreationRejectedError{Messages: msgs}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if !existing.Active {
			continue
		}
		if strings.EqualFold(existing.Username, p.Username) {
			return ErrDuplicateHandle
		}
		if strings.EqualFold(existing.Email, p.Email) {
			return ErrDuplicateEmail
		}
	}
	if len(roles) > 0 && s.failRoles != nil {
		err := s.failRoles
		s.failRoles = nil
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.PasswordHash = string(hash)
	p.Active = true
	p.CreatedAt = time.Now().UTC()
	cp := *p
	s.byID[p.ID] = &cp
	s.order = append(s.order, p.ID)
	for _, r := range roles {
		if !slices.Contains(s.roles[p.ID], r) {
			s.roles[p.ID] = append(s.roles[p.ID], r)
		}
	}
	s.creates++
	return nil
}

// deactivate marks a principal inactive, as an administrator would.
func (s *memStore) deactivate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id].Active = false
}

func (s *memStore) Claims(_ context.Context, principalID string) ([]Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Claim(nil), s.claims[principalID]...), nil
}

func (s *memStore) Roles(_ context.Context, principalID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.roles[principalID]...), nil
}

func (s *memStore) ListInRole(_ context.Context, role string) ([]Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Principal
	for _, id := range s.order {
		p := s.byID[id]
		if !p.Active {
			continue
		}
		for _, r := range s.roles[id] {
			if r == role {
				out = append(out, *p)
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) HasRole(_ context.Context, role string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rs := range s.roles {
		for _, r := range rs {
			if r == role {
				return true, nil
			}
		}
	}
	return false, nil
}

const testSigningKey = "0123456789abcdef0123456789abcdef-test"

func testConfig() Config {
	return Config{
		JWTKey:                testSigningKey,
		JWTIssuer:             "HRLeaveManagement",
		JWTAudience:           "HRLeaveManagementUser",
		JWTDurationMinutes:    15,
		AuditExcludedPrefixes: []string{"/swagger", "/metrics"},
		DefaultRole:           "Employee",
		AdminRole:             "Administrator",
		CookieSameSite:        "Strict",
		SessionKey:            "0123456789abcdef0123456789abcdef",
	}
}

// fixedClock returns a now func pinned to t.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
