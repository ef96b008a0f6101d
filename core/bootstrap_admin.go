package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	bootstrapAdminUsername = "admin"
	bootstrapAdminEmail    = "admin@hr-leave.local"
)

// BootstrapAdmin creates an initial administrator when nobody holds cfg.AdminRole.
// It is idempotent: if an admin already exists, it does nothing.
func BootstrapAdmin(ctx context.Context, store CredentialStore, cfg Config, logger *slog.Logger) error {
	if !cfg.BootstrapAdminEnabled {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	has, err := store.HasRole(ctx, cfg.AdminRole)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	password, err := generatePolicyPassword(32)
	if err != nil {
		return err
	}

	admin := &Principal{
		Username:       bootstrapAdminUsername,
		Email:          bootstrapAdminEmail,
		FirstName:      "System",
		LastName:       "Administrator",
		EmailConfirmed: true,
	}
	if err := store.Create(ctx, admin, password, cfg.AdminRole); err != nil {
		return err
	}

	if cfg.InitialAdminPasswordPath != "" {
		if err := os.WriteFile(cfg.InitialAdminPasswordPath, []byte(password+"\n"), 0o600); err != nil {
			return err
		}
		logger.InfoContext(ctx, "initial admin created", "username", admin.Username, "credentials_path", cfg.InitialAdminPasswordPath)
	} else {
		logger.InfoContext(ctx, "initial admin created", "username", admin.Username, "password", password)
	}

	return nil
}

// SeedFile is the YAML document read by SeedPrincipals.
type SeedFile struct {
	Principals []SeedPrincipal `yaml:"principals"`
}

type SeedPrincipal struct {
	Username  string   `yaml:"username"`
	Email     string   `yaml:"email"`
	FirstName string   `yaml:"first_name"`
	LastName  string   `yaml:"last_name"`
	Password  string   `yaml:"password"`
	Roles     []string `yaml:"roles"`
}

// LoadSeedFile parses a principal seed file.
func LoadSeedFile(path string) (SeedFile, error) {
	var seed SeedFile
	data, err := os.ReadFile(path)
	if err != nil {
		return seed, err
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return seed, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	for i, p := range seed.Principals {
		if strings.TrimSpace(p.Username) == "" || strings.TrimSpace(p.Email) == "" {
			return seed, fmt.Errorf("seed principal %d: username and email are required", i)
		}
	}
	return seed, nil
}

// SeedPrincipals creates every principal in seed whose username is not taken yet.
// Principals without roles get defaultRole. Returns how many were created.
func SeedPrincipals(ctx context.Context, store CredentialStore, seed SeedFile, defaultRole string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	created := 0
	for _, sp := range seed.Principals {
		_, err := store.FindByUsername(ctx, sp.Username)
		if err == nil {
			logger.DebugContext(ctx, "seed principal exists", "username", sp.Username)
			continue
		}
		if !errors.Is(err, ErrPrincipalNotFound) {
			return created, err
		}

		p := &Principal{
			Username:       sp.Username,
			Email:          sp.Email,
			FirstName:      sp.FirstName,
			LastName:       sp.LastName,
			EmailConfirmed: true,
		}
		roles := sp.Roles
		if len(roles) == 0 {
			roles = []string{defaultRole}
		}
		if err := store.Create(ctx, p, sp.Password, roles...); err != nil {
			return created, fmt.Errorf("seed principal %s: %w", sp.Username, err)
		}
		created++
		logger.InfoContext(ctx, "seed principal created", "username", sp.Username, "roles", roles)
	}
	return created, nil
}

// generatePolicyPassword returns a random password accepted by DefaultPasswordPolicy.
func generatePolicyPassword(length int) (string, error) {
	for i := 0; i < 16; i++ {
		pw, err := generatePassword(length)
		if err != nil {
			return "", err
		}
		if len(DefaultPasswordPolicy.Check(pw)) == 0 {
			return pw, nil
		}
	}
	pw, err := generatePassword(length - 4)
	if err != nil {
		return "", err
	}
	return pw + "-aA1", nil
}

func generatePassword(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("password length must be positive")
	}
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw)[:length], nil
}
