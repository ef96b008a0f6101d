package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapAdminCreatesOnce(t *testing.T) {
	store := newMemStore()
	cfg := testConfig()
	cfg.BootstrapAdminEnabled = true
	cfg.InitialAdminPasswordPath = filepath.Join(t.TempDir(), "admin.secret")
	ctx := context.Background()

	require.NoError(t, BootstrapAdmin(ctx, store, cfg, discardLogger()))
	assert.Equal(t, 1, store.count())

	raw, err := os.ReadFile(cfg.InitialAdminPasswordPath)
	require.NoError(t, err)
	password := strings.TrimSpace(string(raw))
	assert.Empty(t, DefaultPasswordPolicy.Check(password))

	admin, err := store.FindByUsername(ctx, "admin")
	require.NoError(t, err)
	ok, err := store.CheckPassword(ctx, admin, password)
	require.NoError(t, err)
	assert.True(t, ok)
	roles, err := store.Roles(ctx, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Administrator"}, roles)

	require.NoError(t, BootstrapAdmin(ctx, store, cfg, discardLogger()))
	assert.Equal(t, 1, store.count(), "second run is a no-op")
}

func TestBootstrapAdminRetriesAfterRoleWriteFailure(t *testing.T) {
	store := newMemStore()
	store.failRoles = errors.New("connection reset")
	cfg := testConfig()
	cfg.BootstrapAdminEnabled = true
	cfg.InitialAdminPasswordPath = filepath.Join(t.TempDir(), "admin.secret")
	ctx := context.Background()

	require.Error(t, BootstrapAdmin(ctx, store, cfg, discardLogger()))
	assert.Zero(t, store.count())
	assert.NoFileExists(t, cfg.InitialAdminPasswordPath)

	require.NoError(t, BootstrapAdmin(ctx, store, cfg, discardLogger()))
	assert.Equal(t, 1, store.count())
	has, err := store.HasRole(ctx, cfg.AdminRole)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestBootstrapAdminDisabled(t *testing.T) {
	store := newMemStore()
	cfg := testConfig()
	cfg.BootstrapAdminEnabled = false
	require.NoError(t, BootstrapAdmin(context.Background(), store, cfg, discardLogger()))
	assert.Zero(t, store.count())
}

func TestGeneratePolicyPassword(t *testing.T) {
	for i := 0; i < 20; i++ {
		pw, err := generatePolicyPassword(32)
		require.NoError(t, err)
		assert.Len(t, pw, 32)
		assert.Empty(t, DefaultPasswordPolicy.Check(pw))
	}
	_, err := generatePassword(0)
	assert.Error(t, err)
}

const seedYAML = `
principals:
  - username: alice
    email: alice@x.io
    first_name: Alice
    last_name: Smith
    password: Passw0rd!
  - username: henry
    email: henry@x.io
    first_name: Henry
    last_name: Ford
    password: Passw0rd!
    roles: [Employee, Manager]
`

func TestSeedPrincipals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	seed, err := LoadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, seed.Principals, 2)
	assert.Equal(t, "Smith", seed.Principals[0].LastName)

	store := newMemStore()
	ctx := context.Background()
	n, err := SeedPrincipals(ctx, store, seed, "Employee", discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	henry, err := store.FindByEmail(ctx, "henry@x.io")
	require.NoError(t, err)
	roles, err := store.Roles(ctx, henry.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Employee", "Manager"}, roles)

	alice, err := store.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	roles, err = store.Roles(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Employee"}, roles)

	n, err = SeedPrincipals(ctx, store, seed, "Employee", discardLogger())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoadSeedFileRejectsIncompleteEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("principals:\n  - username: ghost\n"), 0o600))
	_, err := LoadSeedFile(path)
	assert.Error(t, err)
}
