package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var principalCols = []string{"id", "username", "email", "first_name", "last_name", "password_hash", "email_confirmed", "active", "created_at"}

func newMockStore(t *testing.T) (*PgPrincipalStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return NewPgPrincipalStore(mock).WithHashCost(bcrypt.MinCost), mock
}

func TestPgPrincipalStore_FindByEmail(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantID    string
		wantErr   error
		wantKind  ErrorKind
	}{
		{
			name: "found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows(principalCols).
					AddRow("p1", "alice", "alice@x.io", "Alice", "Smith", "hash", true, true, created)
				mock.ExpectQuery(`FROM principals WHERE lower\(email\)=lower\(\$1\) AND active`).
					WithArgs("alice@x.io").
					WillReturnRows(rows)
			},
			wantID: "p1",
		},
		{
			name: "not found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM principals WHERE lower\(email\)`).
					WithArgs("ghost@x.io").
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr:  ErrPrincipalNotFound,
			wantKind: KindPrincipalNotFound,
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM principals WHERE lower\(email\)`).
					WithArgs("alice@x.io").
					WillReturnError(errors.New("connection refused"))
			},
			wantKind: KindDownstreamFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			email := "alice@x.io"
			if tt.wantErr != nil {
				email = "ghost@x.io"
			}
			got, err := store.FindByEmail(context.Background(), " "+email+" ")

			if tt.wantKind != KindNone {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, KindOf(err))
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantID, got.ID)
				assert.Equal(t, "Alice", got.FirstName)
				assert.True(t, got.Active)
				assert.Equal(t, created, got.CreatedAt)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPgPrincipalStore_FindByUsernameAndID(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`FROM principals WHERE lower\(username\)=lower\(\$1\) AND active`).
		WithArgs("bob").
		WillReturnRows(pgxmock.NewRows(principalCols).
			AddRow("p2", "bob", "bob@x.io", "Bob", "Jones", "hash", true, true, now))
	mock.ExpectQuery(`FROM principals WHERE id=\$1 AND active`).
		WithArgs("p2").
		WillReturnError(pgx.ErrNoRows)

	p, err := store.FindByUsername(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "p2", p.ID)

	_, err = store.FindByID(context.Background(), "p2")
	assert.ErrorIs(t, err, ErrPrincipalNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgPrincipalStore_CheckPassword(t *testing.T) {
	store, _ := newMockStore(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("Passw0rd!"), bcrypt.MinCost)
	require.NoError(t, err)
	p := &Principal{ID: "p1", PasswordHash: string(hash)}

	ok, err := store.CheckPassword(context.Background(), p, "Passw0rd!")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.CheckPassword(context.Background(), p, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.CheckPassword(context.Background(), &Principal{ID: "p2"}, "anything")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.CheckPassword(context.Background(), &Principal{ID: "p3", PasswordHash: "not-bcrypt"}, "x")
	assert.Equal(t, KindDownstreamFailure, KindOf(err))
}

func TestPgPrincipalStore_Create(t *testing.T) {
	anyArgs := []any{
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
	}

	t.Run("success", func(t *testing.T) {
		store, mock := newMockStore(t)
		created := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO principals`).
			WithArgs(anyArgs...).
			WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))
		mock.ExpectExec(`INSERT INTO principal_roles`).
			WithArgs(pgxmock.AnyArg(), "Employee").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		p := &Principal{Username: "dana", Email: "dana@x.io", EmailConfirmed: true}
		require.NoError(t, store.Create(context.Background(), p, "Trust-No1", "Employee"))
		assert.NotEmpty(t, p.ID)
		assert.True(t, p.Active)
		assert.Equal(t, created, p.CreatedAt)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte("Trust-No1")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("role write failure rolls back the principal", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO principals`).
			WithArgs(anyArgs...).
			WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now().UTC()))
		mock.ExpectExec(`INSERT INTO principal_roles`).
			WithArgs(pgxmock.AnyArg(), "Administrator").
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		p := &Principal{Username: "root", Email: "root@x.io"}
		err := store.Create(context.Background(), p, "Trust-No1", "Administrator")
		require.Error(t, err)
		assert.Equal(t, KindDownstreamFailure, KindOf(err))
		assert.Empty(t, p.ID)
		assert.False(t, p.Active)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure writes nothing", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin().WillReturnError(errors.New("pool closed"))

		err := store.Create(context.Background(), &Principal{Username: "dana"}, "Trust-No1", "Employee")
		assert.Equal(t, KindDownstreamFailure, KindOf(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("policy violation writes nothing", func(t *testing.T) {
		store, mock := newMockStore(t)
		err := store.Create(context.Background(), &Principal{Username: "dana"}, "short")
		var rejected *CreationRejectedError
		require.True(t, errors.As(err, &rejected))
		assert.Contains(t, rejected.Messages, "password must be at least 6 characters")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation on email", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO principals`).
			WithArgs(anyArgs...).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "principals_email_lower_key"})
		mock.ExpectRollback()

		err := store.Create(context.Background(), &Principal{Username: "dana", Email: "dana@x.io"}, "Trust-No1", "Employee")
		assert.ErrorIs(t, err, ErrDuplicateEmail)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation on username", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO principals`).
			WithArgs(anyArgs...).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "principals_username_lower_key"})
		mock.ExpectRollback()

		err := store.Create(context.Background(), &Principal{Username: "dana", Email: "dana@x.io"}, "Trust-No1", "Employee")
		assert.ErrorIs(t, err, ErrDuplicateHandle)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgPrincipalStore_RolesAndClaims(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT role_name FROM principal_roles WHERE principal_id=\$1`).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"role_name"}).AddRow("Employee").AddRow("Manager"))
	mock.ExpectQuery(`SELECT claim_type, claim_value FROM principal_claims`).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"claim_type", "claim_value"}).
			AddRow("department", "finance").
			AddRow("department", "audit"))

	roles, err := store.Roles(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Employee", "Manager"}, roles)

	claims, err := store.Claims(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []Claim{{Type: "department", Value: "finance"}, {Type: "department", Value: "audit"}}, claims)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgPrincipalStore_ListInRole(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`JOIN principal_roles r ON r.principal_id = p.id`).
		WithArgs("Employee").
		WillReturnRows(pgxmock.NewRows(principalCols).
			AddRow("p1", "alice", "alice@x.io", "Alice", "Smith", "h1", true, true, now).
			AddRow("p2", "bob", "bob@x.io", "Bob", "Jones", "h2", true, true, now))

	got, err := store.ListInRole(context.Background(), "Employee")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].Username)
	assert.Equal(t, "bob", got[1].Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgPrincipalStore_HasRole(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT 1 FROM principal_roles WHERE role_name=\$1`).
		WithArgs("Administrator").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT 1 FROM principal_roles WHERE role_name=\$1`).
		WithArgs("Employee").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	has, err := store.HasRole(context.Background(), "Administrator")
	require.NoError(t, err)
	assert.False(t, has)

	has, err = store.HasRole(context.Background(), "Employee")
	require.NoError(t, err)
	assert.True(t, has)
	assert.NoError(t, mock.ExpectationsWereMet())
}
