package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// pgxQuerier is the subset of *pgxpool.Pool the store needs.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const principalColumns = `id, username, email, first_name, last_name, password_hash, email_confirmed, active, created_at`

// PgPrincipalStore implements CredentialStore using PostgreSQL.
type PgPrincipalStore struct {
	db       pgxQuerier
	policy   PasswordPolicy
	hashCost int
}

func NewPgPrincipalStore(db pgxQuerier) *PgPrincipalStore {
	return &PgPrincipalStore{db: db, policy: DefaultPasswordPolicy, hashCost: bcrypt.DefaultCost}
}

// WithHashCost overrides the bcrypt cost (tests use bcrypt.MinCost).
func (r *PgPrincipalStore) WithHashCost(cost int) *PgPrincipalStore {
	r.hashCost = cost
	return r
}

func (r *PgPrincipalStore) FindByEmail(ctx context.Context, email string) (*Principal, error) {
	const q = `SELECT ` + principalColumns + ` FROM principals WHERE lower(email)=lower($1) AND active`
	return r.findOne(ctx, "find principal by email", q, strings.TrimSpace(email))
}

func (r *PgPrincipalStore) FindByUsername(ctx context.Context, username string) (*Principal, error) {
	const q = `SELECT ` + principalColumns + ` FROM principals WHERE lower(username)=lower($1) AND active`
	return r.findOne(ctx, "find principal by username", q, strings.TrimSpace(username))
}

func (r *PgPrincipalStore) FindByID(ctx context.Context, id string) (*Principal, error) {
	const q = `SELECT ` + principalColumns + ` FROM principals WHERE id=$1 AND active`
	return r.findOne(ctx, "find principal by id", q, id)
}

func (r *PgPrincipalStore) findOne(ctx context.Context, op, q string, arg string) (*Principal, error) {
	p, err := scanPrincipal(r.db.QueryRow(ctx, q, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrincipalNotFound
		}
		return nil, oops.Code("STORE_QUERY_FAILED").With("operation", op).Wrap(err)
	}
	return p, nil
}

func scanPrincipal(row pgx.Row) (*Principal, error) {
	var p Principal
	if err := row.Scan(&p.ID, &p.Username, &p.Email, &p.FirstName, &p.LastName,
		&p.PasswordHash, &p.EmailConfirmed, &p.Active, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// CheckPassword compares secret with the stored hash. A mismatch is (false, nil).
func (r *PgPrincipalStore) CheckPassword(_ context.Context, p *Principal, secret string) (bool, error) {
	if p == nil || p.PasswordHash == "" {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(secret))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code("STORE_VERIFY_FAILED").With("principal_id", p.ID).Wrap(err)
	}
}

// Create inserts p and its roles in one transaction; on any failure nothing
// is written and p is left unchanged.
func (r *PgPrincipalStore) Create(ctx context.Context, p *Principal, secret string, roles ...string) error {
	if msgs := r.policy.Check(secret); len(msgs) > 0 {
		return &CreationRejectedError{Messages: msgs}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), r.hashCost)
	if err != nil {
		return oops.Code("STORE_HASH_FAILED").Wrap(err)
	}
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return oops.Code("STORE_TX_FAILED").With("operation", "begin").Wrap(err)
	}

	const insertPrincipal = `INSERT INTO principals (id, username, email, first_name, last_name, password_hash, email_confirmed, active)
VALUES ($1,$2,$3,$4,$5,$6,$7,true) RETURNING created_at`
	var createdAt time.Time
	err = tx.QueryRow(ctx, insertPrincipal, id, p.Username, p.Email, p.FirstName, p.LastName,
		string(hash), p.EmailConfirmed).Scan(&createdAt)
	if err != nil {
		_ = tx.Rollback(ctx)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			// lost a race with a concurrent registration
			if strings.Contains(pgErr.ConstraintName, "email") {
				return ErrDuplicateEmail
			}
			return ErrDuplicateHandle
		}
		return oops.Code("STORE_INSERT_FAILED").With("username", p.Username).Wrap(err)
	}

	const insertRole = `INSERT INTO principal_roles (principal_id, role_name) VALUES ($1,$2) ON CONFLICT DO NOTHING`
	for _, role := range roles {
		if _, err := tx.Exec(ctx, insertRole, id, role); err != nil {
			_ = tx.Rollback(ctx)
			return oops.Code("STORE_INSERT_FAILED").With("username", p.Username).With("role", role).Wrap(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("STORE_TX_FAILED").With("operation", "commit").With("username", p.Username).Wrap(err)
	}

	p.ID = id
	p.PasswordHash = string(hash)
	p.Active = true
	p.CreatedAt = createdAt
	return nil
}

func (r *PgPrincipalStore) Claims(ctx context.Context, principalID string) ([]Claim, error) {
	rows, err := r.db.Query(ctx, `SELECT claim_type, claim_value FROM principal_claims WHERE principal_id=$1 ORDER BY id`, principalID)
	if err != nil {
		return nil, oops.Code("STORE_QUERY_FAILED").With("operation", "list claims").Wrap(err)
	}
	defer rows.Close()
	var out []Claim
	for rows.Next() {
		var c Claim
		if err := rows.Scan(&c.Type, &c.Value); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PgPrincipalStore) Roles(ctx context.Context, principalID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT role_name FROM principal_roles WHERE principal_id=$1 ORDER BY assigned_at, role_name`, principalID)
	if err != nil {
		return nil, oops.Code("STORE_QUERY_FAILED").With("operation", "list roles").Wrap(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// ListInRole returns active principals holding role, oldest first.
func (r *PgPrincipalStore) ListInRole(ctx context.Context, role string) ([]Principal, error) {
	rows, err := r.db.Query(ctx, `
SELECT p.id, p.username, p.email, p.first_name, p.last_name, p.password_hash, p.email_confirmed, p.active, p.created_at
FROM principals p
JOIN principal_roles r ON r.principal_id = p.id
WHERE r.role_name=$1 AND p.active
ORDER BY p.created_at, p.id
`, role)
	if err != nil {
		return nil, oops.Code("STORE_QUERY_FAILED").With("operation", "list principals in role").Wrap(err)
	}
	defer rows.Close()
	var out []Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *PgPrincipalStore) HasRole(ctx context.Context, role string) (bool, error) {
	const q = `SELECT 1 FROM principal_roles WHERE role_name=$1 LIMIT 1`
	var one int
	if err := r.db.QueryRow(ctx, q, role).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, oops.Code("STORE_QUERY_FAILED").With("operation", "has role").With("role", role).Wrap(err)
	}
	return true, nil
}
