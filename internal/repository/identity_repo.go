package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"otp-auth/internal/domain"
)

// ErrDuplicateEmail se devuelve cuando el email ya existe para el mismo Kind.
var ErrDuplicateEmail = errors.New("email already registered")

const uniqueViolation = "23505"

// IdentityRepository define el contrato de persistencia para identidades de un Kind.
// Las busquedas sin resultado devuelven pgx.ErrNoRows.
type IdentityRepository interface {
	Kind() domain.Kind
	Create(ctx context.Context, identity domain.Identity) error
	GetByID(ctx context.Context, id string) (domain.Identity, error)
	GetByEmail(ctx context.Context, email string) (domain.Identity, error)
	MarkVerified(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error
	UpdateProfile(ctx context.Context, id string, update domain.ProfileUpdate, at time.Time) (domain.Identity, error)
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgIdentityRepository implementa IdentityRepository usando pgxpool.
type PgIdentityRepository struct {
	db    dbtx
	kind  domain.Kind
	table string
}

func NewPgIdentityRepository(pool *pgxpool.Pool, kind domain.Kind) *PgIdentityRepository {
	return newPgIdentityRepository(pool, kind)
}

func newPgIdentityRepository(db dbtx, kind domain.Kind) *PgIdentityRepository {
	table := "users"
	if kind == domain.KindAdmin {
		table = "admins"
	}
	return &PgIdentityRepository{db: db, kind: kind, table: table}
}

func (r *PgIdentityRepository) Kind() domain.Kind {
	return r.kind
}

func (r *PgIdentityRepository) Create(ctx context.Context, identity domain.Identity) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, email, username, password_hash, role, verified, bio, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.table)
	_, err := r.db.Exec(ctx, query,
		identity.ID,
		identity.Email,
		identity.Username,
		identity.PasswordHash,
		string(identity.Role),
		identity.Verified,
		identity.Bio,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (r *PgIdentityRepository) GetByID(ctx context.Context, id string) (domain.Identity, error) {
	return r.getOne(ctx, "id", id)
}

func (r *PgIdentityRepository) GetByEmail(ctx context.Context, email string) (domain.Identity, error) {
	return r.getOne(ctx, "email", email)
}

func (r *PgIdentityRepository) getOne(ctx context.Context, column, value string) (domain.Identity, error) {
	query := fmt.Sprintf(`
		SELECT id, email, username, password_hash, role, verified, bio, created_at, updated_at
		FROM %s
		WHERE %s = $1
	`, r.table, column)
	identity, err := scanIdentity(r.db.QueryRow(ctx, query, value))
	if err != nil {
		return domain.Identity{}, err
	}
	identity.Kind = r.kind
	return identity, nil
}

func (r *PgIdentityRepository) MarkVerified(ctx context.Context, id string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET verified = TRUE, updated_at = $2 WHERE id = $1`, r.table)
	return r.execOne(ctx, query, id, at)
}

func (r *PgIdentityRepository) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET password_hash = $2, updated_at = $3 WHERE id = $1`, r.table)
	return r.execOne(ctx, query, id, passwordHash, at)
}

func (r *PgIdentityRepository) UpdateProfile(ctx context.Context, id string, update domain.ProfileUpdate, at time.Time) (domain.Identity, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET username = COALESCE($2, username),
		    bio = COALESCE($3, bio),
		    updated_at = $4
		WHERE id = $1
		RETURNING id, email, username, password_hash, role, verified, bio, created_at, updated_at
	`, r.table)
	identity, err := scanIdentity(r.db.QueryRow(ctx, query, id, update.Username, update.Bio, at))
	if err != nil {
		return domain.Identity{}, err
	}
	identity.Kind = r.kind
	return identity, nil
}

func (r *PgIdentityRepository) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanIdentity(row pgx.Row) (domain.Identity, error) {
	var (
		identity domain.Identity
		role     string
	)
	err := row.Scan(
		&identity.ID,
		&identity.Email,
		&identity.Username,
		&identity.PasswordHash,
		&role,
		&identity.Verified,
		&identity.Bio,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		return domain.Identity{}, err
	}
	identity.Role = domain.Role(role)
	return identity, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
