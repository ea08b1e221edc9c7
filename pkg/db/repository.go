package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("db: duplicate key")

const uniqueViolation = "23505"

// Repository provides database access for the app's procedures.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping checks that the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// FindUserByEmail finds a user by email. A missing user is (nil, nil).
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	slog.Debug(fmt.Sprintf("%s - FindUserByEmail email=%s", repoLogPrefix, email))

	row := r.pool.QueryRow(ctx,
		`SELECT id, email, name, bio, created, modified
		 FROM users
		 WHERE lower(email) = lower($1)
		 LIMIT 1`, email)

	return scanUser(row)
}

// CreateUserParams holds parameters for CreateUser.
type CreateUserParams struct {
	Email string
	Name  *string
	Bio   *string
}

// CreateUser inserts a user. An existing email yields ErrDuplicate.
func (r *Repository) CreateUser(ctx context.Context, params CreateUserParams) (*User, error) {
	slog.Info(fmt.Sprintf("%s - CreateUser email=%s", repoLogPrefix, params.Email))

	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, bio)
		 VALUES ($1, $2, $3)
		 RETURNING id, email, name, bio, created, modified`,
		strings.TrimSpace(params.Email), params.Name, params.Bio)

	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%s - user %s: %w", repoLogPrefix, params.Email, ErrDuplicate)
		}
		return nil, err
	}
	return u, nil
}

// ListUsersParams holds pagination for ListUsers.
type ListUsersParams struct {
	Page  int
	Limit int
}

// ListUsers lists users ordered by id and returns the total count.
func (r *Repository) ListUsers(ctx context.Context, params ListUsersParams) ([]User, int, error) {
	page := params.Page
	if page < 1 {
		page = 1
	}
	limit := params.Limit
	if limit < 1 {
		limit = 20
	}
	offset := (page - 1) * limit

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)::int FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s - count users failed: %w", repoLogPrefix, err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, email, name, bio, created, modified
		 FROM users
		 ORDER BY id
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%s - list users failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s - iterate users failed: %w", repoLogPrefix, err)
	}
	return out, total, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Bio, &u.Created, &u.Modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - scan user failed: %w", repoLogPrefix, err)
	}
	return &u, nil
}
