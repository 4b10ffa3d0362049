// README: User store backed by PostgreSQL; every write is conditional on the row version.
package user

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dispatch/internal/infra"
	"dispatch/internal/types"
)

// Repository is the persistence contract the service and the order engine rely on.
type Repository interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id types.ID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListPartners(ctx context.Context, onlyAvailable bool) ([]*User, error)
	// Update writes the mutable fields when the stored version still equals version.
	// It reports false when the row changed since it was read.
	Update(ctx context.Context, u *User, version int) (bool, error)
}

type Store struct {
	db infra.Querier
}

func NewStore(db infra.Querier) *Store {
	return &Store{db: db}
}

const userColumns = `id, name, email, role, password_hash, is_available, current_order_id, version, created_at, updated_at`

func (s *Store) Create(ctx context.Context, u *User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(u.ID), u.Name, strings.ToLower(u.Email), string(u.Role), u.PasswordHash,
		u.IsAvailable, u.CurrentOrderID, u.Version, u.CreatedAt, u.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return ErrEmailExists
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, string(id))
	return scanUser(row)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email))
	return scanUser(row)
}

func (s *Store) ListPartners(ctx context.Context, onlyAvailable bool) ([]*User, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = 'delivery_partner' AND ($1 = FALSE OR is_available)
		ORDER BY name, id`, onlyAvailable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, u *User, version int) (bool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE users
		SET name = $1,
			password_hash = $2,
			is_available = $3,
			current_order_id = $4,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $5 AND version = $6
		RETURNING version, updated_at`,
		u.Name, u.PasswordHash, u.IsAvailable, u.CurrentOrderID, string(u.ID), version,
	)
	err := row.Scan(&u.Version, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.Role, &u.PasswordHash,
		&u.IsAvailable, &u.CurrentOrderID, &u.Version, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
