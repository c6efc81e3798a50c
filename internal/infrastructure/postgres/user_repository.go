package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"spendwise/internal/domain/user"
	"spendwise/internal/infrastructure/crypto"
)

// UserRepository stores provider credentials encrypted at rest.
type UserRepository struct {
	db  *DB
	enc *crypto.Encryptor
}

var _ user.Repository = (*UserRepository)(nil)

func NewUserRepository(db *DB, enc *crypto.Encryptor) *UserRepository {
	return &UserRepository{db: db, enc: enc}
}

const userColumns = `id, email, access_token, transactions_cursor, created_at, updated_at`

func (r *UserRepository) Create(ctx context.Context, params user.CreateParams) (*user.User, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := `INSERT INTO users (email) VALUES ($1) RETURNING ` + userColumns
	u, err := r.scan(r.db.QueryRowContext(ctx, query, params.Email))
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return nil, fmt.Errorf("%w: email already registered", user.ErrInvalidInput)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) ListLinked(ctx context.Context) ([]*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE access_token IS NOT NULL ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked users: %w", err)
	}
	defer rows.Close()

	var users []*user.User
	for rows.Next() {
		u, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepository) LinkCredential(ctx context.Context, id int64, accessToken string) error {
	return r.write(ctx, `UPDATE users SET access_token = $2, transactions_cursor = NULL, updated_at = now() WHERE id = $1`,
		id, accessToken)
}

func (r *UserRepository) RotateCredential(ctx context.Context, id int64, accessToken string) error {
	return r.write(ctx, `UPDATE users SET access_token = $2, updated_at = now() WHERE id = $1`,
		id, accessToken)
}

func (r *UserRepository) UpdateSyncState(ctx context.Context, id int64, accessToken, cursor string) error {
	return r.write(ctx, `UPDATE users SET access_token = $2, transactions_cursor = NULLIF($3, ''), updated_at = now() WHERE id = $1`,
		id, accessToken, cursor)
}

func (r *UserRepository) write(ctx context.Context, query string, id int64, accessToken string, rest ...any) error {
	sealed, err := r.enc.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}
	args := append([]any{id, sealed}, rest...)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.ErrUserNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *UserRepository) scan(row scanner) (*user.User, error) {
	var u user.User
	var token, cursor sql.NullString
	if err := row.Scan(&u.ID, &u.Email, &token, &cursor, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if token.Valid {
		plain, err := r.enc.Decrypt(token.String)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt credential for user %d: %w", u.ID, err)
		}
		u.AccessToken = &plain
	}
	if cursor.Valid {
		u.Cursor = &cursor.String
	}
	return &u, nil
}
