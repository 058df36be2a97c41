package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/stepgate/internal/database"
	"github.com/BradenHooton/stepgate/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, username, email, password_hash, is_active, two_factor_type,
	totp_secret_encrypted, totp_secret_nonce, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// rowScanner interface for scanning user rows
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUserRow populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User

	err := scanner.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.IsActive, &user.TwoFactorType,
		&user.TOTPSecretEncrypted, &user.TOTPSecretNonce,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`

	return scanUserRow(r.pool.QueryRow(ctx, query, username))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, username, email, password_hash, is_active, two_factor_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + userColumns

	createdUser, err := scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Username, user.Email, user.PasswordHash,
		user.IsActive, user.TwoFactorType, user.CreatedAt, user.UpdatedAt,
	))
	if err != nil {
		return nil, err
	}

	return createdUser, nil
}

// SetTwoFactorType stores the per-user strategy tag. An empty tag clears it.
func (r *UserRepository) SetTwoFactorType(ctx context.Context, id, twoFactorType string) error {
	query := `UPDATE users SET two_factor_type = $2, updated_at = $3 WHERE id = $1`

	return r.exec(ctx, query, id, twoFactorType, time.Now())
}

func (r *UserRepository) SetTOTPSecret(ctx context.Context, id string, encrypted, nonce []byte) error {
	query := `
		UPDATE users SET totp_secret_encrypted = $2, totp_secret_nonce = $3, updated_at = $4
		WHERE id = $1
	`

	return r.exec(ctx, query, id, encrypted, nonce, time.Now())
}

// exec runs a single-row update and reports ErrNotFound when nothing matched
func (r *UserRepository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", database.MapPostgresError(err))
	}

	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
