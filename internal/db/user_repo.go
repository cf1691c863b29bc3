package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"medevent/internal/types"
)

// UserRepository provides the pipeline's read-only view of the users table,
// used to resolve recipient details for email dispatches.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given database
// connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID loads a user. Returns ErrCodeNotFoundUser when the row is missing.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	var (
		u    types.User
		role string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, email, full_name, role FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &u.FullName, &role)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load user", err)
	}

	u.Role = types.UserRole(role)
	return &u, nil
}
