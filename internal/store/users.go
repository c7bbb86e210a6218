package store

import (
	"context"
	"fmt"

	"rental-marketplace/internal/models"
)

// CreateUser inserts a user, returning ErrDuplicate if the email is taken.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (email, password_hash, full_name)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query, user.Email, user.PasswordHash, user.FullName).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("email %s: %w", user.Email, ErrDuplicate)
	}
	return err
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", id); err != nil {
		return nil, notFound(err, "user", id)
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE email = $1", email); err != nil {
		return nil, notFound(err, "user", email)
	}
	return &user, nil
}

// UpdateUserProfile updates the editable profile fields
func (s *Store) UpdateUserProfile(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET full_name = $1, phone = $2, bio = $3, avatar_url = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`

	err := s.db.GetContext(ctx, &user.UpdatedAt, query,
		user.FullName, user.Phone, user.Bio, user.AvatarURL, user.ID)
	return notFound(err, "user", user.ID)
}
