// Package users provides storage for user accounts.
package users

import (
	"context"

	"github.com/dmitrijs2005/wirechat/internal/server/models"
)

// Repository describes user account storage operations.
type Repository interface {
	// Create stores a new user and fills in the assigned id.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// GetByUsername returns a user by login name, or common.ErrNotFound.
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}
