// Package services contains server-side business logic: account handling
// and the sync endpoint's apply/pull cycle.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/wirechat/internal/common"
	"github.com/dmitrijs2005/wirechat/internal/dbx"
	"github.com/dmitrijs2005/wirechat/internal/server/auth"
	"github.com/dmitrijs2005/wirechat/internal/server/models"
	"github.com/dmitrijs2005/wirechat/internal/server/repositories/repomanager"
	"golang.org/x/crypto/bcrypt"
)

// UserService handles registration, login and token minting.
type UserService struct {
	db            dbx.DBTX
	repos         repomanager.RepositoryManager
	jwtSecret     []byte
	tokenValidity time.Duration
}

// NewUserService constructs a UserService.
func NewUserService(db dbx.DBTX, repos repomanager.RepositoryManager, jwtSecret string, tokenValidity time.Duration) *UserService {
	return &UserService{
		db:            db,
		repos:         repos,
		jwtSecret:     []byte(jwtSecret),
		tokenValidity: tokenValidity,
	}
}

// Register creates a new account with a bcrypt-hashed password and returns
// an access token for it.
func (s *UserService) Register(ctx context.Context, username, password string) (string, error) {
	repo := s.repos.Users(s.db)

	if _, err := repo.GetByUsername(ctx, username); err == nil {
		return "", common.ErrUserAlreadyExists
	} else if !errors.Is(err, common.ErrNotFound) {
		return "", fmt.Errorf("error searching user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("error hashing password: %w", err)
	}

	user, err := repo.Create(ctx, &models.User{Username: username, PasswordHash: hash})
	if err != nil {
		return "", fmt.Errorf("error creating user: %w", err)
	}
	return auth.GenerateToken(user.ID, s.jwtSecret, s.tokenValidity)
}

// Login verifies credentials and mints an access token. Bad username and
// bad password are indistinguishable to the caller.
func (s *UserService) Login(ctx context.Context, username, password string) (string, error) {
	repo := s.repos.Users(s.db)

	user, err := repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "", common.ErrInvalidCredentials
		}
		return "", fmt.Errorf("error searching user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return "", common.ErrInvalidCredentials
	}

	return auth.GenerateToken(user.ID, s.jwtSecret, s.tokenValidity)
}
