package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/antlaw0/AI-DM-v2/internal/model/game"
)

// ErrUserNotFound is returned when a username has no identity row.
var ErrUserNotFound = errors.New("user not found")

// UserRepository manages player identities.
type UserRepository interface {
	GetOrCreate(ctx context.Context, username string) (*game.User, error)
	FindByUsername(ctx context.Context, username string) (*game.User, error)
}

type userRepo struct {
	db *gorm.DB
}

// NewUserRepository creates a sqlite-backed UserRepository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepo{db: db}
}

// GetOrCreate resolves a username to its identity, creating it on first
// contact. Concurrent first contacts race on the unique username index; the
// loser of the race re-reads the winner's row instead of failing.
func (r *userRepo) GetOrCreate(ctx context.Context, username string) (*game.User, error) {
	user, err := r.FindByUsername(ctx, username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	created := &game.User{Username: username}
	if err := r.db.WithContext(ctx).Create(created).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return r.FindByUsername(ctx, username)
		}
		return nil, err
	}
	return created, nil
}

// FindByUsername looks up an identity by its handle.
func (r *userRepo) FindByUsername(ctx context.Context, username string) (*game.User, error) {
	var user game.User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}
