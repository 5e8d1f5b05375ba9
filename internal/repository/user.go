package repository

import (
	"context"
	"errors"
	"time"

	"release-maker/internal/domain"
)

// ErrDuplicate is wrapped when a unique key is already taken.
var ErrDuplicate = errors.New("already exists")

// UserRepository stores API operators.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) (int64, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	RecordLogin(ctx context.Context, id int64, at time.Time) error
}
