package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"release-maker/internal/repository"
	"release-maker/internal/repository/sqlite"
)

func newUserService(t *testing.T, secret string) UserService {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	users := sqlite.NewUserRepository(db)
	if err := users.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return NewUserService(users, secret)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc := newUserService(t, "letmein")

	user, err := svc.Register(ctx, " alice ", "correct horse", "letmein")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Username != "alice" || user.PasswordHash != "" {
		t.Fatalf("user not sanitised: %+v", user)
	}
	if _, err := svc.Register(ctx, "alice", "correct horse", "letmein"); !errors.Is(err, ErrUserAlreadyExists) {
		t.Fatalf("duplicate register: %v", err)
	}

	authed, err := svc.Authenticate(ctx, "alice", "correct horse")
	if err != nil || authed.ID != user.ID {
		t.Fatalf("authenticate = %+v, %v", authed, err)
	}
	if _, err := svc.Authenticate(ctx, "alice", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "bob", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc := newUserService(t, "letmein")
	if _, err := svc.Register(ctx, "bob", "short", "letmein"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short password accepted")
	}
	if _, err := svc.Register(ctx, "bob", "long enough", "nope"); !errors.Is(err, ErrInvalidRegistrationPassword) {
		t.Fatalf("bad secret: %v", err)
	}
	if _, err := newUserService(t, "").Register(ctx, "bob", "long enough", ""); err == nil {
		t.Fatalf("registration without configured secret accepted")
	}
}

func TestAuthenticateRecordsLogin(t *testing.T) {
	ctx := context.Background()
	svc := newUserService(t, "letmein")
	user, err := svc.Register(ctx, "carol", "correct horse", "letmein")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.LastLoginAt != nil {
		t.Fatalf("new user has a login: %v", user.LastLoginAt)
	}
	if _, err := svc.Authenticate(ctx, "carol", "correct horse"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	stored, err := svc.GetByID(ctx, user.ID)
	if err != nil || stored.LastLoginAt == nil {
		t.Fatalf("login not recorded: %+v, %v", stored, err)
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc := newUserService(t, "letmein")
	user, err := svc.Register(ctx, "dave", "correct horse", "letmein")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := svc.ChangePassword(ctx, user.ID, "wrong password", "battery staple"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current password: %v", err)
	}
	if err := svc.ChangePassword(ctx, user.ID, "correct horse", "tiny"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short password: %v", err)
	}
	if err := svc.ChangePassword(ctx, user.ID+100, "correct horse", "battery staple"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("unknown user: %v", err)
	}
	if err := svc.ChangePassword(ctx, user.ID, "correct horse", "battery staple"); err != nil {
		t.Fatalf("change: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "dave", "battery staple"); err != nil {
		t.Fatalf("new password: %v", err)
	}
}
