package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// UserRepository backs the login/register HTTP handlers.
type UserRepository struct {
	db              *sql.DB
	insertStmt      *sql.Stmt
	getByUserIDStmt *sql.Stmt
}

func NewUserRepository(server *Server) (*UserRepository, error) {
	pool := server.DB()
	if pool == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	ctx := context.Background()

	insertStmt, err := pool.PrepareContext(ctx, `
		INSERT INTO users (user_id, password_hash, created_at) VALUES ($1, $2, $3)`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert user: %w", err)
	}

	getStmt, err := pool.PrepareContext(ctx, `
		SELECT user_id, password_hash FROM users WHERE user_id = $1`)
	if err != nil {
		return nil, fmt.Errorf("prepare get user: %w", err)
	}

	return &UserRepository{db: pool, insertStmt: insertStmt, getByUserIDStmt: getStmt}, nil
}

func (r *UserRepository) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{r.insertStmt, r.getByUserIDStmt} {
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing statements: %v", errs)
	}
	return nil
}

// ErrUserExists is returned by Create when user_id is already taken.
var ErrUserExists = fmt.Errorf("user already exists")

// Create inserts a new user, mapping a unique-violation to ErrUserExists
// rather than a raw driver error.
func (r *UserRepository) Create(ctx context.Context, userID, passwordHash string) error {
	_, err := r.insertStmt.ExecContext(ctx, userID, passwordHash, time.Now())
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "unique constraint") {
			return ErrUserExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// PasswordHash returns the stored bcrypt hash for userID, or "", false if
// no such user exists.
func (r *UserRepository) PasswordHash(ctx context.Context, userID string) (string, bool, error) {
	var gotUserID, hash string
	err := r.getByUserIDStmt.QueryRowContext(ctx, userID).Scan(&gotUserID, &hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get user: %w", err)
	}
	return hash, true, nil
}
