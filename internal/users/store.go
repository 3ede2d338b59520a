// Package users persists Penny accounts: registered users with a
// bcrypt password hash, and the placeholder rows materialized when a
// thread is saved for an id that has never registered.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotFound is returned when no user matches the lookup.
var ErrNotFound = errors.New("user not found")

// ErrEmailTaken is returned by Create when the email is already registered.
var ErrEmailTaken = errors.New("email already registered")

// User is one row of the users table. Email and PasswordHash are empty
// for placeholder users.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Store manages user persistence in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a user store on an open database, creating the
// schema if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate users: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			name                TEXT NOT NULL,
			email               TEXT UNIQUE COLLATE NOCASE,
			password_hash       TEXT,
			reset_token         TEXT,
			reset_token_expires TEXT,
			created_at          TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_users_reset_token ON users(reset_token);
	`)
	return err
}

// PlaceholderName is the display name given to a user row created only
// to anchor a thread mapping.
func PlaceholderName(id int64) string {
	return "Guest_" + strconv.FormatInt(id, 10)
}

// Create inserts a registered user and returns it with its assigned id.
func (s *Store) Create(ctx context.Context, name, email, passwordHash string) (User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, email, password_hash, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(email) DO NOTHING`,
		name, email, passwordHash, now.Format(time.RFC3339),
	)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	if n == 0 {
		return User{}, ErrEmailTaken
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return User{ID: id, Name: name, Email: email, PasswordHash: passwordHash, CreatedAt: now}, nil
}

// GetByID returns the user with the given id.
func (s *Store) GetByID(ctx context.Context, id int64) (User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE id = ?`, id))
}

// GetByEmail returns the user registered with email (case-insensitive).
func (s *Store) GetByEmail(ctx context.Context, email string) (User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE email = ?`, email))
}

// EnsureExists materializes a placeholder row for id if none exists.
// Existing rows are left untouched.
func (s *Store) EnsureExists(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, PlaceholderName(id), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("ensure user %d: %w", id, err)
	}
	return nil
}

// SetResetToken stores a password reset token and its expiry.
func (s *Store) SetResetToken(ctx context.Context, id int64, token string, expires time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET reset_token = ?, reset_token_expires = ? WHERE id = ?`,
		token, expires.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return requireRow(res)
}

// FindByResetToken returns the user holding token, provided the token
// has not expired at now.
func (s *Store) FindByResetToken(ctx context.Context, token string, now time.Time) (User, error) {
	var expires sql.NullString
	var u User
	var email, hash sql.NullString
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at, reset_token_expires
		 FROM users WHERE reset_token = ?`, token,
	).Scan(&u.ID, &u.Name, &email, &hash, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("find reset token: %w", err)
	}
	if !expires.Valid {
		return User{}, ErrNotFound
	}
	exp, err := time.Parse(time.RFC3339, expires.String)
	if err != nil || !now.Before(exp) {
		return User{}, ErrNotFound
	}
	u.Email = email.String
	u.PasswordHash = hash.String
	u.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return u, nil
}

// UpdatePassword replaces the password hash and clears any reset token.
func (s *Store) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, reset_token = NULL, reset_token_expires = NULL
		 WHERE id = ?`, passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireRow(res)
}

func (s *Store) scanOne(row *sql.Row) (User, error) {
	var u User
	var email, hash sql.NullString
	var created string
	err := row.Scan(&u.ID, &u.Name, &email, &hash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("query user: %w", err)
	}
	u.Email = email.String
	u.PasswordHash = hash.String
	u.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return u, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
