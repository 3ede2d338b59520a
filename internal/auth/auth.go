// Package auth handles Penny accounts: registration, login, signed
// session tokens carried in an HTTP-only cookie, and the emailed
// password-reset flow.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/nugget/penny/internal/mailer"
	"github.com/nugget/penny/internal/users"
)

// MinPasswordLen is the shortest accepted password.
const MinPasswordLen = 6

// Defaults for Config.
const (
	DefaultSessionTTL = time.Hour
	DefaultResetTTL   = time.Hour
)

// Error is a client-facing auth failure carrying its HTTP status.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func badRequest(msg string) *Error { return &Error{Status: http.StatusBadRequest, Message: msg} }
func unauthorized(msg string) *Error { return &Error{Status: http.StatusUnauthorized, Message: msg} }

func serverError(err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Message: "Server error! Please try again later.", Err: err}
}

// Client-facing messages.
const (
	MsgFieldsRequired      = "All fields are required!"
	MsgPasswordTooShort    = "Password must be at least 6 characters long."
	MsgEmailTaken          = "Email is already registered!"
	MsgCredentialsRequired = "Email and password are required!"
	MsgBadCredentials      = "Invalid email or password!"
	MsgEmailRequired       = "Email not found! Please try again."
	MsgUnknownEmail        = "User not found."
	MsgResetFieldsRequired = "Token and new password are required."
	MsgBadResetToken       = "Invalid or expired reset token."
)

// Config configures a Service.
type Config struct {
	Secret     string
	SessionTTL time.Duration
	ResetTTL   time.Duration
	BcryptCost int

	// ClientURL prefixes the reset link sent by email.
	ClientURL string

	Logger *slog.Logger
}

// Service implements the account flows on top of the user store.
type Service struct {
	users     *users.Store
	mail      mailer.Sender
	tokens    *Tokens
	resetTTL  time.Duration
	cost      int
	clientURL string
	now       func() time.Time
	logger    *slog.Logger
}

// NewService creates an auth service.
func NewService(store *users.Store, mail mailer.Sender, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = DefaultResetTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		users:     store,
		mail:      mail,
		tokens:    NewTokens(cfg.Secret, cfg.SessionTTL),
		resetTTL:  cfg.ResetTTL,
		cost:      cfg.BcryptCost,
		clientURL: strings.TrimRight(cfg.ClientURL, "/"),
		now:       time.Now,
		logger:    logger.With("component", "auth"),
	}
}

// Tokens returns the session token issuer.
func (s *Service) Tokens() *Tokens {
	return s.tokens
}

// Session is a signed-in user and their session token.
type Session struct {
	User  users.User
	Token string
}

// Register creates an account and signs it in.
func (s *Service) Register(ctx context.Context, name, email, password string) (Session, error) {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	if name == "" || email == "" || password == "" {
		return Session{}, badRequest(MsgFieldsRequired)
	}
	if len(password) < MinPasswordLen {
		return Session{}, badRequest(MsgPasswordTooShort)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Session{}, serverError(fmt.Errorf("hash password: %w", err))
	}

	u, err := s.users.Create(ctx, name, email, string(hash))
	if errors.Is(err, users.ErrEmailTaken) {
		return Session{}, badRequest(MsgEmailTaken)
	}
	if err != nil {
		return Session{}, serverError(err)
	}
	s.logger.Info("user registered", "user_id", u.ID)

	return s.session(u)
}

// Login verifies credentials and signs the user in.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Session{}, badRequest(MsgCredentialsRequired)
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		s.logger.Debug("login for unknown email")
		return Session{}, unauthorized(MsgBadCredentials)
	}
	if err != nil {
		return Session{}, serverError(err)
	}
	if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		s.logger.Debug("login with wrong password", "user_id", u.ID)
		return Session{}, unauthorized(MsgBadCredentials)
	}

	return s.session(u)
}

func (s *Service) session(u users.User) (Session, error) {
	token, err := s.tokens.Issue(u.ID, u.Name)
	if err != nil {
		return Session{}, serverError(err)
	}
	return Session{User: u, Token: token}, nil
}

// RequestPasswordReset stores a fresh reset token for the account
// registered under email and mails the reset link.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return badRequest(MsgEmailRequired)
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		return badRequest(MsgUnknownEmail)
	}
	if err != nil {
		return serverError(err)
	}

	token, err := newResetToken()
	if err != nil {
		return serverError(err)
	}
	if err := s.users.SetResetToken(ctx, u.ID, token, s.now().Add(s.resetTTL)); err != nil {
		return serverError(err)
	}

	link := s.clientURL + "/reset_password.html?token=" + url.QueryEscape(token)
	err = s.mail.Send(ctx, mailer.Message{
		To:      []string{u.Email},
		Subject: "Password Reset Request",
		Body:    "Click the link to reset your password:\n\n" + link,
	})
	if err != nil {
		return &Error{Status: http.StatusInternalServerError, Message: "Email failed to send", Err: err}
	}
	s.logger.Info("password reset requested", "user_id", u.ID)
	return nil
}

// ResetPassword replaces the password of the account holding token.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return badRequest(MsgResetFieldsRequired)
	}
	if len(newPassword) < MinPasswordLen {
		return badRequest(MsgPasswordTooShort)
	}

	u, err := s.users.FindByResetToken(ctx, token, s.now())
	if errors.Is(err, users.ErrNotFound) {
		return badRequest(MsgBadResetToken)
	}
	if err != nil {
		return serverError(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return serverError(fmt.Errorf("hash password: %w", err))
	}
	if err := s.users.UpdatePassword(ctx, u.ID, string(hash)); err != nil {
		return serverError(err)
	}
	s.logger.Info("password reset", "user_id", u.ID)
	return nil
}

// newResetToken returns 32 random bytes, hex encoded.
func newResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
