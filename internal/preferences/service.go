package preferences

import (
	"context"
	"errors"
	"log/slog"
)

// ThreadResolver finds a registered user's stored thread.
type ThreadResolver interface {
	Resolve(ctx context.Context, userID int64) (string, error)
}

// MessagePoster appends a user-role message to a thread.
type MessagePoster interface {
	AddMessage(ctx context.Context, threadID, content string) error
}

// Service couples profile storage with the context refresh sent to
// the user's thread.
type Service struct {
	store   *Store
	threads ThreadResolver
	poster  MessagePoster
	logger  *slog.Logger
}

// NewService builds a Service. A nil logger uses slog.Default.
func NewService(store *Store, threads ThreadResolver, poster MessagePoster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		threads: threads,
		poster:  poster,
		logger:  logger.With("component", "preferences"),
	}
}

// Get returns the stored profile for userID.
func (s *Service) Get(ctx context.Context, userID int64) (Profile, error) {
	return s.store.Get(ctx, userID)
}

// Lookup returns the profile for userID, or nil when the user is a
// guest, has no profile, or the lookup fails. Failures are logged.
func (s *Service) Lookup(ctx context.Context, userID int64) *Profile {
	if userID <= 0 {
		return nil
	}
	p, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn("preference lookup failed, using defaults", "user_id", userID, "error", err)
		return nil
	}
	return &p
}

// Save upserts p and, when the user already has a thread, appends an
// "updated" profile block to it. The refresh is best-effort: its
// failure is logged and does not fail the save.
func (s *Service) Save(ctx context.Context, p Profile) error {
	if err := s.store.Upsert(ctx, p); err != nil {
		return err
	}

	threadID, err := s.threads.Resolve(ctx, p.UserID)
	if err != nil {
		s.logger.Warn("context refresh skipped: thread lookup failed", "user_id", p.UserID, "error", err)
		return nil
	}
	if threadID == "" {
		s.logger.Debug("no thread for user, skipping context refresh", "user_id", p.UserID)
		return nil
	}
	if err := s.poster.AddMessage(ctx, threadID, ProfileInstruction(p, true)); err != nil {
		s.logger.Warn("context refresh failed", "user_id", p.UserID, "thread_id", threadID, "error", err)
	}
	return nil
}

// SendInitial appends the "initial" profile block to a newly created
// thread when the user has a stored profile. Best-effort.
func (s *Service) SendInitial(ctx context.Context, userID int64, threadID string) {
	p := s.Lookup(ctx, userID)
	if p == nil {
		return
	}
	if err := s.poster.AddMessage(ctx, threadID, ProfileInstruction(*p, false)); err != nil {
		s.logger.Warn("initial context injection failed", "user_id", userID, "thread_id", threadID, "error", err)
		return
	}
	s.logger.Debug("initial context injected", "user_id", userID, "thread_id", threadID)
}
