// Package threads maps registered users to their remote conversation
// thread. Guests are never persisted: every guest turn without an
// explicit thread id gets a fresh thread.
package threads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrStorage marks failures reading or writing the thread mapping, as
// opposed to failures allocating the remote thread.
var ErrStorage = errors.New("thread storage")

// resolveTimeout bounds a shared resolution once it no longer follows
// the first caller's context.
const resolveTimeout = time.Minute

// Creator allocates remote threads.
type Creator interface {
	CreateThread(ctx context.Context) (string, error)
}

// UserEnsurer materializes a user row so the mapping's foreign key
// holds.
type UserEnsurer interface {
	EnsureExists(ctx context.Context, id int64) error
}

// Store persists the user → thread mapping.
type Store struct {
	db *sql.DB
}

// NewStore creates a thread store on an open database.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate threads: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS threads (
			user_id    INTEGER PRIMARY KEY REFERENCES users(id),
			thread_id  TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

// Get returns the thread stored for userID, or "" when there is none.
func (s *Store) Get(ctx context.Context, userID int64) (string, error) {
	var threadID string
	err := s.db.QueryRowContext(ctx,
		`SELECT thread_id FROM threads WHERE user_id = ?`, userID,
	).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query thread for user %d: %w", userID, err)
	}
	return threadID, nil
}

// Put upserts the mapping for userID.
func (s *Store) Put(ctx context.Context, userID int64, threadID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (user_id, thread_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET thread_id = excluded.thread_id, updated_at = excluded.updated_at`,
		userID, threadID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save thread for user %d: %w", userID, err)
	}
	return nil
}

// Directory resolves, creates and saves threads. A non-positive user
// id denotes a guest.
type Directory struct {
	store   *Store
	users   UserEnsurer
	creator Creator
	flights singleflight.Group
	logger  *slog.Logger
}

// NewDirectory builds a Directory. A nil logger uses slog.Default.
func NewDirectory(store *Store, users UserEnsurer, creator Creator, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		store:   store,
		users:   users,
		creator: creator,
		logger:  logger.With("component", "threads"),
	}
}

// Resolve returns the stored thread for a registered user. Guests
// always resolve to "".
func (d *Directory) Resolve(ctx context.Context, userID int64) (string, error) {
	if userID <= 0 {
		return "", nil
	}
	return d.store.Get(ctx, userID)
}

// Create allocates a new remote thread.
func (d *Directory) Create(ctx context.Context) (string, error) {
	return d.creator.CreateThread(ctx)
}

// Save records threadID for a registered user, first materializing a
// placeholder user row when needed. Saving for a guest is a no-op.
func (d *Directory) Save(ctx context.Context, userID int64, threadID string) error {
	if userID <= 0 {
		return nil
	}
	if err := d.users.EnsureExists(ctx, userID); err != nil {
		return err
	}
	return d.store.Put(ctx, userID, threadID)
}

// Resolution is the outcome of ResolveOrCreate.
type Resolution struct {
	ThreadID string
	Created  bool
}

// ResolveOrCreate returns the user's thread, creating and saving one
// when none exists. Concurrent calls for the same registered user
// share a single resolution, and onCreate (if non-nil) runs once,
// inside that resolution, for a newly created thread. The shared
// resolution is not cancelled when the caller that started it goes
// away. Mapping failures wrap ErrStorage.
func (d *Directory) ResolveOrCreate(ctx context.Context, userID int64, onCreate func(ctx context.Context, threadID string)) (Resolution, error) {
	if userID <= 0 {
		id, err := d.Create(ctx)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{ThreadID: id, Created: true}, nil
	}

	v, err, shared := d.flights.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()

		existing, err := d.Resolve(ctx, userID)
		if err != nil {
			return Resolution{}, fmt.Errorf("%w: %w", ErrStorage, err)
		}
		if existing != "" {
			return Resolution{ThreadID: existing}, nil
		}

		id, err := d.Create(ctx)
		if err != nil {
			return Resolution{}, err
		}
		if err := d.Save(ctx, userID, id); err != nil {
			return Resolution{}, fmt.Errorf("%w: %w", ErrStorage, err)
		}
		d.logger.Info("thread created for user", "user_id", userID, "thread_id", id)
		if onCreate != nil {
			onCreate(ctx, id)
		}
		return Resolution{ThreadID: id, Created: true}, nil
	})
	if err != nil {
		return Resolution{}, err
	}
	if shared {
		d.logger.Debug("thread resolution shared", "user_id", userID)
	}
	return v.(Resolution), nil
}
