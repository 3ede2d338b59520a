package portfolio

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Store persists holdings per user.
type Store struct {
	db *sql.DB
}

// NewStore creates a holdings store on an open database.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate portfolios: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS portfolios (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    INTEGER NOT NULL REFERENCES users(id),
			asset_type TEXT NOT NULL,
			value      REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_portfolios_user ON portfolios(user_id);
	`)
	return err
}

// List returns the user's holdings in insertion order.
func (s *Store) List(ctx context.Context, userID int64) ([]Holding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT asset_type, value FROM portfolios WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query portfolio for user %d: %w", userID, err)
	}
	defer rows.Close()

	var out []Holding
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.Type, &h.Value); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Replace swaps the user's holdings for holdings in one transaction.
// Entries with a blank type or a non-finite value are rejected.
func (s *Store) Replace(ctx context.Context, userID int64, holdings []Holding) error {
	for i, h := range holdings {
		if strings.TrimSpace(h.Type) == "" {
			return fmt.Errorf("%w: holding %d has no type", ErrInvalidInput, i)
		}
		if !Finite(h.Value) {
			return fmt.Errorf("%w: holding %d value is not a number", ErrInvalidInput, i)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM portfolios WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear portfolio: %w", err)
	}
	for _, h := range holdings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO portfolios (user_id, asset_type, value) VALUES (?, ?, ?)`,
			userID, strings.TrimSpace(h.Type), h.Value,
		); err != nil {
			return fmt.Errorf("insert holding: %w", err)
		}
	}
	return tx.Commit()
}
