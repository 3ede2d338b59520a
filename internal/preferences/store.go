// Package preferences stores each registered user's personalization
// profile and renders it into the instruction text injected into
// their conversation.
package preferences

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a user has no stored profile.
var ErrNotFound = errors.New("preferences not found")

// ErrMissingUser is returned when a profile has no user id.
var ErrMissingUser = errors.New("user id is required")

// Profile is one user_bot_settings row. Empty strings are stored as
// NULL.
type Profile struct {
	UserID int64

	Nickname           string
	Age                string
	Profession         string
	IncomeRange        string
	FinancialGoals     string
	ExtraInfo          string
	RiskTolerance      string
	CommunicationStyle string

	Tone           string
	Language       string
	FinancialStyle string
	Persona        string

	UpdatedAt time.Time
}

// Store persists profiles in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a preference store on an open database.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate preferences: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS user_bot_settings (
			user_id             INTEGER PRIMARY KEY REFERENCES users(id),
			nickname            TEXT,
			age                 TEXT,
			profession          TEXT,
			income_range        TEXT,
			financial_goals     TEXT,
			extra_info          TEXT,
			risk_tolerance      TEXT,
			communication_style TEXT,
			tone                TEXT,
			language            TEXT,
			financial_style     TEXT,
			persona             TEXT,
			updated_at          TEXT NOT NULL
		)
	`)
	return err
}

const profileColumns = `user_id, nickname, age, profession, income_range, financial_goals,
	extra_info, risk_tolerance, communication_style, tone, language, financial_style,
	persona, updated_at`

// Get returns the profile for userID.
func (s *Store) Get(ctx context.Context, userID int64) (Profile, error) {
	var p Profile
	var cols [12]sql.NullString
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM user_bot_settings WHERE user_id = ?`, userID,
	).Scan(&p.UserID,
		&cols[0], &cols[1], &cols[2], &cols[3], &cols[4], &cols[5],
		&cols[6], &cols[7], &cols[8], &cols[9], &cols[10], &cols[11],
		&updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("query preferences for user %d: %w", userID, err)
	}

	for i, dst := range p.fields() {
		*dst = cols[i].String
	}
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return p, nil
}

// Upsert creates or replaces the profile for p.UserID.
func (s *Store) Upsert(ctx context.Context, p Profile) error {
	if p.UserID <= 0 {
		return ErrMissingUser
	}

	args := []any{p.UserID}
	for _, f := range p.fields() {
		args = append(args, nullable(*f))
	}
	args = append(args, time.Now().UTC().Format(time.RFC3339))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_bot_settings (`+profileColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			nickname = excluded.nickname,
			age = excluded.age,
			profession = excluded.profession,
			income_range = excluded.income_range,
			financial_goals = excluded.financial_goals,
			extra_info = excluded.extra_info,
			risk_tolerance = excluded.risk_tolerance,
			communication_style = excluded.communication_style,
			tone = excluded.tone,
			language = excluded.language,
			financial_style = excluded.financial_style,
			persona = excluded.persona,
			updated_at = excluded.updated_at`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("save preferences for user %d: %w", p.UserID, err)
	}
	return nil
}

// fields lists the text columns in profileColumns order.
func (p *Profile) fields() []*string {
	return []*string{
		&p.Nickname, &p.Age, &p.Profession, &p.IncomeRange, &p.FinancialGoals,
		&p.ExtraInfo, &p.RiskTolerance, &p.CommunicationStyle,
		&p.Tone, &p.Language, &p.FinancialStyle, &p.Persona,
	}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
