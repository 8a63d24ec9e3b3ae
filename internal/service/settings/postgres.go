package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/park285/Cheese-Arena/internal/domain"
)

const schema = `
	CREATE TABLE IF NOT EXISTS user_settings (
		session_id  TEXT PRIMARY KEY,
		preferences JSONB NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// PostgresRepository stores preferences in the user_settings table.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the table when it is missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create user_settings: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, sessionID string) (*domain.SettingsRecord, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	const query = `
		SELECT
			session_id,
			preferences,
			updated_at
		FROM user_settings
		WHERE session_id = $1
		LIMIT 1`

	var (
		rec   domain.SettingsRecord
		prefs []byte
	)
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(&rec.SessionID, &prefs, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select user settings: %w", err)
	}
	rec.Preferences, err = decodePreferences(prefs)
	if err != nil {
		return nil, fmt.Errorf("unmarshal preferences: %w", err)
	}
	return &rec, nil
}

func (r *PostgresRepository) Save(ctx context.Context, rec domain.SettingsRecord) error {
	if err := checkSession(rec.SessionID); err != nil {
		return err
	}
	prefs, err := json.Marshal(rec.Preferences)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	const query = `
		INSERT INTO user_settings (
			session_id,
			preferences,
			updated_at,
			created_at
		)
		VALUES ($1, $2::jsonb, NOW(), NOW())
		ON CONFLICT (session_id)
		DO UPDATE SET
			preferences = EXCLUDED.preferences,
			updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, query, rec.SessionID, prefs); err != nil {
		return fmt.Errorf("upsert user settings: %w", err)
	}
	return nil
}
