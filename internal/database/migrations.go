package database

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Migrate runs all database migrations
func (db *DB) Migrate() error {
	log.Info().Str("component", "db").Msg("Running migrations...")

	migrations := []string{
		// Users table
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL UNIQUE,
			first_name TEXT,
			last_name TEXT,
			phone_number TEXT,
			referer_id INTEGER REFERENCES users(id),
			role TEXT NOT NULL DEFAULT 'user'
				CHECK (role IN ('user', 'driver', 'operator', 'administrator', 'owner', 'partner', 'developer')),
			status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive')),
			language TEXT NOT NULL DEFAULT 'uz' CHECK (language IN ('uz', 'ru')),
			last_step TEXT,
			last_value TEXT,
			temp_client_id INTEGER,
			last_message_id INTEGER NOT NULL DEFAULT 0,
			last_update_id INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CHECK (referer_id IS NULL OR referer_id <> id),
			CHECK ((last_step IS NULL) = (last_value IS NULL)),
			CHECK ((last_step IS NULL) = (temp_client_id IS NULL))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_referer_id ON users(referer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_role ON users(role)`,
		`CREATE INDEX IF NOT EXISTS idx_users_dialog ON users(last_step, updated_at)`,

		// Dialog step outcomes
		`CREATE TABLE IF NOT EXISTS dialog_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			step TEXT NOT NULL,
			outcome TEXT NOT NULL,
			executed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dialog_events_user_id ON dialog_events(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_dialog_events_step ON dialog_events(step)`,
		`CREATE INDEX IF NOT EXISTS idx_dialog_events_executed_at ON dialog_events(executed_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	log.Info().Str("component", "db").Msg("Migrations completed successfully")
	return nil
}
