package db

import (
	"database/sql"
	"fmt"
)

func Migrate(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS modmail_log (
			id SERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			direction TEXT NOT NULL,
			author TEXT DEFAULT '',
			content TEXT,
			created_at TIMESTAMP DEFAULT NOW()
		);`,

		`CREATE INDEX IF NOT EXISTS modmail_log_user_idx ON modmail_log (user_id);`,
	}

	for i, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("миграция #%d: %w", i+1, err)
		}
	}
	return nil
}
