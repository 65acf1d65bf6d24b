package db

import (
	"database/sql"
	"time"
)

// LogEntry — одна запись архива переписки.
type LogEntry struct {
	ID        int64
	UserID    int64
	Direction string // "user" или "moderator"
	Author    string
	Content   string
	CreatedAt time.Time
}

// InsertRelay пишет переданное сообщение в архив.
func InsertRelay(db *sql.DB, userID int64, direction, author, content string) error {
	_, err := db.Exec(`
		INSERT INTO modmail_log (user_id, direction, author, content)
		VALUES ($1, $2, $3, $4)
	`, userID, direction, author, content)
	return err
}

// GetHistory возвращает последние записи переписки с пользователем,
// от старых к новым.
func GetHistory(db *sql.DB, userID int64, limit int) ([]LogEntry, error) {
	rows, err := db.Query(`
		SELECT id, user_id, direction, author, content, created_at
		FROM modmail_log
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var author, content sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Direction, &author, &content, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Author = author.String
		e.Content = content.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// разворачиваем: в ответе хотим от старых к новым
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
