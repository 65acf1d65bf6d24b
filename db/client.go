package db

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
)

// Connect открывает Postgres по DATABASE_URL.
// Пустой DATABASE_URL — архив переписки выключен, возвращаем nil без ошибки.
func Connect() (*sql.DB, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, nil
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("открытие соединения: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping базы данных: %w", err)
	}
	return conn, nil
}
