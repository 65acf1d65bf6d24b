package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/TheCodeVerseHub/ModMail-Bot/session"
)

// FileStore хранит все сессии одним JSON-файлом:
// {"<user_id>": {"state": "...", ...}, ...}
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load читает снапшот при старте. Нет файла — пустая map.
// Битые записи пропускаются по одной с логом, загрузка не прерывается.
func (s *FileStore) Load() (map[int64]session.Record, error) {
	sessions := make(map[int64]session.Record)

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return sessions, nil
	}
	if err != nil {
		return nil, fmt.Errorf("чтение %s: %w", s.path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("⚠️ Файл сессий %s не разобрался (%v), начинаем с пустого", s.path, err)
		return sessions, nil
	}

	for key, val := range raw {
		userID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			log.Printf("⚠️ Пропускаем сессию с нечисловым ключом %q", key)
			continue
		}
		var rec session.Record
		if err := json.Unmarshal(val, &rec); err != nil {
			log.Printf("⚠️ Пропускаем битую сессию пользователя %d: %v", userID, err)
			continue
		}
		sessions[userID] = rec
	}
	return sessions, nil
}

// Save перезаписывает снапшот целиком: сначала во временный файл,
// потом rename, чтобы не оставить на диске полузаписанный JSON.
func (s *FileStore) Save(sessions map[int64]session.Record) error {
	dumpable := make(map[string]session.Record, len(sessions))
	for userID, rec := range sessions {
		dumpable[strconv.FormatInt(userID, 10)] = rec
	}

	data, err := json.Marshal(dumpable)
	if err != nil {
		return fmt.Errorf("сериализация сессий: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("создание каталога %s: %w", dir, err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("запись %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("замена %s: %w", s.path, err)
	}
	return nil
}
