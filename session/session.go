package session

import (
	"log"
	"sync"
	"time"
)

// Состояния сессии модмейла. Отсутствие записи = сессии нет.
const (
	StateOpen     = "open"
	StateLocked   = "locked"
	StateResolved = "resolved"
)

// Record — одна сессия на пользователя (ключ map — его Telegram ID).
type Record struct {
	State         string    `json:"state"`
	ResetAt       time.Time `json:"reset_at,omitempty"`
	LastActivity  time.Time `json:"last_activity"`
	PendingText   string    `json:"pending_text,omitempty"`
	PendingFileID string    `json:"pending_file_id,omitempty"`
	PendingIsDoc  bool      `json:"pending_is_document,omitempty"`
	PromptUntil   time.Time `json:"prompt_until,omitempty"`
}

// HasPending — есть ли неподтверждённое сообщение (висит prompt с кнопками).
func (r Record) HasPending() bool {
	return r.PendingText != "" || r.PendingFileID != ""
}

// ClearPending убирает неподтверждённое сообщение, не трогая состояние.
func (r *Record) ClearPending() {
	r.PendingText = ""
	r.PendingFileID = ""
	r.PendingIsDoc = false
	r.PromptUntil = time.Time{}
}

// Store — пассивный сериализатор снапшота (см. storage.FileStore).
// Manager зовёт Save после каждой мутации, сам Store ничего не меняет.
type Store interface {
	Save(sessions map[int64]Record) error
}

// Manager единолично владеет map сессий и реестром per-user мьютексов.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]Record
	locks    map[int64]*sync.Mutex
	store    Store
	now      func() time.Time
}

func NewManager(store Store) *Manager {
	return &Manager{
		sessions: make(map[int64]Record),
		locks:    make(map[int64]*sync.Mutex),
		store:    store,
		now:      time.Now,
	}
}

// Restore загружает снапшот при старте (до запуска обработчиков).
func (m *Manager) Restore(sessions map[int64]Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range sessions {
		m.sessions[id] = rec
	}
}

func (m *Manager) lockFor(userID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// WithLock сериализует обработку событий одного пользователя.
// Разные пользователи идут параллельно.
func (m *Manager) WithLock(userID int64, fn func()) {
	l := m.lockFor(userID)
	l.Lock()
	defer l.Unlock()
	fn()
}

// Current возвращает сессию пользователя, попутно удаляя истёкшие:
// resolved с прошедшим reset_at и зависшие prompt'ы (молча, как и задумано).
// Звать только под WithLock этого пользователя.
func (m *Manager) Current(userID int64) (Record, bool) {
	m.mu.Lock()
	rec, ok := m.sessions[userID]
	if ok && m.expiredLocked(rec) {
		delete(m.sessions, userID)
		m.persistLocked()
		m.mu.Unlock()
		return Record{}, false
	}
	m.mu.Unlock()
	return rec, ok
}

// Put сохраняет сессию и сразу пишет снапшот на диск.
func (m *Manager) Put(userID int64, rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[userID] = rec
	m.persistLocked()
}

// Delete удаляет сессию (и её мьютекс, чтобы реестр не рос бесконечно).
func (m *Manager) Delete(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	delete(m.locks, userID)
	m.persistLocked()
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Snapshot — копия текущей map (для тестов и отладки).
func (m *Manager) Snapshot() map[int64]Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]Record, len(m.sessions))
	for id, rec := range m.sessions {
		out[id] = rec
	}
	return out
}

// Reap — один проход чистки: под per-user локом удаляет истёкшие сессии,
// снапшот пишется один раз на весь проход, а не на каждую сессию.
// Повторный запуск без новой активности — no-op.
func (m *Manager) Reap() int {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	removed := 0
	for _, id := range ids {
		m.WithLock(id, func() {
			m.mu.Lock()
			rec, ok := m.sessions[id]
			if ok && m.expiredLocked(rec) {
				delete(m.sessions, id)
				delete(m.locks, id)
				removed++
			}
			m.mu.Unlock()
		})
	}

	if removed > 0 {
		m.mu.Lock()
		m.persistLocked()
		m.mu.Unlock()
	}
	return removed
}

func (m *Manager) expiredLocked(rec Record) bool {
	now := m.now()
	if rec.State == StateResolved && !rec.ResetAt.IsZero() && !now.Before(rec.ResetAt) {
		return true
	}
	if rec.HasPending() && !rec.PromptUntil.IsZero() && now.After(rec.PromptUntil) {
		return true
	}
	return false
}

// Сбой записи снапшота не фатален: память остаётся источником правды,
// потеряться может только последняя мутация при падении процесса.
func (m *Manager) persistLocked() {
	if m.store == nil {
		return
	}
	snapshot := make(map[int64]Record, len(m.sessions))
	for id, rec := range m.sessions {
		snapshot[id] = rec
	}
	if err := m.store.Save(snapshot); err != nil {
		log.Printf("⚠️ Не удалось сохранить сессии на диск: %v", err)
	}
}
