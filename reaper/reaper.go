package reaper

import (
	"log"
	"time"

	"github.com/TheCodeVerseHub/ModMail-Bot/session"
)

// Start запускает периодическую чистку истёкших сессий: resolved с
// прошедшим reset_at и зависших prompt'ов подтверждения. Работает
// независимо от трафика сообщений.
func Start(m *session.Manager, every time.Duration) {
	ticker := time.NewTicker(every)

	go func() {
		for range ticker.C {
			if n := m.Reap(); n > 0 {
				log.Printf("🧹 Чистка сессий: удалено %d истёкших", n)
			}
		}
	}()
}
