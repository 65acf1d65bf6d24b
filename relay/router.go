package relay

import (
	"database/sql"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/TheCodeVerseHub/ModMail-Bot/db"
	"github.com/TheCodeVerseHub/ModMail-Bot/delivery"
	"github.com/TheCodeVerseHub/ModMail-Bot/session"
)

// Outcome — итог маршрутизации входящего события.
type Outcome int

const (
	OutcomeError Outcome = iota
	OutcomeGuidelineSent
	OutcomeConfirmationPrompted
	OutcomeRelayed
	OutcomeRejected
	OutcomeNoSuchSession
	OutcomeDeliveryFailed
)

// Attachment — вложение из сообщения пользователя (фото или документ).
type Attachment struct {
	FileID     string
	IsDocument bool
}

// Router решает, куда уходит входящее сообщение, и двигает state machine.
// Вся обработка событий одного пользователя сериализована через Manager.
type Router struct {
	sessions      *session.Manager
	sender        *delivery.Sender
	database      *sql.DB // nil — архив переписки выключен
	staffChat     atomic.Int64
	resetDelay    time.Duration
	confirmWindow time.Duration
	now           func() time.Time
}

func NewRouter(sessions *session.Manager, sender *delivery.Sender, database *sql.DB, resetDelay, confirmWindow time.Duration) *Router {
	return &Router{
		sessions:      sessions,
		sender:        sender,
		database:      database,
		resetDelay:    resetDelay,
		confirmWindow: confirmWindow,
		now:           time.Now,
	}
}

// SetStaffChat назначает чат модераторов (настройка на весь процесс).
func (r *Router) SetStaffChat(chatID int64) {
	r.staffChat.Store(chatID)
}

func (r *Router) StaffChat() int64 {
	return r.staffChat.Load()
}

// RouteUserMessage обрабатывает личное сообщение боту.
// Модератор, пишущий боту в личку, идёт тем же путём, что и все.
func (r *Router) RouteUserMessage(userID int64, text string, att *Attachment) Outcome {
	if text == "" && att == nil {
		return OutcomeRejected
	}

	out := OutcomeError
	r.sessions.WithLock(userID, func() {
		rec, ok := r.sessions.Current(userID)
		if !ok {
			// Первое сообщение: высылаем правила и открываем сессию.
			if _, err := r.sender.Send(userID, markdownMessage(userID, guidelineText)); err != nil {
				log.Printf("❌ Не удалось отправить правила пользователю %d: %v", userID, err)
				r.sender.SendBestEffort(userID, textMessage(userID, promptFailedText))
				return
			}
			r.sessions.Put(userID, session.Record{
				State:        session.StateOpen,
				LastActivity: r.now(),
			})
			log.Printf("📮 Правила отправлены пользователю %d, сессия открыта", userID)
			out = OutcomeGuidelineSent
			return
		}

		switch rec.State {
		case session.StateOpen, session.StateResolved:
			// resolved в окне сброса ведёт себя как open: снова спрашиваем
			// подтверждение, не релеим сразу.
			if _, err := r.sender.Send(userID, confirmMessage(userID, text, att)); err != nil {
				log.Printf("❌ Не удалось отправить подтверждение пользователю %d: %v", userID, err)
				r.sender.SendBestEffort(userID, textMessage(userID, promptFailedText))
				return
			}
			rec.PendingText = text
			if att != nil {
				rec.PendingFileID = att.FileID
				rec.PendingIsDoc = att.IsDocument
			} else {
				rec.PendingFileID = ""
				rec.PendingIsDoc = false
			}
			rec.PromptUntil = r.now().Add(r.confirmWindow)
			rec.LastActivity = r.now()
			r.sessions.Put(userID, rec)
			out = OutcomeConfirmationPrompted

		case session.StateLocked:
			r.sender.SendBestEffort(userID, textMessage(userID, lockedText))
			out = OutcomeRejected
		}
	})
	return out
}

// Confirm — пользователь нажал «Отправить» под prompt'ом.
// Релей в чат модераторов и блокировка сессии. При сбое доставки
// сессия остаётся как была, никаких частичных переходов.
func (r *Router) Confirm(userID int64, name string) Outcome {
	out := OutcomeError
	r.sessions.WithLock(userID, func() {
		rec, ok := r.sessions.Current(userID)
		if !ok || rec.State == session.StateLocked || !rec.HasPending() {
			out = OutcomeRejected
			return
		}

		staff := r.StaffChat()
		if staff == 0 {
			r.sender.SendBestEffort(userID, textMessage(userID, noStaffChatText))
			log.Printf("❌ MODMAIL_CHAT_ID не настроен, обращение пользователя %d не отправлено", userID)
			return
		}
		if _, err := r.sender.ResolveChat(staff); err != nil {
			log.Printf("❌ Чат модераторов %d недоступен: %v", staff, err)
			r.sender.SendBestEffort(userID, textMessage(userID, noStaffChatText))
			out = OutcomeDeliveryFailed
			return
		}

		if _, err := r.sender.Send(staff, staffRelayMessage(staff, userID, name, rec)); err != nil {
			log.Printf("❌ Релей обращения пользователя %d не доставлен: %v", userID, err)
			var derr *delivery.Error
			if errors.As(err, &derr) && derr.Kind == delivery.Throttled {
				r.sender.SendBestEffort(userID, textMessage(userID, rateLimitedText))
			} else {
				r.sender.SendBestEffort(userID, textMessage(userID, deliveryFailedText))
			}
			out = OutcomeDeliveryFailed
			return
		}

		r.archive(userID, "user", name, archiveContent(rec))
		r.sender.SendBestEffort(userID, markdownMessage(userID, sentText))
		r.sessions.Put(userID, session.Record{
			State:        session.StateLocked,
			LastActivity: r.now(),
		})
		log.Printf("✅ Обращение пользователя %d доставлено модераторам, сессия заблокирована", userID)
		out = OutcomeRelayed
	})
	return out
}

// Cancel — пользователь нажал «Отмена»: сообщение не уходит,
// сессия остаётся открытой.
func (r *Router) Cancel(userID int64) Outcome {
	out := OutcomeRejected
	r.sessions.WithLock(userID, func() {
		rec, ok := r.sessions.Current(userID)
		if !ok || !rec.HasPending() {
			return
		}
		rec.ClearPending()
		rec.LastActivity = r.now()
		r.sessions.Put(userID, rec)
		r.sender.SendBestEffort(userID, markdownMessage(userID, cancelledText))
		log.Printf("🚫 Пользователь %d отменил отправку", userID)
	})
	return out
}

// RouteStaffReply — ответ модератора пользователю. Сессия переходит
// в resolved с окном сброса reset_delay.
func (r *Router) RouteStaffReply(userID int64, moderator, text string) Outcome {
	out := OutcomeError
	r.sessions.WithLock(userID, func() {
		_, ok := r.sessions.Current(userID)
		if !ok {
			out = OutcomeNoSuchSession
			return
		}

		if _, err := r.sender.Send(userID, modReplyMessage(userID, moderator, text)); err != nil {
			log.Printf("❌ Ответ модератора не доставлен пользователю %d: %v", userID, err)
			out = OutcomeDeliveryFailed
			return
		}
		r.sender.SendBestEffort(userID, markdownMessage(userID, resolvedInfoText))

		now := r.now()
		r.sessions.Put(userID, session.Record{
			State:        session.StateResolved,
			ResetAt:      now.Add(r.resetDelay),
			LastActivity: now,
		})
		r.archive(userID, "moderator", moderator, text)
		log.Printf("✅ Модератор %s ответил пользователю %d, сброс сессии в %s",
			moderator, userID, now.Add(r.resetDelay).Format(time.RFC3339))

		if staff := r.StaffChat(); staff != 0 {
			r.sender.SendBestEffort(staff, staffResolvedMessage(staff, userID, moderator, text))
		}
		out = OutcomeRelayed
	})
	return out
}

// Close — явное закрытие сессии модератором.
func (r *Router) Close(userID int64, moderator string) Outcome {
	out := OutcomeNoSuchSession
	r.sessions.WithLock(userID, func() {
		if _, ok := r.sessions.Current(userID); !ok {
			return
		}
		r.sessions.Delete(userID)
		r.sender.SendBestEffort(userID, textMessage(userID, closedText))
		log.Printf("🔚 Модератор %s закрыл сессию пользователя %d", moderator, userID)
		out = OutcomeRelayed
	})
	return out
}

// archiveContent — текст обращения для архива. Вложение оставляет в
// архиве пометку с file_id, чтобы /history не терял обращения без текста.
func archiveContent(rec session.Record) string {
	content := rec.PendingText
	if rec.PendingFileID != "" {
		if content != "" {
			content += "\n"
		}
		content += "[вложение " + rec.PendingFileID + "]"
	}
	return content
}

// Архив переписки — best-effort: сбой БД только логируем.
func (r *Router) archive(userID int64, direction, author, content string) {
	if r.database == nil {
		return
	}
	if err := db.InsertRelay(r.database, userID, direction, author, content); err != nil {
		log.Printf("⚠️ Не удалось записать сообщение пользователя %d в архив: %v", userID, err)
	}
}
