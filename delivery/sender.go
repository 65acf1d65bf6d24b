package delivery

import (
	"errors"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Kind — класс сбоя доставки.
type Kind int

const (
	Unknown Kind = iota
	// Throttled — Telegram попросил притормозить (429). Ретраится.
	Throttled
	// Unreachable — получателя больше нет: бот заблокирован, чат удалён,
	// пользователь деактивирован. Не ретраится.
	Unreachable
)

// Error — сбой доставки с классификацией поверх исходной ошибки API.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Classify раскладывает ошибку Telegram API по таксономии.
func Classify(err error) Kind {
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) {
		return Unknown
	}
	switch {
	case tgErr.Code == 429:
		return Throttled
	case tgErr.Code == 403:
		return Unreachable
	case tgErr.Code == 400 && strings.Contains(tgErr.Message, "chat not found"):
		return Unreachable
	}
	return Unknown
}

// retryAfter — сколько Telegram посоветовал подождать (0 — совета не было).
func retryAfter(err error) time.Duration {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
		return time.Duration(tgErr.RetryAfter) * time.Second
	}
	return 0
}

// API — кусок tgbotapi.BotAPI, который нужен отправителю.
// В тестах подменяется фейком.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
}

// Sender — исходящие отправки с ретраями на rate limit и ограничением
// числа одновременных отправок.
type Sender struct {
	api         API
	sem         chan struct{}
	maxAttempts int
	sleep       func(time.Duration)

	mu    sync.Mutex
	chats map[int64]tgbotapi.Chat
}

func NewSender(api API, maxParallel int) *Sender {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Sender{
		api:         api,
		sem:         make(chan struct{}, maxParallel),
		maxAttempts: 3,
		sleep:       time.Sleep,
		chats:       make(map[int64]tgbotapi.Chat),
	}
}

// SetSleep подменяет ожидание между ретраями (нужно тестам,
// чтобы не ждать настоящие бэкоффы).
func (s *Sender) SetSleep(fn func(time.Duration)) {
	s.sleep = fn
}

// Send отправляет сообщение с ретраями на 429 (до 3 попыток).
// Ожидание между попытками — retry_after от Telegram, иначе 2^attempt + jitter.
// Прочие ошибки отдаются сразу, без ретраев.
func (s *Sender) Send(chatID int64, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		msg, err := s.api.Send(c)
		if err == nil {
			return msg, nil
		}

		kind := Classify(err)
		if kind != Throttled {
			if kind == Unreachable {
				s.forget(chatID)
			}
			return tgbotapi.Message{}, &Error{Kind: kind, Err: err}
		}

		lastErr = err
		if attempt == s.maxAttempts-1 {
			break
		}
		wait := retryAfter(err)
		if wait == 0 {
			wait = time.Duration(1<<attempt)*time.Second +
				time.Duration(rand.Float64()*float64(time.Second))
		}
		log.Printf("⚠️ Telegram просит подождать, повтор через %s (попытка %d/%d, чат %d)",
			wait, attempt+1, s.maxAttempts, chatID)
		s.sleep(wait)
	}
	return tgbotapi.Message{}, &Error{Kind: Throttled, Err: lastErr}
}

// SendBestEffort — уведомления, которые не должны ронять основной поток:
// недоступного получателя и исчерпанные ретраи просто логируем,
// незнакомые ошибки логируем громче, но тоже не паникуем.
func (s *Sender) SendBestEffort(chatID int64, c tgbotapi.Chattable) {
	_, err := s.Send(chatID, c)
	if err == nil {
		return
	}
	var derr *Error
	if errors.As(err, &derr) && derr.Kind != Unknown {
		log.Printf("⚠️ Уведомление в чат %d не доставлено: %v", chatID, err)
		return
	}
	log.Printf("❌ Неожиданная ошибка при уведомлении чата %d: %v", chatID, err)
}

// ResolveChat резолвит чат через getChat и кэширует результат,
// чтобы не дёргать API перед каждой отправкой. Кэш сбрасывается,
// когда доставка в этот чат падает с Unreachable.
func (s *Sender) ResolveChat(chatID int64) (tgbotapi.Chat, error) {
	s.mu.Lock()
	if chat, ok := s.chats[chatID]; ok {
		s.mu.Unlock()
		return chat, nil
	}
	s.mu.Unlock()

	chat, err := s.api.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return tgbotapi.Chat{}, &Error{Kind: Classify(err), Err: err}
	}

	s.mu.Lock()
	s.chats[chatID] = chat
	s.mu.Unlock()
	return chat, nil
}

func (s *Sender) forget(chatID int64) {
	s.mu.Lock()
	delete(s.chats, chatID)
	s.mu.Unlock()
}
