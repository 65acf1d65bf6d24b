package bot

import (
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/TheCodeVerseHub/ModMail-Bot/db"
	"github.com/TheCodeVerseHub/ModMail-Bot/delivery"
	"github.com/TheCodeVerseHub/ModMail-Bot/relay"
)

var Bot *tgbotapi.BotAPI
var database *sql.DB

var router *relay.Router
var sender *delivery.Sender

const welcomeText = "👋 Привет! Это бот обратной связи с модераторами.\n" +
	"Просто напишите сюда сообщение — я передам его команде."

// SetupHandlers крутит цикл обновлений. Каждое обновление обрабатывается
// в своей горутине, сериализацию по пользователю обеспечивает router.
func SetupHandlers(api *tgbotapi.BotAPI, r *relay.Router, s *delivery.Sender, conn *sql.DB) {
	Bot = api
	router = r
	sender = s
	database = conn

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := api.GetUpdatesChan(u)

	for update := range updates {
		if update.Message != nil {
			go handleMessage(update.Message)
		}
		if update.CallbackQuery != nil {
			go handleCallback(update.CallbackQuery)
		}
	}
}

func handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}

	if msg.Chat.IsPrivate() {
		handleDM(msg)
		return
	}

	// В группах реагируем только на команды: обычные сообщения в чате
	// модераторов перепиской не считаются и никуда не релеятся.
	if msg.IsCommand() {
		handleStaffCommand(msg)
	}
}

// handleDM — личка с ботом. Даже если пишет модератор, путь обычный
// пользовательский: личка есть личка.
func handleDM(msg *tgbotapi.Message) {
	if msg.IsCommand() {
		if msg.Command() == "start" {
			reply(msg.Chat.ID, welcomeText)
		}
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	var att *relay.Attachment
	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]
		att = &relay.Attachment{FileID: photo.FileID}
	} else if msg.Document != nil {
		att = &relay.Attachment{FileID: msg.Document.FileID, IsDocument: true}
	}

	router.RouteUserMessage(msg.From.ID, text, att)
}

func handleCallback(query *tgbotapi.CallbackQuery) {
	// гасим "часики" на кнопке
	if _, err := Bot.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		log.Println("⚠️ Не удалось ответить на callback:", err)
	}

	if query.Message == nil || !query.Message.Chat.IsPrivate() {
		return
	}
	// Кнопки подтверждения жмёт только автор обращения, чужие
	// нажатия молча игнорируем.
	if query.From.ID != query.Message.Chat.ID {
		return
	}

	switch query.Data {
	case relay.CallbackConfirm:
		router.Confirm(query.From.ID, displayName(query.From))
	case relay.CallbackCancel:
		router.Cancel(query.From.ID)
	}
}

func handleStaffCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	if msg.Command() == "set_modmail_chat" {
		if !checkAdmin(chatID, msg.From.ID) {
			reply(chatID, "⛔ Команда доступна только администраторам чата.")
			return
		}
		router.SetStaffChat(chatID)
		log.Printf("✅ Чат модераторов переключён на %d", chatID)
		reply(chatID, "✅ Этот чат назначен чатом модераторов.")
		return
	}

	// остальные команды работают только в назначенном чате модераторов
	if chatID != router.StaffChat() {
		return
	}
	if !checkAdmin(chatID, msg.From.ID) {
		reply(chatID, "⛔ Команда доступна только администраторам чата.")
		return
	}

	switch msg.Command() {
	case "reply":
		userID, rest, ok := parseUserArg(msg.CommandArguments())
		if !ok || rest == "" {
			reply(chatID, "Использование: /reply <user_id> <текст ответа>")
			return
		}
		switch router.RouteStaffReply(userID, displayName(msg.From), rest) {
		case relay.OutcomeRelayed:
			reply(chatID, "✅ Ответ отправлен.")
		case relay.OutcomeNoSuchSession:
			reply(chatID, "❌ У этого пользователя нет открытой сессии.")
		case relay.OutcomeDeliveryFailed:
			reply(chatID, "❌ Не удалось отправить ЛС — возможно, пользователь закрыл личку.")
		default:
			reply(chatID, "❌ Что-то пошло не так, смотрите логи.")
		}

	case "close":
		userID, _, ok := parseUserArg(msg.CommandArguments())
		if !ok {
			reply(chatID, "Использование: /close <user_id>")
			return
		}
		if router.Close(userID, displayName(msg.From)) == relay.OutcomeRelayed {
			reply(chatID, "✅ Сессия закрыта.")
		} else {
			reply(chatID, "❌ У этого пользователя нет открытой сессии.")
		}

	case "history":
		if database == nil {
			reply(chatID, "❌ Архив не настроен (DATABASE_URL не задан).")
			return
		}
		userID, _, ok := parseUserArg(msg.CommandArguments())
		if !ok {
			reply(chatID, "Использование: /history <user_id>")
			return
		}
		entries, err := db.GetHistory(database, userID, 20)
		if err != nil {
			log.Println("❌ Ошибка чтения архива:", err)
			reply(chatID, "❌ Не удалось прочитать архив.")
			return
		}
		if len(entries) == 0 {
			reply(chatID, "Архив по этому пользователю пуст.")
			return
		}

		var list string
		for _, e := range entries {
			who := "👤 пользователь"
			if e.Direction == "moderator" {
				who = "👮 " + e.Author
			}
			list += fmt.Sprintf("%s — %s: %s\n", e.CreatedAt.Format("02.01.06 15:04"), who, e.Content)
		}
		reply(chatID, fmt.Sprintf("Переписка с %d:\n\n%s", userID, list))
	}
}

// reply — служебные ответы бота в чатах. Идут через общий Sender,
// чтобы и они подчинялись лимиту параллельных отправок и ретраям на 429.
func reply(chatID int64, text string) {
	sender.SendBestEffort(chatID, tgbotapi.NewMessage(chatID, text))
}

// подменяется в тестах
var checkAdmin = isChatAdmin

// parseUserArg разбирает "<user_id> [текст...]" из аргументов команды.
func parseUserArg(args string) (int64, string, bool) {
	fields := strings.SplitN(strings.TrimSpace(args), " ", 2)
	if len(fields) == 0 || fields[0] == "" {
		return 0, "", false
	}
	userID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || userID == 0 {
		return 0, "", false
	}
	rest := ""
	if len(fields) == 2 {
		rest = strings.TrimSpace(fields[1])
	}
	return userID, rest, true
}

func isChatAdmin(chatID, userID int64) bool {
	member, err := Bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		log.Println("⚠️ Ошибка getChatMember:", err)
		return false
	}
	return member.Status == "creator" || member.Status == "administrator"
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	return name
}
