package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/TheCodeVerseHub/ModMail-Bot/bot"
	"github.com/TheCodeVerseHub/ModMail-Bot/db"
	"github.com/TheCodeVerseHub/ModMail-Bot/delivery"
	"github.com/TheCodeVerseHub/ModMail-Bot/reaper"
	"github.com/TheCodeVerseHub/ModMail-Bot/relay"
	"github.com/TheCodeVerseHub/ModMail-Bot/session"
	"github.com/TheCodeVerseHub/ModMail-Bot/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ .env файл не найден, берём переменные из окружения")
	}

	telegramToken := os.Getenv("TELEGRAM_TOKEN")
	if telegramToken == "" {
		log.Fatal("❌ TELEGRAM_TOKEN не найден в окружении")
	}

	botAPI, err := tgbotapi.NewBotAPI(telegramToken)
	if err != nil {
		log.Fatalf("❌ Ошибка запуска бота: %v", err)
	}
	log.Printf("✅ Бот авторизован как %s", botAPI.Self.UserName)

	conn, err := db.Connect()
	if err != nil {
		log.Fatalf("❌ Ошибка подключения к базе данных: %v", err)
	}
	if conn != nil {
		if err := db.Migrate(conn); err != nil {
			log.Fatalf("❌ Ошибка при миграции базы данных: %v", err)
		}
		log.Println("✅ Архив переписки подключен")
	} else {
		log.Println("ℹ️ DATABASE_URL не задан — архив переписки выключен")
	}

	store := storage.NewFileStore(envStr("MODMAIL_SESSIONS_FILE", "data/modmail_sessions.json"))
	restored, err := store.Load()
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки сессий: %v", err)
	}
	sessions := session.NewManager(store)
	sessions.Restore(restored)
	log.Printf("✅ Восстановлено сессий: %d", len(restored))

	sender := delivery.NewSender(botAPI, envInt("MODMAIL_MAX_SENDS", 4))
	router := relay.NewRouter(sessions, sender, conn,
		time.Duration(envInt("MODMAIL_RESET_SECONDS", 600))*time.Second,
		time.Duration(envInt("MODMAIL_CONFIRM_SECONDS", 600))*time.Second,
	)
	if chatID := envInt64("MODMAIL_CHAT_ID", 0); chatID != 0 {
		router.SetStaffChat(chatID)
		log.Printf("✅ Чат модераторов: %d", chatID)
	} else {
		log.Println("⚠️ MODMAIL_CHAT_ID не задан — назначьте чат командой /set_modmail_chat")
	}

	reaper.Start(sessions, time.Duration(envInt("MODMAIL_REAPER_SECONDS", 60))*time.Second)
	bot.SetupHandlers(botAPI, router, sender, conn)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil && v != 0 {
		return v
	}
	return fallback
}
