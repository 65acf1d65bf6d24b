package relay

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/TheCodeVerseHub/ModMail-Bot/session"
)

// Telegram отклоняет Markdown с незакрытой разметкой (400 can't parse
// entities), поэтому весь текст от людей экранируем перед подстановкой
// в шаблоны. Сами шаблоны остаются на Markdown.
var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// Callback data кнопок подтверждения.
const (
	CallbackConfirm = "modmail_yes"
	CallbackCancel  = "modmail_no"
)

const guidelineText = "📮 *Система ModMail*\n\n" +
	"Напишите ваше сообщение модераторам следующим сообщением.\n" +
	"У вас есть только *одно сообщение* — после отправки модмейл будет " +
	"заблокирован, пока модератор не ответит.\n\n" +
	"• Укажите сразу все вопросы, детали и ссылки.\n" +
	"• Не отправляйте несколько сообщений подряд — дождитесь ответа.\n\n" +
	"Модераторы увидят только ваш ник и ID, не делитесь паролями и кодами."

const sentText = "✅ *Сообщение отправлено*\n" +
	"Ваше обращение доставлено модераторам, они ответят при первой возможности. " +
	"Сессия заблокирована до ответа модератора — подождите, прежде чем писать снова."

const cancelledText = "🚫 *Отправка отменена*\n" +
	"Сообщение не отправлено. Можете составить другое и попробовать ещё раз — " +
	"сессия остаётся открытой и сбросится после периода неактивности."

const lockedText = "🔒 Ваш модмейл заблокирован. " +
	"Дождитесь ответа модератора, прежде чем отправлять новые сообщения."

const resolvedInfoText = "ℹ️ Модератор ответил. Если нужно, можете отправить " +
	"ещё одно сообщение — сессия открыта и сбросится после периода неактивности."

const closedText = "🔚 Модератор закрыл ваше обращение. " +
	"Если появятся новые вопросы — просто напишите снова."

const noStaffChatText = "❌ Чат модераторов не настроен, сообщение не отправлено. " +
	"Попробуйте позже."

const rateLimitedText = "⚠️ Бот упёрся в лимиты Telegram. " +
	"Подождите минуту и нажмите кнопку ещё раз."

const deliveryFailedText = "❌ Не удалось доставить сообщение модераторам. " +
	"Попробуйте позже."

const promptFailedText = "❌ Не удалось обработать сообщение, попробуйте ещё раз позже."

func textMessage(chatID int64, text string) tgbotapi.MessageConfig {
	return tgbotapi.NewMessage(chatID, text)
}

func markdownMessage(chatID int64, text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	return msg
}

func confirmKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Отправить", CallbackConfirm),
			tgbotapi.NewInlineKeyboardButtonData("❌ Отмена", CallbackCancel),
		),
	)
}

func confirmMessage(chatID int64, text string, att *Attachment) tgbotapi.MessageConfig {
	preview := escapeMarkdown(text)
	if preview == "" {
		preview = "📎 (вложение)"
	} else if att != nil {
		preview += "\n📎 (+ вложение)"
	}
	msg := markdownMessage(chatID, fmt.Sprintf(
		"❓ *Отправить это сообщение модераторам?*\n\n%s", preview))
	msg.ReplyMarkup = confirmKeyboard()
	return msg
}

// staffRelayMessage собирает сообщение для чата модераторов:
// текст — обычным сообщением, вложение — фото/документом с подписью.
func staffRelayMessage(staffChatID, userID int64, name string, rec session.Record) tgbotapi.Chattable {
	header := fmt.Sprintf("📨 *Обращение от %s*\nID: `%d`\n\n%s",
		escapeMarkdown(name), userID, escapeMarkdown(rec.PendingText))

	if rec.PendingFileID == "" {
		return markdownMessage(staffChatID, header)
	}
	if rec.PendingIsDoc {
		doc := tgbotapi.NewDocument(staffChatID, tgbotapi.FileID(rec.PendingFileID))
		doc.Caption = header
		doc.ParseMode = "Markdown"
		return doc
	}
	photo := tgbotapi.NewPhoto(staffChatID, tgbotapi.FileID(rec.PendingFileID))
	photo.Caption = header
	photo.ParseMode = "Markdown"
	return photo
}

func modReplyMessage(chatID int64, moderator, text string) tgbotapi.MessageConfig {
	return markdownMessage(chatID, fmt.Sprintf("👮 *Ответ модератора %s*\n\n%s",
		escapeMarkdown(moderator), escapeMarkdown(text)))
}

func staffResolvedMessage(staffChatID, userID int64, moderator, text string) tgbotapi.MessageConfig {
	return markdownMessage(staffChatID, fmt.Sprintf(
		"✅ Модератор %s ответил пользователю `%d`.\n\n*Ответ:* %s",
		escapeMarkdown(moderator), userID, escapeMarkdown(text)))
}
