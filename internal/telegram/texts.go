package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ykvlv/investmate/internal/domain"
)

// UI texts in English
const (
	startText = "👋 I am the InvestMate alert desk.\n\n" +
		"Schedule pre-market plans, post-market wraps, news and trade reminders. " +
		"When they fire, I post them to the feed and ping you here.\n\n" +
		"/alerts — your alerts\n" +
		"/schedule — new alert\n" +
		"/cancel <id> — cancel a pending alert\n" +
		"/pulse — AI market pulse\n" +
		"/news <TICKER> — latest headlines\n\n" +
		"/post <text> — post to the feed\n" +
		"/clubpost <club id> <text> — post to a club\n" +
		"/analyze [post id] — AI read of a post\n" +
		"/quiz — daily market quiz\n" +
		"/catchup — what the chat talked about\n" +
		"/rooms, /join <id>, /leave — audio rooms"
	scheduleUsage = "Usage: /schedule <TYPE> <when> <NONE|DAILY|WEEKLY> <text>\n" +
		"TYPE: PRE_MARKET, POST_MARKET, NEWS, SIGNAL_REMINDER\n" +
		"when: +30m, +1h30m or RFC3339 (2025-05-05T09:15:00+05:30)\n\n" +
		"Or send /schedule alone for a guided flow."
	whenPrompt    = "When should it fire? Examples: +30m, +2h, 2025-05-05 09:15 (%s)"
	contentPrompt = "Send the alert text in a single message (max 512 chars):"
	alertsTitle   = "🗓 Your alerts:"
	alertLineFmt  = "%s %s · %s · %s\n%s\nid: %s\n"
	pulseFmt      = "📈 Market Pulse\n\n• Trends: %s\n• Sentiment: %s\n• Risk: %s\n\n%s"
	postUsage     = "Usage: /post <text>"
	clubPostUsage = "Usage: /clubpost <club id> <text>"
	joinUsage     = "Usage: /join <room id>"
	sentimentFmt  = "🔎 %s\n\n• Sentiment: %s\n• Risk: %s\n\n%s"
	roomLineFmt   = "🎙 %s · %s\n%s · %d listening\nid: %s\n"
	unavailable   = "This feature is not available right now."
)

func statusIcon(s domain.AlertStatus) string {
	switch s {
	case domain.StatusPending:
		return "⏳"
	case domain.StatusSent:
		return "✅"
	case domain.StatusCancelled:
		return "🚫"
	}
	return "•"
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/alerts"),
			tgbotapi.NewKeyboardButton("/schedule"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/pulse"),
		),
	)
}

func alertTypeKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(domain.AlertPreMarket.Title(), "type:"+string(domain.AlertPreMarket)),
			tgbotapi.NewInlineKeyboardButtonData(domain.AlertPostMarket.Title(), "type:"+string(domain.AlertPostMarket)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(domain.AlertNews.Title(), "type:"+string(domain.AlertNews)),
			tgbotapi.NewInlineKeyboardButtonData(domain.AlertSignalReminder.Title(), "type:"+string(domain.AlertSignalReminder)),
		),
	)
}

func repeatKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Once", "repeat:"+string(domain.RepeatNone)),
			tgbotapi.NewInlineKeyboardButtonData("Daily", "repeat:"+string(domain.RepeatDaily)),
			tgbotapi.NewInlineKeyboardButtonData("Weekly", "repeat:"+string(domain.RepeatWeekly)),
		),
	)
}

func cancelKeyboard(id string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", "cancel:"+id),
		),
	)
}

func quizKeyboard(options []string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(options))
	for i, o := range options {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(o, fmt.Sprintf("quiz:%d", i)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func roomLine(room domain.AudioRoom) string {
	return fmt.Sprintf(roomLineFmt, room.Title, room.ClubName, room.Topic, room.ListenerCount, room.ID)
}

func alertLine(a domain.Alert, when string) string {
	return fmt.Sprintf(alertLineFmt, statusIcon(a.Status), a.Type.Title(), when, a.Repeat, a.Content, a.ID)
}
