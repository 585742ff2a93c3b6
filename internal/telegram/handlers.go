package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ykvlv/investmate/internal/domain"
	"github.com/ykvlv/investmate/internal/scheduler"
)

const maxContentLen = 512

func (r *Router) handleStart(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, startText)
	msg.ReplyMarkup = mainMenuKeyboard()
	_, _ = r.bot.Send(msg)
}

func (r *Router) handleAlerts(ctx context.Context, chatID int64) {
	alerts, err := r.alerts.List(ctx, r.users.CurrentUser().ID)
	if err != nil {
		r.log.Error("list alerts failed", zap.Error(err))
		r.sendText(chatID, "Failed to load alerts.")
		return
	}
	if len(alerts) == 0 {
		r.sendText(chatID, "No alerts yet. Use /schedule to create one.")
		return
	}

	var b strings.Builder
	b.WriteString(alertsTitle)
	b.WriteString("\n\n")
	for _, a := range alerts {
		b.WriteString(alertLine(a, domain.FormatLocal(a.ScheduledAt, r.loc)))
		b.WriteString("\n")
	}
	r.sendText(chatID, b.String())
}

// handleSchedule parses "/schedule <TYPE> <when> <REPEAT> <text>". Without
// arguments it starts the guided flow.
func (r *Router) handleSchedule(ctx context.Context, chatID int64, args string) {
	if args == "" {
		r.clearPending(chatID)
		msg := tgbotapi.NewMessage(chatID, "Choose the alert type:")
		msg.ReplyMarkup = alertTypeKeyboard()
		_, _ = r.bot.Send(msg)
		return
	}

	parts := strings.SplitN(args, " ", 4)
	if len(parts) < 4 {
		r.sendText(chatID, scheduleUsage)
		return
	}
	typ, err := domain.ParseAlertType(parts[0])
	if err != nil {
		r.sendText(chatID, "Unknown alert type.\n\n"+scheduleUsage)
		return
	}
	at, err := domain.ParseWhen(parts[1], r.clock.Now(), r.loc)
	if err != nil {
		r.sendText(chatID, "Invalid time. Try +30m or 2025-05-05T09:15:00Z.")
		return
	}
	repeat, err := domain.ParseRepeat(parts[2])
	if err != nil {
		r.sendText(chatID, "Repeat must be NONE, DAILY or WEEKLY.")
		return
	}

	r.schedule(ctx, chatID, scheduler.AlertRequest{
		Type:    typ,
		At:      at,
		Repeat:  repeat,
		Content: strings.TrimSpace(parts[3]),
	})
}

func (r *Router) schedule(ctx context.Context, chatID int64, req scheduler.AlertRequest) {
	id, err := r.alerts.Schedule(ctx, req)
	switch {
	case errors.Is(err, domain.ErrInvalidAlert):
		r.sendText(chatID, "Alert rejected: "+err.Error())
		return
	case err != nil:
		r.log.Error("schedule alert failed", zap.Error(err))
		r.sendText(chatID, "Failed to schedule the alert.")
		return
	}

	when := domain.FormatLocal(req.At, r.loc)
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("✅ %s scheduled for %s (%s).\nid: %s", req.Type.Title(), when, req.Repeat, id))
	msg.ReplyMarkup = cancelKeyboard(id)
	_, _ = r.bot.Send(msg)
}

func (r *Router) handleCancel(ctx context.Context, chatID int64, args string) {
	id := strings.TrimSpace(args)
	if id == "" {
		r.clearPending(chatID)
		r.sendText(chatID, "Usage: /cancel <id>")
		return
	}
	r.sendText(chatID, r.cancel(ctx, id))
}

func (r *Router) cancel(ctx context.Context, id string) string {
	ok, err := r.alerts.Cancel(ctx, id)
	switch {
	case err != nil:
		r.log.Error("cancel alert failed", zap.String("id", id), zap.Error(err))
		return "Failed to cancel the alert."
	case !ok:
		return "No pending alert with that id."
	}
	return "🚫 Alert cancelled."
}

func (r *Router) handlePulse(ctx context.Context, chatID int64) {
	if r.insights == nil {
		r.sendText(chatID, unavailable)
		return
	}
	p := r.insights.MarketPulse(ctx)
	r.sendText(chatID, fmt.Sprintf(pulseFmt, p.Trends, p.Sentiment, p.RiskLevel, p.NewsSummary))
}

func (r *Router) handleNews(ctx context.Context, chatID int64, args string) {
	ticker := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(args)), "$")
	if ticker == "" {
		r.sendText(chatID, "Usage: /news <TICKER>")
		return
	}
	if r.insights == nil {
		r.sendText(chatID, unavailable)
		return
	}
	headlines := r.insights.StockNews(ctx, ticker)
	if len(headlines) == 0 {
		r.sendText(chatID, "No headlines for "+ticker+" right now.")
		return
	}
	r.sendText(chatID, "📰 "+ticker+"\n\n• "+strings.Join(headlines, "\n• "))
}

// handleFreeForm processes text typed during the guided /schedule flow.
func (r *Router) handleFreeForm(ctx context.Context, chatID int64, text string) {
	switch r.getPending(chatID) {
	case pendingWhen:
		at, err := domain.ParseWhen(text, r.clock.Now(), r.loc)
		if err != nil {
			r.sendText(chatID, "Invalid time. Try again, e.g. +30m or 2025-05-05 09:15.")
			return
		}
		r.editDraft(chatID, func(d *draft) { d.req.At = at })
		r.setPending(chatID, pendingContent)
		r.sendText(chatID, contentPrompt)

	case pendingContent:
		if text == "" || utf8.RuneCountInString(text) > maxContentLen {
			r.sendText(chatID, "Text must be 1-512 characters. Try again.")
			return
		}
		req := r.editDraft(chatID, func(d *draft) { d.req.Content = text })
		r.clearPending(chatID)
		r.schedule(ctx, chatID, req)

	default:
		// Not in a flow: ignore free text.
	}
}

func (r *Router) handleTypeCallback(chatID int64, value, cbID string) {
	typ, err := domain.ParseAlertType(value)
	if err != nil {
		r.answerCallback(cbID, "Unknown type")
		return
	}
	r.clearPending(chatID)
	r.editDraft(chatID, func(d *draft) { d.req.Type = typ })

	msg := tgbotapi.NewMessage(chatID, "How often?")
	msg.ReplyMarkup = repeatKeyboard()
	_, _ = r.bot.Send(msg)
	r.answerCallback(cbID, typ.Title())
}

func (r *Router) handleRepeatCallback(chatID int64, value, cbID string) {
	repeat, err := domain.ParseRepeat(value)
	if err != nil {
		r.answerCallback(cbID, "Unknown repeat")
		return
	}
	r.editDraft(chatID, func(d *draft) { d.req.Repeat = repeat })
	r.setPending(chatID, pendingWhen)
	r.sendText(chatID, fmt.Sprintf(whenPrompt, r.loc))
	r.answerCallback(cbID, string(repeat))
}

func (r *Router) handleCancelCallback(ctx context.Context, chatID int64, id, cbID string) {
	text := r.cancel(ctx, id)
	r.sendText(chatID, text)
	r.answerCallback(cbID, "")
}

// sendText sends a plain text message and logs delivery failures.
func (r *Router) sendText(chatID int64, text string) {
	if _, err := r.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.log.Warn("send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) answerCallback(cbID, text string) {
	_, _ = r.bot.Request(tgbotapi.NewCallback(cbID, text))
}
