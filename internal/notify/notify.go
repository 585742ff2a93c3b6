// Package notify delivers push-style notifications. Delivery is
// fire-and-forget from the caller's point of view: errors are returned for
// logging, never for retry.
package notify

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ykvlv/investmate/internal/domain"
)

// Notifier accepts a title and body.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, title, body string) error

func (f Func) Notify(ctx context.Context, title, body string) error { return f(ctx, title, body) }

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) error { return nil }

// Log writes notifications to a zap logger.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log.Named("notify")}
}

func (l *Log) Notify(_ context.Context, title, body string) error {
	l.log.Info("notification", zap.String("title", title), zap.String("body", body))
	return nil
}

// InboxWriter is the state-owning layer's inbox.
type InboxWriter interface {
	AddNotification(title, body string) domain.Notification
}

// Inbox stores notifications in the application inbox.
type Inbox struct {
	w InboxWriter
}

func NewInbox(w InboxWriter) *Inbox {
	return &Inbox{w: w}
}

func (i *Inbox) Notify(_ context.Context, title, body string) error {
	i.w.AddNotification(title, body)
	return nil
}

// TelegramSender is the part of *tgbotapi.BotAPI used for delivery.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram mirrors notifications into one Telegram chat.
type Telegram struct {
	bot    TelegramSender
	chatID int64
}

func NewTelegram(bot TelegramSender, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID}
}

func (t *Telegram) Notify(ctx context.Context, title, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, title+"\n"+body))
	return err
}

// Composite fans a notification out to every notifier. All notifiers are
// attempted; their errors are joined.
type Composite struct {
	notifiers []Notifier
}

func NewComposite(notifiers ...Notifier) *Composite {
	return &Composite{notifiers: notifiers}
}

func (c *Composite) Notify(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range c.notifiers {
		if err := n.Notify(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
