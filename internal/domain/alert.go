package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// AlertType is the kind of scheduled alert.
type AlertType string

const (
	AlertPreMarket      AlertType = "PRE_MARKET"
	AlertPostMarket     AlertType = "POST_MARKET"
	AlertNews           AlertType = "NEWS"
	AlertSignalReminder AlertType = "SIGNAL_REMINDER"
)

// Repeat is the recurrence of a scheduled alert.
type Repeat string

const (
	RepeatNone   Repeat = "NONE"
	RepeatDaily  Repeat = "DAILY"
	RepeatWeekly Repeat = "WEEKLY"
)

// AlertStatus tracks the lifecycle of an alert.
type AlertStatus string

const (
	StatusPending   AlertStatus = "PENDING"
	StatusSent      AlertStatus = "SENT"
	StatusCancelled AlertStatus = "CANCELLED"
)

// AIContextNote is appended to the post body of alerts with AIContext set.
const AIContextNote = "\n\n🤖 *AI Context Added*: Market volatility is currently average. No major red flags."

// notificationPreview is the number of runes of post content shown in a notification body.
const notificationPreview = 50

var ErrInvalidAlert = errors.New("invalid alert")

// Alert is a scheduled, possibly recurring, instruction to publish a post
// and a notification.
type Alert struct {
	ID          string
	UserID      string
	ClubID      string // empty: public feed
	Type        AlertType
	Content     string
	ScheduledAt time.Time // UTC
	Repeat      Repeat
	Status      AlertStatus
	AIContext   bool
	CreatedAt   time.Time  // UTC
	LastFiredAt *time.Time // UTC, nullable
}

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	switch t {
	case AlertPreMarket, AlertPostMarket, AlertNews, AlertSignalReminder:
		return true
	}
	return false
}

// Title is the notification title used when an alert of this type fires.
func (t AlertType) Title() string {
	switch t {
	case AlertPreMarket:
		return "☀️ Pre-Market Plan"
	case AlertPostMarket:
		return "🌙 Post-Market Summary"
	case AlertNews:
		return "📰 Upcoming News Alert"
	case AlertSignalReminder:
		return "🔔 Trade Update"
	}
	return "🔔 Alert"
}

// Tag is the hashtag added to posts synthesized from this alert type, e.g. "#premarket".
func (t AlertType) Tag() string {
	return "#" + strings.ReplaceAll(strings.ToLower(string(t)), "_", "")
}

// Valid reports whether r is a known repeat mode.
func (r Repeat) Valid() bool {
	switch r {
	case RepeatNone, RepeatDaily, RepeatWeekly:
		return true
	}
	return false
}

// Validate checks the fields required to schedule an alert.
func (a *Alert) Validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("%w: type %q", ErrInvalidAlert, a.Type)
	}
	if !a.Repeat.Valid() {
		return fmt.Errorf("%w: repeat %q", ErrInvalidAlert, a.Repeat)
	}
	if strings.TrimSpace(a.Content) == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidAlert)
	}
	if a.ScheduledAt.IsZero() {
		return fmt.Errorf("%w: missing scheduled time", ErrInvalidAlert)
	}
	return nil
}

// Due reports whether the alert must fire at now.
func (a *Alert) Due(now time.Time) bool {
	return a.Status == StatusPending && !a.ScheduledAt.After(now)
}

// PostContent is the feed text published when the alert fires.
func (a *Alert) PostContent() string {
	if a.AIContext {
		return a.Content + AIContextNote
	}
	return a.Content
}

// PostType is the feed post type used for this alert.
func (a *Alert) PostType() PostType {
	if a.Type == AlertSignalReminder {
		return PostRegular
	}
	return PostAnnouncement
}

// NotificationBody shortens post content for a notification.
func NotificationBody(content string) string {
	if utf8.RuneCountInString(content) <= notificationPreview {
		return content + "..."
	}
	r := []rune(content)
	return string(r[:notificationPreview]) + "..."
}
