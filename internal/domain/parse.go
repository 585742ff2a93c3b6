package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// LocalLayout is the wall-clock form accepted by ParseWhen and shown to users.
const LocalLayout = "2006-01-02 15:04"

var (
	ErrEmptyDuration   = errors.New("empty duration")
	ErrInvalidDuration = errors.New("invalid duration")
	ErrTooLarge        = errors.New("duration too large")
	ErrInvalidTime     = errors.New("invalid time")
)

var (
	hoursRe   = regexp.MustCompile(`(?i)(\d+)\s*h`)
	minutesRe = regexp.MustCompile(`(?i)(\d+)\s*m`)
	daysRe    = regexp.MustCompile(`(?i)(\d+)\s*d`)
	tickerRe  = regexp.MustCompile(`\$[A-Z]+`)
	hashtagRe = regexp.MustCompile(`#[a-zA-Z0-9]+`)
)

// ParseDurationHuman parses human-friendly durations like "30m", "1h30m", "2d", "90".
// A plain number means minutes. Max 30 days.
func ParseDurationHuman(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, ErrEmptyDuration
	}
	var total time.Duration

	if isAllDigits(s) {
		mins, _ := strconv.Atoi(s)
		total = time.Duration(mins) * time.Minute
	} else {
		if md := daysRe.FindStringSubmatch(s); len(md) == 2 {
			d, _ := strconv.Atoi(md[1])
			total += time.Duration(d) * 24 * time.Hour
		}
		if mh := hoursRe.FindStringSubmatch(s); len(mh) == 2 {
			h, _ := strconv.Atoi(mh[1])
			total += time.Duration(h) * time.Hour
		}
		if mm := minutesRe.FindStringSubmatch(s); len(mm) == 2 {
			m, _ := strconv.Atoi(mm[1])
			total += time.Duration(m) * time.Minute
		}
		if total == 0 && !strings.ContainsAny(s, "dhm") {
			return 0, fmt.Errorf("%w: %s", ErrInvalidDuration, s)
		}
	}

	if total > 30*24*time.Hour {
		return 0, fmt.Errorf("%w: max 30d", ErrTooLarge)
	}
	return total, nil
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ParseWhen parses an absolute RFC3339 timestamp, a local "2006-01-02 15:04"
// in loc, or a relative "+1h30m" offset from now. Past times are accepted.
func ParseWhen(s string, now time.Time, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTime)
	}
	if loc == nil {
		loc = time.UTC
	}
	if strings.HasPrefix(s, "+") {
		d, err := ParseDurationHuman(s[1:])
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(d).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation(LocalLayout, s, loc); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidTime, s)
}

// ParseAlertType accepts "PRE_MARKET", "pre-market", "premarket" and similar spellings.
func ParseAlertType(s string) (AlertType, error) {
	norm := strings.ToUpper(strings.NewReplacer("-", "_", " ", "_").Replace(strings.TrimSpace(s)))
	switch norm {
	case "PREMARKET":
		norm = string(AlertPreMarket)
	case "POSTMARKET":
		norm = string(AlertPostMarket)
	case "SIGNAL", "SIGNALREMINDER", "REMINDER":
		norm = string(AlertSignalReminder)
	}
	t := AlertType(norm)
	if !t.Valid() {
		return "", fmt.Errorf("%w: type %q", ErrInvalidAlert, s)
	}
	return t, nil
}

// ParseRepeat accepts NONE, DAILY, WEEKLY in any case. Empty means NONE.
func ParseRepeat(s string) (Repeat, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || s == "ONCE" {
		return RepeatNone, nil
	}
	r := Repeat(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: repeat %q", ErrInvalidAlert, s)
	}
	return r, nil
}

// ExtractTickers returns "$TICKER" tokens in order of appearance.
func ExtractTickers(content string) []string {
	return tickerRe.FindAllString(content, -1)
}

// ExtractHashtags returns "#tag" tokens in order of appearance.
func ExtractHashtags(content string) []string {
	return hashtagRe.FindAllString(content, -1)
}

// FormatLocal formats t in loc using LocalLayout.
func FormatLocal(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(LocalLayout)
}
