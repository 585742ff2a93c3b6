package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseDurationHuman(t *testing.T) {
	cases := map[string]time.Duration{
		"90":    90 * time.Minute,
		"2h":    2 * time.Hour,
		"1h30m": 90 * time.Minute,
		"1d2h":  26 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseDurationHuman(in)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if got != want {
			t.Fatalf("%s: want %s, got %s", in, want, got)
		}
	}
	if _, err := ParseDurationHuman(""); !errors.Is(err, ErrEmptyDuration) {
		t.Fatalf("want ErrEmptyDuration, got %v", err)
	}
	if _, err := ParseDurationHuman("soon"); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("want ErrInvalidDuration, got %v", err)
	}
	if _, err := ParseDurationHuman("31d"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("want ErrTooLarge, got %v", err)
	}
}

func TestParseWhen(t *testing.T) {
	now := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)

	got, err := ParseWhen("+1h30m", now, nil)
	if err != nil || !got.Equal(now.Add(90*time.Minute)) {
		t.Fatalf("relative: got %s, %v", got, err)
	}

	got, err = ParseWhen("2025-05-04T09:00:00Z", now, nil)
	if err != nil || !got.Equal(now.Add(-24*time.Hour)) {
		t.Fatalf("rfc3339 past: got %s, %v", got, err)
	}

	loc, _ := time.LoadLocation("Asia/Kolkata")
	got, err = ParseWhen("2025-05-05 09:15", now, loc)
	if err != nil {
		t.Fatalf("local: %v", err)
	}
	if want := time.Date(2025, time.May, 5, 3, 45, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("local: want %s, got %s", want, got)
	}

	if _, err := ParseWhen("tomorrow", now, nil); !errors.Is(err, ErrInvalidTime) {
		t.Fatalf("want ErrInvalidTime, got %v", err)
	}
}

func TestParseAlertTypeAndRepeat(t *testing.T) {
	for in, want := range map[string]AlertType{
		"PRE_MARKET": AlertPreMarket,
		"pre-market": AlertPreMarket,
		"postmarket": AlertPostMarket,
		"news":       AlertNews,
		"signal":     AlertSignalReminder,
	} {
		got, err := ParseAlertType(in)
		if err != nil || got != want {
			t.Fatalf("%s: want %s, got %s (%v)", in, want, got, err)
		}
	}
	if _, err := ParseAlertType("lunch"); !errors.Is(err, ErrInvalidAlert) {
		t.Fatalf("want ErrInvalidAlert, got %v", err)
	}

	if r, err := ParseRepeat(""); err != nil || r != RepeatNone {
		t.Fatalf("empty repeat: %s %v", r, err)
	}
	if r, err := ParseRepeat("weekly"); err != nil || r != RepeatWeekly {
		t.Fatalf("weekly: %s %v", r, err)
	}
	if _, err := ParseRepeat("hourly"); !errors.Is(err, ErrInvalidAlert) {
		t.Fatalf("want ErrInvalidAlert, got %v", err)
	}
}

func TestExtractTickersAndHashtags(t *testing.T) {
	content := "Long $TATASTEEL and $INFY into results #breakout #nifty50"
	tickers := ExtractTickers(content)
	if len(tickers) != 2 || tickers[0] != "$TATASTEEL" || tickers[1] != "$INFY" {
		t.Fatalf("tickers: %v", tickers)
	}
	tags := ExtractHashtags(content)
	if len(tags) != 2 || tags[1] != "#nifty50" {
		t.Fatalf("hashtags: %v", tags)
	}
}
