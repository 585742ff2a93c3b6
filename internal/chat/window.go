package chat

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ykvlv/investmate/internal/domain"
)

// catchUpLines is how many recent messages a catch-up summary reads.
const catchUpLines = 15

// Window is the visible tail of a chat room. Messages are deduplicated by ID,
// so a socket echo of a locally sent message shows once.
type Window struct {
	mu   sync.Mutex
	size int
	msgs []domain.ChatMessage
	seen *lru.Cache[string, struct{}]
}

// NewWindow keeps the last size messages.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	// lru.New only fails on a non-positive size.
	seen, _ := lru.New[string, struct{}](size * 4)
	return &Window{size: size, seen: seen}
}

// Add appends m and reports false when its ID was already seen.
func (w *Window) Add(m domain.ChatMessage) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ok, _ := w.seen.ContainsOrAdd(m.ID, struct{}{}); ok {
		return false
	}
	w.msgs = append(w.msgs, m)
	if over := len(w.msgs) - w.size; over > 0 {
		w.msgs = append(w.msgs[:0:0], w.msgs[over:]...)
	}
	return true
}

// Messages returns the window oldest first.
func (w *Window) Messages() []domain.ChatMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domain.ChatMessage(nil), w.msgs...)
}

// Attach feeds every message of t into the window until the returned func is called.
func (w *Window) Attach(t *Transport) (detach func()) {
	return t.OnMessage(func(m domain.ChatMessage) { w.Add(m) })
}

// Summarizer condenses chat lines.
type Summarizer interface {
	SummarizeChat(ctx context.Context, lines []string) []string
}

// CatchUp summarizes the latest messages of w for a member who just joined.
func CatchUp(ctx context.Context, s Summarizer, w *Window) []string {
	msgs := w.Messages()
	if len(msgs) > catchUpLines {
		msgs = msgs[len(msgs)-catchUpLines:]
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, m.User.Name+": "+m.Text)
	}
	return s.SummarizeChat(ctx, lines)
}

// Digest binds a summarizer to a window for on-demand catch-ups.
type Digest struct {
	s Summarizer
	w *Window
}

func NewDigest(s Summarizer, w *Window) *Digest {
	return &Digest{s: s, w: w}
}

// CatchUp returns the summary bullets, or nil when the window is empty.
func (d *Digest) CatchUp(ctx context.Context) []string {
	if len(d.w.Messages()) == 0 {
		return nil
	}
	return CatchUp(ctx, d.s, d.w)
}
