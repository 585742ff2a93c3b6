package audio

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ykvlv/investmate/internal/domain"
)

// transcriptKeep is the number of captions shown under the stage.
const transcriptKeep = 5

// TranscriptLog keeps the latest captions.
type TranscriptLog struct {
	mu   sync.Mutex
	segs []domain.TranscriptSegment
}

func (l *TranscriptLog) Add(s domain.TranscriptSegment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.segs = append(l.segs, s)
	if over := len(l.segs) - transcriptKeep; over > 0 {
		l.segs = append(l.segs[:0:0], l.segs[over:]...)
	}
}

// Segments returns the kept captions oldest first.
func (l *TranscriptLog) Segments() []domain.TranscriptSegment {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.TranscriptSegment(nil), l.segs...)
}

// Attach feeds captions from t into the log until the returned func is called.
func (l *TranscriptLog) Attach(t *Transport) (detach func()) {
	return t.OnTranscript(l.Add)
}

// Entitlement reports whether the listener has Pro access.
type Entitlement interface {
	IsPro() bool
}

// ListenLimiter counts listening seconds for members without Pro and calls
// onTimeUp once when the free allowance is used up. Pro members are never
// counted; an upgrade mid-session stops the count.
type ListenLimiter struct {
	ent      Entitlement
	limit    time.Duration
	clock    clockwork.Clock
	onTimeUp func()

	lifeMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	elapsed time.Duration
	timeUp  bool
}

// NewListenLimiter allows limit of free listening, 120s when zero.
func NewListenLimiter(ent Entitlement, limit time.Duration, clock clockwork.Clock, onTimeUp func()) *ListenLimiter {
	if limit <= 0 {
		limit = 120 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if onTimeUp == nil {
		onTimeUp = func() {}
	}
	return &ListenLimiter{ent: ent, limit: limit, clock: clock, onTimeUp: onTimeUp}
}

// Start begins counting. It does nothing for Pro members, after time is up,
// or while already counting.
func (l *ListenLimiter) Start() {
	l.lifeMu.Lock()
	defer l.lifeMu.Unlock()
	if l.stop != nil || l.ent.IsPro() || l.TimeUp() {
		return
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.run(l.stop, l.done)
}

// Stop pauses counting and waits for the counter to exit. Idempotent.
func (l *ListenLimiter) Stop() {
	l.lifeMu.Lock()
	defer l.lifeMu.Unlock()
	if l.stop == nil {
		return
	}
	close(l.stop)
	<-l.done
	l.stop, l.done = nil, nil
}

func (l *ListenLimiter) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	tick := l.clock.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.Chan():
			if l.ent.IsPro() {
				return
			}
			l.mu.Lock()
			l.elapsed += time.Second
			up := l.elapsed >= l.limit
			l.timeUp = up
			l.mu.Unlock()
			if up {
				l.onTimeUp()
				return
			}
		}
	}
}

func (l *ListenLimiter) Elapsed() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.elapsed
}

func (l *ListenLimiter) TimeUp() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timeUp
}

// Locked reports whether the room is behind the paywall for this listener.
func (l *ListenLimiter) Locked() bool {
	return l.TimeUp() && !l.ent.IsPro()
}
