// Package audio simulates a live audio room: per-speaker voice levels and
// live captions, plus the free-listening limit for non-Pro members.
package audio

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ykvlv/investmate/internal/domain"
	"github.com/ykvlv/investmate/internal/metrics"
	"github.com/ykvlv/investmate/internal/pubsub"
	"github.com/ykvlv/investmate/internal/sim"
)

// Level is one voice level sample, 0..100.
type Level struct {
	SpeakerID string
	Level     float64
}

// Options tune a Transport. Zero values select defaults.
type Options struct {
	LevelTick        time.Duration // default 200ms
	TranscriptTick   time.Duration // default 4s
	DominantChance   float64       // per eligible speaker per level tick, default 0.4
	TranscriptChance float64       // per transcript tick, default 0.3
	Phrases          []string
	Clock            clockwork.Clock
	Rand             sim.Rand
	Metrics          *metrics.Metrics
}

// Transport emits simulated levels and captions for the connected speakers.
// Both streams are published from one goroutine; Disconnect waits for it, so
// after Disconnect returns no listener is called. Listeners must not call
// Disconnect.
type Transport struct {
	log  *zap.Logger
	opts Options

	levels      pubsub.Registry[Level]
	transcripts pubsub.Registry[domain.TranscriptSegment]

	lifeMu sync.Mutex // serializes Connect and Disconnect
	stop   chan struct{}
	done   chan struct{}

	mu       sync.RWMutex
	speakers []domain.Speaker
}

func NewTransport(log *zap.Logger, opts Options) *Transport {
	if opts.LevelTick <= 0 {
		opts.LevelTick = 200 * time.Millisecond
	}
	if opts.TranscriptTick <= 0 {
		opts.TranscriptTick = 4 * time.Second
	}
	if opts.DominantChance <= 0 {
		opts.DominantChance = 0.4
	}
	if opts.TranscriptChance <= 0 {
		opts.TranscriptChance = 0.3
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Rand == nil {
		opts.Rand = sim.NewRand(uint64(time.Now().UnixNano()))
	}
	return &Transport{log: log.Named("audio"), opts: opts}
}

func (t *Transport) OnAudioLevel(fn func(Level)) (unsubscribe func()) {
	return t.levels.Subscribe(fn)
}

func (t *Transport) OnTranscript(fn func(domain.TranscriptSegment)) (unsubscribe func()) {
	return t.transcripts.Subscribe(fn)
}

// Connect starts emitting for speakers, replacing any previous emitters.
func (t *Transport) Connect(speakers []domain.Speaker) {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()
	t.disconnect()

	t.UpdateSpeakers(speakers)
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(t.stop, t.done)
	t.log.Debug("connected", zap.Int("speakers", len(speakers)))
}

// Disconnect stops both emitters and clears the speaker set. Idempotent.
func (t *Transport) Disconnect() {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()
	t.disconnect()
}

func (t *Transport) disconnect() {
	if t.stop == nil {
		return
	}
	close(t.stop)
	<-t.done
	t.stop, t.done = nil, nil
	t.UpdateSpeakers(nil)
}

// UpdateSpeakers swaps the working set without restarting the emitters.
func (t *Transport) UpdateSpeakers(speakers []domain.Speaker) {
	cp := append([]domain.Speaker(nil), speakers...)
	t.mu.Lock()
	t.speakers = cp
	t.mu.Unlock()
}

func (t *Transport) eligible() []domain.Speaker {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return domain.EligibleSpeakers(t.speakers)
}

func (t *Transport) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	levels := t.opts.Clock.NewTicker(t.opts.LevelTick)
	defer levels.Stop()
	captions := t.opts.Clock.NewTicker(t.opts.TranscriptTick)
	defer captions.Stop()

	for {
		select {
		case <-stop:
			return
		case <-levels.Chan():
			t.emitLevels()
		case <-captions.Chan():
			t.emitTranscript()
		}
	}
}

// emitLevels picks at most one dominant speaker: the first eligible one whose
// roll passes. Every other eligible speaker gets background noise.
func (t *Transport) emitLevels() {
	r := t.opts.Rand
	speakers := t.eligible()
	dominant := -1
	for i := range speakers {
		if sim.Chance(r, t.opts.DominantChance) {
			dominant = i
			break
		}
	}
	if dominant >= 0 {
		t.publishLevel(Level{SpeakerID: speakers[dominant].ID, Level: r.Float64() * 100})
	}
	for i, s := range speakers {
		if i == dominant {
			continue
		}
		t.publishLevel(Level{SpeakerID: s.ID, Level: r.Float64() * 10})
	}
}

func (t *Transport) publishLevel(l Level) {
	t.levels.Publish(l)
	t.opts.Metrics.AudioEmission("level")
}

func (t *Transport) emitTranscript() {
	speakers := t.eligible()
	if len(speakers) == 0 || len(t.opts.Phrases) == 0 {
		return
	}
	r := t.opts.Rand
	if !sim.Chance(r, t.opts.TranscriptChance) {
		return
	}
	s := sim.Pick(r, speakers)
	seg := domain.TranscriptSegment{
		ID:        uuid.NewString(),
		UserID:    s.UserID,
		UserName:  s.User.Name,
		Text:      sim.Pick(r, t.opts.Phrases),
		Timestamp: t.opts.Clock.Now().Format("15:04:05"),
	}
	t.transcripts.Publish(seg)
	t.opts.Metrics.AudioEmission("transcript")
}
