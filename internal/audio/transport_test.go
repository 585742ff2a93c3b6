package audio

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ykvlv/investmate/internal/domain"
	"github.com/ykvlv/investmate/internal/sim"
)

var phrases = []string{
	"Nifty is forming a double bottom.",
	"Banking will drag the index today.",
	"Any view on Reliance results?",
	"Open interest suggests short covering.",
}

func room() []domain.Speaker {
	return []domain.Speaker{
		{ID: "s1", UserID: "u1", User: domain.User{Name: "Arjun"}, Role: domain.RoleHost},
		{ID: "s2", UserID: "u2", User: domain.User{Name: "Priya"}, Role: domain.RoleSpeaker, Muted: true},
		{ID: "s3", UserID: "u3", User: domain.User{Name: "Rahul"}, Role: domain.RoleListener},
		{ID: "s4", UserID: "u4", User: domain.User{Name: "Sneha"}, Role: domain.RoleSpeaker},
	}
}

type levelRecorder struct {
	mu     sync.Mutex
	levels []Level
}

func (r *levelRecorder) add(l Level) {
	r.mu.Lock()
	r.levels = append(r.levels, l)
	r.mu.Unlock()
}

func (r *levelRecorder) all() []Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Level(nil), r.levels...)
}

func newTestTransport(rnd sim.Rand, clock clockwork.Clock) *Transport {
	return NewTransport(zap.NewNop(), Options{Phrases: phrases, Rand: rnd, Clock: clock})
}

func TestLevelTickPicksFirstPassingSpeaker(t *testing.T) {
	// s1 fails its roll, s4 passes and gets 50; s1 then gets noise 2.
	tr := newTestTransport(&sim.Script{Floats: []float64{0.9, 0.1, 0.5, 0.2}}, clockwork.NewFakeClock())
	tr.UpdateSpeakers(room())
	var rec levelRecorder
	tr.OnAudioLevel(rec.add)

	tr.emitLevels()

	assert.Equal(t, []Level{{SpeakerID: "s4", Level: 50}, {SpeakerID: "s1", Level: 2}}, rec.all())
}

func TestLevelTickWithoutDominantEmitsNoiseOnly(t *testing.T) {
	tr := newTestTransport(&sim.Script{Floats: []float64{0.9, 0.9, 0.3, 0.6}}, clockwork.NewFakeClock())
	tr.UpdateSpeakers(room())
	var rec levelRecorder
	tr.OnAudioLevel(rec.add)

	tr.emitLevels()

	got := rec.all()
	require.Len(t, got, 2)
	for _, l := range got {
		assert.Less(t, l.Level, 10.0)
		assert.NotContains(t, []string{"s2", "s3"}, l.SpeakerID)
	}
}

func TestTranscriptTick(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 5, 5, 9, 15, 30, 0, time.UTC))
	tr := newTestTransport(&sim.Script{Floats: []float64{0.1}, Ints: []int{1, 3}}, clock)
	tr.UpdateSpeakers(room())
	var got []domain.TranscriptSegment
	tr.OnTranscript(func(s domain.TranscriptSegment) { got = append(got, s) })

	tr.emitTranscript()

	require.Len(t, got, 1)
	assert.Equal(t, "u4", got[0].UserID)
	assert.Equal(t, "Sneha", got[0].UserName)
	assert.Equal(t, phrases[3], got[0].Text)
	assert.Equal(t, "09:15:30", got[0].Timestamp)
	assert.NotEmpty(t, got[0].ID)

	tr = newTestTransport(&sim.Script{Floats: []float64{0.5}}, clock)
	tr.UpdateSpeakers(room())
	got = nil
	tr.OnTranscript(func(s domain.TranscriptSegment) { got = append(got, s) })
	tr.emitTranscript()
	assert.Empty(t, got)
}

func TestNoEligibleSpeakersEmitsNothing(t *testing.T) {
	tr := newTestTransport(&sim.Script{Floats: []float64{0.1}}, clockwork.NewFakeClock())
	tr.UpdateSpeakers([]domain.Speaker{{ID: "l", Role: domain.RoleListener}, {ID: "m", Role: domain.RoleHost, Muted: true}})
	var levels atomic.Int32
	var captions atomic.Int32
	tr.OnAudioLevel(func(Level) { levels.Add(1) })
	tr.OnTranscript(func(domain.TranscriptSegment) { captions.Add(1) })

	tr.emitLevels()
	tr.emitTranscript()
	assert.Zero(t, levels.Load())
	assert.Zero(t, captions.Load())
}

func TestNoEmissionsAfterDisconnect(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := newTestTransport(&sim.Script{Floats: []float64{0.1}}, clock)
	var levels, captions atomic.Int32
	tr.OnAudioLevel(func(Level) { levels.Add(1) })
	tr.OnTranscript(func(domain.TranscriptSegment) { captions.Add(1) })

	tr.Disconnect() // before Connect
	tr.Connect(room())
	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return levels.Load() > 0 && captions.Load() > 0
	}, 2*time.Second, 5*time.Millisecond)

	tr.Disconnect()
	tr.Disconnect()
	l, c := levels.Load(), captions.Load()
	for i := 0; i < 20; i++ {
		clock.Advance(5 * time.Second)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, l, levels.Load())
	assert.Equal(t, c, captions.Load())
}

func TestReconnectReplacesEmitters(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := newTestTransport(&sim.Script{Floats: []float64{0.1}}, clock)
	var mu sync.Mutex
	seen := map[string]bool{}
	tr.OnAudioLevel(func(l Level) {
		mu.Lock()
		seen[l.SpeakerID] = true
		mu.Unlock()
	})

	tr.Connect(room())
	tr.Connect([]domain.Speaker{{ID: "solo", Role: domain.RoleHost}})
	defer tr.Disconnect()

	require.Eventually(t, func() bool {
		clock.Advance(200 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		return seen["solo"]
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, seen["s1"])
	assert.False(t, seen["s4"])
}
