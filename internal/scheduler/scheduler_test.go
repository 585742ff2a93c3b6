package scheduler

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ykvlv/investmate/assets"
	"github.com/ykvlv/investmate/internal/domain"
	"github.com/ykvlv/investmate/internal/metrics"
	"github.com/ykvlv/investmate/internal/notify"
	"github.com/ykvlv/investmate/internal/state"
	"github.com/ykvlv/investmate/internal/store"
)

var t0 = time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)

type recordedNote struct{ title, body string }

type harness struct {
	engine *Engine
	app    *state.Store
	repo   *store.SQLiteRepo
	clock  *clockwork.FakeClock

	mu    sync.Mutex
	notes []recordedNote
}

func (h *harness) notifications() []recordedNote {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]recordedNote(nil), h.notes...)
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	ctx := context.Background()

	repo, err := store.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	clock := clockwork.NewFakeClockAt(t0)
	app, err := state.New(assets.MustLoadSeed(), "u1", clock)
	require.NoError(t, err)

	h := &harness{app: app, repo: repo, clock: clock}
	n := notify.Func(func(_ context.Context, title, body string) error {
		h.mu.Lock()
		h.notes = append(h.notes, recordedNote{title, body})
		h.mu.Unlock()
		return nil
	})
	if opts.Clock == nil {
		opts.Clock = clock
	}
	h.engine = New(repo, zap.NewNop(), Sinks{Posts: app, Notifier: n, Clubs: app, Users: app}, opts)
	return h
}

func (h *harness) schedule(t *testing.T, req AlertRequest) string {
	t.Helper()
	id, err := h.engine.Schedule(context.Background(), req)
	require.NoError(t, err)
	return id
}

func (h *harness) alert(t *testing.T, id string) *domain.Alert {
	t.Helper()
	a, err := h.engine.Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestPastPreMarketAlertFiresOnce(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	id := h.schedule(t, AlertRequest{
		Type:    domain.AlertPreMarket,
		Content: "Watching $NIFTY 19450 support",
		At:      t0.Add(-time.Minute),
		Repeat:  domain.RepeatNone,
	})

	res := h.engine.Sweep(ctx, t0)
	assert.Equal(t, 1, res.Fired)
	assert.Zero(t, res.SinkErrors)

	posts := h.app.Posts()
	require.Len(t, posts, 1)
	p := posts[0]
	assert.Equal(t, "Watching $NIFTY 19450 support", p.Content)
	assert.Equal(t, []string{"#scheduled", "#premarket"}, p.Hashtags)
	assert.Equal(t, []string{"$NIFTY"}, p.Tickers)
	assert.Equal(t, domain.PostAnnouncement, p.Type)
	assert.Equal(t, "u1", p.UserID)

	a := h.alert(t, id)
	assert.Equal(t, domain.StatusSent, a.Status)
	require.NotNil(t, a.LastFiredAt)

	notes := h.notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "☀️ Pre-Market Plan", notes[0].title)
	assert.Equal(t, "Watching $NIFTY 19450 support...", notes[0].body)

	// SENT never changes again.
	for i := 1; i <= 3; i++ {
		res = h.engine.Sweep(ctx, t0.Add(time.Duration(i)*24*time.Hour))
		assert.Zero(t, res.Fired)
	}
	assert.Len(t, h.app.Posts(), 1)
	assert.Equal(t, domain.StatusSent, h.alert(t, id).Status)
}

func TestFutureNewsAlertStaysPending(t *testing.T) {
	h := newHarness(t, Options{})

	id := h.schedule(t, AlertRequest{
		Type:    domain.AlertNews,
		Content: "CPI print at 18:00",
		At:      t0.Add(time.Hour),
	})

	res := h.engine.Sweep(context.Background(), t0)
	assert.Zero(t, res.Fired)
	assert.Empty(t, h.app.Posts())
	assert.Empty(t, h.notifications())

	a := h.alert(t, id)
	assert.Equal(t, domain.StatusPending, a.Status)
	assert.Equal(t, domain.RepeatNone, a.Repeat)
}

func TestDailyAlertAdvancesBy24hAndStaysPending(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	at := t0.Add(-time.Minute)
	id := h.schedule(t, AlertRequest{
		Type:    domain.AlertPostMarket,
		Content: "Wrap-up",
		At:      at,
		Repeat:  domain.RepeatDaily,
	})

	require.Equal(t, 1, h.engine.Sweep(ctx, t0).Fired)
	a := h.alert(t, id)
	assert.Equal(t, domain.StatusPending, a.Status)
	assert.True(t, a.ScheduledAt.Equal(at.Add(24*time.Hour)), "got %s", a.ScheduledAt)

	// Not due again until the next occurrence.
	assert.Zero(t, h.engine.Sweep(ctx, t0.Add(time.Hour)).Fired)
	require.Equal(t, 1, h.engine.Sweep(ctx, at.Add(24*time.Hour)).Fired)
	a = h.alert(t, id)
	assert.True(t, a.ScheduledAt.Equal(at.Add(48*time.Hour)))
	assert.Equal(t, domain.StatusPending, a.Status)
	assert.Len(t, h.app.Posts(), 2)
}

func TestRecurringCatchUpFiresOneOccurrencePerSweep(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	at := t0.Add(-3*24*time.Hour + time.Minute)
	id := h.schedule(t, AlertRequest{
		Type:    domain.AlertSignalReminder,
		Content: "Trail stop on $TCS",
		At:      at,
		Repeat:  domain.RepeatDaily,
	})

	fired := 0
	for i := 0; i < 5; i++ {
		fired += h.engine.Sweep(ctx, t0).Fired
	}
	// Missed at-3d, at-2d and at-1d; the next one is after now.
	assert.Equal(t, 3, fired)
	a := h.alert(t, id)
	assert.True(t, a.ScheduledAt.After(t0))
	assert.True(t, a.ScheduledAt.Equal(at.Add(3*24*time.Hour)))

	for _, p := range h.app.Posts() {
		assert.Equal(t, domain.PostRegular, p.Type)
	}
}

func TestWeeklyAlertAdvancesSevenDays(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.schedule(t, AlertRequest{
		Type:    domain.AlertNews,
		Content: "Weekly expiry",
		At:      t0,
		Repeat:  domain.RepeatWeekly,
	})
	require.Equal(t, 1, h.engine.Sweep(context.Background(), t0).Fired)
	assert.True(t, h.alert(t, id).ScheduledAt.Equal(t0.AddDate(0, 0, 7)))
}

func TestCancelledAlertNeverFires(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	id := h.schedule(t, AlertRequest{
		Type:    domain.AlertPreMarket,
		Content: "Never",
		At:      t0.Add(time.Minute),
		Repeat:  domain.RepeatDaily,
	})

	ok, err := h.engine.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	for _, d := range []time.Duration{time.Hour, 24 * time.Hour, 365 * 24 * time.Hour} {
		assert.Zero(t, h.engine.Sweep(ctx, t0.Add(d)).Fired)
	}
	assert.Empty(t, h.app.Posts())
	assert.Equal(t, domain.StatusCancelled, h.alert(t, id).Status)

	// Second cancel is a no-op.
	ok, err = h.engine.Cancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.StatusCancelled, h.alert(t, id).Status)
}

func TestCancelSentOrUnknownIsNoop(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	id := h.schedule(t, AlertRequest{Type: domain.AlertNews, Content: "x", At: t0})
	h.engine.Sweep(ctx, t0)

	ok, err := h.engine.Cancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.StatusSent, h.alert(t, id).Status)

	ok, err = h.engine.Cancel(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScheduleRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	cases := []struct {
		name string
		req  AlertRequest
		want error
	}{
		{"unknown type", AlertRequest{Type: "LUNCH", Content: "x", At: t0}, domain.ErrInvalidAlert},
		{"unknown repeat", AlertRequest{Type: domain.AlertNews, Content: "x", At: t0, Repeat: "HOURLY"}, domain.ErrInvalidAlert},
		{"blank content", AlertRequest{Type: domain.AlertNews, Content: "  ", At: t0}, domain.ErrInvalidAlert},
		{"zero time", AlertRequest{Type: domain.AlertNews, Content: "x"}, domain.ErrInvalidAlert},
		{"unknown club", AlertRequest{Type: domain.AlertNews, Content: "x", At: t0, ClubID: "nope"}, ErrUnknownClub},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.Schedule(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	list, err := h.engine.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestClubAlertPostsToClubWithAIContext(t *testing.T) {
	h := newHarness(t, Options{})
	h.schedule(t, AlertRequest{
		Type:      domain.AlertPreMarket,
		Content:   "Gap up expected",
		At:        t0,
		ClubID:    "c1",
		AIContext: true,
	})
	h.engine.Sweep(context.Background(), t0)

	posts := h.app.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, "c1", posts[0].ClubID)
	assert.Equal(t, "Gap up expected"+domain.AIContextNote, posts[0].Content)
}

func TestSideEffectFailureStillAdvancesState(t *testing.T) {
	ctx := context.Background()
	repo, err := store.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	failing := notify.Func(func(context.Context, string, string) error { return errors.New("push down") })
	e := New(repo, zap.NewNop(), Sinks{Notifier: failing}, Options{Clock: clockwork.NewFakeClockAt(t0), Metrics: m})

	id, err := e.Schedule(ctx, AlertRequest{Type: domain.AlertNews, Content: "x", At: t0})
	require.NoError(t, err)

	res := e.Sweep(ctx, t0)
	assert.Equal(t, 1, res.Fired)
	assert.Equal(t, 1, res.SinkErrors)

	a, err := e.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, a.Status)
	assert.Zero(t, e.Sweep(ctx, t0.Add(time.Hour)).Fired)

	assert.Equal(t, 1.0, counterValue(t, reg, "investmate_alerts_fired_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "investmate_alerts_side_effect_errors_total"))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

func TestConcurrentSweepsFireEachAlertOnce(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		h.schedule(t, AlertRequest{Type: domain.AlertNews, Content: "burst", At: t0})
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.engine.Sweep(ctx, t0)
		}()
	}
	wg.Wait()
	assert.Len(t, h.app.Posts(), 20)
	assert.Len(t, h.notifications(), 20)
}

func TestSweepPagesThroughBatches(t *testing.T) {
	h := newHarness(t, Options{BatchSize: 3})
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		h.schedule(t, AlertRequest{Type: domain.AlertNews, Content: "page", At: t0.Add(-time.Duration(i) * time.Minute)})
	}
	assert.Equal(t, 7, h.engine.Sweep(ctx, t0).Fired)
}

func TestListReturnsHistory(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	sent := h.schedule(t, AlertRequest{Type: domain.AlertNews, Content: "a", At: t0})
	cancelled := h.schedule(t, AlertRequest{Type: domain.AlertNews, Content: "b", At: t0.Add(time.Hour)})
	pending := h.schedule(t, AlertRequest{Type: domain.AlertNews, Content: "c", At: t0.Add(2 * time.Hour)})
	h.engine.Sweep(ctx, t0)
	_, err := h.engine.Cancel(ctx, cancelled)
	require.NoError(t, err)

	list, err := h.engine.List(ctx, "u1")
	require.NoError(t, err)
	status := map[string]domain.AlertStatus{}
	for _, a := range list {
		status[a.ID] = a.Status
	}
	assert.Equal(t, map[string]domain.AlertStatus{
		sent:      domain.StatusSent,
		cancelled: domain.StatusCancelled,
		pending:   domain.StatusPending,
	}, status)
}

func TestStartRunsCatchUpAndStopIsIdempotent(t *testing.T) {
	h := newHarness(t, Options{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.engine.Stop() // before Start

	h.schedule(t, AlertRequest{Type: domain.AlertNews, Content: "boot", At: t0.Add(-time.Minute)})
	require.NoError(t, h.engine.Start(ctx))
	require.NoError(t, h.engine.Start(ctx))
	assert.Len(t, h.app.Posts(), 1)

	h.engine.Stop()
	h.engine.Stop()
}

func TestSubSecondIntervalIsClampedAndSweeps(t *testing.T) {
	h := newHarness(t, Options{Interval: 200 * time.Millisecond})
	assert.Equal(t, time.Second, h.engine.every)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.engine.Start(ctx))
	defer h.engine.Stop()

	// Scheduled after the catch-up sweep, so only a cadence sweep can fire it.
	id := h.schedule(t, AlertRequest{Type: domain.AlertNews, Content: "tick", At: t0.Add(-time.Minute)})
	require.Eventually(t, func() bool {
		return h.alert(t, id).Status == domain.StatusSent
	}, 3*time.Second, 50*time.Millisecond)
}

func TestStopEndsContextWatcher(t *testing.T) {
	h := newHarness(t, Options{Interval: time.Hour})
	ctx := context.Background()

	require.NoError(t, h.engine.Start(ctx))
	base := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		h.engine.Stop()
		require.NoError(t, h.engine.Start(ctx))
	}
	h.engine.Stop()
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= base
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancelledRunDoesNotStopRestartedEngine(t *testing.T) {
	h := newHarness(t, Options{Interval: time.Hour})
	first, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.engine.Start(first))
	h.engine.Stop()

	require.NoError(t, h.engine.Start(context.Background()))
	defer h.engine.Stop()
	cancel()

	time.Sleep(20 * time.Millisecond)
	h.engine.cronMu.Lock()
	running := h.engine.cron != nil
	h.engine.cronMu.Unlock()
	assert.True(t, running)
}
