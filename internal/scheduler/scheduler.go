package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ykvlv/investmate/internal/domain"
	"github.com/ykvlv/investmate/internal/logger"
	"github.com/ykvlv/investmate/internal/metrics"
	"github.com/ykvlv/investmate/internal/notify"
	"github.com/ykvlv/investmate/internal/store"
)

var ErrUnknownClub = errors.New("unknown club")

// PostSink publishes synthesized feed posts.
type PostSink interface {
	CreatePost(ctx context.Context, p domain.Post) error
}

// ClubLookup validates audience targeting.
type ClubLookup interface {
	Club(id string) (domain.Club, bool)
}

// UserSource provides the owner of newly scheduled alerts.
type UserSource interface {
	CurrentUser() domain.User
}

// Sinks are the collaborators the engine reads from and writes to.
type Sinks struct {
	Posts    PostSink
	Notifier notify.Notifier
	Clubs    ClubLookup
	Users    UserSource
}

// Options tune the engine. Zero values select defaults.
type Options struct {
	Interval  time.Duration  // sweep cadence, default 10s, at least 1s
	Location  *time.Location // calendar for DAILY/WEEKLY, default UTC
	BatchSize int            // alerts per ListDue page, default 100
	Clock     clockwork.Clock
	Metrics   *metrics.Metrics
}

// Engine keeps scheduled alerts and fires the due ones on every sweep.
type Engine struct {
	repo    store.Repo
	sinks   Sinks
	log     *zap.Logger
	clock   clockwork.Clock
	loc     *time.Location
	every   time.Duration
	batch   int
	metrics *metrics.Metrics

	sweepMu sync.Mutex

	cronMu sync.Mutex
	cron   *cron.Cron
	done   chan struct{} // closed by Stop, one per run
}

// New creates an Engine.
func New(repo store.Repo, log *zap.Logger, sinks Sinks, opts Options) *Engine {
	if sinks.Notifier == nil {
		sinks.Notifier = notify.Nop{}
	}
	e := &Engine{
		repo:    repo,
		sinks:   sinks,
		log:     log.Named("scheduler"),
		clock:   opts.Clock,
		loc:     opts.Location,
		every:   opts.Interval,
		batch:   opts.BatchSize,
		metrics: opts.Metrics,
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	switch {
	case e.every <= 0:
		e.every = 10 * time.Second
	case e.every < time.Second:
		// cron.Every has one second resolution.
		e.every = time.Second
	}
	if e.batch <= 0 {
		e.batch = 100
	}
	return e
}

// AlertRequest describes an alert to schedule.
type AlertRequest struct {
	Type      domain.AlertType
	Content   string
	At        time.Time
	ClubID    string
	Repeat    domain.Repeat
	AIContext bool
}

// Schedule stores a new PENDING alert owned by the current user and returns
// its id. A time in the past is accepted and fires on the next sweep.
// Invalid requests store nothing.
func (e *Engine) Schedule(ctx context.Context, req AlertRequest) (string, error) {
	if req.Repeat == "" {
		req.Repeat = domain.RepeatNone
	}
	a := domain.Alert{
		ID:          uuid.NewString(),
		ClubID:      req.ClubID,
		Type:        req.Type,
		Content:     req.Content,
		ScheduledAt: req.At.UTC(),
		Repeat:      req.Repeat,
		Status:      domain.StatusPending,
		AIContext:   req.AIContext,
		CreatedAt:   e.clock.Now().UTC(),
	}
	if e.sinks.Users != nil {
		a.UserID = e.sinks.Users.CurrentUser().ID
	}
	if err := a.Validate(); err != nil {
		return "", err
	}
	if a.ClubID != "" && e.sinks.Clubs != nil {
		if _, ok := e.sinks.Clubs.Club(a.ClubID); !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownClub, a.ClubID)
		}
	}
	if err := e.repo.InsertAlert(ctx, &a); err != nil {
		return "", fmt.Errorf("insert alert: %w", err)
	}
	e.log.Info("alert scheduled",
		zap.String("id", a.ID),
		zap.String("type", string(a.Type)),
		zap.Time("at", a.ScheduledAt),
		zap.String("repeat", string(a.Repeat)),
	)
	return a.ID, nil
}

// Cancel marks a PENDING alert CANCELLED. It returns false, without error,
// when the alert is unknown or already SENT/CANCELLED.
func (e *Engine) Cancel(ctx context.Context, id string) (bool, error) {
	ok, err := e.repo.Cancel(ctx, id)
	if err != nil {
		return false, fmt.Errorf("cancel alert: %w", err)
	}
	if ok {
		e.log.Info("alert cancelled", zap.String("id", id))
	}
	return ok, nil
}

// Get returns one alert.
func (e *Engine) Get(ctx context.Context, id string) (*domain.Alert, error) {
	return e.repo.GetAlert(ctx, id)
}

// List returns every alert owned by userID, including SENT and CANCELLED ones.
func (e *Engine) List(ctx context.Context, userID string) ([]domain.Alert, error) {
	return e.repo.ListByUser(ctx, userID)
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Fired       int
	SinkErrors  int
	ClaimFailed int
}

// Sweep fires every alert due at now, at most once per alert. The firing is
// claimed in the store before side effects run, so a failed post or
// notification never re-fires the alert and a concurrent Cancel wins over a
// stale read. A recurring alert that missed several occurrences fires one per
// sweep until it catches up.
func (e *Engine) Sweep(ctx context.Context, now time.Time) SweepResult {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()

	start := e.clock.Now()
	defer func() { e.metrics.ObserveSweep(e.clock.Since(start)) }()

	var res SweepResult
	seen := make(map[string]struct{})
	for {
		due, err := e.repo.ListDue(ctx, now, e.batch)
		if err != nil {
			e.log.Error("ListDue failed", zap.Error(err))
			return res
		}
		fresh := 0
		for _, a := range due {
			if _, ok := seen[a.ID]; ok {
				continue
			}
			seen[a.ID] = struct{}{}
			fresh++

			observed := a.ScheduledAt
			next := a
			next.Advance(now, e.loc)
			won, err := e.repo.Claim(ctx, &next, observed)
			if err != nil {
				res.ClaimFailed++
				e.log.Error("Claim failed", zap.Error(err), zap.String("id", a.ID))
				continue
			}
			if !won {
				continue
			}
			res.SinkErrors += e.fire(ctx, a, now)
			res.Fired++
		}
		if len(due) < e.batch || fresh == 0 {
			break
		}
	}
	if res.Fired > 0 {
		e.log.Debug("sweep done", zap.Int("fired", res.Fired), zap.Int("sinkErrors", res.SinkErrors))
	}
	return res
}

// fire publishes the post and notification for one occurrence and returns
// the number of failed side effects.
func (e *Engine) fire(ctx context.Context, a domain.Alert, now time.Time) int {
	content := a.PostContent()
	post := domain.Post{
		ID:        uuid.NewString(),
		UserID:    a.UserID,
		Content:   content,
		Hashtags:  []string{"#scheduled", a.Type.Tag()},
		Tickers:   domain.ExtractTickers(content),
		ClubID:    a.ClubID,
		Type:      a.PostType(),
		CreatedAt: now.UTC(),
	}

	failed := 0
	if e.sinks.Posts != nil {
		if err := e.sinks.Posts.CreatePost(ctx, post); err != nil {
			failed++
			e.metrics.AlertSideEffectFailed("post")
			e.log.Error("create post failed", zap.Error(err), zap.String("alert", a.ID))
		}
	}
	if err := e.sinks.Notifier.Notify(ctx, a.Type.Title(), domain.NotificationBody(content)); err != nil {
		failed++
		e.metrics.AlertSideEffectFailed("notify")
		e.log.Warn("notify failed", zap.Error(err), zap.String("alert", a.ID))
	}
	e.metrics.AlertFired(string(a.Type))
	e.log.Info("alert fired",
		zap.String("id", a.ID),
		zap.String("type", string(a.Type)),
		zap.Time("scheduledAt", a.ScheduledAt),
	)
	return failed
}

// Start runs a catch-up sweep, then sweeps on the configured cadence until
// ctx is cancelled or Stop is called. Calling Start on a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.cronMu.Lock()
	defer e.cronMu.Unlock()
	if e.cron != nil {
		return nil
	}

	e.Sweep(ctx, e.clock.Now())

	cl := logger.Cron(e.log)
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(cron.Every(e.every), cron.FuncJob(func() {
		e.Sweep(ctx, e.clock.Now())
	}))
	c.Start()
	done := make(chan struct{})
	e.cron, e.done = c, done
	e.log.Info("scheduler started", zap.Duration("interval", e.every))

	go func() {
		select {
		case <-ctx.Done():
			e.stop(done)
		case <-done:
		}
	}()
	return nil
}

// Stop halts the sweep loop and waits for a running sweep to finish.
// Safe to call multiple times and before Start.
func (e *Engine) Stop() {
	e.stop(nil)
}

// stop ends the current run. A non-nil run only stops that run, so a
// cancelled context cannot stop an engine restarted since.
func (e *Engine) stop(run chan struct{}) {
	e.cronMu.Lock()
	if e.cron == nil || (run != nil && run != e.done) {
		e.cronMu.Unlock()
		return
	}
	c := e.cron
	close(e.done)
	e.cron, e.done = nil, nil
	e.cronMu.Unlock()
	<-c.Stop().Done()
	e.log.Info("scheduler stopping")
}
