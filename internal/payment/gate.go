// Package payment simulates the Pro checkout: a timed state machine that
// ends by flipping the user's entitlement flag.
package payment

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ykvlv/investmate/internal/metrics"
	"github.com/ykvlv/investmate/internal/notify"
	"github.com/ykvlv/investmate/internal/pubsub"
)

// State is a checkout step.
type State string

const (
	Locked       State = "locked"
	CheckoutOpen State = "checkout-open"
	Processing   State = "processing"
	Success      State = "success"
	Unlocked     State = "unlocked"
)

const (
	welcomeTitle = "Welcome to Pro!"
	welcomeBody  = "You now have full access to signals, premium clubs, and more."
)

// Entitlement is the owner of the Pro flag.
type Entitlement interface {
	IsPro() bool
	UpgradeToPro() bool
}

// Change is one state transition.
type Change struct {
	From, To State
	Reason   string
}

// Options tune a Gate. Zero values select defaults.
type Options struct {
	ProcessingDelay time.Duration // default 2s
	SuccessDelay    time.Duration // default 1.5s
	Clock           clockwork.Clock
	Notifier        notify.Notifier
	Metrics         *metrics.Metrics
	OnSuccess       func()
}

// Gate walks locked -> checkout-open -> processing -> success -> unlocked.
// Misplaced calls are no-ops that return false.
type Gate struct {
	ent  Entitlement
	log  *zap.Logger
	opts Options

	changes pubsub.Registry[Change]

	mu      sync.Mutex
	state   State
	reason  string
	gen     uint64
	timer   clockwork.Timer
	pending sync.WaitGroup
}

// New returns a gate, already unlocked when ent is Pro.
func New(ent Entitlement, log *zap.Logger, opts Options) *Gate {
	if opts.ProcessingDelay <= 0 {
		opts.ProcessingDelay = 2 * time.Second
	}
	if opts.SuccessDelay <= 0 {
		opts.SuccessDelay = 1500 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	g := &Gate{ent: ent, log: log.Named("payment"), opts: opts, state: Locked}
	if ent.IsPro() {
		g.state = Unlocked
	}
	return g
}

func (g *Gate) OnStateChange(fn func(Change)) (unsubscribe func()) {
	return g.changes.Subscribe(fn)
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Reason is what opened the checkout, e.g. "Continue Listening to Audio Room".
func (g *Gate) Reason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reason
}

// Open shows the checkout. Only valid while locked.
func (g *Gate) Open(reason string) bool {
	return g.transition(Locked, CheckoutOpen, func() { g.reason = reason })
}

// Close dismisses the checkout. Only valid while checkout-open.
func (g *Gate) Close() bool {
	return g.transition(CheckoutOpen, Locked, nil)
}

// Pay starts processing. Only valid while checkout-open, so a second Pay
// during processing does not start another cycle.
func (g *Gate) Pay() bool {
	ok := g.transition(CheckoutOpen, Processing, func() {
		g.schedule(g.opts.ProcessingDelay, Processing, Success, func() {
			g.schedule(g.opts.SuccessDelay, Success, Unlocked, nil)
		})
	})
	if ok {
		g.log.Info("payment processing", zap.String("reason", g.Reason()))
	}
	return ok
}

// transition moves from -> to and runs also under the lock.
func (g *Gate) transition(from, to State, also func()) bool {
	g.mu.Lock()
	if g.state != from {
		g.mu.Unlock()
		return false
	}
	g.state = to
	if also != nil {
		also()
	}
	c := Change{From: from, To: to, Reason: g.reason}
	g.mu.Unlock()

	g.changes.Publish(c)
	return true
}

// schedule arms the next timed step. Must hold g.mu. The step is dropped
// when Stop ran in between or the state moved on.
func (g *Gate) schedule(d time.Duration, from, to State, next func()) {
	gen := g.gen
	g.pending.Add(1)
	g.timer = g.opts.Clock.AfterFunc(d, func() {
		defer g.pending.Done()
		g.mu.Lock()
		if g.gen != gen || g.state != from {
			g.mu.Unlock()
			return
		}
		if to == Unlocked {
			g.ent.UpgradeToPro()
		}
		g.state = to
		g.timer = nil
		if next != nil {
			next()
		}
		c := Change{From: from, To: to, Reason: g.reason}
		g.mu.Unlock()

		if to == Unlocked {
			g.welcome()
		}
		g.changes.Publish(c)
	})
}

// welcome runs after the entitlement flipped, outside g.mu, so a slow
// notifier does not block State or Stop.
func (g *Gate) welcome() {
	if err := g.opts.Notifier.Notify(context.Background(), welcomeTitle, welcomeBody); err != nil {
		g.log.Warn("welcome notification failed", zap.Error(err))
	}
	g.opts.Metrics.PaymentUnlocked()
	g.log.Info("pro unlocked")
	if g.opts.OnSuccess != nil {
		g.opts.OnSuccess()
	}
}

// Stop cancels a pending step and waits for a running one to finish. An
// unfinished checkout falls back to locked without a change event.
func (g *Gate) Stop() {
	g.mu.Lock()
	g.gen++
	if g.timer != nil {
		if g.timer.Stop() {
			g.pending.Done()
		}
		g.timer = nil
	}
	if g.state != Unlocked {
		g.state = Locked
	}
	g.mu.Unlock()
	g.pending.Wait()
}
