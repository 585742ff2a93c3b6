// Package chat is the community chat channel: a simulated message stream
// with an optional websocket leg and an AI assistant that answers mentions.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/ykvlv/investmate/assets"
	"github.com/ykvlv/investmate/internal/domain"
	"github.com/ykvlv/investmate/internal/metrics"
	"github.com/ykvlv/investmate/internal/pubsub"
	"github.com/ykvlv/investmate/internal/sim"
)

var (
	mentionRe = regexp.MustCompile(`(?i)@gemini`)
	tradeRe   = regexp.MustCompile(`(?i)buy|sell`)
)

// Assistant answers a chat mention. An empty answer means no reply.
type Assistant interface {
	ChatReply(ctx context.Context, query string) string
}

// UserSource provides the author of outgoing messages.
type UserSource interface {
	CurrentUser() domain.User
}

// Options tune a Transport. Zero values select defaults.
type Options struct {
	Tick           time.Duration // mock traffic cadence, default 3s
	MessageChance  float64       // chance of a mock message per tick, default 0.3
	BotDelay       time.Duration // assistant reply delay, default 1s
	MarketBotDelay time.Duration // buy/sell commentary delay, default 1.5s
	AITimeout      time.Duration // default 10s
	DialTimeout    time.Duration // default 5s
	Personas       []assets.Persona
	Phrases        []string
	Bot            domain.User // assistant persona
	Clock          clockwork.Clock
	Rand           sim.Rand
	Metrics        *metrics.Metrics
}

// session is one Connect..Disconnect span. Every goroutine it starts is
// tracked by wg and exits when ctx is cancelled.
type session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	replies chan domain.ChatMessage

	// guarded by Transport.mu
	conn       *websocket.Conn
	botBusy    bool
	marketBusy bool
}

// Transport delivers chat messages to subscribers. Background messages
// (mock traffic, remote frames, bot replies) are published from a single
// loop goroutine, so once Disconnect returns no listener is called again.
// Send delivers its echo on the caller's goroutine, concurrently with the
// loop, so listeners must be safe for concurrent use. Listeners must not
// call Disconnect.
type Transport struct {
	users     UserSource
	assistant Assistant
	log       *zap.Logger
	opts      Options

	listeners pubsub.Registry[domain.ChatMessage]

	lifeMu sync.Mutex // serializes Connect and Disconnect

	mu   sync.Mutex
	sess *session
	seq  uint64
}

func NewTransport(users UserSource, assistant Assistant, log *zap.Logger, opts Options) *Transport {
	if opts.Tick <= 0 {
		opts.Tick = 3 * time.Second
	}
	if opts.MessageChance <= 0 {
		opts.MessageChance = 0.3
	}
	if opts.BotDelay <= 0 {
		opts.BotDelay = time.Second
	}
	if opts.MarketBotDelay <= 0 {
		opts.MarketBotDelay = 1500 * time.Millisecond
	}
	if opts.AITimeout <= 0 {
		opts.AITimeout = 10 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Rand == nil {
		opts.Rand = sim.NewRand(uint64(time.Now().UnixNano()))
	}
	if opts.Bot.ID == "" {
		opts.Bot = domain.User{ID: "gemini_bot", Name: "Gemini AI", Handle: "@Gemini", Rank: domain.RankWizard}
	}
	return &Transport{
		users:     users,
		assistant: assistant,
		log:       log.Named("chat"),
		opts:      opts,
	}
}

// OnMessage subscribes fn to every delivered message. Subscriptions survive
// Disconnect and reconnects.
func (t *Transport) OnMessage(fn func(domain.ChatMessage)) (unsubscribe func()) {
	return t.listeners.Subscribe(fn)
}

// Connect starts a session. An empty endpoint runs the simulation; otherwise
// the transport dials a websocket and falls back to the simulation when the
// dial fails or the socket closes. A previous session is replaced.
func (t *Transport) Connect(ctx context.Context, endpoint string) {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()
	t.disconnect()

	var conn *websocket.Conn
	if endpoint != "" {
		dialCtx, cancel := context.WithTimeout(ctx, t.opts.DialTimeout)
		c, _, err := websocket.Dial(dialCtx, endpoint, nil)
		cancel()
		if err != nil {
			t.log.Warn("websocket dial failed, using simulation", zap.String("endpoint", endpoint), zap.Error(err))
		} else {
			conn = c
			t.log.Info("connected to chat websocket", zap.String("endpoint", endpoint))
		}
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{ctx: sctx, cancel: cancel, replies: make(chan domain.ChatMessage), conn: conn}

	var incoming chan domain.ChatMessage
	if conn != nil {
		incoming = make(chan domain.ChatMessage)
		s.wg.Add(1)
		go t.read(s, conn, incoming)
	}
	s.wg.Add(1)
	go t.run(s, incoming)

	t.mu.Lock()
	t.sess = s
	t.mu.Unlock()
}

// Disconnect closes the socket, stops mock traffic and drops pending bot
// replies. It returns after every session goroutine has exited. Safe to call
// repeatedly and before Connect.
func (t *Transport) Disconnect() {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()
	t.disconnect()
}

func (t *Transport) disconnect() {
	t.mu.Lock()
	s := t.sess
	t.sess = nil
	var conn *websocket.Conn
	if s != nil {
		conn = s.conn
		s.conn = nil
	}
	t.mu.Unlock()
	if s == nil {
		return
	}
	s.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
	s.wg.Wait()
}

// Connected reports whether a session is running and whether it uses a live socket.
func (t *Transport) Connected() (running, socket bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil {
		return false, false
	}
	return true, t.sess.conn != nil
}

// Send publishes text as the current user. Blank text is ignored. The echo is
// delivered to listeners before Send returns; a mention of @Gemini schedules
// one assistant reply unless one is already pending.
func (t *Transport) Send(ctx context.Context, text string) (domain.ChatMessage, bool) {
	if strings.TrimSpace(text) == "" {
		return domain.ChatMessage{}, false
	}
	u := t.users.CurrentUser()
	msg := domain.ChatMessage{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		User:      u,
		Text:      text,
		Timestamp: domain.ClockLabel(t.opts.Clock.Now()),
	}

	t.mu.Lock()
	s := t.sess
	var conn *websocket.Conn
	if s != nil {
		conn = s.conn
	}
	t.mu.Unlock()

	if conn != nil {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := wsjson.Write(wctx, conn, msg); err != nil {
			t.log.Warn("websocket write failed", zap.Error(err))
		}
		cancel()
	}
	t.publish(msg, "local")

	if s == nil {
		return msg, true
	}
	if t.assistant != nil && mentionRe.MatchString(text) {
		t.spawn(s, &s.botBusy, func() { t.botReply(s, text) })
	}
	if conn == nil && tradeRe.MatchString(text) {
		t.spawn(s, &s.marketBusy, func() { t.marketReply(s, text) })
	}
	return msg, true
}

// spawn runs fn in a session goroutine unless busy is already set.
func (t *Transport) spawn(s *session, busy *bool, fn func()) {
	t.mu.Lock()
	if t.sess != s || *busy {
		t.mu.Unlock()
		return
	}
	*busy = true
	s.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			t.mu.Lock()
			*busy = false
			t.mu.Unlock()
		}()
		fn()
	}()
}

func (t *Transport) botReply(s *session, query string) {
	actx, cancel := context.WithTimeout(s.ctx, t.opts.AITimeout)
	reply := strings.TrimSpace(t.assistant.ChatReply(actx, query))
	cancel()
	if reply == "" || s.ctx.Err() != nil {
		return
	}
	if !t.sleep(s, t.opts.BotDelay) {
		return
	}
	bot := t.opts.Bot.Clone()
	t.deliver(s, domain.ChatMessage{
		ID:        uuid.NewString(),
		UserID:    bot.ID,
		User:      bot,
		Text:      reply,
		Timestamp: domain.ClockLabel(t.opts.Clock.Now()),
		IsSystem:  true,
	})
}

func (t *Transport) marketReply(s *session, text string) {
	if !t.sleep(s, t.opts.MarketBotDelay) {
		return
	}
	bot := t.users.CurrentUser()
	bot.ID = "bot"
	bot.Name = "Market Bot"
	bot.Rank = domain.RankGuru
	bot.Avatar = "https://api.dicebear.com/7.x/bottts/svg?seed=market"
	t.deliver(s, domain.ChatMessage{
		ID:        uuid.NewString(),
		UserID:    bot.ID,
		User:      bot,
		Text:      fmt.Sprintf("Analyzing sentiment for %q... Market appears volatile.", text),
		Timestamp: domain.ClockLabel(t.opts.Clock.Now()),
		IsSystem:  true,
	})
}

func (t *Transport) sleep(s *session, d time.Duration) bool {
	select {
	case <-t.opts.Clock.After(d):
		return true
	case <-s.ctx.Done():
		return false
	}
}

// deliver hands msg to the session loop for publishing.
func (t *Transport) deliver(s *session, msg domain.ChatMessage) {
	select {
	case s.replies <- msg:
	case <-s.ctx.Done():
	}
}

func (t *Transport) publish(msg domain.ChatMessage, origin string) {
	t.listeners.Publish(msg)
	t.opts.Metrics.ChatMessage(origin)
}

func (t *Transport) run(s *session, incoming <-chan domain.ChatMessage) {
	defer s.wg.Done()

	var ticker clockwork.Ticker
	var tick <-chan time.Time
	startMock := func() {
		ticker = t.opts.Clock.NewTicker(t.opts.Tick)
		tick = ticker.Chan()
	}
	if incoming == nil {
		startMock()
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-tick:
			if msg, ok := t.mockMessage(); ok {
				t.publish(msg, "mock")
			}
		case msg := <-s.replies:
			t.publish(msg, "bot")
		case msg, ok := <-incoming:
			if !ok {
				incoming = nil
				t.mu.Lock()
				s.conn = nil
				t.mu.Unlock()
				if s.ctx.Err() != nil {
					return
				}
				t.log.Info("websocket disconnected, reverting to simulation")
				startMock()
				continue
			}
			t.publish(msg, "remote")
		}
	}
}

// read forwards decoded frames until the socket fails, then closes out.
// Undecodable frames are skipped.
func (t *Transport) read(s *session, conn *websocket.Conn, out chan<- domain.ChatMessage) {
	defer s.wg.Done()
	defer close(out)
	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				t.log.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		var msg domain.ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.log.Warn("failed to parse incoming message", zap.Error(err))
			continue
		}
		select {
		case out <- msg:
		case <-s.ctx.Done():
			return
		}
	}
}

// mockMessage rolls for one simulated community message.
func (t *Transport) mockMessage() (domain.ChatMessage, bool) {
	r := t.opts.Rand
	if len(t.opts.Personas) == 0 || len(t.opts.Phrases) == 0 || !sim.Chance(r, t.opts.MessageChance) {
		return domain.ChatMessage{}, false
	}
	p := sim.Pick(r, t.opts.Personas)
	text := sim.Pick(r, t.opts.Phrases)

	t.mu.Lock()
	t.seq++
	n := t.seq
	t.mu.Unlock()

	id := fmt.Sprintf("u_mock_%d", n)
	return domain.ChatMessage{
		ID:     uuid.NewString(),
		UserID: id,
		User: domain.User{
			ID:     id,
			Name:   p.Name,
			Rank:   p.Rank,
			Avatar: fmt.Sprintf("https://picsum.photos/100/100?random=%d", r.IntN(100)),
		},
		Text:      text,
		Timestamp: domain.ClockLabel(t.opts.Clock.Now()),
	}, true
}
