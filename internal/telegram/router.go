package telegram

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ykvlv/investmate/internal/ai"
	"github.com/ykvlv/investmate/internal/domain"
	"github.com/ykvlv/investmate/internal/scheduler"
)

// Pending state keys used in the guided /schedule flow.
const (
	pendingWhen    = "await_when_text"
	pendingContent = "await_content_text"
)

// Bot is the part of *tgbotapi.BotAPI the router talks to.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Alerts is the alert engine surface exposed over Telegram.
type Alerts interface {
	Schedule(ctx context.Context, req scheduler.AlertRequest) (string, error)
	Cancel(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, userID string) ([]domain.Alert, error)
}

// Insights serves the market commands.
type Insights interface {
	MarketPulse(ctx context.Context) ai.MarketPulse
	StockNews(ctx context.Context, ticker string) []string
}

// Feed publishes and analyzes posts.
type Feed interface {
	AddPost(ctx context.Context, content, clubID string, typ domain.PostType) (domain.Post, error)
	Analyze(ctx context.Context, postID string) (domain.Post, ai.Sentiment, error)
}

// Quiz serves one open question at a time.
type Quiz interface {
	Next(ctx context.Context) (ai.QuizQuestion, error)
	Answer(option int) (bool, ai.QuizQuestion, error)
}

// Digest summarizes recent chat.
type Digest interface {
	CatchUp(ctx context.Context) []string
}

// Rooms is the audio room registry.
type Rooms interface {
	Live() []domain.AudioRoom
	Active() (domain.AudioRoom, bool)
	Join(roomID string) (domain.AudioRoom, error)
	Leave()
}

// Deps are the services behind the commands. A nil service answers
// "not available" instead of failing.
type Deps struct {
	Alerts   Alerts
	Insights Insights
	Users    scheduler.UserSource
	Feed     Feed
	Quiz     Quiz
	Digest   Digest
	Rooms    Rooms
	Clock    clockwork.Clock
	Location *time.Location // zone for local "2006-01-02 15:04" times
}

// draft is a /schedule in progress.
type draft struct {
	req scheduler.AlertRequest
}

// Router wires Telegram updates to handlers and keeps the guided flow state in memory.
type Router struct {
	bot      Bot
	log      *zap.Logger
	alerts   Alerts
	insights Insights
	users    scheduler.UserSource
	feed     Feed
	quiz     Quiz
	digest   Digest
	rooms    Rooms
	clock    clockwork.Clock
	loc      *time.Location

	mu     sync.RWMutex
	state  map[int64]string // chatID -> pending state
	drafts map[int64]*draft
}

// NewRouter creates a router.
func NewRouter(bot Bot, log *zap.Logger, deps Deps) *Router {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &Router{
		bot:      bot,
		log:      log.Named("telegram"),
		alerts:   deps.Alerts,
		insights: deps.Insights,
		users:    deps.Users,
		feed:     deps.Feed,
		quiz:     deps.Quiz,
		digest:   deps.Digest,
		rooms:    deps.Rooms,
		clock:    deps.Clock,
		loc:      deps.Location,
		state:    make(map[int64]string),
		drafts:   make(map[int64]*draft),
	}
}

func (r *Router) setPending(chatID int64, s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[chatID] = s
}

func (r *Router) getPending(chatID int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state[chatID]
}

// clearPending drops the pending state and any draft of the chat.
func (r *Router) clearPending(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state, chatID)
	delete(r.drafts, chatID)
}

// editDraft runs fn on the chat's draft, creating it if needed.
func (r *Router) editDraft(chatID int64, fn func(d *draft)) scheduler.AlertRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drafts[chatID]
	if !ok {
		d = &draft{}
		r.drafts[chatID] = d
	}
	fn(d)
	return d.req
}

// HandleUpdate routes a single update to the appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		msg := upd.Message
		chatID := msg.Chat.ID
		text := strings.TrimSpace(msg.Text)
		cmd, args := splitCommand(text)

		switch cmd {
		case "/start", "/help":
			r.clearPending(chatID)
			r.handleStart(chatID)
		case "/alerts":
			r.handleAlerts(ctx, chatID)
		case "/schedule":
			r.handleSchedule(ctx, chatID, args)
		case "/cancel":
			r.handleCancel(ctx, chatID, args)
		case "/pulse":
			r.handlePulse(ctx, chatID)
		case "/news":
			r.handleNews(ctx, chatID, args)
		case "/post":
			r.handlePost(ctx, chatID, "", args)
		case "/clubpost":
			club, text, _ := strings.Cut(args, " ")
			if club == "" {
				r.sendText(chatID, clubPostUsage)
				return
			}
			r.handlePost(ctx, chatID, club, text)
		case "/analyze":
			r.handleAnalyze(ctx, chatID, args)
		case "/quiz":
			r.handleQuiz(ctx, chatID)
		case "/catchup":
			r.handleCatchUp(ctx, chatID)
		case "/rooms":
			r.handleRooms(chatID)
		case "/join":
			r.handleJoin(chatID, args)
		case "/leave":
			r.handleLeave(chatID)
		default:
			r.handleFreeForm(ctx, chatID, text)
		}
		return
	}

	if upd.CallbackQuery != nil {
		cb := upd.CallbackQuery
		if cb.Message == nil {
			return
		}
		chatID := cb.Message.Chat.ID
		kind, value, _ := strings.Cut(cb.Data, ":")

		switch kind {
		case "type":
			r.handleTypeCallback(chatID, value, cb.ID)
		case "repeat":
			r.handleRepeatCallback(chatID, value, cb.ID)
		case "cancel":
			r.handleCancelCallback(ctx, chatID, value, cb.ID)
		case "quiz":
			r.handleQuizCallback(chatID, value, cb.ID)
		default:
			// Unknown callback, ignore.
		}
	}
}

// splitCommand returns the command without a "@botname" suffix and the rest of the text.
func splitCommand(text string) (cmd, args string) {
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	cmd, args, _ = strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), strings.TrimSpace(args)
}
