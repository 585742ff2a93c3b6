package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ykvlv/investmate/assets"
	"github.com/ykvlv/investmate/internal/ai"
	"github.com/ykvlv/investmate/internal/audio"
	"github.com/ykvlv/investmate/internal/chat"
	"github.com/ykvlv/investmate/internal/config"
	"github.com/ykvlv/investmate/internal/domain"
	"github.com/ykvlv/investmate/internal/feed"
	"github.com/ykvlv/investmate/internal/metrics"
	"github.com/ykvlv/investmate/internal/notify"
	"github.com/ykvlv/investmate/internal/payment"
	"github.com/ykvlv/investmate/internal/scheduler"
	"github.com/ykvlv/investmate/internal/state"
	"github.com/ykvlv/investmate/internal/store"
	"github.com/ykvlv/investmate/internal/telegram"
)

const (
	chatWindowSize = 50
	unlockReason   = "Continue Listening to Audio Room"
	liveClub       = "c1"
	liveTitle      = "Morning Market Briefing"
	liveTopic      = "Market Opening"
)

type App struct {
	cfg     config.Config
	log     *zap.Logger
	clock   clockwork.Clock
	seed    assets.Seed
	loc     *time.Location
	metrics *metrics.Metrics
	bot     *tgbotapi.BotAPI // nil when BOT_TOKEN is empty
	httpSrv *http.Server
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	loc, err := time.LoadLocation(cfg.DefaultTZ)
	if err != nil {
		return nil, fmt.Errorf("load DEFAULT_TZ: %w", err)
	}
	seed, err := assets.LoadSeed()
	if err != nil {
		return nil, err
	}

	var bot *tgbotapi.BotAPI
	if cfg.BotToken != "" {
		bot, err = tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		bot.Debug = false
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	return &App{
		cfg:     cfg,
		log:     log,
		clock:   clockwork.NewRealClock(),
		seed:    seed,
		loc:     loc,
		metrics: metrics.New(reg),
		bot:     bot,
		httpSrv: srv,
	}, nil
}

// Run wires the components, serves HTTP and blocks until ctx is cancelled
// or a SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting investmate",
		zap.String("http", a.cfg.HTTPAddr),
		zap.String("tz", a.loc.String()),
		zap.Bool("telegram", a.bot != nil),
		zap.Bool("chat_socket", a.cfg.ChatEndpoint != ""),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		a.log.Error("open sqlite failed", zap.Error(err))
		return err
	}
	defer func() { _ = repo.Close() }()
	a.log.Info("sqlite ready")

	appState, err := state.New(a.seed, a.cfg.SeedUser, a.clock)
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}

	gen, closeGen, err := ai.NewGenerator(ctx, a.cfg.GeminiAPIKey, a.cfg.GeminiModel)
	if err != nil {
		return fmt.Errorf("gemini: %w", err)
	}
	defer func() { _ = closeGen() }()
	assistant := ai.NewService(gen, a.log, ai.Options{
		Timeout:    a.cfg.AITimeout,
		RatePerSec: a.cfg.AIRatePerSec,
		Metrics:    a.metrics,
	})

	notifiers := []notify.Notifier{notify.NewLog(a.log), notify.NewInbox(appState)}
	if a.bot != nil && a.cfg.NotifyChatID != 0 {
		notifiers = append(notifiers, notify.NewTelegram(a.bot, a.cfg.NotifyChatID))
	}
	notifier := notify.NewComposite(notifiers...)

	engine := scheduler.New(repo, a.log, scheduler.Sinks{
		Posts:    appState,
		Notifier: notifier,
		Clubs:    appState,
		Users:    appState,
	}, scheduler.Options{
		Interval: a.cfg.SweepInterval,
		Location: a.loc,
		Clock:    a.clock,
		Metrics:  a.metrics,
	})

	gate := payment.New(appState, a.log, payment.Options{
		ProcessingDelay: a.cfg.PaymentProcessingDelay,
		SuccessDelay:    a.cfg.PaymentSuccessDelay,
		Clock:           a.clock,
		Notifier:        notifier,
		Metrics:         a.metrics,
	})
	gate.OnStateChange(func(c payment.Change) {
		a.log.Info("checkout state", zap.String("from", string(c.From)), zap.String("to", string(c.To)), zap.String("reason", c.Reason))
	})

	chatTr := chat.NewTransport(appState, assistant, a.log, chat.Options{
		Tick:          a.cfg.ChatTick,
		MessageChance: a.cfg.ChatMessageChance,
		BotDelay:      a.cfg.BotReplyDelay,
		AITimeout:     a.cfg.AITimeout,
		Personas:      a.seed.Personas,
		Phrases:       a.seed.ChatPhrases,
		Bot:           a.seed.Assistant,
		Clock:         a.clock,
		Metrics:       a.metrics,
	})
	window := chat.NewWindow(chatWindowSize)
	window.Attach(chatTr)

	audioTr := audio.NewTransport(a.log, audio.Options{
		LevelTick:      a.cfg.LevelTick,
		TranscriptTick: a.cfg.TranscriptTick,
		Phrases:        a.seed.TranscriptPhrases,
		Clock:          a.clock,
		Metrics:        a.metrics,
	})
	var captions audio.TranscriptLog
	captions.Attach(audioTr)
	limiter := audio.NewListenLimiter(appState, a.cfg.FreeListenLimit, a.clock, func() {
		a.log.Info("free listening time is up")
		gate.Open(unlockReason)
	})

	rooms := audio.NewRooms(appState, audioTr, limiter, a.log, a.clock)
	posts := feed.NewService(appState, assistant, a.log)

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	chatTr.Connect(ctx, a.cfg.ChatEndpoint)
	if err := a.openLiveRoom(rooms); err != nil {
		return fmt.Errorf("audio room: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
			return err
		}
		return nil
	})
	if a.bot != nil {
		router := telegram.NewRouter(a.bot, a.log, telegram.Deps{
			Alerts:   engine,
			Insights: assistant,
			Users:    appState,
			Feed:     posts,
			Quiz:     posts.NewQuiz(),
			Digest:   chat.NewDigest(assistant, window),
			Rooms:    rooms,
			Clock:    a.clock,
			Location: a.loc,
		})
		g.Go(func() error {
			a.pollUpdates(gctx, router)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutdown signal received")

		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := a.httpSrv.Shutdown(shCtx)
		cancel()
		if err != nil {
			a.log.Warn("http server shutdown error", zap.Error(err))
		}

		rooms.Leave()
		chatTr.Disconnect()
		gate.Stop()
		engine.Stop()
		a.log.Info("stopped",
			zap.Int("chat_messages", len(window.Messages())),
			zap.Int("captions", len(captions.Segments())),
		)
		return nil
	})

	return g.Wait()
}

// openLiveRoom lists the community's live room and enters it when the
// current user is a member of its club.
func (a *App) openLiveRoom(rooms *audio.Rooms) error {
	live, err := rooms.Host(liveClub, liveTitle, liveTopic, roomSpeakers(a.seed))
	if err != nil {
		return err
	}
	if _, err := rooms.Join(live.ID); err != nil {
		a.log.Info("not entering the live room", zap.String("room", live.ID), zap.Error(err))
	}
	return nil
}

// pollUpdates feeds Telegram updates to the router until ctx is done.
func (a *App) pollUpdates(ctx context.Context, router *telegram.Router) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updCh := a.bot.GetUpdatesChan(u)
	defer a.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updCh:
			if !ok {
				return
			}
			router.HandleUpdate(ctx, upd)
		}
	}
}

// roomSpeakers seats the seed community in the live audio room: the first
// Pro member hosts, other members speak, personas alternate between the
// stage and the audience.
func roomSpeakers(seed assets.Seed) []domain.Speaker {
	var out []domain.Speaker
	hosted := false
	for _, u := range seed.Users {
		role := domain.RoleSpeaker
		if u.IsPro && !hosted {
			role = domain.RoleHost
			hosted = true
		}
		out = append(out, domain.Speaker{ID: "sp_" + u.ID, UserID: u.ID, User: u.Clone(), Role: role})
	}
	for i, p := range seed.Personas {
		id := fmt.Sprintf("persona_%d", i+1)
		role := domain.RoleSpeaker
		if i%2 == 1 {
			role = domain.RoleListener
		}
		out = append(out, domain.Speaker{
			ID:     "sp_" + id,
			UserID: id,
			User:   domain.User{ID: id, Name: p.Name, Rank: p.Rank},
			Role:   role,
		})
	}
	return out
}
