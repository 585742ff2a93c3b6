package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"

	"github.com/ykvlv/investmate/internal/metrics"
	"github.com/ykvlv/investmate/internal/sim"
)

const (
	pulseTTL = time.Hour
	newsTTL  = 15 * time.Minute
	pulseKey = "pulse"
)

var quizTopics = []string{
	"Technical Analysis",
	"Fundamental Analysis",
	"Options Trading",
	"Crypto Basics",
	"Risk Management",
}

var bulletRe = regexp.MustCompile(`^[-*•]\s*`)

// Sentiment is the model's read of a single post.
type Sentiment struct {
	Sentiment string `json:"sentiment"` // Bullish | Bearish | Neutral
	Risk      string `json:"risk"`      // Low | Medium | High
	Summary   string `json:"summary"`
}

// MarketPulse is the daily market digest.
type MarketPulse struct {
	Trends      string `json:"trends"`
	Sentiment   string `json:"sentiment"`
	NewsSummary string `json:"newsSummary"`
	RiskLevel   string `json:"riskLevel"`
}

// QuizQuestion is a multiple choice question for the learning section.
type QuizQuestion struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Explanation  string   `json:"explanation"`
	Difficulty   string   `json:"difficulty"`
}

// Options tune a Service. Zero values select defaults.
type Options struct {
	Timeout    time.Duration // per call, default 10s
	RatePerSec float64       // default 2
	Metrics    *metrics.Metrics
	Rand       sim.Rand
}

// Service wraps a Generator with timeouts, a rate limit, caches and
// fallbacks. Its methods never return errors.
type Service struct {
	gen     Generator
	log     *zap.Logger
	timeout time.Duration
	limiter *rate.Limiter
	metrics *metrics.Metrics
	rnd     sim.Rand

	pulse *expirable.LRU[string, MarketPulse]
	news  *expirable.LRU[string, []string]
}

func NewService(gen Generator, log *zap.Logger, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 2
	}
	if opts.Rand == nil {
		opts.Rand = sim.NewRand(uint64(time.Now().UnixNano()))
	}
	burst := int(opts.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Service{
		gen:     gen,
		log:     log.Named("ai"),
		timeout: opts.Timeout,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), burst),
		metrics: opts.Metrics,
		rnd:     opts.Rand,
		pulse:   expirable.NewLRU[string, MarketPulse](1, nil, pulseTTL),
		news:    expirable.NewLRU[string, []string](64, nil, newsTTL),
	}
}

// call runs one generation. Failures are logged here; callers only pick a fallback.
func (s *Service) call(ctx context.Context, op, prompt string) (string, error) {
	if !s.limiter.Allow() {
		s.metrics.AICall(op, "fallback")
		s.log.Warn("rate limited", zap.String("op", op))
		return "", ErrRateLimited
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.gen.Generate(ctx, prompt)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		s.metrics.AICall(op, "fallback")
		s.logFailure(op, err)
		return "", err
	}
	s.metrics.AICall(op, "ok")
	return text, nil
}

func (s *Service) logFailure(op string, err error) {
	switch {
	case errors.Is(err, ErrOffline):
		s.log.Debug("offline", zap.String("op", op))
	case IsRecoverable(err):
		s.log.Warn("quota or permission error, using fallback", zap.String("op", op), zap.Error(err))
	default:
		s.log.Error("generation failed", zap.String("op", op), zap.Error(err))
	}
}

// IsRecoverable reports quota and permission failures, which are expected
// under load and only worth a warning.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests || gerr.Code == http.StatusForbidden {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"429", "quota", "permission", "denied"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// decodeJSON repairs common model output damage (fences, trailing commas,
// single quotes) before unmarshalling.
func decodeJSON(text string, v any) error {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}
	fixed, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return fmt.Errorf("repair json: %w", err)
	}
	return json.Unmarshal([]byte(fixed), v)
}

// ChatReply answers a chat mention in at most two sentences.
func (s *Service) ChatReply(ctx context.Context, query string) string {
	prompt := fmt.Sprintf("You are Gemini, a helpful AI assistant in a stock market community chat called InvestMate. "+
		"Keep answers concise (max 2 sentences). User asked: %q", query)
	text, err := s.call(ctx, "chat_reply", prompt)
	switch {
	case errors.Is(err, ErrOffline):
		return "I'm currently offline (No API Key)."
	case errors.Is(err, ErrEmptyResponse):
		return "I couldn't process that."
	case err != nil:
		return "I'm receiving too many requests right now. Please try again later."
	}
	return strings.TrimSpace(text)
}

// SummarizeChat condenses chat lines into three bullets.
func (s *Service) SummarizeChat(ctx context.Context, lines []string) []string {
	prompt := "Summarize this market discussion chat into 3 concise bullet points for a quick catch-up. " +
		"Respond with a JSON array of strings only.\n\nChat:\n" + strings.Join(lines, "\n")
	text, err := s.call(ctx, "summarize_chat", prompt)
	if errors.Is(err, ErrOffline) {
		return []string{"API Key missing."}
	}
	if err != nil {
		return []string{
			"Chat summary unavailable.",
			"System experiencing high traffic.",
			"Please read recent messages above.",
		}
	}
	var bullets []string
	if err := decodeJSON(text, &bullets); err != nil || len(bullets) == 0 {
		s.log.Warn("unusable chat summary", zap.Error(err))
		return []string{"Could not summarize chat."}
	}
	return bullets
}

// AnalyzeSentiment classifies a post.
func (s *Service) AnalyzeSentiment(ctx context.Context, content string) Sentiment {
	prompt := fmt.Sprintf("Analyze this stock market social post. Provide Sentiment (Bullish/Bearish/Neutral), "+
		"Risk Level (Low/Medium/High), and a very brief 1-sentence summary. "+
		`Respond with JSON {"sentiment":..., "risk":..., "summary":...} only.`+"\nPost: %q", content)
	text, err := s.call(ctx, "sentiment", prompt)
	if errors.Is(err, ErrOffline) {
		return Sentiment{Sentiment: "Neutral", Risk: "Medium", Summary: "AI Analysis Unavailable"}
	}
	fallback := Sentiment{
		Sentiment: "Neutral",
		Risk:      "Medium",
		Summary:   "AI Analysis unavailable due to high traffic or permission limits.",
	}
	if err != nil {
		return fallback
	}
	var out Sentiment
	if err := decodeJSON(text, &out); err != nil || out.Sentiment == "" {
		s.log.Warn("unusable sentiment", zap.Error(err))
		return fallback
	}
	return out
}

// MarketPulse returns the daily digest. Successful results are cached for an hour.
func (s *Service) MarketPulse(ctx context.Context) MarketPulse {
	if p, ok := s.pulse.Get(pulseKey); ok {
		s.metrics.AICall("market_pulse", "cached")
		return p
	}
	prompt := "Generate a 'Market Pulse' daily digest for Indian Stock Market (Nifty/BankNifty). Provide:\n" +
		"1. Key Trends (e.g. IT sector rally)\n" +
		"2. Overall Sentiment (Bullish/Bearish/Neutral)\n" +
		"3. A one sentence news summary.\n" +
		"4. Risk Level (Low/Medium/High).\n" +
		"Strictly filter out any specific buy/sell signals or unverified tips. Keep it educational. " +
		`Respond with JSON {"trends", "sentiment", "newsSummary", "riskLevel"} only.`
	text, err := s.call(ctx, "market_pulse", prompt)
	if errors.Is(err, ErrOffline) {
		return MarketPulse{Trends: "N/A", Sentiment: "Neutral", NewsSummary: "AI unavailable", RiskLevel: "Medium"}
	}
	fallback := MarketPulse{
		Trends:      "Market consolidation observed.",
		Sentiment:   "Neutral",
		NewsSummary: "Live AI market updates are temporarily paused due to traffic or permissions.",
		RiskLevel:   "Medium",
	}
	if err != nil {
		return fallback
	}
	var p MarketPulse
	if err := decodeJSON(text, &p); err != nil {
		s.log.Warn("unusable market pulse", zap.Error(err))
		return fallback
	}
	s.pulse.Add(pulseKey, p)
	return p
}

// StockNews returns up to three headlines for ticker, cached for 15 minutes.
func (s *Service) StockNews(ctx context.Context, ticker string) []string {
	ticker = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(ticker), "$"))
	if lines, ok := s.news.Get(ticker); ok {
		s.metrics.AICall("stock_news", "cached")
		return append([]string(nil), lines...)
	}
	text, err := s.call(ctx, "stock_news", fmt.Sprintf("Find 3 recent, short news headlines relevant to the stock %s.", ticker))
	if errors.Is(err, ErrOffline) {
		return []string{"News API key missing."}
	}
	var lines []string
	if err == nil {
		for _, l := range strings.Split(text, "\n") {
			l = strings.TrimSpace(l)
			if len(l) <= 10 {
				continue
			}
			lines = append(lines, bulletRe.ReplaceAllString(l, ""))
			if len(lines) == 3 {
				break
			}
		}
	}
	if len(lines) == 0 {
		return []string{
			fmt.Sprintf("Real-time updates for %s currently unavailable.", ticker),
			"Please check exchange website for news.",
			"Market data connection limited.",
		}
	}
	s.news.Add(ticker, lines)
	return append([]string(nil), lines...)
}

// Moderate reports whether text is safe to publish. It fails open.
func (s *Service) Moderate(ctx context.Context, text string) bool {
	prompt := fmt.Sprintf("Is the following content toxic, spam, or inappropriate for a financial community? "+
		`Respond with strictly JSON {"isSafe": boolean}. Content: %q`, text)
	out, err := s.call(ctx, "moderate", prompt)
	if err != nil {
		return true
	}
	var verdict struct {
		IsSafe *bool `json:"isSafe"`
	}
	if err := decodeJSON(out, &verdict); err != nil || verdict.IsSafe == nil {
		return true
	}
	return *verdict.IsSafe
}

// Quiz generates a question on a random topic. ok is false only when offline.
func (s *Service) Quiz(ctx context.Context) (q QuizQuestion, ok bool) {
	topic := sim.Pick(s.rnd, quizTopics)
	prompt := fmt.Sprintf("Generate a multiple-choice question about %s for a stock market app user. "+
		"It should be challenging but educational. Return JSON with: question (string), options (4 strings), "+
		"correctIndex (0-3), explanation (string), difficulty ('Easy', 'Medium' or 'Hard').", topic)
	text, err := s.call(ctx, "quiz", prompt)
	if errors.Is(err, ErrOffline) {
		return QuizQuestion{}, false
	}
	fallback := QuizQuestion{
		Question: "What does RSI stand for in technical analysis?",
		Options: []string{
			"Relative Strength Index",
			"Rate of Stock Increase",
			"Risk Standard Indicator",
			"Return on Stock Investment",
		},
		CorrectIndex: 0,
		Explanation: "RSI (Relative Strength Index) is a momentum indicator that measures the magnitude of " +
			"recent price changes to evaluate overbought or oversold conditions.",
		Difficulty: "Easy",
	}
	if err != nil {
		return fallback, true
	}
	if err := decodeJSON(text, &q); err != nil || len(q.Options) != 4 || q.CorrectIndex < 0 || q.CorrectIndex > 3 {
		s.log.Warn("unusable quiz", zap.Error(err))
		return fallback, true
	}
	return q, true
}
