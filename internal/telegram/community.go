package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ykvlv/investmate/internal/audio"
	"github.com/ykvlv/investmate/internal/feed"
)

func (r *Router) handlePost(ctx context.Context, chatID int64, clubID, text string) {
	if r.feed == nil {
		r.sendText(chatID, unavailable)
		return
	}
	if strings.TrimSpace(text) == "" {
		if clubID != "" {
			r.sendText(chatID, clubPostUsage)
		} else {
			r.sendText(chatID, postUsage)
		}
		return
	}
	p, err := r.feed.AddPost(ctx, text, clubID, "")
	switch {
	case errors.Is(err, feed.ErrFlagged):
		r.sendText(chatID, "⚠️ Post flagged by moderation. Keep it civil and avoid pump-and-dump language.")
		return
	case errors.Is(err, feed.ErrNotMember):
		r.sendText(chatID, "Join the club to post there.")
		return
	case errors.Is(err, feed.ErrUnknownClub):
		r.sendText(chatID, "Unknown club.")
		return
	case errors.Is(err, feed.ErrPostTooLong):
		r.sendText(chatID, "Post is too long.")
		return
	case err != nil:
		r.log.Error("add post failed", zap.Error(err))
		r.sendText(chatID, "Failed to publish the post.")
		return
	}
	r.sendText(chatID, "✅ Posted.\nid: "+p.ID)
}

func (r *Router) handleAnalyze(ctx context.Context, chatID int64, postID string) {
	if r.feed == nil {
		r.sendText(chatID, unavailable)
		return
	}
	p, s, err := r.feed.Analyze(ctx, postID)
	if err != nil {
		r.sendText(chatID, "No such post.")
		return
	}
	r.sendText(chatID, fmt.Sprintf(sentimentFmt, p.User.Name, s.Sentiment, s.Risk, s.Summary))
}

func (r *Router) handleQuiz(ctx context.Context, chatID int64) {
	if r.quiz == nil {
		r.sendText(chatID, unavailable)
		return
	}
	q, err := r.quiz.Next(ctx)
	if err != nil {
		r.sendText(chatID, "The quiz needs the AI assistant, which is offline.")
		return
	}
	msg := tgbotapi.NewMessage(chatID, "🧠 "+q.Question)
	msg.ReplyMarkup = quizKeyboard(q.Options)
	_, _ = r.bot.Send(msg)
}

func (r *Router) handleQuizCallback(chatID int64, value, cbID string) {
	option, err := strconv.Atoi(value)
	if err != nil || r.quiz == nil {
		r.answerCallback(cbID, "Unknown option")
		return
	}
	correct, q, err := r.quiz.Answer(option)
	switch {
	case errors.Is(err, feed.ErrNoQuestion):
		r.answerCallback(cbID, "Already answered")
		return
	case err != nil:
		r.answerCallback(cbID, "Unknown option")
		return
	}
	r.answerCallback(cbID, "")
	if correct {
		r.sendText(chatID, fmt.Sprintf("🎉 Correct! +%d XP\n\n%s", feed.QuizReward, q.Explanation))
		return
	}
	r.sendText(chatID, fmt.Sprintf("❌ The answer was %q.\n\n%s", q.Options[q.CorrectIndex], q.Explanation))
}

func (r *Router) handleCatchUp(ctx context.Context, chatID int64) {
	if r.digest == nil {
		r.sendText(chatID, unavailable)
		return
	}
	bullets := r.digest.CatchUp(ctx)
	if len(bullets) == 0 {
		r.sendText(chatID, "The chat is quiet. Nothing to catch up on.")
		return
	}
	r.sendText(chatID, "💬 Catch up\n\n• "+strings.Join(bullets, "\n• "))
}

func (r *Router) handleRooms(chatID int64) {
	if r.rooms == nil {
		r.sendText(chatID, unavailable)
		return
	}
	live := r.rooms.Live()
	if len(live) == 0 {
		r.sendText(chatID, "No live rooms.")
		return
	}
	var b strings.Builder
	b.WriteString("🔴 Live rooms:\n\n")
	active, in := r.rooms.Active()
	for _, room := range live {
		b.WriteString(roomLine(room))
		if in && room.ID == active.ID {
			b.WriteString("(you are here)\n")
		}
		b.WriteString("\n")
	}
	r.sendText(chatID, strings.TrimSpace(b.String()))
}

func (r *Router) handleJoin(chatID int64, roomID string) {
	if r.rooms == nil {
		r.sendText(chatID, unavailable)
		return
	}
	if roomID == "" {
		r.sendText(chatID, joinUsage)
		return
	}
	room, err := r.rooms.Join(roomID)
	switch {
	case errors.Is(err, audio.ErrNotMember):
		r.sendText(chatID, "Only club members can join this room.")
		return
	case errors.Is(err, audio.ErrRoomEnded):
		r.sendText(chatID, "This room has ended.")
		return
	case err != nil:
		r.sendText(chatID, "No such room.")
		return
	}
	r.sendText(chatID, fmt.Sprintf("🎧 You joined %q in %s.", room.Title, room.ClubName))
}

func (r *Router) handleLeave(chatID int64) {
	if r.rooms == nil {
		r.sendText(chatID, unavailable)
		return
	}
	if _, in := r.rooms.Active(); !in {
		r.sendText(chatID, "You are not in a room.")
		return
	}
	r.rooms.Leave()
	r.sendText(chatID, "👋 Left the room.")
}
