// Package feed publishes posts written by the current user and runs the AI
// features attached to posts.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ykvlv/investmate/internal/ai"
	"github.com/ykvlv/investmate/internal/domain"
)

const maxPostLen = 2000

var (
	ErrEmptyPost   = errors.New("empty post")
	ErrPostTooLong = errors.New("post too long")
	ErrFlagged     = errors.New("post flagged by moderation")
	ErrUnknownClub = errors.New("unknown club")
	ErrNotMember   = errors.New("not a club member")
	ErrUnknownPost = errors.New("unknown post")
)

// Store is the state owner the feed writes through.
type Store interface {
	CurrentUser() domain.User
	Club(id string) (domain.Club, bool)
	CreatePost(ctx context.Context, p domain.Post) error
	Posts() []domain.Post
	AddXP(amount int)
}

// Assistant is the AI surface used by the feed.
type Assistant interface {
	Moderate(ctx context.Context, text string) bool
	AnalyzeSentiment(ctx context.Context, content string) ai.Sentiment
	Quiz(ctx context.Context) (ai.QuizQuestion, bool)
}

type Service struct {
	store     Store
	assistant Assistant
	log       *zap.Logger
}

func NewService(store Store, assistant Assistant, log *zap.Logger) *Service {
	return &Service{store: store, assistant: assistant, log: log.Named("feed")}
}

// AddPost moderates content and prepends it to the feed as the current
// user. Club posts require membership. Moderation fails open, so only an
// explicit "unsafe" verdict rejects the post.
func (s *Service) AddPost(ctx context.Context, content, clubID string, typ domain.PostType) (domain.Post, error) {
	content = strings.TrimSpace(content)
	switch {
	case content == "":
		return domain.Post{}, ErrEmptyPost
	case utf8.RuneCountInString(content) > maxPostLen:
		return domain.Post{}, fmt.Errorf("%w: max %d characters", ErrPostTooLong, maxPostLen)
	}

	me := s.store.CurrentUser()
	if clubID != "" {
		if _, ok := s.store.Club(clubID); !ok {
			return domain.Post{}, fmt.Errorf("%w: %s", ErrUnknownClub, clubID)
		}
		if !me.InClub(clubID) {
			return domain.Post{}, fmt.Errorf("%w: %s", ErrNotMember, clubID)
		}
	}

	if !s.assistant.Moderate(ctx, content) {
		s.log.Info("post rejected by moderation", zap.String("user", me.ID))
		return domain.Post{}, ErrFlagged
	}

	if typ == "" {
		typ = domain.PostRegular
	}
	p := domain.Post{
		ID:       uuid.NewString(),
		UserID:   me.ID,
		User:     me,
		Content:  content,
		ClubID:   clubID,
		Type:     typ,
		Tickers:  domain.ExtractTickers(content),
		Hashtags: domain.ExtractHashtags(content),
	}
	if err := s.store.CreatePost(ctx, p); err != nil {
		return domain.Post{}, fmt.Errorf("create post: %w", err)
	}
	for _, stored := range s.store.Posts() {
		if stored.ID == p.ID {
			p = stored
			break
		}
	}
	s.log.Info("post published", zap.String("id", p.ID), zap.String("club", clubID))
	return p, nil
}

// Analyze returns the AI read of a post. An empty id analyzes the newest post.
func (s *Service) Analyze(ctx context.Context, postID string) (domain.Post, ai.Sentiment, error) {
	for _, p := range s.store.Posts() {
		if postID == "" || p.ID == postID {
			return p, s.assistant.AnalyzeSentiment(ctx, p.Content), nil
		}
	}
	return domain.Post{}, ai.Sentiment{}, fmt.Errorf("%w: %s", ErrUnknownPost, postID)
}
