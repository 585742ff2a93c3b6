package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/ykvlv/investmate/internal/ai"
)

// QuizReward is the XP for a correct answer.
const QuizReward = 50

var (
	ErrQuizUnavailable = errors.New("quiz unavailable offline")
	ErrNoQuestion      = errors.New("no open question")
	ErrBadOption       = errors.New("option out of range")
)

// Quiz holds one open question at a time. The first answer closes it.
type Quiz struct {
	svc *Service

	mu   sync.Mutex
	open *ai.QuizQuestion
}

func (s *Service) NewQuiz() *Quiz {
	return &Quiz{svc: s}
}

// Next asks the assistant for a question and makes it the open one.
func (q *Quiz) Next(ctx context.Context) (ai.QuizQuestion, error) {
	question, ok := q.svc.assistant.Quiz(ctx)
	if !ok {
		return ai.QuizQuestion{}, ErrQuizUnavailable
	}
	q.mu.Lock()
	q.open = &question
	q.mu.Unlock()
	return question, nil
}

// Answer grades option against the open question and awards XP when it is
// correct. The question is closed either way.
func (q *Quiz) Answer(option int) (correct bool, question ai.QuizQuestion, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.open == nil {
		return false, ai.QuizQuestion{}, ErrNoQuestion
	}
	question = *q.open
	if option < 0 || option >= len(question.Options) {
		return false, question, ErrBadOption
	}
	q.open = nil
	correct = option == question.CorrectIndex
	if correct {
		q.svc.store.AddXP(QuizReward)
	}
	return correct, question, nil
}
