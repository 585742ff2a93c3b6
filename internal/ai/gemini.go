// Package ai talks to the generative-text model and hides its failures
// behind static fallbacks.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

var (
	ErrOffline       = errors.New("ai: no api key configured")
	ErrEmptyResponse = errors.New("ai: empty response")
	ErrRateLimited   = errors.New("ai: local rate limit exceeded")
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Offline is used when no API key is configured. Every call fails with ErrOffline.
type Offline struct{}

func (Offline) Generate(context.Context, string) (string, error) { return "", ErrOffline }

// Gemini calls a Google generative model.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini connects to the Gemini API. The caller owns Close.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	m := client.GenerativeModel(model)
	m.SetTemperature(0.7)
	return &Gemini{client: client, model: m}, nil
}

func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

func (g *Gemini) Close() error {
	return g.client.Close()
}

// responseText joins the text parts of the first candidate that has any.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrEmptyResponse
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		var b strings.Builder
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if s := strings.TrimSpace(b.String()); s != "" {
			return s, nil
		}
	}
	return "", ErrEmptyResponse
}

// NewGenerator picks Gemini when apiKey is set and Offline otherwise.
// The returned close func is never nil.
func NewGenerator(ctx context.Context, apiKey, model string) (Generator, func() error, error) {
	if strings.TrimSpace(apiKey) == "" {
		return Offline{}, func() error { return nil }, nil
	}
	g, err := NewGemini(ctx, apiKey, model)
	if err != nil {
		return nil, nil, err
	}
	return g, g.Close, nil
}
