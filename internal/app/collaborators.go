package app

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"huddlebot/internal/genai"
	"huddlebot/internal/speech"
)

var errGeminiDisabled = errors.New("gemini api key is not configured")

// geminiSwitch forwards to the client built from the latest config.
type geminiSwitch struct {
	cur atomic.Pointer[genai.Client]
}

func (g *geminiSwitch) Generate(ctx context.Context, prompt string) (string, error) {
	c := g.cur.Load()
	if c == nil {
		return "", errGeminiDisabled
	}
	return c.Generate(ctx, prompt)
}

// apply rebuilds the client. An empty key disables generation.
func (g *geminiSwitch) apply(cfg *Config) error {
	gc, err := mapGeminiConfig(cfg)
	if err != nil {
		return err
	}
	if strings.TrimSpace(gc.APIKey) == "" {
		g.cur.Store(nil)
		return nil
	}
	c, err := genai.New(gc, nil)
	if err != nil {
		return err
	}
	g.cur.Store(c)
	return nil
}

func (g *geminiSwitch) enabled() bool { return g.cur.Load() != nil }

type speechSwitch struct {
	cur atomic.Pointer[speech.Client]
}

func (s *speechSwitch) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	c := s.cur.Load()
	if c == nil {
		return nil, errors.New("speech synthesis is not configured")
	}
	return c.Synthesize(ctx, text, lang)
}

func (s *speechSwitch) apply(cfg *Config) error {
	sc, err := mapSpeechConfig(cfg)
	if err != nil {
		return err
	}
	s.cur.Store(speech.New(sc, nil))
	return nil
}

func mapGeminiConfig(cfg *Config) (genai.Config, error) {
	timeout, err := parseDurationOrDefault("gemini.timeout", cfg.Gemini.Timeout, 60*time.Second)
	if err != nil {
		return genai.Config{}, err
	}
	return genai.Config{
		APIKey:  cfg.Gemini.APIKey,
		Model:   strings.TrimSpace(cfg.Gemini.Model),
		BaseURL: strings.TrimSpace(cfg.Gemini.BaseURL),
		Timeout: timeout,
	}, nil
}

func mapSpeechConfig(cfg *Config) (speech.Config, error) {
	timeout, err := parseDurationOrDefault("speech.timeout", cfg.Speech.Timeout, 30*time.Second)
	if err != nil {
		return speech.Config{}, err
	}
	return speech.Config{
		BaseURL:  strings.TrimSpace(cfg.Speech.BaseURL),
		Language: strings.TrimSpace(cfg.Speech.Language),
		Timeout:  timeout,
	}, nil
}
