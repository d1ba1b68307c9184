package config

import (
	"os"
	"strings"
)

const (
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvGeminiAPIKey  = "GEMINI_API_KEY"
)

// applyEnv fills secrets the file leaves empty from the environment.
func applyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		cfg.Telegram.Token = strings.TrimSpace(getenv(EnvTelegramToken))
	}
	if strings.TrimSpace(cfg.Gemini.APIKey) == "" {
		cfg.Gemini.APIKey = strings.TrimSpace(getenv(EnvGeminiAPIKey))
	}
}

// Mask hides all but the last four characters of a secret.
func Mask(secret string) string {
	s := strings.TrimSpace(secret)
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
