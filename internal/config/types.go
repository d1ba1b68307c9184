package config

import (
	"bytes"
	"encoding/json"
)

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Survey   SurveyConfig   `json:"survey"`
	Gemini   GeminiConfig   `json:"gemini"`
	Speech   SpeechConfig   `json:"speech"`
	Router   RouterConfig   `json:"router"`

	Plugins map[string]PluginConfigRaw `json:"plugins"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied through TELEGRAM_TOKEN.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id receiving forwarded log lines ("" disables).
	GroupLog    string `json:"group_log"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls persistence of seen users and the audit trail.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/huddlebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SurveyConfig controls fan-out questions.
//
// Defaults: timeout "60s", max_recipients 20, language "en".
type SurveyConfig struct {
	Timeout       string `json:"timeout"`
	MaxRecipients int    `json:"max_recipients"`
	// Language is the speech synthesis language for /prompt_audio.
	Language string `json:"language"`
}

type GeminiConfig struct {
	// APIKey may be left empty and supplied through GEMINI_API_KEY.
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url,omitempty"`
	Timeout string `json:"timeout"`
}

type SpeechConfig struct {
	BaseURL  string `json:"base_url,omitempty"`
	Language string `json:"language"`
	Timeout  string `json:"timeout"`
}

// RouterConfig sizes the command worker pool.
//
// Defaults: workers 8, queue 64, command_timeout "3m". A survey holds one
// worker for up to survey.timeout, so command_timeout must exceed it.
type RouterConfig struct {
	Workers        int    `json:"workers"`
	QueueSize      int    `json:"queue_size"`
	CommandTimeout string `json:"command_timeout"`
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON rejects unknown keys inside a plugin block.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}
