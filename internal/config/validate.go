package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSurveyTimeout  = 60 * time.Second
	DefaultMaxRecipients  = 20
	DefaultLanguage       = "en"
	DefaultRouterWorkers  = 8
	DefaultRouterQueue    = 64
	DefaultCommandTimeout = 3 * time.Minute
	DefaultPollTimeout    = 10 * time.Second
)

// Validate checks values that cannot be expressed by the schema alone.
// It reports every problem at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	check(err)
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			check(fmt.Errorf("telegram.group_log: must be a numeric chat id: %w", err))
		}
	}

	surveyTimeout, err := cfg.Survey.TimeoutOrDefault()
	check(err)
	if cfg.Survey.MaxRecipients < 0 {
		check(errors.New("survey.max_recipients must be >= 0"))
	}

	_, err = ParseDurationField("gemini.timeout", cfg.Gemini.Timeout)
	check(err)
	_, err = ParseDurationField("speech.timeout", cfg.Speech.Timeout)
	check(err)

	if cfg.Router.Workers < 0 || cfg.Router.QueueSize < 0 {
		check(errors.New("router.workers and router.queue_size must be >= 0"))
	}
	cmdTimeout, err := cfg.Router.CommandTimeoutOrDefault()
	check(err)
	if err == nil && surveyTimeout > 0 && cmdTimeout <= surveyTimeout {
		check(fmt.Errorf("router.command_timeout (%s) must exceed survey.timeout (%s)", cmdTimeout, surveyTimeout))
	}

	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(cfg.Storage.Path) == "" {
				check(fmt.Errorf("storage.path is required when storage.driver=%s", cfg.Storage.Driver))
			}
		default:
			check(fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver))
		}
		_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		check(err)
	}
	return errors.Join(errs...)
}

func (s SurveyConfig) TimeoutOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("survey.timeout", s.Timeout, DefaultSurveyTimeout)
}

func (s SurveyConfig) MaxRecipientsOrDefault() int {
	if s.MaxRecipients <= 0 {
		return DefaultMaxRecipients
	}
	return s.MaxRecipients
}

func (s SurveyConfig) LanguageOrDefault() string {
	if l := strings.TrimSpace(s.Language); l != "" {
		return l
	}
	return DefaultLanguage
}

func (r RouterConfig) CommandTimeoutOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("router.command_timeout", r.CommandTimeout, DefaultCommandTimeout)
}

func (r RouterConfig) WorkersOrDefault() int {
	if r.Workers <= 0 {
		return DefaultRouterWorkers
	}
	return r.Workers
}

func (r RouterConfig) QueueSizeOrDefault() int {
	if r.QueueSize <= 0 {
		return DefaultRouterQueue
	}
	return r.QueueSize
}

// GroupLogID returns the numeric log chat id, or 0 when unset.
func (t TelegramConfig) GroupLogID() int64 {
	id, _ := strconv.ParseInt(strings.TrimSpace(t.GroupLog), 10, 64)
	return id
}
