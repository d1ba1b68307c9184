package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "telegram": {"token": "", "owner_user_ids": [1], "group_log": "-100123", "poll_timeout": "10s"},
  "logging": {"level": "info", "console": true},
  "storage": {"driver": "sqlite", "path": "./data/h.db"},
  "survey": {"timeout": "45s", "max_recipients": 5},
  "gemini": {"api_key": "", "model": "gemini-2.5-flash"},
  "speech": {"language": "en"},
  "router": {"workers": 4, "command_timeout": "2m"},
  "plugins": {"survey": {"enabled": true, "config": {"dm_footer": "hi"}}}
}`

const sampleYAML = `
telegram:
  token: abc
  owner_user_ids: [1, 2]
survey:
  timeout: 30s
plugins:
  party:
    enabled: true
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestParseJSONAppliesEnvSecrets(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.json", sampleJSON))
	m.getenv = func(k string) string {
		return map[string]string{EnvTelegramToken: " tok ", EnvGeminiAPIKey: "gk"}[k]
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "tok" || cfg.Gemini.APIKey != "gk" {
		t.Fatalf("env not applied: token=%q key=%q", cfg.Telegram.Token, cfg.Gemini.APIKey)
	}
	if d, _ := cfg.Survey.TimeoutOrDefault(); d != 45*time.Second {
		t.Fatalf("survey timeout = %s", d)
	}
	if cfg.Telegram.GroupLogID() != -100123 {
		t.Fatalf("group log id = %d", cfg.Telegram.GroupLogID())
	}
	if m.Get() != cfg {
		t.Fatalf("Load did not commit")
	}
}

func TestFileSecretWinsOverEnv(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	m.getenv = func(string) string { return "from-env" }
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "abc" {
		t.Fatalf("token = %q, want file value", cfg.Telegram.Token)
	}
	if !cfg.Plugins["party"].Enabled || len(cfg.Telegram.OwnerUserIDs) != 2 {
		t.Fatalf("yaml decoded wrong: %+v", cfg)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	tests := []struct {
		name, path, body string
	}{
		{"json top level", "c.json", `{"telegram":{},"bogus":1}`},
		{"yaml nested", "c.yaml", "survey:\n  timeoutt: 1s\n"},
		{"plugin block", "c.json", `{"plugins":{"x":{"enabled":true,"timeout":"1s"}}}`},
		{"trailing data", "c.json", `{} {}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.path, []byte(tt.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults ok", func(*Config) {}, ""},
		{"bad survey timeout", func(c *Config) { c.Survey.Timeout = "soon" }, "survey.timeout"},
		{"command timeout too short", func(c *Config) { c.Router.CommandTimeout = "30s" }, "router.command_timeout"},
		{"bad group log", func(c *Config) { c.Telegram.GroupLog = "@logs" }, "group_log"},
		{"sqlite needs path", func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }, "storage.path"},
		{"unknown driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis", Path: "x"} }, "storage.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a := &Config{
		Survey:  SurveyConfig{Timeout: "60s"},
		Gemini:  GeminiConfig{APIKey: "secret-1"},
		Plugins: map[string]PluginConfigRaw{"party": {Enabled: true}, "survey": {Enabled: true, Config: []byte(`{"a": 1}`)}},
	}
	b := &Config{
		Survey:  SurveyConfig{Timeout: "30s"},
		Gemini:  GeminiConfig{APIKey: "secret-2"},
		Plugins: map[string]PluginConfigRaw{"party": {Enabled: false}, "survey": {Enabled: true, Config: []byte(`{"a":1}`)}},
	}
	sections, _, plugins := SummarizeConfigChange(a, b)
	if strings.Join(sections, ",") != "survey,gemini,plugins" {
		t.Fatalf("sections = %v", sections)
	}
	if strings.Join(plugins, ",") != "party" {
		t.Fatalf("plugins = %v (whitespace-only config change must not count)", plugins)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	path := writeFile(t, "config.json", `{"survey":{"timeout":"60s"}}`)
	m := NewConfigManager(path)
	m.debounce = 10 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`{"survey":{"timeout":"bad"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"survey":{"timeout":"20s"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-ch:
		if cfg.Survey.Timeout != "20s" {
			t.Fatalf("published timeout = %q", cfg.Survey.Timeout)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no config published")
	}
	cancel()
	<-done
}

func TestMask(t *testing.T) {
	tests := map[string]string{"": "", "abc": "****", "123456:ABCDEF": "****CDEF"}
	for in, want := range tests {
		if got := Mask(in); got != want {
			t.Fatalf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
}
